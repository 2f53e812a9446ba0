// Package conversation implements the bounded-context conversation
// history and the /converse WebSocket client that bridges the
// supervisor to the remote conversation backend.
package conversation

import (
	"fmt"
	"strings"

	"github.com/0mdb/robot-buddy/internal/planner"
)

const (
	// RecentWindowTurns is the number of most-recent user+assistant
	// pairs kept verbatim before compression kicks in.
	RecentWindowTurns = 8

	// CharsPerToken is the crude token estimator used for the context
	// budget (chars/4).
	CharsPerToken = 4

	// ResponseTokenReserve is withheld from max_context_tokens so the
	// model always has room to answer.
	ResponseTokenReserve = 512

	// AnchorIntervalTurns is how often the persona anchor is re-injected.
	AnchorIntervalTurns = 5

	defaultMaxTurns        = 20
	defaultMaxContextTok   = 4096
)

// PersonaAnchor is injected verbatim every AnchorIntervalTurns user
// turns to prevent persona drift in long conversations.
const PersonaAnchor = "[Reminder: Buddy is calm (energy 0.40), gently responsive. " +
	"Emotions lean positive. Negative emotions are mild and brief. Stay in character.]"

// Message is one turn in the conversation ring.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
	Emotion string // assistant only
}

// Profile is the latest personality snapshot used to build the
// CURRENT STATE system block.
type Profile struct {
	Mood       string
	Intensity  float64
	TurnID     int
	Valence    float64
	MemoryTags []string
}

// ChatMessage is one entry in the provider-facing chat-message array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is a ring of conversation messages with capacity
// 2*maxTurns, plus the latest attached personality profile. Rendering
// to a ChatMessage list applies the recent-window/compression/profile-
// injection/anchor/token-budget pipeline.
type History struct {
	messages         []Message
	capacity         int
	maxContextTokens int
	profile          *Profile
}

// New creates a History with the given turn capacity (2*maxTurns
// messages) and context token budget. maxTurns<=0 defaults to 20;
// maxContextTokens<=0 defaults to 4096.
func New(maxTurns, maxContextTokens int) *History {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTok
	}
	return &History{
		capacity:         maxTurns * 2,
		maxContextTokens: maxContextTokens,
	}
}

// UpdateProfile stores the latest personality profile for prompt
// injection.
func (h *History) UpdateProfile(p Profile) {
	h.profile = &p
}

// AddUser appends a user turn, evicting the oldest message if the ring
// is at capacity.
func (h *History) AddUser(text string) {
	h.push(Message{Role: "user", Content: text})
}

// AddAssistant appends an assistant turn with its emotion label.
func (h *History) AddAssistant(text, emotion string) {
	h.push(Message{Role: "assistant", Content: text, Emotion: emotion})
}

func (h *History) push(m Message) {
	h.messages = append(h.messages, m)
	if over := len(h.messages) - h.capacity; over > 0 {
		h.messages = h.messages[over:]
	}
}

// Clear empties the ring (e.g. on an explicit "forget this session").
func (h *History) Clear() {
	h.messages = nil
}

// TurnCount is the number of user turns currently held.
func (h *History) TurnCount() int {
	n := 0
	for _, m := range h.messages {
		if m.Role == "user" {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the history has any turns at all — used by
// the session registry to decide whether an unregister should stash
// anything (an empty history is never stashed).
func (h *History) IsEmpty() bool {
	return h.TurnCount() == 0
}

// ToChatMessages renders the history into a provider-facing message
// list, applying recent-window selection, compression of older turns,
// CURRENT STATE profile injection, the persona anchor, and the token
// budget, in that order.
func (h *History) ToChatMessages(systemPrompt string) []ChatMessage {
	all := h.messages
	recentBoundary := RecentWindowTurns * 2

	var msgs []ChatMessage
	msgs = append(msgs, ChatMessage{Role: "system", Content: systemPrompt})

	if len(all) <= recentBoundary {
		for _, m := range all {
			msgs = append(msgs, ChatMessage{Role: m.Role, Content: m.Content})
		}
	} else {
		old := all[:len(all)-recentBoundary]
		recent := all[len(all)-recentBoundary:]
		if summary := compressTurns(old); summary != "" {
			msgs = append(msgs, ChatMessage{Role: "system", Content: summary})
		}
		for _, m := range recent {
			msgs = append(msgs, ChatMessage{Role: m.Role, Content: m.Content})
		}
	}

	if h.profile != nil {
		msgs = insertBeforeLastUser(msgs, ChatMessage{Role: "system", Content: buildCurrentStateBlock(*h.profile)})
	}

	turnCount := h.TurnCount()
	if turnCount > 0 && turnCount%AnchorIntervalTurns == 0 {
		msgs = insertBeforeLastUser(msgs, ChatMessage{Role: "system", Content: PersonaAnchor})
	}

	return h.enforceTokenBudget(msgs)
}

// insertBeforeLastUser inserts msg immediately before the last "user"
// role message, or appends it if there is none.
func insertBeforeLastUser(msgs []ChatMessage, msg ChatMessage) []ChatMessage {
	insertAt := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			insertAt = i
			break
		}
	}
	out := make([]ChatMessage, 0, len(msgs)+1)
	out = append(out, msgs[:insertAt]...)
	out = append(out, msg)
	out = append(out, msgs[insertAt:]...)
	return out
}

func (h *History) enforceTokenBudget(msgs []ChatMessage) []ChatMessage {
	budget := h.maxContextTokens - ResponseTokenReserve
	for len(msgs) > 1 {
		total := 0
		for _, m := range msgs {
			total += estimateTokens(m.Content)
		}
		if total <= budget {
			break
		}
		dropped := false
		for i, m := range msgs {
			if m.Role != "system" {
				msgs = append(msgs[:i:i], msgs[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			break
		}
	}
	return msgs
}

func estimateTokens(text string) int {
	n := len(text) / CharsPerToken
	if n < 1 {
		return 1
	}
	return n
}

// compressTurns renders older messages into a single "Earlier
// conversation: (turn N: topic, emotion) ..." summary string.
func compressTurns(messages []Message) string {
	var tuples []string
	turn := 0
	for i, m := range messages {
		if m.Role != "user" {
			continue
		}
		turn++
		topic := m.Content
		if len(topic) > 40 {
			topic = strings.TrimRight(topic[:40], " ") + "..."
		}
		emotion := ""
		if i+1 < len(messages) && messages[i+1].Role == "assistant" {
			emotion = messages[i+1].Emotion
			if emotion == "" {
				emotion = "neutral"
			}
		}
		tuples = append(tuples, fmt.Sprintf("(turn %d: %s, %s)", turn, topic, emotion))
	}
	if len(tuples) == 0 {
		return ""
	}
	return "Earlier conversation: " + strings.Join(tuples, " ")
}

var negativeMoods = map[string]bool{"sad": true, "scared": true, "angry": true}
var calmMoods = map[string]bool{"neutral": true, "thinking": true, "confused": true}

// buildCurrentStateBlock renders the CURRENT STATE system message from
// a personality profile.
func buildCurrentStateBlock(p Profile) string {
	var arc string
	switch {
	case p.Valence > 0.15:
		arc = "gently positive"
	case p.Valence < -0.15:
		arc = "slightly tense"
	default:
		arc = "calm and neutral"
	}

	var continuity string
	switch {
	case negativeMoods[p.Mood]:
		continuity = "moving toward recovery, gradually lighten"
	case calmMoods[p.Mood]:
		continuity = "Buddy is in a stable, calm state"
	default:
		continuity = "maintain positive trajectory, don't snap to a different mood"
	}

	var memoryLine string
	if len(p.MemoryTags) > 0 {
		n := len(p.MemoryTags)
		if n > 10 {
			n = 10
		}
		readable := make([]string, n)
		for i := 0; i < n; i++ {
			readable[i] = strings.ReplaceAll(p.MemoryTags[i], "_", " ")
		}
		memoryLine = "\nKnown about this child: " + strings.Join(readable, ", ") + "."
	}

	mood := p.Mood
	if mood == "" {
		mood = "neutral"
	}
	if _, ok := planner.NormalizeEmotion(mood); !ok {
		mood = "neutral"
	}

	return fmt.Sprintf(
		"CURRENT STATE\nBuddy is feeling %s at intensity %.1f.\nSession turn: %d. Conversation has been %s.\nEmotional continuity: %s%s",
		mood, p.Intensity, p.TurnID, arc, continuity, memoryLine,
	)
}
