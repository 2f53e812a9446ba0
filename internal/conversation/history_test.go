package conversation

import "testing"

func TestFewTurnsNoCompression(t *testing.T) {
	h := New(20, 0)
	h.AddUser("hello")
	h.AddAssistant("hi there", "happy")
	msgs := h.ToChatMessages("you are buddy")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Fatalf("expected first message to be system, got %s", msgs[0].Role)
	}
	if msgs[1].Content != "hello" || msgs[2].Content != "hi there" {
		t.Fatalf("unexpected message contents: %+v", msgs)
	}
}

func TestCompressionKicksInBeyond8Turns(t *testing.T) {
	h := New(30, 0)
	for i := 0; i < 9; i++ {
		h.AddUser("question")
		h.AddAssistant("answer", "happy")
	}
	msgs := h.ToChatMessages("sys")
	if msgs[0].Role != "system" {
		t.Fatalf("expected system first, got %s", msgs[0].Role)
	}
	if msgs[1].Role != "system" {
		t.Fatalf("expected summary system message second, got %s", msgs[1].Role)
	}
	if !containsSub(msgs[1].Content, "Earlier conversation") {
		t.Fatalf("expected earlier-conversation summary, got %q", msgs[1].Content)
	}
	if len(msgs) != 2+16 {
		t.Fatalf("expected 18 messages (system+summary+16 recent), got %d", len(msgs))
	}
}

func TestSummaryIncludesTopicAndEmotion(t *testing.T) {
	h := New(30, 0)
	for i := 0; i < 10; i++ {
		h.AddUser("Tell me about dinosaurs")
		h.AddAssistant("Dinosaurs are cool", "curious")
	}
	msgs := h.ToChatMessages("sys")
	summary := msgs[1].Content
	if !containsSub(toLower(summary), "dinosaurs") {
		t.Fatalf("expected topic in summary, got %q", summary)
	}
	if !containsSub(summary, "curious") {
		t.Fatalf("expected emotion in summary, got %q", summary)
	}
}

func TestTokenBudgetEnforcement(t *testing.T) {
	h := New(20, 2048)
	longText := repeat("x", 8000)
	h.AddUser(longText)
	h.AddAssistant("ok", "neutral")
	h.AddUser("short follow-up")
	msgs := h.ToChatMessages("short system prompt")

	for _, m := range msgs {
		if m.Content == longText {
			t.Fatal("expected long message to be dropped to fit budget")
		}
	}
	found := false
	for _, m := range msgs {
		if m.Content == "short follow-up" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected short follow-up to survive budget enforcement")
	}
}

func TestTurnCountCorrect(t *testing.T) {
	h := New(20, 0)
	if h.TurnCount() != 0 {
		t.Fatalf("expected 0 turns, got %d", h.TurnCount())
	}
	h.AddUser("a")
	if h.TurnCount() != 1 {
		t.Fatalf("expected 1 turn, got %d", h.TurnCount())
	}
	h.AddAssistant("b", "neutral")
	if h.TurnCount() != 1 {
		t.Fatalf("expected still 1 turn after assistant reply, got %d", h.TurnCount())
	}
	h.AddUser("c")
	if h.TurnCount() != 2 {
		t.Fatalf("expected 2 turns, got %d", h.TurnCount())
	}
}

func TestCompressTurnsEmpty(t *testing.T) {
	if got := compressTurns(nil); got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}
}

func TestCompressTurnsSingleTurn(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "Why is the sky blue?"},
		{Role: "assistant", Content: "Because of scattering", Emotion: "curious"},
	}
	result := compressTurns(msgs)
	if !containsSub(result, "turn 1") {
		t.Fatalf("expected turn 1 marker, got %q", result)
	}
	if !containsSub(toLower(result), "sky blue") {
		t.Fatalf("expected topic text, got %q", result)
	}
	if !containsSub(result, "curious") {
		t.Fatalf("expected emotion, got %q", result)
	}
}

func TestCompressTurnsLongTopicTruncated(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: repeat("A", 60)},
		{Role: "assistant", Content: "ok", Emotion: "neutral"},
	}
	result := compressTurns(msgs)
	if !containsSub(result, "...") {
		t.Fatalf("expected truncation marker, got %q", result)
	}
}

func TestBuildCurrentStateBlockBasic(t *testing.T) {
	block := buildCurrentStateBlock(Profile{Mood: "curious", Intensity: 0.4, TurnID: 5})
	if !containsSub(block, "CURRENT STATE") {
		t.Fatal("expected CURRENT STATE header")
	}
	if !containsSub(block, "curious") {
		t.Fatal("expected mood in block")
	}
	if !containsSub(block, "0.4") {
		t.Fatal("expected intensity in block")
	}
	if !containsSub(block, "turn: 5") {
		t.Fatalf("expected turn marker, got %q", block)
	}
}

func TestBuildCurrentStateBlockValenceArcs(t *testing.T) {
	if b := buildCurrentStateBlock(Profile{Valence: 0.5}); !containsSub(b, "gently positive") {
		t.Fatalf("expected positive arc, got %q", b)
	}
	if b := buildCurrentStateBlock(Profile{Valence: -0.5}); !containsSub(b, "slightly tense") {
		t.Fatalf("expected negative arc, got %q", b)
	}
	if b := buildCurrentStateBlock(Profile{Valence: 0.0}); !containsSub(b, "calm and neutral") {
		t.Fatalf("expected neutral arc, got %q", b)
	}
}

func TestBuildCurrentStateBlockMoodContinuity(t *testing.T) {
	if b := buildCurrentStateBlock(Profile{Mood: "sad", Valence: -0.3}); !containsSub(b, "recovery") {
		t.Fatalf("expected recovery continuity, got %q", b)
	}
	if b := buildCurrentStateBlock(Profile{Mood: "happy", Valence: 0.3}); !containsSub(b, "positive trajectory") {
		t.Fatalf("expected positive trajectory continuity, got %q", b)
	}
}

func TestBuildCurrentStateBlockMemoryTags(t *testing.T) {
	block := buildCurrentStateBlock(Profile{
		Mood: "happy", Intensity: 0.5, TurnID: 3, Valence: 0.2,
		MemoryTags: []string{"likes_dinosaurs", "child_name_emma"},
	})
	if !containsSub(block, "Known about this child") {
		t.Fatal("expected memory line")
	}
	if !containsSub(block, "likes dinosaurs") || !containsSub(block, "child name emma") {
		t.Fatalf("expected readable tags, got %q", block)
	}
}

func TestBuildCurrentStateBlockNoMemoryTagsNoLine(t *testing.T) {
	block := buildCurrentStateBlock(Profile{Mood: "neutral", Intensity: 0.3, TurnID: 1})
	if containsSub(block, "Known about this child") {
		t.Fatal("expected no memory line when no tags")
	}
}

func TestBuildCurrentStateBlockDefaults(t *testing.T) {
	block := buildCurrentStateBlock(Profile{})
	if !containsSub(block, "CURRENT STATE") || !containsSub(block, "neutral") {
		t.Fatalf("expected defaulted block, got %q", block)
	}
}

func TestNoProfileNoInjection(t *testing.T) {
	h := New(20, 0)
	h.AddUser("hello")
	h.AddAssistant("hi", "happy")
	msgs := h.ToChatMessages("sys")
	for _, m := range msgs {
		if containsSub(m.Content, "CURRENT STATE") {
			t.Fatal("expected no CURRENT STATE block without a profile")
		}
	}
}

func TestProfileInjectedBeforeLastUserMessage(t *testing.T) {
	h := New(20, 0)
	h.UpdateProfile(Profile{Mood: "curious", Intensity: 0.4, TurnID: 1, Valence: 0.2})
	h.AddUser("why is the sky blue?")
	msgs := h.ToChatMessages("sys")

	stateIdx, userIdx := -1, -1
	for i, m := range msgs {
		if containsSub(m.Content, "CURRENT STATE") {
			stateIdx = i
		}
		if m.Role == "user" {
			userIdx = i
		}
	}
	if stateIdx < 0 {
		t.Fatal("expected a CURRENT STATE block")
	}
	if userIdx < 0 || stateIdx >= userIdx {
		t.Fatalf("expected state block before user message: state=%d user=%d", stateIdx, userIdx)
	}
}

func TestProfileUpdatedBetweenTurns(t *testing.T) {
	h := New(20, 0)
	h.UpdateProfile(Profile{Mood: "neutral", Intensity: 0.3, TurnID: 1})
	h.AddUser("hello")
	h.AddAssistant("hi!", "happy")
	h.UpdateProfile(Profile{Mood: "happy", Intensity: 0.6, TurnID: 2, Valence: 0.4})
	h.AddUser("tell me a joke")
	msgs := h.ToChatMessages("sys")

	count := 0
	var content string
	for _, m := range msgs {
		if containsSub(m.Content, "CURRENT STATE") {
			count++
			content = m.Content
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one state block, got %d", count)
	}
	if !containsSub(content, "happy") {
		t.Fatalf("expected latest profile reflected, got %q", content)
	}
}

func TestNoAnchorBefore5Turns(t *testing.T) {
	h := New(20, 0)
	for i := 0; i < 3; i++ {
		h.AddUser("message")
		h.AddAssistant("response", "happy")
	}
	h.AddUser("message 4")
	msgs := h.ToChatMessages("sys")
	for _, m := range msgs {
		if containsSub(m.Content, PersonaAnchor) {
			t.Fatal("expected no anchor before 5 turns")
		}
	}
}

func TestAnchorAt5Turns(t *testing.T) {
	h := New(20, 0)
	for i := 0; i < 5; i++ {
		h.AddUser("message")
		h.AddAssistant("response", "happy")
	}
	msgs := h.ToChatMessages("sys")
	count := 0
	for _, m := range msgs {
		if containsSub(m.Content, PersonaAnchor) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected anchor exactly once at 5 turns, got %d", count)
	}
}

func TestAnchorAt10Turns(t *testing.T) {
	h := New(20, 0)
	for i := 0; i < 10; i++ {
		h.AddUser("message")
		h.AddAssistant("response", "happy")
	}
	msgs := h.ToChatMessages("sys")
	count := 0
	for _, m := range msgs {
		if containsSub(m.Content, PersonaAnchor) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected anchor exactly once at 10 turns, got %d", count)
	}
}

func TestAnchorAndProfileBothPresent(t *testing.T) {
	h := New(20, 0)
	h.UpdateProfile(Profile{Mood: "curious", Intensity: 0.4, TurnID: 5, Valence: 0.2})
	for i := 0; i < 5; i++ {
		h.AddUser("message")
		h.AddAssistant("response", "happy")
	}
	msgs := h.ToChatMessages("sys")
	var hasState, hasAnchor bool
	for _, m := range msgs {
		if containsSub(m.Content, "CURRENT STATE") {
			hasState = true
		}
		if containsSub(m.Content, PersonaAnchor) {
			hasAnchor = true
		}
	}
	if !hasState || !hasAnchor {
		t.Fatalf("expected both state block and anchor present: state=%v anchor=%v", hasState, hasAnchor)
	}
}

func TestIsEmpty(t *testing.T) {
	h := New(20, 0)
	if !h.IsEmpty() {
		t.Fatal("expected new history to be empty")
	}
	h.AddUser("hi")
	if h.IsEmpty() {
		t.Fatal("expected non-empty history after a user turn")
	}
}

func TestCapacityEviction(t *testing.T) {
	h := New(2, 0) // capacity 4 messages = 2 turns
	h.AddUser("t1")
	h.AddAssistant("r1", "happy")
	h.AddUser("t2")
	h.AddAssistant("r2", "happy")
	h.AddUser("t3")
	h.AddAssistant("r3", "happy")
	if h.TurnCount() != 2 {
		t.Fatalf("expected ring capped at 2 turns, got %d", h.TurnCount())
	}
	msgs := h.ToChatMessages("sys")
	for _, m := range msgs {
		if m.Content == "t1" {
			t.Fatal("expected oldest turn evicted")
		}
	}
}

func containsSub(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func repeat(s string, n int) string {
	b := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		b = append(b, s...)
	}
	return string(b)
}
