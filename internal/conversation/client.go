package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Inbound message types sent by the conversation backend over /converse.
const (
	msgListening    = "listening"
	msgTranscription = "transcription"
	msgEmotion      = "emotion"
	msgGestures     = "gestures"
	msgMemoryTags   = "memory_tags"
	msgAudio        = "audio"
	msgDone         = "done"
	msgError        = "error"
)

// Outbound message types this client sends.
const (
	outAudio         = "audio"
	outEndUtterance  = "end_utterance"
	outCancel        = "cancel"
	outText          = "text"
	outProfile       = "profile"
)

// inboundMessage is the generic server->client envelope; only the
// fields relevant to msg_type are populated.
type inboundMessage struct {
	Type        string        `json:"type"`
	Text        string        `json:"text,omitempty"`
	Emotion     string        `json:"emotion,omitempty"`
	Intensity   float64       `json:"intensity,omitempty"`
	MoodReason  string        `json:"mood_reason,omitempty"`
	Names       []string      `json:"names,omitempty"`
	Tags        []MemoryTag   `json:"tags,omitempty"`
	Data        string        `json:"data,omitempty"`
	ChunkIndex  int           `json:"chunk_index,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// MemoryTag is one tag surfaced by the backend for local memory storage.
type MemoryTag struct {
	Tag      string `json:"tag"`
	Category string `json:"category"`
}

// legacyMemoryTagCategory is assigned to a v1 bare-string memory_tags
// entry, which carries no category of its own.
const legacyMemoryTagCategory = "topic"

// UnmarshalJSON accepts both the v2 object form {"tag":...,"category":...}
// and the legacy v1 bare-string form "tag_name", defaulting the latter to
// legacyMemoryTagCategory. The backend's memory_tags field shipped in
// two shapes over its history; both are accepted here.
func (t *MemoryTag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Tag = s
		t.Category = legacyMemoryTagCategory
		return nil
	}
	type alias MemoryTag
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = MemoryTag(a)
	return nil
}

// Handlers are the callbacks invoked as the client reads server
// messages. Any nil handler is simply skipped. Handlers run on the
// client's read goroutine and must not block.
type Handlers struct {
	OnListening     func()
	OnTranscription func(text string)
	OnEmotion       func(emotion string, intensity float64, reason string)
	OnGestures      func(names []string)
	OnMemoryTags    func(tags []MemoryTag)
	OnAudioChunk    func(pcm []byte, chunkIndex int)
	OnDone          func()
	OnError         func(message string)
}

// Client is a reconnecting WebSocket client to a /converse endpoint. It
// owns no conversation state itself — History lives with the caller (or
// is stashed/restored by a session registry) so a reconnect can resume
// with full context.
type Client struct {
	url               string
	robotID           string
	reconnectDelay    time.Duration
	logger            *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	sessionSeq  *int64
	sessionMono *int64
}

// NewClient creates a /converse client. reconnectDelay<=0 defaults to 3s.
func NewClient(baseURL, robotID string, reconnectDelay time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &Client{url: baseURL, robotID: robotID, reconnectDelay: reconnectDelay, logger: logger}
}

// SetSessionIdentity attaches the optional session_seq and
// session_monotonic_ts_ms values sent as query parameters on the next
// Connect, letting the backend order competing sessions from the same
// robot. Either may be nil.
func (c *Client) SetSessionIdentity(seq, monotonicTsMs *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionSeq = seq
	c.sessionMono = monotonicTsMs
}

// Connect dials the /converse endpoint, attaching robot_id (and the
// session identity, when set) as query parameters.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse converse url: %w", err)
	}
	q := u.Query()
	q.Set("robot_id", c.robotID)
	c.mu.Lock()
	if c.sessionSeq != nil {
		q.Set("session_seq", fmt.Sprint(*c.sessionSeq))
	}
	if c.sessionMono != nil {
		q.Set("session_monotonic_ts_ms", fmt.Sprint(*c.sessionMono))
	}
	c.mu.Unlock()
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial converse: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// RunReadLoop blocks, dispatching inbound messages to h until the
// connection closes or ctx is cancelled. Callers typically invoke it in
// its own goroutine after Connect succeeds.
func (c *Client) RunReadLoop(ctx context.Context, h Handlers) error {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("converse client: not connected")
		}

		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("read converse message: %w", err)
		}
		c.dispatch(msg, h)
	}
}

func (c *Client) dispatch(msg inboundMessage, h Handlers) {
	switch msg.Type {
	case msgListening:
		if h.OnListening != nil {
			h.OnListening()
		}
	case msgTranscription:
		if h.OnTranscription != nil {
			h.OnTranscription(msg.Text)
		}
	case msgEmotion:
		if h.OnEmotion != nil {
			h.OnEmotion(msg.Emotion, msg.Intensity, msg.MoodReason)
		}
	case msgGestures:
		if h.OnGestures != nil {
			h.OnGestures(msg.Names)
		}
	case msgMemoryTags:
		if h.OnMemoryTags != nil {
			h.OnMemoryTags(msg.Tags)
		}
	case msgAudio:
		if h.OnAudioChunk != nil {
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err == nil {
				h.OnAudioChunk(pcm, msg.ChunkIndex)
			}
		}
	case msgDone:
		if h.OnDone != nil {
			h.OnDone()
		}
	case msgError:
		if h.OnError != nil {
			h.OnError(msg.Message)
		}
	default:
		c.logger.Warn("unknown converse message type", "type", msg.Type)
	}
}

// SendAudio forwards one base64-encoded PCM 16kHz/16-bit/mono chunk.
func (c *Client) SendAudio(pcm []byte) error {
	return c.send(map[string]any{
		"type": outAudio,
		"data": base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendEndUtterance signals the backend to transcribe the buffered audio
// and generate a response.
func (c *Client) SendEndUtterance() error {
	return c.send(map[string]any{"type": outEndUtterance})
}

// SendCancel aborts the in-flight utterance and any streaming response.
func (c *Client) SendCancel() error {
	return c.send(map[string]any{"type": outCancel})
}

// SendText bypasses STT and sends text directly.
func (c *Client) SendText(text string) error {
	return c.send(map[string]any{"type": outText, "text": text})
}

// SendProfile pushes the current personality profile so the backend can
// render it into the CURRENT STATE block.
func (c *Client) SendProfile(p Profile) error {
	return c.send(map[string]any{
		"type": outProfile,
		"profile": map[string]any{
			"mood":        p.Mood,
			"intensity":   p.Intensity,
			"turn_id":     p.TurnID,
			"valence":     p.Valence,
			"memory_tags": p.MemoryTags,
		},
	})
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("converse client: not connected")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// RunWithReconnect connects and runs the read loop in a restart loop,
// reconnecting after reconnectDelay on any disconnect, until ctx is
// cancelled. onReconnect, if non-nil, runs after each successful
// (re)connect — e.g. to replay SendProfile so the backend regains
// personality context immediately.
func (c *Client) RunWithReconnect(ctx context.Context, h Handlers, onReconnect func(*Client)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("converse connect failed", "error", err)
			if !sleepCtx(ctx, c.reconnectDelay) {
				return
			}
			continue
		}

		if onReconnect != nil {
			onReconnect(c)
		}

		if err := c.RunReadLoop(ctx, h); err != nil {
			c.logger.Warn("converse read loop ended", "error", err)
		}
		c.Close()

		if !sleepCtx(ctx, c.reconnectDelay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
