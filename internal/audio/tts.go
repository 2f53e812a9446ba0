package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/0mdb/robot-buddy/internal/httpkit"
)

// ttsStreamTimeout bounds the whole-call duration of a /tts streaming
// request, per the audio orchestrator's cancellation/timeout contract.
const ttsStreamTimeout = 30 * time.Second

// Streamer opens a streaming text-to-speech request and returns the raw
// S16LE 16 kHz mono PCM body. Implemented by TTSClient; an interface so
// the orchestrator's playback pipeline can be exercised in tests with a
// fake.
type Streamer interface {
	StreamSpeech(ctx context.Context, text, emotion, robotID string, seq int) (io.ReadCloser, error)
}

// TTSClient is the outbound HTTP client for the remote /tts endpoint.
type TTSClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewTTSClient builds a TTSClient sharing the supervisor's standard
// outbound HTTP transport and retry policy.
func NewTTSClient(baseURL string, logger *slog.Logger) *TTSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &TTSClient{
		baseURL: baseURL,
		client: httpkit.NewClient(
			httpkit.WithTimeout(ttsStreamTimeout),
			httpkit.WithRetry(2, 200*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	Emotion string `json:"emotion"`
	Stream  bool   `json:"stream"`
	RobotID string `json:"robot_id"`
	Seq     int    `json:"seq"`
}

// StreamSpeech POSTs {text, emotion, stream:true, robot_id, seq} to /tts
// and returns the streaming PCM response body for the caller to read and
// close.
func (c *TTSClient) StreamSpeech(ctx context.Context, text, emotion, robotID string, seq int) (io.ReadCloser, error) {
	body, err := json.Marshal(ttsRequest{Text: text, Emotion: emotion, Stream: true, RobotID: robotID, Seq: seq})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("tts request failed: status %d: %s", resp.StatusCode, msg)
	}
	return resp.Body, nil
}
