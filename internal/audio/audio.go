// Package audio implements the two-path (planner speech vs. push-to-talk
// conversation) mutually-exclusive audio pipeline: it owns the local
// speaker/microphone subprocesses, streams PCM in both directions, and
// emits smoothed per-chunk energy for lip-sync.
package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/0mdb/robot-buddy/internal/conversation"
	"github.com/0mdb/robot-buddy/internal/planner"
	"github.com/0mdb/robot-buddy/internal/protocol"
)

// terminateSignal is sent to a playback/capture subprocess before
// escalating to an unconditional kill.
var terminateSignal = syscall.SIGTERM

const (
	speechQueueCapacity = 5
	chunkQueueCapacity  = 512

	// micChunkBytes is 10ms of 16kHz/16-bit/mono PCM (320 bytes),
	// matching both the playback split and the mic forwarding chunk size.
	micChunkBytes = 320

	lipSyncGain      = 220.0
	lipSyncRiseAlpha = 0.55
	lipSyncFallAlpha = 0.25
	lipSyncMaxHz     = 20

	subprocessTermWait = 300 * time.Millisecond
)

// FaceSink is the subset of face MCU control the orchestrator needs.
// cmd/supervisor wires a concrete implementation that encodes these into
// protocol command frames; audio stays decoupled from the wire format.
type FaceSink interface {
	SetTalkingEnergy(energy byte)
	SetMood(emotion string, intensity float64)
	Gesture(name string)
}

// Config configures device names and streaming parameters for the
// playback/capture subprocesses.
type Config struct {
	PlaybackBin  string // e.g. "aplay"
	CaptureBin   string // e.g. "arecord"
	DeviceName   string
	SampleRateHz int
	RobotID      string
}

func (c Config) withDefaults() Config {
	if c.PlaybackBin == "" {
		c.PlaybackBin = "aplay"
	}
	if c.CaptureBin == "" {
		c.CaptureBin = "arecord"
	}
	if c.SampleRateHz == 0 {
		c.SampleRateHz = 16000
	}
	return c
}

// SpeechRequest is one planner-speech item accepted by EnqueueSpeech.
type SpeechRequest struct {
	Text    string
	Emotion string
}

// Orchestrator owns the speech queue, the current playback subprocess,
// and the PTT conversation session, arbitrating so planner speech and
// conversation audio never mix on the speaker.
type Orchestrator struct {
	cfg    Config
	face   FaceSink
	tts    Streamer
	conv   *conversation.Client
	logger *slog.Logger

	speechQueue chan SpeechRequest

	mu           sync.Mutex
	speaking     bool
	pttEnabled   bool
	cancelSpeech context.CancelFunc
	speechDone   chan struct{}
	micCancel    context.CancelFunc
	micDone      chan struct{}

	convMu         sync.Mutex
	convActive     bool
	convCancel     context.CancelFunc
	convCmd        *exec.Cmd
	convStdin      io.WriteCloser
	convChunks     chan []byte
	convWriterDone chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates an Orchestrator. conv may be nil if no conversation
// backend is configured (PTT requests are then rejected).
func New(cfg Config, face FaceSink, tts Streamer, conv *conversation.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		face:        face,
		tts:         tts,
		conv:        conv,
		logger:      logger,
		speechQueue: make(chan SpeechRequest, speechQueueCapacity),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the planner-speech consumer task. Call once.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(1)
	go o.consumeSpeechQueue(ctx)
}

// Stop drains, cancels, and releases playback/capture resources.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.CancelPlannerSpeech()
	o.mu.Lock()
	if o.micCancel != nil {
		o.micCancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// EnqueueSpeech pushes a planner speech request onto the bounded queue.
// Returns false on overflow so the caller sees backpressure rather than
// blocking the control tick.
func (o *Orchestrator) EnqueueSpeech(text, emotion string) bool {
	if o.PTTEnabled() {
		return false
	}
	select {
	case o.speechQueue <- SpeechRequest{Text: text, Emotion: emotion}:
		return true
	default:
		return false
	}
}

// Speaking reports whether planner speech is currently being played.
func (o *Orchestrator) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// PTTEnabled reports whether push-to-talk conversation mode is active.
func (o *Orchestrator) PTTEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pttEnabled
}

// AnySpeaking reports whether either audio path currently has playback in
// flight: planner speech or conversation response audio. Feeds
// worldstate.State.FaceTalking each tick.
func (o *Orchestrator) AnySpeaking() bool {
	o.mu.Lock()
	speaking := o.speaking
	o.mu.Unlock()
	if speaking {
		return true
	}
	o.convMu.Lock()
	defer o.convMu.Unlock()
	return o.convActive
}

// PushConversationAudio streams one base64-decoded PCM chunk from a
// /converse "audio" message to the speaker, lazily starting the playback
// subprocess on the first chunk of a response.
func (o *Orchestrator) PushConversationAudio(ctx context.Context, pcm []byte) {
	o.convMu.Lock()
	if !o.convActive {
		convCtx, cancel := context.WithCancel(ctx)
		cmd := o.newPlaybackCmd(convCtx)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			o.logger.Warn("open conversation playback stdin failed", "error", err)
			cancel()
			o.convMu.Unlock()
			return
		}
		if err := cmd.Start(); err != nil {
			o.logger.Warn("start conversation playback subprocess failed", "error", err)
			cancel()
			o.convMu.Unlock()
			return
		}
		o.convActive = true
		o.convCancel = cancel
		o.convCmd = cmd
		o.convStdin = stdin
		o.convChunks = make(chan []byte, chunkQueueCapacity)
		o.convWriterDone = make(chan struct{})
		go o.runPlaybackWriter(stdin, o.convChunks, o.convWriterDone)
	}
	chunks := o.convChunks
	o.convMu.Unlock()

	select {
	case chunks <- pcm:
	case <-ctx.Done():
	}
}

// FinishConversationAudio closes out a conversation response's playback
// subprocess cleanly, on a /converse "done" message.
func (o *Orchestrator) FinishConversationAudio() {
	o.convMu.Lock()
	if !o.convActive {
		o.convMu.Unlock()
		return
	}
	chunks, writerDone, stdin, cmd := o.convChunks, o.convWriterDone, o.convStdin, o.convCmd
	cancel := o.convCancel
	o.convActive = false
	o.convCancel = nil
	o.convCmd = nil
	o.convStdin = nil
	o.convChunks = nil
	o.convWriterDone = nil
	o.convMu.Unlock()

	close(chunks)
	<-writerDone
	stdin.Close()
	waitSubprocess(cmd, subprocessTermWait)
	cancel()
	if o.face != nil {
		o.face.SetTalkingEnergy(0)
	}
}

// CancelConversationAudio aborts an in-progress conversation response
// immediately, on a /converse "error" message or a PTT re-toggle.
func (o *Orchestrator) CancelConversationAudio() {
	o.convMu.Lock()
	cancel := o.convCancel
	o.convMu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.FinishConversationAudio()
}

// CancelPlannerSpeech kills any active speaker subprocess, drains the
// speech queue, and restores the face "not talking" state. Synchronous:
// by the time it returns, no speaker subprocess is alive.
func (o *Orchestrator) CancelPlannerSpeech() {
	o.mu.Lock()
	cancel := o.cancelSpeech
	done := o.speechDone
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			o.logger.Warn("cancel planner speech: playback cleanup timed out")
		}
	}

	for {
		select {
		case <-o.speechQueue:
		default:
			if o.face != nil {
				o.face.SetTalkingEnergy(0)
			}
			return
		}
	}
}

// SetPTTEnabled toggles push-to-talk. Enabling first cancels any
// in-flight planner speech (idempotent if already cancelled); disabling
// stops mic capture and signals end-of-utterance.
func (o *Orchestrator) SetPTTEnabled(ctx context.Context, on bool) error {
	o.mu.Lock()
	already := o.pttEnabled == on
	o.mu.Unlock()
	if already {
		return nil
	}

	if on {
		o.CancelPlannerSpeech()
		if o.conv == nil {
			return fmt.Errorf("audio: no conversation backend configured")
		}
		o.mu.Lock()
		o.pttEnabled = true
		micCtx, cancel := context.WithCancel(ctx)
		o.micCancel = cancel
		done := make(chan struct{})
		o.micDone = done
		o.mu.Unlock()

		o.wg.Add(1)
		go o.runCapture(micCtx, done)
		return nil
	}

	o.mu.Lock()
	o.pttEnabled = false
	cancel := o.micCancel
	o.micCancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if o.conv != nil {
		return o.conv.SendEndUtterance()
	}
	return nil
}

// OnFaceButton interprets a physical PTT button event into a
// SetPTTEnabled toggle. Press/click/toggle all flip the current state;
// release is a no-op, since the button is a toggle rather than
// press-and-hold control.
func (o *Orchestrator) OnFaceButton(ctx context.Context, evt protocol.FaceButtonEventType) error {
	switch evt {
	case protocol.ButtonPress, protocol.ButtonClick, protocol.ButtonToggle:
		return o.SetPTTEnabled(ctx, !o.PTTEnabled())
	default:
		return nil
	}
}

// consumeSpeechQueue serially pulls planner-speech requests and plays
// each to completion or cancellation.
func (o *Orchestrator) consumeSpeechQueue(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case req := <-o.speechQueue:
			if o.PTTEnabled() {
				continue // dropped while a conversation session is active
			}
			o.playOne(ctx, req)
		}
	}
}

// playOne streams one TTS response to the speaker subprocess, computing
// lip-sync energy per chunk on the writer goroutine.
func (o *Orchestrator) playOne(parent context.Context, req SpeechRequest) {
	speechCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	o.mu.Lock()
	o.speaking = true
	o.cancelSpeech = cancel
	o.speechDone = done
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.speaking = false
		o.cancelSpeech = nil
		o.speechDone = nil
		o.mu.Unlock()
		if o.face != nil {
			o.face.SetTalkingEnergy(0)
		}
		close(done)
		cancel()
	}()

	stream, err := o.tts.StreamSpeech(speechCtx, req.Text, req.Emotion, o.cfg.RobotID, 0)
	if err != nil {
		o.logger.Warn("tts stream failed", "error", err)
		return
	}
	defer stream.Close()

	cmd := o.newPlaybackCmd(speechCtx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		o.logger.Warn("open playback stdin failed", "error", err)
		return
	}
	if err := cmd.Start(); err != nil {
		o.logger.Warn("start playback subprocess failed", "error", err)
		return
	}

	chunks := make(chan []byte, chunkQueueCapacity)
	writerDone := make(chan struct{})
	go o.runPlaybackWriter(stdin, chunks, writerDone)

	readErr := streamChunks(speechCtx, stream, micChunkBytes, chunks)
	close(chunks)
	<-writerDone

	stdin.Close()
	waitSubprocess(cmd, subprocessTermWait)

	if readErr != nil && readErr != io.EOF && speechCtx.Err() == nil {
		o.logger.Warn("tts stream read error", "error", readErr)
	}
}

func (o *Orchestrator) newPlaybackCmd(ctx context.Context) *exec.Cmd {
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprint(o.cfg.SampleRateHz)}
	if o.cfg.DeviceName != "" {
		args = append(args, "-D", o.cfg.DeviceName)
	}
	return exec.CommandContext(ctx, o.cfg.PlaybackBin, args...)
}

// runPlaybackWriter is the single dedicated writer for this subprocess's
// stdin; it drains chunks, computes RMS-based lip-sync energy, and
// reports the smoothed value to the face at no more than lipSyncMaxHz.
func (o *Orchestrator) runPlaybackWriter(stdin io.WriteCloser, chunks <-chan []byte, done chan<- struct{}) {
	defer close(done)
	smoother := &lipSync{}
	lastEmit := time.Time{}
	minInterval := time.Second / lipSyncMaxHz

	for chunk := range chunks {
		if _, err := stdin.Write(chunk); err != nil {
			continue
		}
		energy := smoother.Update(rms(chunk))
		if now := time.Now(); now.Sub(lastEmit) >= minInterval {
			if o.face != nil {
				o.face.SetTalkingEnergy(energy)
			}
			lastEmit = now
		}
	}
}

// runCapture reads 320-byte PCM chunks from the mic subprocess and
// forwards each as a base64 "audio" message over the conversation client.
func (o *Orchestrator) runCapture(ctx context.Context, done chan<- struct{}) {
	defer o.wg.Done()
	defer close(done)

	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprint(o.cfg.SampleRateHz)}
	if o.cfg.DeviceName != "" {
		args = append(args, "-D", o.cfg.DeviceName)
	}
	cmd := exec.CommandContext(ctx, o.cfg.CaptureBin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		o.logger.Warn("open mic stdout failed", "error", err)
		return
	}
	if err := cmd.Start(); err != nil {
		o.logger.Warn("start mic capture failed", "error", err)
		return
	}
	defer waitSubprocess(cmd, subprocessTermWait)

	buf := make([]byte, micChunkBytes)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := o.conv.SendAudio(chunk); sendErr != nil {
				o.logger.Warn("forward mic audio failed", "error", sendErr)
			}
		}
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// streamChunks reads r in chunkSize-byte pieces and sends each to out,
// returning when r is exhausted, ctx is cancelled, or a read error
// occurs.
func streamChunks(ctx context.Context, r io.Reader, chunkSize int, out chan<- []byte) error {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// waitSubprocess implements terminate -> wait <= timeout -> kill -> wait.
func waitSubprocess(cmd *exec.Cmd, timeout time.Duration) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(terminateSignal)

	waitCh := make(chan struct{})
	go func() {
		cmd.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-waitCh
	}
}

// lipSync asymmetrically smooths a raw energy target into a stable 0..255
// lip-sync value, rising faster than it falls.
type lipSync struct {
	state float64
}

// Update maps a raw RMS sample into the smoothed 0..255 energy value.
func (l *lipSync) Update(sampleRMS float64) byte {
	target := clamp(sampleRMS/32768.0*lipSyncGain, 0, 255)
	alpha := lipSyncFallAlpha
	if target > l.state {
		alpha = lipSyncRiseAlpha
	}
	l.state = alpha*target + (1-alpha)*l.state
	return byte(clamp(l.state, 0, 255))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rms computes the root-mean-square amplitude of a little-endian 16-bit
// mono PCM chunk.
func rms(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := int16(uint16(chunk[2*i]) | uint16(chunk[2*i+1])<<8)
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(n))
}

// NormalizeFaceEmotion resolves an LLM-supplied emotion name to the
// canonical vocabulary the face MCU understands, falling back to
// "neutral" for anything unrecognized.
func NormalizeFaceEmotion(name string) string {
	if canon, ok := planner.NormalizeEmotion(name); ok {
		return canon
	}
	return "neutral"
}
