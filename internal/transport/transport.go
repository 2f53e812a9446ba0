// Package transport provides the framed, auto-reconnecting serial link to
// the reflex and face MCUs: COBS byte-stuffing (cobs.go), CRC16-CCITT
// checksumming (crc.go), frame assembly (frame.go), and the reconnecting
// reader/writer loop (this file).
package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

const (
	reconnectMinDelay = 500 * time.Millisecond
	reconnectMaxDelay = 5 * time.Second
	readTimeout       = 50 * time.Millisecond
	readChunkBytes    = 256
	maxFrameBytes     = 512
)

// PacketHandler receives a decoded frame. Registered once per Link;
// called synchronously from the reader goroutine, so it must not block.
type PacketHandler func(Frame)

// Config configures a single serial Link.
type Config struct {
	Port     string
	BaudRate int
	// Label identifies this link in log lines (e.g. "reflex", "face").
	Label string
}

// Link is a best-effort, reliable-when-connected, auto-reconnecting
// bytestream to one MCU. Exactly one packet subscriber may be registered.
// Only the Link itself reads and writes its serial port.
type Link struct {
	cfg       Config
	logger    *slog.Logger
	rawLogger *RawLogger

	onPacket     PacketHandler
	onConnect    func()
	onDisconnect func()

	writeMu sync.Mutex
	port    serial.Port

	connected atomic.Bool
	buf       []byte

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Link for the given configuration. Start must be called
// to begin the background reader.
func New(cfg Config, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	return &Link{cfg: cfg, logger: logger}
}

// OnPacket registers the single packet-decoded subscriber.
func (l *Link) OnPacket(h PacketHandler) { l.onPacket = h }

// OnConnect registers a lifecycle callback invoked on each successful open.
func (l *Link) OnConnect(h func()) { l.onConnect = h }

// OnDisconnect registers a lifecycle callback invoked on every disconnect.
func (l *Link) OnDisconnect(h func()) { l.onDisconnect = h }

// SetRawLogger attaches an optional rotating raw-frame logger. Every
// successfully decoded frame is also recorded there with its receive
// timestamp, for deterministic offline replay.
func (l *Link) SetRawLogger(rl *RawLogger) { l.rawLogger = rl }

// Connected reports whether the port is currently open.
func (l *Link) Connected() bool { return l.connected.Load() }

// Start begins the background reader task. Idempotent only in the sense
// that calling it twice without an intervening Stop leaks a goroutine —
// callers own the Start/Stop pairing.
func (l *Link) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.runLoop(ctx)
}

// Stop closes the port and waits for the reader goroutine to exit.
func (l *Link) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
	l.writeMu.Lock()
	l.closePortLocked()
	l.writeMu.Unlock()
	l.connected.Store(false)
}

// Write performs a non-blocking best-effort transmit. If disconnected or
// the write errors, the error is swallowed after recording a disconnect;
// data is silently dropped. There is no retry of the write across
// reconnects — the caller decides whether to resend.
func (l *Link) Write(data []byte) {
	l.writeMu.Lock()
	if !l.connected.Load() || l.port == nil {
		l.writeMu.Unlock()
		return
	}
	_, err := l.port.Write(data)
	if err != nil {
		l.logger.Warn("write error", "label", l.cfg.Label, "err", err)
		l.closePortLocked()
	}
	l.writeMu.Unlock()

	if err != nil {
		l.notifyDisconnect()
	}
}

func (l *Link) runLoop(ctx context.Context) {
	defer close(l.done)

	delay := reconnectMinDelay
	for {
		if ctx.Err() != nil {
			return
		}

		if !l.connected.Load() {
			if l.tryOpen() {
				delay = reconnectMinDelay
			} else {
				if !sleepCtx(ctx, delay) {
					return
				}
				delay *= 2
				if delay > reconnectMaxDelay {
					delay = reconnectMaxDelay
				}
				continue
			}
		}

		data, err := l.blockingRead()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("read error", "label", l.cfg.Label, "err", err)
			l.handleDisconnect()
			continue
		}
		if len(data) > 0 {
			l.feed(data)
		}
	}
}

func (l *Link) tryOpen() bool {
	mode := &serial.Mode{BaudRate: l.cfg.BaudRate}
	port, err := serial.Open(l.cfg.Port, mode)
	if err != nil {
		l.logger.Debug("can't open port", "label", l.cfg.Label, "port", l.cfg.Port, "err", err)
		return false
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		l.logger.Debug("can't set read timeout", "label", l.cfg.Label, "err", err)
		port.Close()
		return false
	}

	l.writeMu.Lock()
	l.port = port
	l.writeMu.Unlock()

	l.buf = l.buf[:0]
	l.connected.Store(true)
	l.logger.Info("connected", "label", l.cfg.Label, "port", l.cfg.Port)
	if l.onConnect != nil {
		l.onConnect()
	}
	return true
}

func (l *Link) blockingRead() ([]byte, error) {
	l.writeMu.Lock()
	port := l.port
	l.writeMu.Unlock()
	if port == nil {
		return nil, nil
	}

	chunk := make([]byte, readChunkBytes)
	n, err := port.Read(chunk)
	if err != nil {
		return nil, err
	}
	return chunk[:n], nil
}

// feed accumulates bytes into the frame buffer, dispatching on each 0x00
// delimiter and discarding frames over maxFrameBytes.
func (l *Link) feed(data []byte) {
	for _, b := range data {
		if b == 0x00 {
			if len(l.buf) > 0 {
				l.dispatchFrame(l.buf)
				l.buf = l.buf[:0]
			}
			continue
		}
		l.buf = append(l.buf, b)
		if len(l.buf) > maxFrameBytes {
			l.logger.Warn("frame too long, discarding", "label", l.cfg.Label, "bytes", len(l.buf))
			l.buf = l.buf[:0]
		}
	}
}

func (l *Link) dispatchFrame(raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		l.logger.Debug("bad frame", "label", l.cfg.Label, "err", err)
		return
	}
	if l.rawLogger != nil {
		l.rawLogger.LogFrame(time.Now(), l.cfg.Label, raw)
	}
	if l.onPacket != nil {
		l.onPacket(frame)
	}
}

func (l *Link) handleDisconnect() {
	l.writeMu.Lock()
	l.closePortLocked()
	l.writeMu.Unlock()
	l.notifyDisconnect()
}

func (l *Link) notifyDisconnect() {
	if !l.connected.Swap(false) {
		return
	}
	l.logger.Warn("disconnected", "label", l.cfg.Label, "port", l.cfg.Port)
	if l.onDisconnect != nil {
		l.onDisconnect()
	}
}

// closePortLocked requires writeMu to be held.
func (l *Link) closePortLocked() {
	if l.port != nil {
		l.port.Close()
		l.port = nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
