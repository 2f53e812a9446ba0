package transport

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Record format per entry, matching the deterministic replay stream:
//
//	[t_pi_rx_ns:i64-LE] [src_id_len:u8] [src_id:utf8] [frame_len:u16-LE] [raw_bytes:N]
//
// Feed raw_bytes through DecodeFrame with the recorded timestamp to replay.
const (
	DefaultRawLogMaxBytes int64 = 50 * 1024 * 1024
	DefaultRawLogMaxFiles int   = 5
)

// RawLogger is an append-only binary logger for deterministic packet
// replay, rotating by size and file count. Not thread-safe: it is
// intended to be called from a single Link's dispatch path only.
type RawLogger struct {
	logDir   string
	maxBytes int64
	maxFiles int
	logger   *slog.Logger

	file           *os.File
	bytesWritten   int64
	entriesWritten int64
	enabled        bool
}

// NewRawLogger creates a logger that writes rotating files under logDir.
// Zero maxBytes/maxFiles fall back to the defaults.
func NewRawLogger(logDir string, maxBytes int64, maxFiles int, logger *slog.Logger) *RawLogger {
	if maxBytes <= 0 {
		maxBytes = DefaultRawLogMaxBytes
	}
	if maxFiles <= 0 {
		maxFiles = DefaultRawLogMaxFiles
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RawLogger{logDir: logDir, maxBytes: maxBytes, maxFiles: maxFiles, logger: logger}
}

// Enabled reports whether the logger currently has an open file.
func (r *RawLogger) Enabled() bool { return r.enabled }

// EntriesWritten returns the total number of frames recorded so far.
func (r *RawLogger) EntriesWritten() int64 { return r.entriesWritten }

// Start opens a new log file and begins recording.
func (r *RawLogger) Start() error {
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return fmt.Errorf("transport: raw logger: mkdir: %w", err)
	}
	r.rotateIfNeeded()

	path := r.newFilePath()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transport: raw logger: open: %w", err)
	}
	r.file = f
	r.bytesWritten = 0
	r.enabled = true
	r.logger.Info("raw logger started", "path", path)
	return nil
}

// Stop flushes and closes the current log file.
func (r *RawLogger) Stop() {
	r.enabled = false
	if r.file != nil {
		r.file.Sync()
		r.file.Close()
		r.file = nil
	}
	r.logger.Info("raw logger stopped", "entries", r.entriesWritten)
}

// LogFrame records a single raw COBS frame (without its trailing 0x00
// delimiter) with its receive timestamp and source link label. A no-op
// if the logger is not started.
func (r *RawLogger) LogFrame(receivedAt time.Time, srcID string, rawFrame []byte) {
	if !r.enabled || r.file == nil {
		return
	}

	srcBytes := []byte(srcID)
	entry := make([]byte, 0, 8+1+len(srcBytes)+2+len(rawFrame))

	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(receivedAt.UnixNano()))
	entry = append(entry, header...)
	entry = append(entry, byte(len(srcBytes)))
	entry = append(entry, srcBytes...)

	frameLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(frameLen, uint16(len(rawFrame)))
	entry = append(entry, frameLen...)
	entry = append(entry, rawFrame...)

	n, err := r.file.Write(entry)
	if err != nil {
		r.logger.Warn("raw logger write error", "err", err)
		return
	}
	r.bytesWritten += int64(n)
	r.entriesWritten++

	if r.bytesWritten >= r.maxBytes {
		r.rotate()
	}
}

func (r *RawLogger) rotate() {
	if r.file != nil {
		r.file.Sync()
		r.file.Close()
		r.file = nil
	}
	r.rotateIfNeeded()

	path := r.newFilePath()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Warn("raw logger: can't open rotated file", "err", err)
		return
	}
	r.file = f
	r.bytesWritten = 0
	r.logger.Info("raw logger rotated", "path", path)
}

// rotateIfNeeded removes the oldest log files if the directory already
// holds at least maxFiles entries, making room for the next one.
func (r *RawLogger) rotateIfNeeded() {
	matches, err := filepath.Glob(filepath.Join(r.logDir, "raw_*.bin"))
	if err != nil || len(matches) == 0 {
		return
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] < matches[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	for len(matches) >= r.maxFiles {
		oldest := matches[0]
		matches = matches[1:]
		if err := os.Remove(oldest); err != nil {
			r.logger.Warn("raw logger: can't remove old log", "path", oldest, "err", err)
		} else {
			r.logger.Info("raw logger removed old log", "path", oldest)
		}
	}
}

// newFilePath names each rotated file with a short uuid suffix in
// addition to the timestamp, so two rotations within the same second
// (possible under a fast-filling log) never collide on disk.
func (r *RawLogger) newFilePath() string {
	return filepath.Join(r.logDir, fmt.Sprintf("raw_%d_%s.bin", time.Now().Unix(), uuid.NewString()[:8]))
}
