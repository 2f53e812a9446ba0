package main

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/0mdb/robot-buddy/internal/planner"
	"github.com/0mdb/robot-buddy/internal/protocol"
	"github.com/0mdb/robot-buddy/internal/transport"
)

// moodByte maps the canonical emotion names to the face MCU's mood id,
// in the same order CanonicalEmotions returns them.
var moodByte = func() map[string]byte {
	m := make(map[string]byte)
	for i, name := range planner.CanonicalEmotions() {
		m[name] = byte(i)
	}
	return m
}()

// moodName is the reverse of moodByte, used to recover the prior mood
// name for a "thinking" substitution.
var moodName = func() map[byte]string {
	m := make(map[byte]string)
	for name, b := range moodByte {
		m[b] = name
	}
	return m
}()

// faceGestureID maps the 13 canonical face-display gesture names to the
// face MCU's gesture id, in a fixed stable order.
var faceGestureID = map[string]byte{
	"blink": 0, "wink_l": 1, "wink_r": 2, "confused": 3,
	"laugh": 4, "surprise": 5, "heart": 6, "x_eyes": 7,
	"sleepy": 8, "rage": 9, "nod": 10, "headshake": 11,
	"wiggle": 12,
}

const defaultGestureDurationMs uint16 = 900

// faceAdapter implements audio.FaceSink over the face MCU's serial Link,
// translating the audio orchestrator's string vocabulary into the wire
// byte encodings internal/protocol defines.
type faceAdapter struct {
	link   *transport.Link
	logger *slog.Logger
	seq    atomic.Uint32

	mu        sync.Mutex
	lastMood  byte
	lastGazeX int8
	lastGazeY int8
}

func newFaceAdapter(link *transport.Link, logger *slog.Logger) *faceAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &faceAdapter{link: link, logger: logger}
}

func (f *faceAdapter) nextSeq() byte {
	return byte(f.seq.Add(1))
}

// SetTalkingEnergy drives the face's displayed intensity while speaking,
// preserving the last mood set by SetMood.
func (f *faceAdapter) SetTalkingEnergy(energy byte) {
	f.mu.Lock()
	mood, gx, gy := f.lastMood, f.lastGazeX, f.lastGazeY
	f.mu.Unlock()

	f.link.Write(protocol.BuildFaceSetState(f.nextSeq(), protocol.FaceState{
		Mood:       mood,
		Intensity:  energy,
		GazeX:      gx,
		GazeY:      gy,
		Brightness: 255,
	}))
}

// SetMood encodes a canonical emotion name plus a 0..1 intensity into a
// SET_STATE command. Unknown emotion names are logged and dropped.
func (f *faceAdapter) SetMood(emotion string, intensity float64) {
	mood, ok := moodByte[emotion]
	if !ok {
		f.logger.Warn("unknown emotion, ignoring", "emotion", emotion)
		return
	}
	if intensity < 0 {
		intensity = 0
	} else if intensity > 1 {
		intensity = 1
	}

	f.mu.Lock()
	f.lastMood = mood
	f.mu.Unlock()

	f.link.Write(protocol.BuildFaceSetState(f.nextSeq(), protocol.FaceState{
		Mood:       mood,
		Intensity:  byte(intensity * 255),
		Brightness: 255,
	}))
}

// Gesture encodes a canonical face gesture name into a GESTURE command
// with the default play duration. Unknown names are logged and dropped.
func (f *faceAdapter) Gesture(name string) {
	id, ok := faceGestureID[name]
	if !ok {
		f.logger.Warn("unknown gesture, ignoring", "gesture", name)
		return
	}
	f.link.Write(protocol.BuildFaceGesture(f.nextSeq(), id, defaultGestureDurationMs))
}

// LastMoodName returns the canonical emotion name last set by SetMood,
// used to restore the prior mood after a short-lived "thinking"
// substitution.
func (f *faceAdapter) LastMoodName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := moodName[f.lastMood]; ok {
		return name
	}
	return "neutral"
}
