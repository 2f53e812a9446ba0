package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/0mdb/robot-buddy/internal/transport"
)

// Face MCU command packet types, in the 0x20-0x2F range reserved for
// commands. Only the three commands the supervisor actually issues
// are assigned concrete ids; the rest of the range is free for firmware
// growth the same way the reflex MCU reserves 0x16-0x1F.
const (
	CmdFaceSetState  byte = 0x20
	CmdFaceGesture   byte = 0x21
	CmdFaceSetSystem byte = 0x22
)

// Face MCU telemetry packet types, in the 0x90-0x9F range.
const (
	TelemetryFaceStatus  byte = 0x90
	TelemetryTouchEvent  byte = 0x91
	TelemetryButtonEvent byte = 0x92
)

// FaceState is the payload for SET_STATE: mood, intensity, gaze offset,
// and display brightness.
type FaceState struct {
	Mood       byte
	Intensity  byte
	GazeX      int8
	GazeY      int8
	Brightness byte
}

// BuildFaceSetState encodes a SET_STATE command.
func BuildFaceSetState(seq byte, s FaceState) []byte {
	payload := []byte{s.Mood, s.Intensity, byte(s.GazeX), byte(s.GazeY), s.Brightness}
	return transport.EncodeFrame(CmdFaceSetState, seq, payload)
}

// BuildFaceGesture encodes a GESTURE command: u8 gesture_id, u16 duration_ms.
func BuildFaceGesture(seq byte, gestureID byte, durationMs uint16) []byte {
	payload := make([]byte, 3)
	payload[0] = gestureID
	binary.LittleEndian.PutUint16(payload[1:3], durationMs)
	return transport.EncodeFrame(CmdFaceGesture, seq, payload)
}

// FaceSystemMode selects the face MCU's top-level display mode.
type FaceSystemMode byte

const (
	FaceModeNormal FaceSystemMode = 0
	FaceModeBoot   FaceSystemMode = 1
	FaceModeSleep  FaceSystemMode = 2
	FaceModeError  FaceSystemMode = 3
)

// BuildFaceSetSystem encodes a SET_SYSTEM command: u8 mode, u8 phase, u8 param.
func BuildFaceSetSystem(seq byte, mode FaceSystemMode, phase, param byte) []byte {
	payload := []byte{byte(mode), phase, param}
	return transport.EncodeFrame(CmdFaceSetSystem, seq, payload)
}

// FaceStatus is the face MCU's periodic status telemetry.
type FaceStatus struct {
	Mood        byte
	CurrentGestureID byte
	SystemMode  FaceSystemMode
}

const faceStatusSize = 3

// UnpackFaceStatus parses a FACE_STATUS telemetry payload.
func UnpackFaceStatus(payload []byte) (FaceStatus, error) {
	if len(payload) < faceStatusSize {
		return FaceStatus{}, fmt.Errorf("protocol: FACE_STATUS payload too short: %d < %d", len(payload), faceStatusSize)
	}
	return FaceStatus{
		Mood:             payload[0],
		CurrentGestureID: payload[1],
		SystemMode:       FaceSystemMode(payload[2]),
	}, nil
}

// TouchEvent is the face MCU's touch telemetry payload: u8 event_type,
// u16 x, u16 y (panel coordinates).
type TouchEvent struct {
	EventType byte
	X         uint16
	Y         uint16
}

const touchEventSize = 5

// TouchEvent type codes.
const (
	TouchDown byte = 0
	TouchUp   byte = 1
	TouchHeld byte = 2
)

// FaceButtonEventType enumerates the physical PTT button's event kinds,
// pushed to the event bus asynchronously rather than polled.
type FaceButtonEventType byte

const (
	ButtonPress   FaceButtonEventType = 0
	ButtonRelease FaceButtonEventType = 1
	ButtonToggle  FaceButtonEventType = 2
	ButtonClick   FaceButtonEventType = 3
)

// UnpackTouchEvent parses a TOUCH_EVENT telemetry payload.
func UnpackTouchEvent(payload []byte) (TouchEvent, error) {
	if len(payload) < touchEventSize {
		return TouchEvent{}, fmt.Errorf("protocol: TOUCH_EVENT payload too short: %d < %d", len(payload), touchEventSize)
	}
	return TouchEvent{
		EventType: payload[0],
		X:         binary.LittleEndian.Uint16(payload[1:3]),
		Y:         binary.LittleEndian.Uint16(payload[3:5]),
	}, nil
}

// ButtonEvent is the face MCU's physical PTT button telemetry payload:
// u8 button_id, u8 event_type, u8 state.
type ButtonEvent struct {
	ButtonID  byte
	EventType FaceButtonEventType
	State     byte
}

const buttonEventSize = 3

// UnpackButtonEvent parses a BUTTON_EVENT telemetry payload.
func UnpackButtonEvent(payload []byte) (ButtonEvent, error) {
	if len(payload) < buttonEventSize {
		return ButtonEvent{}, fmt.Errorf("protocol: BUTTON_EVENT payload too short: %d < %d", len(payload), buttonEventSize)
	}
	return ButtonEvent{
		ButtonID:  payload[0],
		EventType: FaceButtonEventType(payload[1]),
		State:     payload[2],
	}, nil
}
