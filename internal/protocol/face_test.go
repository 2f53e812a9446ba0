package protocol

import "testing"

func TestBuildFaceSetStateRoundTrip(t *testing.T) {
	wire := BuildFaceSetState(2, FaceState{Mood: 5, Intensity: 200, GazeX: -10, GazeY: 20, Brightness: 180})
	frame := decodeBody(t, wire)
	if frame.Type != CmdFaceSetState {
		t.Fatalf("got type 0x%02X, want CmdFaceSetState", frame.Type)
	}
	if len(frame.Payload) != 5 {
		t.Fatalf("payload len = %d, want 5", len(frame.Payload))
	}
	if int8(frame.Payload[2]) != -10 {
		t.Errorf("gaze_x = %d, want -10", int8(frame.Payload[2]))
	}
}

func TestBuildFaceGestureRoundTrip(t *testing.T) {
	wire := BuildFaceGesture(3, 7, 1200)
	frame := decodeBody(t, wire)
	if frame.Type != CmdFaceGesture {
		t.Fatalf("got type 0x%02X, want CmdFaceGesture", frame.Type)
	}
	if frame.Payload[0] != 7 {
		t.Errorf("gesture_id = %d, want 7", frame.Payload[0])
	}
}

func TestBuildFaceSetSystemRoundTrip(t *testing.T) {
	wire := BuildFaceSetSystem(4, FaceModeSleep, 1, 0)
	frame := decodeBody(t, wire)
	if frame.Type != CmdFaceSetSystem {
		t.Fatalf("got type 0x%02X, want CmdFaceSetSystem", frame.Type)
	}
	if FaceSystemMode(frame.Payload[0]) != FaceModeSleep {
		t.Errorf("mode = %d, want FaceModeSleep", frame.Payload[0])
	}
}

func TestUnpackFaceStatus(t *testing.T) {
	status, err := UnpackFaceStatus([]byte{2, 9, byte(FaceModeNormal)})
	if err != nil {
		t.Fatalf("UnpackFaceStatus error: %v", err)
	}
	if status.Mood != 2 || status.CurrentGestureID != 9 || status.SystemMode != FaceModeNormal {
		t.Errorf("got %+v", status)
	}
}

func TestUnpackFaceStatusRejectsShortPayload(t *testing.T) {
	if _, err := UnpackFaceStatus([]byte{1}); err == nil {
		t.Fatal("expected error for short FACE_STATUS payload")
	}
}

func TestUnpackTouchEventRoundTrip(t *testing.T) {
	ev, err := UnpackTouchEvent([]byte{TouchDown, 0x2C, 0x01, 0x90, 0x00})
	if err != nil {
		t.Fatalf("UnpackTouchEvent error: %v", err)
	}
	if ev.EventType != TouchDown || ev.X != 300 || ev.Y != 144 {
		t.Errorf("got %+v, want {0 300 144}", ev)
	}
}

func TestUnpackTouchEventRejectsShortPayload(t *testing.T) {
	if _, err := UnpackTouchEvent([]byte{0, 1}); err == nil {
		t.Fatal("expected error for short TOUCH_EVENT payload")
	}
}

func TestUnpackButtonEventRoundTrip(t *testing.T) {
	ev, err := UnpackButtonEvent([]byte{1, byte(ButtonClick), 1})
	if err != nil {
		t.Fatalf("UnpackButtonEvent error: %v", err)
	}
	if ev.ButtonID != 1 || ev.EventType != ButtonClick || ev.State != 1 {
		t.Errorf("got %+v, want {1 3 1}", ev)
	}
}

func TestUnpackButtonEventRejectsShortPayload(t *testing.T) {
	if _, err := UnpackButtonEvent([]byte{0, 1}); err == nil {
		t.Fatal("expected error for short BUTTON_EVENT payload")
	}
}
