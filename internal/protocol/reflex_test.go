package protocol

import (
	"testing"

	"github.com/0mdb/robot-buddy/internal/transport"
)

func decodeBody(t *testing.T, wire []byte) transport.Frame {
	t.Helper()
	if len(wire) == 0 || wire[len(wire)-1] != 0x00 {
		t.Fatalf("wire frame missing trailing delimiter")
	}
	frame, err := transport.DecodeFrame(wire[:len(wire)-1])
	if err != nil {
		t.Fatalf("DecodeFrame error: %v", err)
	}
	return frame
}

func TestBuildSetTwistRoundTrip(t *testing.T) {
	wire := BuildSetTwist(7, 250, -1500)
	frame := decodeBody(t, wire)

	if frame.Type != CmdSetTwist || frame.Seq != 7 {
		t.Fatalf("got type=0x%02X seq=%d", frame.Type, frame.Seq)
	}
	if len(frame.Payload) != 4 {
		t.Fatalf("payload len = %d, want 4", len(frame.Payload))
	}
}

func TestBuildStop(t *testing.T) {
	wire := BuildStop(1, 3)
	frame := decodeBody(t, wire)
	if frame.Type != CmdStop {
		t.Fatalf("got type 0x%02X, want CmdStop", frame.Type)
	}
	if len(frame.Payload) != 1 || frame.Payload[0] != 3 {
		t.Fatalf("payload = %v, want [3]", frame.Payload)
	}
}

func TestBuildEstopHasNoPayload(t *testing.T) {
	wire := BuildEstop(9)
	frame := decodeBody(t, wire)
	if frame.Type != CmdEstop {
		t.Fatalf("got type 0x%02X, want CmdEstop", frame.Type)
	}
	if len(frame.Payload) != 0 {
		t.Errorf("payload = %v, want empty", frame.Payload)
	}
}

func TestBuildClearFaultsDefaultsToAllBits(t *testing.T) {
	wire := BuildClearFaults(1, 0)
	frame := decodeBody(t, wire)
	if frame.Payload[0] != 0xFF || frame.Payload[1] != 0xFF {
		t.Errorf("payload = %v, want [0xFF 0xFF]", frame.Payload)
	}
}

func TestUnpackStateMatchesEncodedFields(t *testing.T) {
	payload := make([]byte, 13)
	// speed_l = 100
	payload[0], payload[1] = 100, 0
	// speed_r = 90
	payload[2], payload[3] = 90, 0
	// gyro_z = 0
	// battery_mv = 8000 (0x1F40)
	payload[6], payload[7] = 0x40, 0x1F
	// fault_flags = FaultObstacle
	payload[8], payload[9] = 0x40, 0x00
	// range_mm = 600
	payload[10], payload[11] = 0x58, 0x02
	payload[12] = byte(RangeOK)

	state, err := UnpackState(payload)
	if err != nil {
		t.Fatalf("UnpackState error: %v", err)
	}
	if state.SpeedLMMs != 100 || state.SpeedRMMs != 90 {
		t.Errorf("speeds = %d,%d want 100,90", state.SpeedLMMs, state.SpeedRMMs)
	}
	if state.BatteryMV != 8000 {
		t.Errorf("battery_mv = %d, want 8000", state.BatteryMV)
	}
	if !state.HasFault() || state.FaultFlags != FaultObstacle {
		t.Errorf("fault_flags = 0x%04X, want FaultObstacle", state.FaultFlags)
	}
	if state.RangeMM != 600 || state.RangeStatus != RangeOK {
		t.Errorf("range = %d/%d, want 600/OK", state.RangeMM, state.RangeStatus)
	}
}

func TestUnpackStateRejectsShortPayload(t *testing.T) {
	if _, err := UnpackState([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for short STATE payload")
	}
}
