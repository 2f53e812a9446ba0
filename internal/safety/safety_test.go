package safety

import (
	"testing"

	"github.com/0mdb/robot-buddy/internal/protocol"
	"github.com/0mdb/robot-buddy/internal/worldstate"
)

func readyState() *worldstate.State {
	s := worldstate.New()
	s.Mode = worldstate.ModeWander
	s.ReflexConnected = true
	s.RangeStatus = protocol.RangeOK
	s.RangeMM = 1000
	s.ClearConfidence = -1
	return s
}

func TestModeGateZeroesOutsideMotionModes(t *testing.T) {
	s := readyState()
	s.Mode = worldstate.ModeIdle
	out := Apply(worldstate.Twist{VMMs: 200, WMradS: 100}, s)
	if out != (worldstate.Twist{}) {
		t.Errorf("got %+v, want zero twist", out)
	}
	if len(s.SpeedCaps) != 1 || s.SpeedCaps[0].Scale != 0 {
		t.Errorf("SpeedCaps = %+v", s.SpeedCaps)
	}
}

func TestFaultGateZeroes(t *testing.T) {
	s := readyState()
	s.FaultFlags = protocol.FaultObstacle
	out := Apply(worldstate.Twist{VMMs: 200}, s)
	if out != (worldstate.Twist{}) {
		t.Errorf("got %+v, want zero twist", out)
	}
}

func TestReflexDisconnectedZeroes(t *testing.T) {
	s := readyState()
	s.ReflexConnected = false
	out := Apply(worldstate.Twist{VMMs: 200}, s)
	if out != (worldstate.Twist{}) {
		t.Errorf("got %+v, want zero twist", out)
	}
}

func TestRangeGovernorScalesBelow300(t *testing.T) {
	s := readyState()
	s.RangeMM = 200
	out := Apply(worldstate.Twist{VMMs: 400, WMradS: 400}, s)
	if out.VMMs != 100 || out.WMradS != 100 {
		t.Errorf("got %+v, want {100 100} (scale 0.25)", out)
	}
}

func TestRangeGovernorScalesBelow500(t *testing.T) {
	s := readyState()
	s.RangeMM = 450
	out := Apply(worldstate.Twist{VMMs: 400, WMradS: 400}, s)
	if out.VMMs != 200 || out.WMradS != 200 {
		t.Errorf("got %+v, want {200 200} (scale 0.5)", out)
	}
}

func TestStaleRangeScalesHalf(t *testing.T) {
	s := readyState()
	s.RangeStatus = protocol.RangeTimeout
	s.RangeMM = 0
	out := Apply(worldstate.Twist{VMMs: 400, WMradS: 400}, s)
	if out.VMMs != 200 || out.WMradS != 200 {
		t.Errorf("got %+v, want {200 200}", out)
	}
}

func TestVisionStaleScalesHalf(t *testing.T) {
	s := readyState()
	s.ClearConfidence = 0.9
	s.VisionAgeMs = 900
	out := Apply(worldstate.Twist{VMMs: 400, WMradS: 400}, s)
	if out.VMMs != 200 || out.WMradS != 200 {
		t.Errorf("got %+v, want {200 200}", out)
	}
}

func TestVisionLowConfidenceScalesQuarter(t *testing.T) {
	s := readyState()
	s.ClearConfidence = 0.2
	s.VisionAgeMs = 50
	out := Apply(worldstate.Twist{VMMs: 400, WMradS: 400}, s)
	if out.VMMs != 100 || out.WMradS != 100 {
		t.Errorf("got %+v, want {100 100}", out)
	}
}

func TestScalesComposeSequentially(t *testing.T) {
	// range<300 (0.25) then vision clear_conf<0.3 (0.25) -> 400*0.25*0.25=25
	s := readyState()
	s.RangeMM = 200
	s.ClearConfidence = 0.1
	s.VisionAgeMs = 50
	out := Apply(worldstate.Twist{VMMs: 400}, s)
	if out.VMMs != 25 {
		t.Errorf("VMMs = %d, want 25", out.VMMs)
	}
	if len(s.SpeedCaps) != 2 {
		t.Errorf("SpeedCaps = %+v, want 2 entries", s.SpeedCaps)
	}
}

func TestNoCapsWhenClear(t *testing.T) {
	s := readyState()
	out := Apply(worldstate.Twist{VMMs: 300, WMradS: 0}, s)
	if out.VMMs != 300 {
		t.Errorf("got %+v, want unmodified 300", out)
	}
	if len(s.SpeedCaps) != 0 {
		t.Errorf("SpeedCaps = %+v, want none", s.SpeedCaps)
	}
}
