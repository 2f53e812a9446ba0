package skill

import (
	"testing"

	"github.com/0mdb/robot-buddy/internal/protocol"
	"github.com/0mdb/robot-buddy/internal/worldstate"
)

func baseState() *worldstate.State {
	s := worldstate.New()
	s.Mode = worldstate.ModeWander
	s.RangeStatus = protocol.RangeOK
	return s
}

func TestObstaclePriorityOverBall(t *testing.T) {
	ex := New()
	s := baseState()
	s.RangeMM = 200
	s.BallConfidence = 0.9
	s.BallBearingDeg = 0
	s.TickMonoMs = 1000

	twist := ex.Step(s, "patrol_drift")
	if !(twist.VMMs < 0 || twist.WMradS != 0) {
		t.Errorf("got %+v, want a backup/turn response", twist)
	}
}

func TestInvestigateBallTurnsTowardBearing(t *testing.T) {
	ex := New()
	s := baseState()
	s.RangeMM = 900
	s.BallConfidence = 0.8
	s.BallBearingDeg = 20
	s.TickMonoMs = 1000

	twist := ex.Step(s, "investigate_ball")
	if twist.WMradS <= 0 {
		t.Errorf("WMradS = %d, want > 0", twist.WMradS)
	}
}

func TestPatrolDriftWhenIdle(t *testing.T) {
	ex := New()
	s := baseState()
	s.RangeMM = 900
	s.BallConfidence = 0.0
	s.TickMonoMs = 1000

	twist := ex.Step(s, "patrol_drift")
	if twist.VMMs <= 0 {
		t.Errorf("VMMs = %d, want > 0", twist.VMMs)
	}
	if twist.WMradS == 0 {
		t.Errorf("WMradS = 0, want nonzero drift")
	}
}

func TestGreetOnButtonHoldsStill(t *testing.T) {
	ex := New()
	s := baseState()
	s.RangeMM = 900
	twist := ex.Step(s, "greet_on_button")
	if twist != (worldstate.Twist{}) {
		t.Errorf("got %+v, want zero twist", twist)
	}
}

func TestScanForTargetRotatesInPlace(t *testing.T) {
	ex := New()
	s := baseState()
	s.RangeMM = 900
	twist := ex.Step(s, "scan_for_target")
	if twist.VMMs != 0 || twist.WMradS == 0 {
		t.Errorf("got %+v, want pure rotation", twist)
	}
}
