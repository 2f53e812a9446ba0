// Package skill implements the supervisor's skill executor: a small
// deterministic mapping from (active_skill, world_state) to a desired
// twist, with priority overrides for close obstacles and a freshly
// detected ball.
package skill

import (
	"math"

	"github.com/0mdb/robot-buddy/internal/protocol"
	"github.com/0mdb/robot-buddy/internal/worldstate"
)

const (
	obstacleCloseMM   = 300
	ballFreshAgeMs     = 500.0
	ballClearMinConf   = 0.20
	ballDetectConf     = 0.60

	patrolForwardMMs   = 150
	patrolPeriodMs     = 4000.0
	patrolAmplitudeMrad = 300

	backupSpeedMMs  = -150
	backupTurnMrad  = 400

	ballApproachMMs = 80
	ballTurnGainMrad = 15 // mrad/s per degree of bearing

	scanTurnMrad = 250
)

// Executor computes the next desired twist each tick.
type Executor struct{}

// New creates an Executor. It is stateless; all inputs come from the
// world state and the active skill name passed to Step.
func New() *Executor { return &Executor{} }

// Step computes the desired twist for one tick, per the priority order:
// obstacle-close override, then ball-detected override, then the named
// skill's own behavior.
func (e *Executor) Step(s *worldstate.State, activeSkill string) worldstate.Twist {
	if obstacleClose(s) {
		return backupAndTurn(s)
	}
	if ballFresh(s) {
		return turnTowardBall(s)
	}
	return e.runSkill(s, activeSkill)
}

func obstacleClose(s *worldstate.State) bool {
	return s.RangeStatus == protocol.RangeOK && s.RangeMM > 0 && int(s.RangeMM) < obstacleCloseMM
}

func ballFresh(s *worldstate.State) bool {
	visionFresh := s.VisionAgeMs >= 0 && s.VisionAgeMs <= ballFreshAgeMs
	clearOK := s.ClearConfidence < 0 || s.ClearConfidence >= ballClearMinConf
	return visionFresh && clearOK && s.FaultFlags == 0 && s.BallConfidence >= ballDetectConf
}

func backupAndTurn(s *worldstate.State) worldstate.Twist {
	turn := backupTurnMrad
	if s.BallBearingDeg < 0 {
		turn = -turn
	}
	return worldstate.Twist{VMMs: backupSpeedMMs, WMradS: turn}
}

func turnTowardBall(s *worldstate.State) worldstate.Twist {
	w := int(s.BallBearingDeg * ballTurnGainMrad)
	return worldstate.Twist{VMMs: ballApproachMMs, WMradS: w}
}

func (e *Executor) runSkill(s *worldstate.State, activeSkill string) worldstate.Twist {
	switch activeSkill {
	case "avoid_obstacle":
		return backupAndTurn(s)
	case "investigate_ball":
		if ballVisible(s) {
			return turnTowardBall(s)
		}
		return patrolDrift(s)
	case "greet_on_button":
		return worldstate.Twist{}
	case "scan_for_target":
		return worldstate.Twist{WMradS: scanTurnMrad}
	case "approach_until_range":
		if s.RangeStatus == protocol.RangeOK && s.RangeMM > 0 && int(s.RangeMM) < 500 {
			return worldstate.Twist{}
		}
		return worldstate.Twist{VMMs: patrolForwardMMs}
	case "retreat_and_recover":
		return worldstate.Twist{VMMs: backupSpeedMMs}
	case "patrol_drift":
		fallthrough
	default:
		return patrolDrift(s)
	}
}

func ballVisible(s *worldstate.State) bool {
	return s.BallConfidence >= ballDetectConf
}

// patrolDrift produces a gentle forward wander: constant forward speed
// with a slow sinusoidal turn, so the robot covers ground without a
// fixed heading.
func patrolDrift(s *worldstate.State) worldstate.Twist {
	phase := 2 * math.Pi * s.TickMonoMs / patrolPeriodMs
	w := int(patrolAmplitudeMrad * math.Sin(phase))
	return worldstate.Twist{VMMs: patrolForwardMMs, WMradS: w}
}
