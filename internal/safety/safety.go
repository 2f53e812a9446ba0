// Package safety applies the layered speed-cap policy to a desired
// twist each tick, defense-in-depth above the reflex MCU's own
// hard-stop safety (250mm range stop, tilt cutoff, etc).
package safety

import (
	"fmt"

	"github.com/0mdb/robot-buddy/internal/protocol"
	"github.com/0mdb/robot-buddy/internal/worldstate"
)

const visionStaleMs = 500.0

// Apply runs the sequential safety policy against desired, scaling the
// running twist in place through each applicable rule and recording a
// SpeedCap on state for every rule that touched it. Scales compose by
// sequential application, not by multiplying an aggregated factor.
func Apply(desired worldstate.Twist, state *worldstate.State) worldstate.Twist {
	state.SpeedCaps = nil
	v, w := desired.VMMs, desired.WMradS

	// 1. Mode gate — no motion outside motion modes.
	if !worldstate.MotionModes[state.Mode] {
		state.SpeedCaps = append(state.SpeedCaps, worldstate.SpeedCap{
			Scale: 0.0, Reason: fmt.Sprintf("mode=%s", state.Mode),
		})
		return worldstate.Twist{}
	}

	// 2. Fault gate — zero on any active fault.
	if state.AnyFault() {
		state.SpeedCaps = append(state.SpeedCaps, worldstate.SpeedCap{
			Scale: 0.0, Reason: fmt.Sprintf("fault=0x%04X", state.FaultFlags),
		})
		return worldstate.Twist{}
	}

	// 3. Reflex not connected.
	if !state.ReflexConnected {
		state.SpeedCaps = append(state.SpeedCaps, worldstate.SpeedCap{Scale: 0.0, Reason: "reflex_disconnected"})
		return worldstate.Twist{}
	}

	// 4. Ultrasonic speed governor.
	if state.RangeStatus == protocol.RangeOK && state.RangeMM > 0 {
		switch {
		case state.RangeMM < 300:
			v, w = scaleCap(state, v, w, 0.25, fmt.Sprintf("range=%dmm<300", state.RangeMM))
		case state.RangeMM < 500:
			v, w = scaleCap(state, v, w, 0.50, fmt.Sprintf("range=%dmm<500", state.RangeMM))
		}
	}

	// 5. Stale range — be conservative.
	if state.RangeStatus == protocol.RangeTimeout || state.RangeStatus == protocol.RangeNotReady {
		v, w = scaleCap(state, v, w, 0.50, fmt.Sprintf("range_stale=%d", state.RangeStatus))
	}

	// 6. Vision clear-path confidence scaling.
	if state.ClearConfidence >= 0 {
		switch {
		case state.VisionAgeMs > visionStaleMs || state.VisionAgeMs < 0:
			v, w = scaleCap(state, v, w, 0.50, "vision_stale")
		case state.ClearConfidence < 0.3:
			v, w = scaleCap(state, v, w, 0.25, fmt.Sprintf("clear_conf=%.2f<0.3", state.ClearConfidence))
		case state.ClearConfidence < 0.6:
			v, w = scaleCap(state, v, w, 0.50, fmt.Sprintf("clear_conf=%.2f<0.6", state.ClearConfidence))
		}
	}

	return worldstate.Twist{VMMs: v, WMradS: w}
}

func scaleCap(state *worldstate.State, v, w int, scale float64, reason string) (int, int) {
	state.SpeedCaps = append(state.SpeedCaps, worldstate.SpeedCap{Scale: scale, Reason: reason})
	return int(float64(v) * scale), int(float64(w) * scale)
}
