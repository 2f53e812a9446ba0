// Package eventbus accumulates high-level, edge-detected events from
// the aggregated world state, for the planner backend's /plan request
// context.
//
// This is distinct from internal/events, which is a generic pub/sub
// broadcast bus for operator telemetry; this bus is a sequence-numbered
// ring buffer read by pull (latest/events_since), not pushed to
// subscribers.
package eventbus

import (
	"sync"

	"github.com/0mdb/robot-buddy/internal/protocol"
	"github.com/0mdb/robot-buddy/internal/worldstate"
)

const (
	defaultMaxEvents       = 100
	defaultBallAcquireConf = 0.60
	defaultBallLostConf    = 0.35
	defaultBallClearMinConf = 0.20
	defaultObstacleCloseMM = 450
	defaultObstacleClearMM = 650
	defaultVisionStaleMs   = 500.0
)

// Event is one edge-detected occurrence with a monotonic sequence
// number assigned at emission time.
type Event struct {
	Type      string
	Payload   map[string]any
	TMonoMs   float64
	Seq       uint64
}

// Bus runs edge detection over successive worldstate.State snapshots
// and records the resulting events in a bounded ring buffer.
type Bus struct {
	mu sync.Mutex

	events []Event
	maxEvents int
	head      int
	count     int
	nextSeq   uint64

	ballVisible    bool
	obstacleClose  bool
	visionHealthy  *bool
	lastFaultFlags uint16
	lastMode       worldstate.Mode
	haveLastMode   bool

	lastButtonTs float64
	lastTouchTs  float64

	ballAcquireConf  float64
	ballLostConf     float64
	ballClearMinConf float64
	obstacleCloseMM  int
	obstacleClearMM  int
	visionStaleMs    float64
}

// New creates a Bus with the default thresholds.
func New() *Bus {
	return &Bus{
		maxEvents:        defaultMaxEvents,
		events:           make([]Event, defaultMaxEvents),
		ballAcquireConf:  defaultBallAcquireConf,
		ballLostConf:     defaultBallLostConf,
		ballClearMinConf: defaultBallClearMinConf,
		obstacleCloseMM:  defaultObstacleCloseMM,
		obstacleClearMM:  defaultObstacleClearMM,
		visionStaleMs:    defaultVisionStaleMs,
		nextSeq:          1,
		lastButtonTs:     -1,
		lastTouchTs:      -1,
	}
}

var buttonEventNames = map[protocol.FaceButtonEventType]string{
	protocol.ButtonPress:   "press",
	protocol.ButtonRelease: "release",
	protocol.ButtonToggle:  "toggle",
	protocol.ButtonClick:   "click",
}

var touchEventNames = map[byte]string{
	protocol.TouchDown: "press",
	protocol.TouchUp:   "release",
	protocol.TouchHeld: "drag",
}

// PushFaceButton records an async PTT button event. Out-of-order or
// duplicate-timestamp deliveries (by monotonic timestamp) are dropped.
func (b *Bus) PushFaceButton(buttonID byte, eventType protocol.FaceButtonEventType, state byte, tMonoMs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tMonoMs <= b.lastButtonTs {
		return
	}
	b.lastButtonTs = tMonoMs
	name, ok := buttonEventNames[eventType]
	if !ok {
		name = "unknown"
	}
	b.emitLocked("face.button."+name, map[string]any{
		"button_id":  buttonID,
		"event_type": byte(eventType),
		"state":      state,
	}, tMonoMs)
}

// PushFaceTouch records an async touch-panel event, with the same
// out-of-order/duplicate guard as PushFaceButton.
func (b *Bus) PushFaceTouch(ev protocol.TouchEvent, tMonoMs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tMonoMs <= b.lastTouchTs {
		return
	}
	b.lastTouchTs = tMonoMs
	name, ok := touchEventNames[ev.EventType]
	if !ok {
		name = "unknown"
	}
	b.emitLocked("face.touch."+name, map[string]any{
		"event_type": ev.EventType,
		"x":          ev.X,
		"y":          ev.Y,
	}, tMonoMs)
}

// Emit appends an event to the ring buffer, assigning it the next
// sequence number.
func (b *Bus) Emit(eventType string, payload map[string]any, tMonoMs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitLocked(eventType, payload, tMonoMs)
}

func (b *Bus) emitLocked(eventType string, payload map[string]any, tMonoMs float64) {
	ev := Event{Type: eventType, Payload: payload, TMonoMs: tMonoMs, Seq: b.nextSeq}
	b.nextSeq++

	idx := (b.head + b.count) % b.maxEvents
	if b.count < b.maxEvents {
		b.events[idx] = ev
		b.count++
	} else {
		b.events[b.head] = ev
		b.head = (b.head + 1) % b.maxEvents
	}
}

// IngestState runs edge detection against the latest aggregated state,
// emitting mode.changed, vision.ball_acquired/lost, safety.obstacle_
// close/cleared, vision.healthy/stale, and fault.raised/cleared as
// transitions are observed.
func (b *Bus) IngestState(s *worldstate.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nowMs := s.TickMonoMs

	if !b.haveLastMode {
		b.lastMode = s.Mode
		b.haveLastMode = true
	} else if s.Mode != b.lastMode {
		b.emitLocked("mode.changed", map[string]any{"from": string(b.lastMode), "to": string(s.Mode)}, nowMs)
		b.lastMode = s.Mode
	}

	effectiveBallConf := 0.0
	if b.ballSignalValid(s) {
		effectiveBallConf = s.BallConfidence
	}

	if !b.ballVisible && effectiveBallConf >= b.ballAcquireConf {
		b.ballVisible = true
		b.emitLocked("vision.ball_acquired", map[string]any{
			"confidence":   round3(effectiveBallConf),
			"bearing_deg":  round1(s.BallBearingDeg),
		}, nowMs)
	} else if b.ballVisible && effectiveBallConf < b.ballLostConf {
		b.ballVisible = false
		b.emitLocked("vision.ball_lost", map[string]any{"confidence": round3(effectiveBallConf)}, nowMs)
	}

	obstacleNow := s.RangeStatus == protocol.RangeOK && s.RangeMM > 0 && int(s.RangeMM) < b.obstacleCloseMM
	obstacleClearNow := s.RangeStatus != protocol.RangeOK || s.RangeMM <= 0 || int(s.RangeMM) > b.obstacleClearMM

	if !b.obstacleClose && obstacleNow {
		b.obstacleClose = true
		b.emitLocked("safety.obstacle_close", map[string]any{"range_mm": int(s.RangeMM)}, nowMs)
	} else if b.obstacleClose && obstacleClearNow {
		b.obstacleClose = false
		b.emitLocked("safety.obstacle_cleared", map[string]any{"range_mm": int(s.RangeMM)}, nowMs)
	}

	// The very first determination (from no prior state) is logged too,
	// not just subsequent flips.
	visionHealthyNow := s.VisionAgeMs >= 0 && s.VisionAgeMs <= b.visionStaleMs
	if b.visionHealthy == nil || visionHealthyNow != *b.visionHealthy {
		v := visionHealthyNow
		b.visionHealthy = &v
		kind := "vision.stale"
		if visionHealthyNow {
			kind = "vision.healthy"
		}
		b.emitLocked(kind, map[string]any{"vision_age_ms": round1(s.VisionAgeMs)}, nowMs)
	}

	if b.lastFaultFlags == 0 && s.FaultFlags != 0 {
		b.emitLocked("fault.raised", map[string]any{"flags": s.FaultFlags, "faults": faultNames(s.FaultFlags)}, nowMs)
	} else if b.lastFaultFlags != 0 && s.FaultFlags == 0 {
		b.emitLocked("fault.cleared", map[string]any{"flags": b.lastFaultFlags, "faults": faultNames(b.lastFaultFlags)}, nowMs)
	}
	b.lastFaultFlags = s.FaultFlags
}

func (b *Bus) ballSignalValid(s *worldstate.State) bool {
	visionFresh := s.VisionAgeMs >= 0 && s.VisionAgeMs <= b.visionStaleMs
	clearOK := s.ClearConfidence < 0 || s.ClearConfidence >= b.ballClearMinConf
	return visionFresh && clearOK && s.FaultFlags == 0
}

// Latest returns up to limit most-recent events, oldest first.
func (b *Bus) Latest(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latestLocked(limit)
}

func (b *Bus) latestLocked(limit int) []Event {
	if limit <= 0 || b.count == 0 {
		return nil
	}
	if limit > b.count {
		limit = b.count
	}
	out := make([]Event, limit)
	start := b.count - limit
	for i := 0; i < limit; i++ {
		out[i] = b.events[(b.head+start+i)%b.maxEvents]
	}
	return out
}

// EventsSince returns events with Seq > seq, oldest first, capped to
// limit (keeping the most recent ones when more than limit qualify).
func (b *Bus) EventsSince(seq uint64, limit int) []Event {
	if limit <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.latestLocked(b.count)
	var matched []Event
	for _, e := range all {
		if e.Seq > seq {
			matched = append(matched, e)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// EventCount returns the number of events currently retained.
func (b *Bus) EventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// LastSeq returns the sequence number of the most recently emitted
// event, or 0 if none have been emitted.
func (b *Bus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return 0
	}
	return b.events[(b.head+b.count-1)%b.maxEvents].Seq
}

func faultNames(flags uint16) []string {
	names := []string{}
	type named struct {
		bit  uint16
		name string
	}
	for _, f := range []named{
		{protocol.FaultCmdTimeout, "CMD_TIMEOUT"},
		{protocol.FaultEstop, "ESTOP"},
		{protocol.FaultTilt, "TILT"},
		{protocol.FaultStall, "STALL"},
		{protocol.FaultIMUFail, "IMU_FAIL"},
		{protocol.FaultBrownout, "BROWNOUT"},
		{protocol.FaultObstacle, "OBSTACLE"},
	} {
		if flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

func round1(v float64) float64 { return roundTo(v, 10) }
func round3(v float64) float64 { return roundTo(v, 1000) }

func roundTo(v, factor float64) float64 {
	if v >= 0 {
		return float64(int64(v*factor+0.5)) / factor
	}
	return float64(int64(v*factor-0.5)) / factor
}
