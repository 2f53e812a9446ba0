// Package admission implements the plan admission gate: a small
// non-blocking inflight limiter guarding concurrent planner requests so
// a slow planner backend never gets piled on.
package admission

import "sync"

// Gate is a non-blocking inflight limiter. The zero value is not usable;
// construct with New.
type Gate struct {
	mu          sync.Mutex
	maxInflight int
	inflight    int
	admitted    int
	rejected    int
}

// New creates a Gate that admits at most maxInflight concurrent
// holders. maxInflight below 1 is clamped to 1.
func New(maxInflight int) *Gate {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Gate{maxInflight: maxInflight}
}

// TryAcquire attempts to admit one caller. Returns true if admitted
// (the caller must call Release when done), false if the gate is
// already at capacity — the caller should treat this like a 429.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight >= g.maxInflight {
		g.rejected++
		return false
	}
	g.inflight++
	g.admitted++
	return true
}

// Release frees one inflight slot. Safe to call even if nothing is
// inflight (a no-op in that case).
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight > 0 {
		g.inflight--
	}
}

// Snapshot is a point-in-time view of the gate's counters, for
// diagnostics/telemetry.
type Snapshot struct {
	MaxInflight int `json:"max_inflight"`
	Inflight    int `json:"inflight"`
	Admitted    int `json:"admitted"`
	Rejected    int `json:"rejected"`
}

// Snapshot returns the gate's current counters.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		MaxInflight: g.maxInflight,
		Inflight:    g.inflight,
		Admitted:    g.admitted,
		Rejected:    g.rejected,
	}
}
