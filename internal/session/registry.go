// Package session implements the per-robot conversation session
// registry: ownership with replacement semantics, and a short-lived
// stash that lets a reconnecting robot resume its conversation history.
package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/0mdb/robot-buddy/internal/conversation"
)

// DefaultStashTTL is the window during which a disconnected robot's
// conversation history is retained for a reconnecting session.
const DefaultStashTTL = 60 * time.Second

// Owner is the opaque session handle a registry tracks — typically a
// *conversation.Client or a WebSocket connection wrapper. Comparisons
// use Go's built-in identity/equality for the concrete type stored.
type Owner any

// entry is one active session's bookkeeping.
type entry struct {
	owner                Owner
	connectedMonoMs      int64
	sessionSeq           *int64
	sessionMonotonicTsMs *int64
}

// stashEntry is a history parked for a disconnected robot, pending
// either a reconnect within TTL or expiry.
type stashEntry struct {
	history   *conversation.History
	expiresAt time.Time
}

// Snapshot is a point-in-time view of registry counters.
type Snapshot struct {
	ActiveSessions int      `json:"active_sessions"`
	Registered     int      `json:"registered"`
	Preempted      int      `json:"preempted"`
	Unregistered   int      `json:"unregistered"`
	Stashed        int      `json:"stashed"`
	StashHits      int      `json:"stash_hits"`
	StashExpired   int      `json:"stash_expired"`
	Robots         []string `json:"robots"`
}

// Registry tracks at most one live conversation session per robot_id,
// plus a history stash for robots that reconnect within the TTL.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	stash    map[string]*stashEntry
	stashTTL time.Duration

	registered   int
	preempted    int
	unregistered int
	stashHits    int
	stashExpired int

	now func() time.Time
}

// New creates a Registry with the given stash TTL. ttl<=0 defaults to
// DefaultStashTTL.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultStashTTL
	}
	return &Registry{
		sessions: make(map[string]*entry),
		stash:    make(map[string]*stashEntry),
		stashTTL: ttl,
		now:      time.Now,
	}
}

// Register installs owner as the live session for robotID, atomically
// replacing any prior entry. It returns the displaced owner (so the
// caller can close it with a "replaced by newer session" status) and
// whether a replacement occurred. An empty robotID is a no-op.
func (r *Registry) Register(robotID string, owner Owner, sessionSeq, sessionMonotonicTsMs *int64) (Owner, bool) {
	rid := strings.TrimSpace(robotID)
	if rid == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.sessions[rid]
	r.sessions[rid] = &entry{
		owner:                owner,
		connectedMonoMs:      r.now().UnixMilli(),
		sessionSeq:           sessionSeq,
		sessionMonotonicTsMs: sessionMonotonicTsMs,
	}
	r.registered++

	if old != nil && !sameOwner(old.owner, owner) {
		r.preempted++
		return old.owner, true
	}
	return nil, false
}

// Unregister removes robotID's entry only if owner is still the
// currently stored owner (so a losing connection's deferred cleanup
// can never evict a session that has already preempted it). If history
// is non-nil and holds at least one turn, it is stashed with a fresh
// expiry for a later Register of the same robotID to restore.
func (r *Registry) Unregister(robotID string, owner Owner, history *conversation.History) {
	rid := strings.TrimSpace(robotID)
	if rid == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.sessions[rid]
	if existing == nil || !sameOwner(existing.owner, owner) {
		return
	}
	delete(r.sessions, rid)
	r.unregistered++

	if history != nil && !history.IsEmpty() {
		r.stash[rid] = &stashEntry{history: history, expiresAt: r.now().Add(r.stashTTL)}
	}
}

// TakeStashedHistory returns and removes the stashed history for
// robotID if present and not yet expired. An expired entry is removed
// and counted but never returned.
func (r *Registry) TakeStashedHistory(robotID string) *conversation.History {
	rid := strings.TrimSpace(robotID)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stash[rid]
	if !ok {
		return nil
	}
	delete(r.stash, rid)

	if r.now().After(s.expiresAt) {
		r.stashExpired++
		return nil
	}
	r.stashHits++
	return s.history
}

// Snapshot returns the registry's current counters and active robot IDs.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	robots := make([]string, 0, len(r.sessions))
	for rid := range r.sessions {
		robots = append(robots, rid)
	}
	sort.Strings(robots)

	return Snapshot{
		ActiveSessions: len(r.sessions),
		Registered:     r.registered,
		Preempted:      r.preempted,
		Unregistered:   r.unregistered,
		Stashed:        len(r.stash),
		StashHits:      r.stashHits,
		StashExpired:   r.stashExpired,
		Robots:         robots,
	}
}

func sameOwner(a, b Owner) bool {
	return a == b
}
