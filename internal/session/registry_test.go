package session

import (
	"testing"
	"time"

	"github.com/0mdb/robot-buddy/internal/conversation"
)

func TestRegisterNoPriorSessionReturnsNil(t *testing.T) {
	r := New(time.Minute)
	old, preempted := r.Register("r1", "ws1", nil, nil)
	if preempted || old != nil {
		t.Fatalf("expected no preemption on first register, got old=%v preempted=%v", old, preempted)
	}
	if r.Snapshot().ActiveSessions != 1 {
		t.Fatal("expected 1 active session")
	}
}

func TestSessionReplacementPreempts(t *testing.T) {
	r := New(time.Minute)
	r.Register("r1", "ws1", nil, nil)
	old, preempted := r.Register("r1", "ws2", nil, nil)
	if !preempted || old != "ws1" {
		t.Fatalf("expected ws1 returned as preempted, got old=%v preempted=%v", old, preempted)
	}
	snap := r.Snapshot()
	if snap.Preempted != 1 || snap.ActiveSessions != 1 {
		t.Fatalf("expected preempted=1 active=1, got %+v", snap)
	}
}

func TestUnregisterOnlyRemovesMatchingOwner(t *testing.T) {
	r := New(time.Minute)
	r.Register("r1", "ws1", nil, nil)
	r.Register("r1", "ws2", nil, nil) // preempts ws1, ws2 now owns r1

	// A stale cleanup from the preempted ws1 must not evict ws2's entry.
	r.Unregister("r1", "ws1", nil)
	if r.Snapshot().ActiveSessions != 1 {
		t.Fatal("expected ws2's session to remain after stale ws1 unregister")
	}

	r.Unregister("r1", "ws2", nil)
	if r.Snapshot().ActiveSessions != 0 {
		t.Fatal("expected session removed after matching unregister")
	}
}

func TestStashAndRestoreHistory(t *testing.T) {
	r := New(time.Minute)
	r.Register("r1", "ws1", nil, nil)

	h := conversation.New(20, 0)
	h.AddUser("hello")
	h.AddAssistant("hi", "happy")
	if h.TurnCount() != 1 {
		t.Fatal("expected 1 turn")
	}

	r.Unregister("r1", "ws1", h)

	restored := r.TakeStashedHistory("r1")
	if restored == nil || restored.TurnCount() != 1 {
		t.Fatal("expected stashed history with 1 turn restored")
	}

	snap := r.Snapshot()
	if snap.StashHits != 1 {
		t.Fatalf("expected stash_hits=1, got %d", snap.StashHits)
	}
	if snap.Stashed != 0 {
		t.Fatalf("expected stashed=0 after take, got %d", snap.Stashed)
	}
}

func TestStashEmptyHistoryNotStored(t *testing.T) {
	r := New(time.Minute)
	r.Register("r1", "ws1", nil, nil)
	r.Unregister("r1", "ws1", conversation.New(20, 0))

	if r.TakeStashedHistory("r1") != nil {
		t.Fatal("expected no stashed history for an empty conversation")
	}
	if r.Snapshot().Stashed != 0 {
		t.Fatal("expected stashed=0")
	}
}

func TestStashTTLExpiry(t *testing.T) {
	r := New(50 * time.Millisecond)
	r.Register("r1", "ws1", nil, nil)

	h := conversation.New(20, 0)
	h.AddUser("test")
	h.AddAssistant("reply", "neutral")
	r.Unregister("r1", "ws1", h)

	time.Sleep(100 * time.Millisecond)

	if r.TakeStashedHistory("r1") != nil {
		t.Fatal("expected stash to have expired")
	}
	if r.Snapshot().StashExpired < 1 {
		t.Fatal("expected stash_expired incremented")
	}
}

func TestStashNoHistoryArgIsFine(t *testing.T) {
	r := New(time.Minute)
	r.Register("r1", "ws1", nil, nil)
	r.Unregister("r1", "ws1", nil)

	if r.TakeStashedHistory("r1") != nil {
		t.Fatal("expected no stash without a history argument")
	}
}

func TestStashOverwriteOnNewDisconnect(t *testing.T) {
	r := New(time.Minute)

	h1 := conversation.New(20, 0)
	h1.AddUser("first")
	h1.AddAssistant("a1", "neutral")

	h2 := conversation.New(20, 0)
	h2.AddUser("second")
	h2.AddAssistant("a2", "neutral")
	h2.AddUser("third")
	h2.AddAssistant("a3", "neutral")

	r.Register("r1", "ws1", nil, nil)
	r.Unregister("r1", "ws1", h1)

	r.Register("r1", "ws2", nil, nil)
	r.Unregister("r1", "ws2", h2)

	restored := r.TakeStashedHistory("r1")
	if restored != h2 {
		t.Fatal("expected the newer stashed history to win")
	}
	if restored.TurnCount() != 2 {
		t.Fatalf("expected 2 turns, got %d", restored.TurnCount())
	}
}

func TestSnapshotIncludesStashFields(t *testing.T) {
	r := New(time.Minute)
	snap := r.Snapshot()
	if snap.Stashed != 0 || snap.StashHits != 0 || snap.StashExpired != 0 {
		t.Fatalf("expected zeroed stash fields, got %+v", snap)
	}
}

func TestDisconnectCleanupLeavesCleanState(t *testing.T) {
	r := New(time.Minute)
	r.Register("r1", "ws1", nil, nil)
	if r.Snapshot().ActiveSessions != 1 {
		t.Fatal("expected 1 active session")
	}

	r.Unregister("r1", "ws1", nil)
	if r.Snapshot().ActiveSessions != 0 {
		t.Fatal("expected 0 active sessions")
	}

	old, preempted := r.Register("r1", "ws2", nil, nil)
	if preempted || old != nil {
		t.Fatal("expected a fresh register without preemption after clean unregister")
	}
	if r.Snapshot().ActiveSessions != 1 {
		t.Fatal("expected 1 active session after re-register")
	}
}

func TestEmptyRobotIDIsNoOp(t *testing.T) {
	r := New(time.Minute)
	old, preempted := r.Register("  ", "ws1", nil, nil)
	if old != nil || preempted {
		t.Fatal("expected empty robot id register to be a no-op")
	}
	if r.Snapshot().ActiveSessions != 0 {
		t.Fatal("expected no session registered for an empty robot id")
	}
}
