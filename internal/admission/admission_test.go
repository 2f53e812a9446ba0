package admission

import (
	"sync"
	"testing"
)

func TestSecondConcurrentRequestRejected(t *testing.T) {
	g := New(1)

	if !g.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if g.TryAcquire() {
		t.Fatal("second concurrent acquire should be rejected")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestExactlyOneOfTwoConcurrentAdmitted(t *testing.T) {
	g := New(1)
	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = g.TryAcquire()
		}()
	}
	wg.Wait()

	admittedCount := 0
	for _, ok := range results {
		if ok {
			admittedCount++
		}
	}
	if admittedCount != 1 {
		t.Fatalf("expected exactly 1 admitted of 2 concurrent, got %d", admittedCount)
	}
}

func TestMaxInflightClampedToOne(t *testing.T) {
	g := New(0)
	snap := g.Snapshot()
	if snap.MaxInflight != 1 {
		t.Fatalf("expected max_inflight clamped to 1, got %d", snap.MaxInflight)
	}
}

func TestSnapshotCounters(t *testing.T) {
	g := New(2)
	g.TryAcquire()
	g.TryAcquire()
	if g.TryAcquire() {
		t.Fatal("third acquire should be rejected since max is 2")
	}
	snap := g.Snapshot()
	if snap.Admitted != 2 {
		t.Fatalf("expected 2 admitted, got %d", snap.Admitted)
	}
	if snap.Rejected != 1 {
		t.Fatalf("expected 1 rejected, got %d", snap.Rejected)
	}
	if snap.Inflight != 2 {
		t.Fatalf("expected inflight 2, got %d", snap.Inflight)
	}
}
