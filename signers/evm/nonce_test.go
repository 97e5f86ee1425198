package evm

import (
	"sync"
	"testing"
)

func TestNonceTrackerSeedOnce(t *testing.T) {
	tracker := newNonceTracker()
	if tracker.Seeded() {
		t.Error("new tracker should not be seeded")
	}

	tracker.Seed(42)
	if !tracker.Seeded() {
		t.Error("tracker should be seeded")
	}
	if got := tracker.Reserve(); got != 42 {
		t.Errorf("first reservation: got %d, want 42", got)
	}

	// A later seed must not rewind the counter.
	tracker.Seed(7)
	if got := tracker.Reserve(); got != 43 {
		t.Errorf("reservation after re-seed attempt: got %d, want 43", got)
	}
}

func TestNonceTrackerSequential(t *testing.T) {
	tracker := newNonceTracker()
	tracker.Seed(0)

	for want := uint64(0); want < 5; want++ {
		if got := tracker.Reserve(); got != want {
			t.Fatalf("reservation %d: got %d", want, got)
		}
	}
}

func TestNonceTrackerReclaimLowestFirst(t *testing.T) {
	tracker := newNonceTracker()
	tracker.Seed(10)

	a := tracker.Reserve() // 10
	b := tracker.Reserve() // 11
	c := tracker.Reserve() // 12

	tracker.Release(c)
	tracker.Release(a)

	if got := tracker.Reserve(); got != a {
		t.Errorf("reclaim should hand out the lowest first: got %d, want %d", got, a)
	}
	if got := tracker.Reserve(); got != c {
		t.Errorf("second reclaim: got %d, want %d", got, c)
	}
	if got := tracker.Reserve(); got != 13 {
		t.Errorf("counter should resume after reclaims: got %d, want 13", got)
	}
	_ = b
}

func TestNonceTrackerConfirmPurgesStaleReclaims(t *testing.T) {
	tracker := newNonceTracker()
	tracker.Seed(0)

	a := tracker.Reserve() // 0
	b := tracker.Reserve() // 1
	tracker.Release(a)

	// Confirming 1 moves the watermark past the released 0, so it must
	// never be handed out again.
	tracker.Confirm(b)

	if got := tracker.Reserve(); got != 2 {
		t.Errorf("reservation after confirm: got %d, want 2", got)
	}
}

func TestNonceTrackerReleaseBelowWatermarkDropped(t *testing.T) {
	tracker := newNonceTracker()
	tracker.Seed(0)

	nonce := tracker.Reserve() // 0
	tracker.Confirm(nonce)

	// A stale release below the watermark is ignored.
	tracker.Release(nonce)

	if got := tracker.Reserve(); got != 1 {
		t.Errorf("stale release must not be reused: got %d, want 1", got)
	}
}

func TestNonceTrackerConfirmOutOfOrder(t *testing.T) {
	tracker := newNonceTracker()
	tracker.Seed(0)

	tracker.Reserve() // 0
	tracker.Reserve() // 1
	tracker.Reserve() // 2

	tracker.Confirm(2)
	tracker.Confirm(0) // late confirmation must not rewind the watermark

	if got := tracker.Reserve(); got != 3 {
		t.Errorf("reservation after out-of-order confirms: got %d, want 3", got)
	}
}

func TestNonceTrackerConcurrentReserve(t *testing.T) {
	tracker := newNonceTracker()
	tracker.Seed(0)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = tracker.Reserve()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, workers)
	for _, n := range results {
		if seen[n] {
			t.Fatalf("nonce %d handed out twice", n)
		}
		seen[n] = true
	}
}
