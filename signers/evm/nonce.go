package evm

import (
	"sync"
)

// nonceTracker hands out pending nonces for one signer key. It is a bounded
// monotonic counter with a reclaim set: reservations released without being
// submitted are reused before the counter advances, and confirmations drop
// everything below the confirmed watermark. Chain re-orgs can lower the
// confirmed count, so Confirm never assumes monotonicity of its input.
type nonceTracker struct {
	mu        sync.Mutex
	next      uint64
	confirmed uint64
	reclaim   map[uint64]struct{}
	seeded    bool
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{reclaim: make(map[uint64]struct{})}
}

// Seed initializes the counter from the chain's pending transaction count.
// Only the first call takes effect.
func (t *nonceTracker) Seed(pending uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seeded {
		return
	}
	t.next = pending
	t.confirmed = pending
	t.seeded = true
}

// Seeded reports whether the tracker has been initialized.
func (t *nonceTracker) Seeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seeded
}

// Reserve returns the next nonce to submit with. Reclaimed reservations are
// reused lowest-first so the chain never sees a gap.
func (t *nonceTracker) Reserve() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.reclaim) > 0 {
		lowest := uint64(0)
		first := true
		for n := range t.reclaim {
			if first || n < lowest {
				lowest = n
				first = false
			}
		}
		delete(t.reclaim, lowest)
		return lowest
	}

	n := t.next
	t.next++
	return n
}

// Release returns an unused reservation to the pool. Reservations below the
// confirmed watermark are stale and dropped.
func (t *nonceTracker) Release(nonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if nonce < t.confirmed {
		return
	}
	t.reclaim[nonce] = struct{}{}
}

// Confirm records that nonce was submitted and accepted by the node. The
// confirmed watermark only moves forward here; re-seeding after a re-org is
// the caller's concern.
func (t *nonceTracker) Confirm(nonce uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if nonce+1 > t.confirmed {
		t.confirmed = nonce + 1
	}
	for n := range t.reclaim {
		if n < t.confirmed {
			delete(t.reclaim, n)
		}
	}
}
