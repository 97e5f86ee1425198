package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SettlementCache makes settlement idempotent across client retries. A
// settled payment's receipt is replayed from cache for the TTL window, and
// concurrent settles of the same payment coalesce onto one in-flight
// attempt instead of submitting a second transaction.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a cache whose receipts expire after ttl.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// GenerateSettlementKey derives the idempotency key for a payment. The hash
// covers the whole payload, signature and nonce included, so two distinct
// payment attempts never collide.
func GenerateSettlementKey(payloadBytes []byte) string {
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}

// SettlementStatus is the outcome of a cache lookup.
type SettlementStatus int

const (
	// StatusNotFound: no receipt and nothing in flight; the caller now
	// holds the in-flight marker and must Complete or Fail it.
	StatusNotFound SettlementStatus = iota
	// StatusCached: a receipt exists within its TTL.
	StatusCached
	// StatusInFlight: another request is settling this payment.
	StatusInFlight
)

// CheckAndMark atomically looks up key and, when nothing is cached or in
// flight, marks it in-flight for the caller. The returned channel is the
// wait channel for StatusInFlight and the done channel for StatusNotFound.
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.expiry[key]; ok {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, ok := c.inFlight[key]; ok {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult blocks until the in-flight settlement finishes or ctx is
// cancelled. A nil result with nil error means the attempt failed and the
// caller may retry.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.Get(key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached receipt for key, or nil when absent or expired.
func (c *SettlementCache) Get(key string) (*SettleResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.expiry[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil, nil
	}
	return c.results[key], nil
}

// Complete caches the receipt, clears the in-flight marker and wakes any
// waiters.
func (c *SettlementCache) Complete(key string, response *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	now := time.Now()
	for k, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, k)
			delete(c.expiry, k)
		}
	}
}

// Fail clears the in-flight marker without caching anything, so waiters and
// later requests retry the settlement.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}
