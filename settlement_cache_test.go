package x402

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSettlementCacheReplaysReceipt(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte(`{"payment":"a"}`))

	status, _, done := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("first lookup: got status %d", status)
	}
	receipt := &SettleResponse{Success: true, Transaction: "0xabc"}
	cache.Complete(key, receipt, done)

	status, cached, _ := cache.CheckAndMark(key)
	if status != StatusCached {
		t.Fatalf("replay lookup: got status %d", status)
	}
	if cached.Transaction != "0xabc" {
		t.Errorf("replayed receipt: %+v", cached)
	}
}

func TestSettlementCacheCoalescesInFlight(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte(`{"payment":"b"}`))

	status, _, done := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("owner lookup: got status %d", status)
	}

	status, _, wait := cache.CheckAndMark(key)
	if status != StatusInFlight {
		t.Fatalf("concurrent lookup: got status %d", status)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got *SettleResponse
	var waitErr error
	go func() {
		defer wg.Done()
		got, waitErr = cache.WaitForResult(context.Background(), key, wait)
	}()

	cache.Complete(key, &SettleResponse{Success: true, Transaction: "0xdef"}, done)
	wg.Wait()

	if waitErr != nil {
		t.Fatal(waitErr)
	}
	if got == nil || got.Transaction != "0xdef" {
		t.Errorf("coalesced receipt: %+v", got)
	}
}

func TestSettlementCacheFailAllowsRetry(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte(`{"payment":"c"}`))

	_, _, done := cache.CheckAndMark(key)
	cache.Fail(key, done)

	got, err := cache.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("failed settlement should not cache a receipt: %+v", got)
	}

	status, _, _ := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Errorf("retry after failure: got status %d", status)
	}
}

func TestSettlementCacheWaiterSeesFailure(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte(`{"payment":"d"}`))

	_, _, done := cache.CheckAndMark(key)
	_, _, wait := cache.CheckAndMark(key)

	go cache.Fail(key, done)

	got, err := cache.WaitForResult(context.Background(), key, wait)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("waiter should see nil after failure: %+v", got)
	}
}

func TestSettlementCacheTTLExpiry(t *testing.T) {
	cache := NewSettlementCache(10 * time.Millisecond)
	key := GenerateSettlementKey([]byte(`{"payment":"e"}`))

	_, _, done := cache.CheckAndMark(key)
	cache.Complete(key, &SettleResponse{Success: true}, done)

	time.Sleep(20 * time.Millisecond)

	got, err := cache.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expired receipt returned: %+v", got)
	}
	status, _, _ := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Errorf("expired entry should settle again: got status %d", status)
	}
}

func TestSettlementCacheWaitRespectsContext(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	key := GenerateSettlementKey([]byte(`{"payment":"f"}`))

	_, _, _ = cache.CheckAndMark(key)
	_, _, wait := cache.CheckAndMark(key)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := cache.WaitForResult(ctx, key, wait)
	if err == nil {
		t.Fatal("expected context error while settlement never completes")
	}
}

func TestGenerateSettlementKeyDistinguishesPayloads(t *testing.T) {
	a := GenerateSettlementKey([]byte(`{"nonce":"1"}`))
	b := GenerateSettlementKey([]byte(`{"nonce":"2"}`))
	if a == b {
		t.Error("distinct payloads must hash to distinct keys")
	}
	if a != GenerateSettlementKey([]byte(`{"nonce":"1"}`)) {
		t.Error("key must be deterministic")
	}
}
