package x402

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSettlementKey(t *testing.T) {
	base := testPayment()
	key := SettlementKey(base)

	if len(key) != 64 {
		t.Errorf("Expected key to be 64 hex chars, got %d", len(key))
	}

	v1 := base
	v1.X402Version = 1
	v1.Network = "base-sepolia"
	if SettlementKey(v1) != key {
		t.Error("Expected the same authorization in another envelope to share a key")
	}

	upper := base
	upper.Authorization.Owner = "0x2222222222222222222222222222222222222222"
	upper.Asset = "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	if SettlementKey(upper) != key {
		t.Error("Expected address case not to change the key")
	}

	changes := map[string]func(p *CanonicalPayment){
		"value":     func(p *CanonicalPayment) { p.Authorization.Value = "2" },
		"deadline":  func(p *CanonicalPayment) { p.Authorization.Deadline = "1" },
		"signature": func(p *CanonicalPayment) { p.Signature = "0x00" },
		"chain":     func(p *CanonicalPayment) { p.ChainID = 8453 },
		"nonce":     func(p *CanonicalPayment) { p.Authorization.Nonce = "0x01" },
		"payTo":     func(p *CanonicalPayment) { p.PayTo = "0x000000000000000000000000000000000000dEaD" },
		"amount":    func(p *CanonicalPayment) { p.Amount = "5000000" },
	}
	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			p := testPayment()
			change(&p)
			if SettlementKey(p) == key {
				t.Errorf("Expected %s to change the key", name)
			}
		})
	}
}

func TestSettlementCacheCheckAndMark(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)

	status, result, done := cache.CheckAndMark("k")
	if status != StatusNotFound || result != nil {
		t.Fatalf("Expected StatusNotFound, got %v", status)
	}

	status2, _, done2 := cache.CheckAndMark("k")
	if status2 != StatusInFlight {
		t.Errorf("Expected StatusInFlight, got %v", status2)
	}
	if done != done2 {
		t.Error("Expected the in-flight channel to be shared")
	}

	cache.Complete("k", SettlementResult{Success: true, Transaction: "0x123"}, done)

	status, result, _ = cache.CheckAndMark("k")
	if status != StatusCached {
		t.Fatalf("Expected StatusCached, got %v", status)
	}
	if result.Transaction != "0x123" {
		t.Errorf("Expected cached transaction, got %s", result.Transaction)
	}
}

func TestSettlementCacheExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := NewSettlementCache(time.Minute)
	cache.now = func() time.Time { return now }

	_, _, done := cache.CheckAndMark("k")
	cache.Complete("k", SettlementResult{Success: true}, done)

	if cache.Get("k") == nil {
		t.Fatal("Expected result before expiry")
	}

	now = now.Add(time.Minute)
	if cache.Get("k") != nil {
		t.Error("Expected result to expire")
	}

	status, _, done := cache.CheckAndMark("k")
	if status != StatusNotFound {
		t.Errorf("Expected StatusNotFound after expiry, got %v", status)
	}
	cache.Fail("k", done)
}

func TestSettlementCacheFailAllowsRetry(t *testing.T) {
	cache := NewSettlementCache(0)
	if cache.ttl != DefaultSettlementCacheTTL {
		t.Errorf("Expected default TTL, got %v", cache.ttl)
	}

	_, _, done := cache.CheckAndMark("k")
	cache.Fail("k", done)

	select {
	case <-done:
	default:
		t.Error("Expected Fail to wake waiters")
	}

	status, _, done := cache.CheckAndMark("k")
	if status != StatusNotFound {
		t.Errorf("Expected retry to be allowed, got %v", status)
	}
	cache.Fail("k", done)
}

func TestSettlementCacheWaitForResult(t *testing.T) {
	cache := NewSettlementCache(time.Minute)
	_, _, done := cache.CheckAndMark("k")

	var wg sync.WaitGroup
	results := make([]*SettlementResult, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = cache.WaitForResult(context.Background(), "k", done)
		}(i)
	}

	cache.Complete("k", SettlementResult{Success: true, Transaction: "0xshared"}, done)
	wg.Wait()

	for i, r := range results {
		if r == nil || r.Transaction != "0xshared" {
			t.Errorf("Waiter %d got %+v", i, r)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, pending := cache.CheckAndMark("other")
	if _, err := cache.WaitForResult(ctx, "other", pending); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	cache.Fail("other", pending)
}

func TestSettlementCacheAtomicCheckAndMark(t *testing.T) {
	cache := NewSettlementCache(time.Minute)

	var owners, waiters int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch status, _, _ := cache.CheckAndMark("k"); status {
			case StatusNotFound:
				atomic.AddInt32(&owners, 1)
			case StatusInFlight:
				atomic.AddInt32(&waiters, 1)
			}
		}()
	}
	wg.Wait()

	if owners != 1 || waiters != 9 {
		t.Errorf("Expected 1 owner and 9 waiters, got %d and %d", owners, waiters)
	}
}

func TestFacilitatorSettlementCacheDeduplicates(t *testing.T) {
	release := make(chan struct{})
	mechanism := &mockSchemeNetworkFacilitator{
		scheme: "exact",
		settle: func(ctx context.Context, payment CanonicalPayment) SettlementResult {
			<-release
			return SettlementResult{Success: true, Transaction: "0xonce", Network: payment.Network}
		},
	}
	facilitator := NewX402Facilitator().
		Register([]Network{"eip155:84532"}, mechanism).
		WithSettlementCache(NewSettlementCache(time.Minute))

	var wg sync.WaitGroup
	results := make([]SettlementResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
		}(i)
	}

	// let every caller reach the cache before the first settlement finishes
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, r := range results {
		if !r.Success || r.Transaction != "0xonce" {
			t.Errorf("Caller %d got %+v", i, r)
		}
	}

	again, err := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
	if err != nil || again.Transaction != "0xonce" {
		t.Errorf("Expected cached replay, got %+v %v", again, err)
	}

	mechanism.mu.Lock()
	calls := len(mechanism.calls)
	mechanism.mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected one settlement, got %d", calls)
	}
}

func TestFacilitatorSettlementCacheDoesNotReplayForOtherRequirements(t *testing.T) {
	mechanism := &mockSchemeNetworkFacilitator{scheme: "exact"}
	facilitator := NewX402Facilitator().
		Register([]Network{"eip155:84532"}, mechanism).
		WithSettlementCache(NewSettlementCache(time.Minute))

	first, err := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
	if err != nil || !first.Success {
		t.Fatalf("Expected first settlement to succeed, got %+v %v", first, err)
	}

	otherPayee := testPayment()
	otherPayee.PayTo = "0x000000000000000000000000000000000000dEaD"
	higherAmount := testPayment()
	higherAmount.Amount = "5000000"

	for _, payment := range []CanonicalPayment{otherPayee, higherAmount} {
		if _, err := facilitator.SettleCanonical(context.Background(), payment, nil, nil); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	mechanism.mu.Lock()
	defer mechanism.mu.Unlock()
	if len(mechanism.calls) != 3 {
		t.Fatalf("Expected every new requirement to reach the mechanism, got %d calls", len(mechanism.calls))
	}
	if mechanism.calls[1].PayTo != otherPayee.PayTo || mechanism.calls[2].Amount != "5000000" {
		t.Errorf("Unexpected calls %+v", mechanism.calls)
	}
}

func TestFacilitatorSettlementCacheRetriesFailures(t *testing.T) {
	var attempts int32
	mechanism := &mockSchemeNetworkFacilitator{
		scheme: "exact",
		settle: func(ctx context.Context, payment CanonicalPayment) SettlementResult {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return FailedResult(NewPaymentError(ErrCodeConfirmationTimeout, "not mined", nil), payment.Network)
			}
			return SettlementResult{Success: true, Transaction: "0xretry"}
		},
	}
	facilitator := NewX402Facilitator().
		Register([]Network{"eip155:84532"}, mechanism).
		WithSettlementCache(NewSettlementCache(time.Minute))

	first, _ := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
	if first.Success {
		t.Fatal("Expected first attempt to fail")
	}

	second, _ := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
	if !second.Success || second.Transaction != "0xretry" {
		t.Errorf("Expected retry to settle, got %+v", second)
	}
}

func TestFacilitatorSettlementCacheReleasesOnPanic(t *testing.T) {
	mechanism := &mockSchemeNetworkFacilitator{
		scheme: "exact",
		settle: func(ctx context.Context, payment CanonicalPayment) SettlementResult {
			panic("boom")
		},
	}
	cache := NewSettlementCache(time.Minute)
	facilitator := NewX402Facilitator().
		Register([]Network{"eip155:84532"}, mechanism).
		WithSettlementCache(cache)

	func() {
		defer func() { _ = recover() }()
		_, _ = facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
	}()

	status, _, done := cache.CheckAndMark(SettlementKey(testPayment()))
	if status != StatusNotFound {
		t.Errorf("Expected slot to be released, got %v", status)
	}
	cache.Fail(SettlementKey(testPayment()), done)
}
