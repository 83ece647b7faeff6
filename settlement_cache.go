package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultSettlementCacheTTL bounds how long a successful settlement is
// replayed to retrying clients.
const DefaultSettlementCacheTTL = 10 * time.Minute

// SettlementCache makes settlement idempotent per signed authorization.
// Successful results are replayed until they expire, and concurrent
// submissions of the same authorization wait for the one in flight instead
// of broadcasting a second time.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]SettlementResult
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

func NewSettlementCache(ttl time.Duration) *SettlementCache {
	if ttl <= 0 {
		ttl = DefaultSettlementCacheTTL
	}
	return &SettlementCache{
		results:  make(map[string]SettlementResult),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SettlementKey identifies a payment by the fields a signature commits to
// plus the requirements it was settled against, so a cached success is only
// replayed for the same payee and required amount. The key is the same for
// a v1 and a v2 envelope around one payment.
func SettlementKey(payment CanonicalPayment) string {
	auth := payment.Authorization
	parts := []string{
		strconv.FormatUint(payment.ChainID, 10),
		strings.ToLower(payment.Asset),
		strings.ToLower(payment.PayTo),
		payment.Amount,
		string(auth.Strategy),
		strings.ToLower(auth.Owner),
		strings.ToLower(auth.Spender),
		auth.Value,
		auth.Deadline,
		auth.ValidAfter,
		auth.ValidBefore,
		strings.ToLower(auth.Nonce),
		strings.ToLower(payment.Signature),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// SettlementStatus is the outcome of CheckAndMark.
type SettlementStatus int

const (
	// StatusNotFound means the caller now owns the in-flight slot.
	StatusNotFound SettlementStatus = iota
	StatusCached
	StatusInFlight
)

// CheckAndMark atomically looks up key. A cached result is returned with
// StatusCached. If another caller is settling the same key the returned
// channel closes when it finishes. Otherwise the key is marked in flight and
// the caller must release it with Complete or Fail.
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettlementResult, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result, ok := c.lookupLocked(key); ok {
		return StatusCached, &result, nil
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult blocks until done closes or ctx ends. A nil result means
// the in-flight settlement failed and may be retried.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SettlementResult, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *SettlementCache) Get(key string) *SettlementResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result, ok := c.lookupLocked(key); ok {
		return &result
	}
	return nil
}

// Complete caches result and wakes every waiter.
func (c *SettlementCache) Complete(key string, result SettlementResult, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = result
	c.expiry[key] = c.now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail releases key without caching anything so the payment can be retried.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

func (c *SettlementCache) lookupLocked(key string) (SettlementResult, bool) {
	expiry, exists := c.expiry[key]
	if !exists {
		return SettlementResult{}, false
	}
	if !c.now().Before(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return SettlementResult{}, false
	}
	return c.results[key], true
}

// Must be called with the lock held.
func (c *SettlementCache) cleanupExpiredLocked() {
	now := c.now()
	for key, expiry := range c.expiry {
		if !now.Before(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
