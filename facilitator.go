package x402

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// X402Facilitator routes wire-format payments to registered settlement
// mechanisms. It normalizes both protocol versions before dispatch, so
// mechanisms only ever see CanonicalPayment values.
type X402Facilitator struct {
	mu sync.RWMutex

	schemes    map[Network]map[string]SchemeNetworkFacilitator
	extensions []string

	// Lifecycle hooks
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook

	cache *SettlementCache
	now   func() time.Time
}

func NewX402Facilitator() *X402Facilitator {
	return &X402Facilitator{
		schemes:    make(map[Network]map[string]SchemeNetworkFacilitator),
		extensions: []string{},
		now:        time.Now,
	}
}

// Register registers a facilitator mechanism for each of the given networks
func (f *X402Facilitator) Register(networks []Network, facilitator SchemeNetworkFacilitator) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, network := range networks {
		if f.schemes[network] == nil {
			f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
		}
		f.schemes[network][facilitator.Scheme()] = facilitator
	}
	return f
}

// RegisterExtension registers a protocol extension
func (f *X402Facilitator) RegisterExtension(extension string) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}

	f.extensions = append(f.extensions, extension)
	return f
}

// WithSettlementCache makes Settle idempotent: a successfully settled
// authorization is answered from cache and concurrent duplicates wait for
// the first submission.
func (f *X402Facilitator) WithSettlementCache(cache *SettlementCache) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = cache
	return f
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *X402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *X402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *X402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// Settle normalizes and settles a payment.
//
// The returned error is non-nil only when the payment could not be
// normalized or routed (malformed wire data, unsupported network, no
// mechanism). Failures of the settlement itself are reported through the
// result with Success=false.
func (f *X402Facilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettlementResult, error) {
	payment, err := Normalize(payloadBytes, requirementsBytes)
	if err != nil {
		return FailedResult(err, ""), err
	}
	return f.SettleCanonical(ctx, *payment, payloadBytes, requirementsBytes)
}

// SettleCanonical settles an already normalized payment. The raw wire
// bytes are optional and only passed through to hooks.
func (f *X402Facilitator) SettleCanonical(ctx context.Context, payment CanonicalPayment, payloadBytes, requirementsBytes []byte) (SettlementResult, error) {
	f.mu.RLock()
	mechanism, found := findByNetworkAndScheme(f.schemes, payment.Scheme, payment.Network)
	beforeHooks := append([]FacilitatorBeforeSettleHook(nil), f.beforeSettleHooks...)
	afterHooks := append([]FacilitatorAfterSettleHook(nil), f.afterSettleHooks...)
	failureHooks := append([]FacilitatorOnSettleFailureHook(nil), f.onSettleFailureHooks...)
	cache := f.cache
	f.mu.RUnlock()

	if !found {
		err := NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("no facilitator registered for scheme %q on network %s", payment.Scheme, payment.Network),
			map[string]interface{}{"scheme": payment.Scheme, "network": string(payment.Network)})
		return FailedResult(err, payment.Network), err
	}

	run := func() SettlementResult {
		return f.run(ctx, mechanism, payment, payloadBytes, requirementsBytes, beforeHooks, afterHooks, failureHooks)
	}
	if cache == nil {
		return run(), nil
	}

	key := SettlementKey(payment)
	for {
		status, cached, done := cache.CheckAndMark(key)
		switch status {
		case StatusCached:
			return *cached, nil
		case StatusInFlight:
			if _, err := cache.WaitForResult(ctx, key, done); err != nil {
				return FailedResult(err, payment.Network), nil
			}
			continue
		}

		return settleOwned(cache, key, done, run), nil
	}
}

// settleOwned runs fn while holding the in-flight slot for key. The slot is
// released even if fn panics.
func settleOwned(cache *SettlementCache, key string, done chan struct{}, fn func() SettlementResult) (result SettlementResult) {
	completed := false
	defer func() {
		if !completed {
			cache.Fail(key, done)
		}
	}()

	result = fn()
	if result.Success {
		cache.Complete(key, result, done)
		completed = true
	}
	return result
}

func (f *X402Facilitator) run(
	ctx context.Context,
	mechanism SchemeNetworkFacilitator,
	payment CanonicalPayment,
	payloadBytes, requirementsBytes []byte,
	beforeHooks []FacilitatorBeforeSettleHook,
	afterHooks []FacilitatorAfterSettleHook,
	failureHooks []FacilitatorOnSettleFailureHook,
) SettlementResult {
	hookCtx := FacilitatorSettleContext{
		Ctx:               ctx,
		SettlementID:      uuid.NewString(),
		Payment:           payment,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		Timestamp:         f.now(),
	}

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return FailedResult(err, payment.Network)
		}
		if result != nil && result.Abort {
			code := result.Code
			if code == "" {
				code = ErrCodeUnknownError
			}
			return SettlementResult{
				Success:      false,
				ErrorReason:  code,
				ErrorMessage: result.Reason,
				Phase:        PhasePreflight,
				Network:      payment.Network,
			}
		}
	}

	settleResult := mechanism.Settle(ctx, payment)
	duration := f.now().Sub(hookCtx.Timestamp)

	if !settleResult.Success {
		failureCtx := FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Result: settleResult, Duration: duration}
		for _, hook := range failureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result
			}
		}
		return settleResult
	}

	resultCtx := FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: settleResult, Duration: duration}
	for _, hook := range afterHooks {
		_ = hook(resultCtx)
	}

	return settleResult
}

// GetSupported lists a v1 and a v2 kind for every registered network, the
// registered extensions and the gas-paying signers per CAIP family.
func (f *X402Facilitator) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := []SupportedKind{}
	signers := make(map[string][]string)

	for network, schemeMap := range f.schemes {
		for scheme, mechanism := range schemeMap {
			extra := mechanism.GetExtra(network)
			if v1, err := ToV1NetworkID(string(network)); err == nil {
				kinds = append(kinds, SupportedKind{X402Version: 1, Scheme: scheme, Network: v1, Extra: extra})
			}
			kinds = append(kinds, SupportedKind{X402Version: 2, Scheme: scheme, Network: string(network), Extra: extra})

			family := mechanism.CaipFamily()
			signers[family] = appendUnique(signers[family], mechanism.GetSigners(network)...)
		}
	}

	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].X402Version != kinds[j].X402Version {
			return kinds[i].X402Version < kinds[j].X402Version
		}
		if kinds[i].Network != kinds[j].Network {
			return kinds[i].Network < kinds[j].Network
		}
		return kinds[i].Scheme < kinds[j].Scheme
	})

	return SupportedResponse{
		Kinds:      kinds,
		Extensions: append([]string{}, f.extensions...),
		Signers:    signers,
	}
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
