package x402

import (
	"context"
	"time"
)

// FacilitatorSettleContext describes one settlement attempt. SettlementID is
// unique per attempt and is what hooks should correlate log lines by. The
// wire bytes are nil when the caller settled a canonical payment directly.
type FacilitatorSettleContext struct {
	Ctx               context.Context
	SettlementID      string
	Payment           CanonicalPayment
	PayloadBytes      []byte
	RequirementsBytes []byte
	Timestamp         time.Time
}

type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result   SettlementResult
	Duration time.Duration
}

type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Result   SettlementResult
	Duration time.Duration
}

// FacilitatorBeforeHookResult stops a settlement before any transaction is
// sent when Abort is set. Code defaults to ErrCodeUnknownError.
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Code   string
	Reason string
}

// FacilitatorSettleFailureHookResult replaces a failed result with Result
// when Recovered is set.
type FacilitatorSettleFailureHookResult struct {
	Recovered bool
	Result    SettlementResult
}

// FacilitatorBeforeSettleHook runs in registration order before the
// mechanism. An error fails the settlement in the preflight phase.
type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterSettleHook observes successful settlements. Its error is
// ignored.
type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

// FacilitatorOnSettleFailureHook observes failed settlements; the first hook
// that recovers wins.
type FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error)
