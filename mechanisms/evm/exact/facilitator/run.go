package facilitator

import (
	"fmt"
	"time"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
)

// settlementRun is the mutable record of one single-shot settlement.
type settlementRun struct {
	id       string
	strategy x402.Strategy
	state    State
	network  x402.Network
	chain    evm.ChainConfig
	request  SettleRequest
	started  time.Time

	permitTx   string
	transferTx string
	gasUsed    uint64

	reporter *ResultReporter
}

func (r *settlementRun) advance(to State, fields map[string]any) error {
	if !CanTransition(r.strategy, r.state, to) {
		return x402.NewPaymentError(x402.ErrCodeUnknownError,
			fmt.Sprintf("illegal settlement transition %s -> %s", r.state, to),
			map[string]interface{}{"from": r.state.String(), "to": to.String()})
	}
	from := r.state
	r.state = to
	r.reporter.transition(r, from, to, fields)
	return nil
}

// fail ends the run. Hashes and gas already recorded stay on the result so
// a caller can reconcile partial on-chain state.
func (r *settlementRun) fail(phase string, err error) x402.SettlementResult {
	from := r.state
	if !from.Terminal() {
		r.state = StateFailed
	}

	result := x402.FailedResult(err, r.network)
	result.Phase = phase
	result.PermitTransaction = r.permitTx
	result.Transaction = r.transferTx
	result.GasUsed = r.gasUsed
	result.Payer = r.request.Authorization.Owner
	return r.reporter.finish(r, from, result)
}

func (r *settlementRun) succeed() x402.SettlementResult {
	if !CanTransition(r.strategy, r.state, StateSucceeded) {
		return r.fail(x402.PhaseTransfer, x402.NewPaymentError(x402.ErrCodeUnknownError,
			fmt.Sprintf("illegal settlement transition %s -> %s", r.state, StateSucceeded), nil))
	}
	from := r.state
	r.state = StateSucceeded
	return r.reporter.finish(r, from, x402.SettlementResult{
		Success:           true,
		Transaction:       r.transferTx,
		PermitTransaction: r.permitTx,
		GasUsed:           r.gasUsed,
		Payer:             r.request.Authorization.Owner,
		Network:           r.network,
	})
}
