package facilitator

import (
	"time"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/pkg/logger"
	"github.com/openfacilitator/openfacilitator/go/pkg/metrics"
)

// ResultReporter logs every state transition of a run and records the
// terminal outcome. Entries carry chain, addresses, value and transaction
// hashes only; the signer credential never reaches it.
type ResultReporter struct {
	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

func NewResultReporter(l logger.Logger, m metrics.Recorder) *ResultReporter {
	if l == nil {
		l = logger.NoopLogger{}
	}
	if m == nil {
		m = metrics.NoopRecorder{}
	}
	return &ResultReporter{logger: l, metrics: m, now: time.Now}
}

func (r *ResultReporter) runFields(run *settlementRun) map[string]any {
	auth := run.request.Authorization
	return map[string]any{
		"settlementId": run.id,
		"chainId":      run.request.ChainID,
		"network":      string(run.network),
		"strategy":     string(run.strategy),
		"token":        run.request.Token,
		"owner":        auth.Owner,
		"spender":      auth.Spender,
		"recipient":    run.request.Recipient,
		"value":        auth.Value,
	}
}

func (r *ResultReporter) transition(run *settlementRun, from, to State, extra map[string]any) {
	fields := r.runFields(run)
	fields["from"] = from.String()
	fields["to"] = to.String()
	for k, v := range extra {
		fields[k] = v
	}
	r.logger.Info("settlement transition", fields)
}

func (r *ResultReporter) finish(run *settlementRun, from State, result x402.SettlementResult) x402.SettlementResult {
	fields := r.runFields(run)
	fields["from"] = from.String()
	fields["to"] = run.state.String()
	fields["success"] = result.Success
	fields["gasUsed"] = result.GasUsed
	if result.PermitTransaction != "" {
		fields["permitTx"] = result.PermitTransaction
	}
	if result.Transaction != "" {
		fields["transferTx"] = result.Transaction
		if url := run.chain.TxURL(result.Transaction); url != "" {
			fields["explorer"] = url
		}
	}

	labels := map[string]string{"network": string(run.network)}
	elapsed := r.now().Sub(run.started)

	if result.Success {
		labels["result"] = "success"
		r.logger.Info("settlement succeeded", fields)
	} else {
		labels["result"] = "failure"
		labels["reason"] = result.ErrorReason
		fields["errorReason"] = result.ErrorReason
		fields["errorMessage"] = result.ErrorMessage
		fields["phase"] = result.Phase
		if result.ErrorReason == x402.ErrCodeTransferReverted && result.PermitTransaction != "" {
			fields["residualApproval"] = true
			r.logger.Error("settlement failed after permit confirmed; owner approval remains active", fields)
		} else {
			r.logger.Warn("settlement failed", fields)
		}
	}

	r.metrics.IncCounter("settle", labels)
	r.metrics.ObserveLatency("settle", elapsed, map[string]string{"network": string(run.network)})
	return result
}
