package facilitator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
	"github.com/openfacilitator/openfacilitator/go/pkg/logger"
	"github.com/openfacilitator/openfacilitator/go/pkg/metrics"
)

// SettleRequest is one settlement of an already normalized authorization.
// The facilitator credential is held by the scheme's signer and is never
// part of the request.
type SettleRequest struct {
	ChainID       uint64             `json:"chainId"`
	Token         string             `json:"token"`
	Authorization x402.Authorization `json:"authorization"`
	Signature     string             `json:"signature"`
	Recipient     string             `json:"recipient"`
}

// ExactEvmScheme settles exact EVM payments gaslessly: the facilitator
// submits and pays for the on-chain calls authorized by the owner's
// signature, using EIP-2612 permit + transferFrom or EIP-3009
// transferWithAuthorization.
type ExactEvmScheme struct {
	signer   evm.FacilitatorEvmSigner
	registry *evm.Registry
	reporter *ResultReporter

	confirmationTimeout time.Duration
	now                 func() time.Time
}

type Option func(*ExactEvmScheme)

func WithConfirmationTimeout(d time.Duration) Option {
	return func(s *ExactEvmScheme) {
		if d > 0 {
			s.confirmationTimeout = d
		}
	}
}

// WithReporter replaces the default no-op reporter
func WithReporter(r *ResultReporter) Option {
	return func(s *ExactEvmScheme) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithObservability reports through the given logger and metrics recorder
func WithObservability(l logger.Logger, m metrics.Recorder) Option {
	return WithReporter(NewResultReporter(l, m))
}

// WithClock overrides the time source used for deadline checks
func WithClock(now func() time.Time) Option {
	return func(s *ExactEvmScheme) {
		if now != nil {
			s.now = now
		}
	}
}

func NewExactEvmScheme(signer evm.FacilitatorEvmSigner, registry *evm.Registry, opts ...Option) *ExactEvmScheme {
	s := &ExactEvmScheme{
		signer:              signer,
		registry:            registry,
		reporter:            NewResultReporter(nil, nil),
		confirmationTimeout: evm.DefaultConfirmationTimeout,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scheme returns the scheme identifier
func (s *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports
func (s *ExactEvmScheme) CaipFamily() string {
	return evm.CaipFamily
}

// GetExtra advertises the settlement strategies and the facilitator
// address a permit must name as spender.
func (s *ExactEvmScheme) GetExtra(network x402.Network) map[string]interface{} {
	extra := map[string]interface{}{
		"strategies": []string{string(x402.StrategyPermit), string(x402.StrategyAuthorizedTransfer)},
		"spender":    s.signer.Address(),
	}
	if chain, err := s.registry.LookupNetwork(network); err == nil {
		extra["name"] = chain.Name
	}
	return extra
}

// GetSigners returns the gas-paying addresses for a network
func (s *ExactEvmScheme) GetSigners(network x402.Network) []string {
	return []string{s.signer.Address()}
}

// Settle maps a normalized payment onto a settlement request and runs it.
// The authorization must cover the required amount.
func (s *ExactEvmScheme) Settle(ctx context.Context, payment x402.CanonicalPayment) x402.SettlementResult {
	req := SettleRequest{
		ChainID:       payment.ChainID,
		Token:         payment.Asset,
		Authorization: payment.Authorization,
		Signature:     payment.Signature,
		Recipient:     payment.PayTo,
	}

	if payment.Amount != "" {
		if err := checkCoversAmount(payment.Authorization.Value, payment.Amount); err != nil {
			result := x402.FailedResult(err, payment.Network)
			result.Phase = x402.PhasePreflight
			result.Payer = payment.Authorization.Owner
			return result
		}
	}

	return s.SettleAuthorization(ctx, req)
}

// SettleAuthorization runs one settlement end to end. It never returns an
// error: every failure is encoded in the result with the phase it occurred
// in and any transaction hashes already produced.
func (s *ExactEvmScheme) SettleAuthorization(ctx context.Context, req SettleRequest) x402.SettlementResult {
	run := &settlementRun{
		id:       uuid.NewString(),
		strategy: req.Authorization.Strategy,
		state:    StateIdle,
		network:  x402.NewEVMNetwork(req.ChainID),
		request:  req,
		started:  s.now(),
		reporter: s.reporter,
	}

	if !req.Authorization.Strategy.Valid() {
		return run.fail(x402.PhasePreflight, x402.NewValidationError("strategy",
			fmt.Sprintf("unknown settlement strategy %q", req.Authorization.Strategy)))
	}

	prepared, err := s.preflight(ctx, run)
	if err != nil {
		return run.fail(x402.PhasePreflight, err)
	}
	if err := run.advance(StatePreflightChecked, map[string]any{
		"maxFeePerGas":         prepared.fees.MaxFeePerGas.String(),
		"maxPriorityFeePerGas": prepared.fees.MaxPriorityFeePerGas.String(),
		"priorityFallback":     prepared.fees.PriorityFallback,
	}); err != nil {
		return run.fail(x402.PhasePreflight, err)
	}

	if run.strategy == x402.StrategyPermit {
		return s.settlePermit(ctx, run, prepared)
	}
	return s.settleAuthorizedTransfer(ctx, run, prepared)
}

// confirm waits for one confirmation within the configured timeout.
func (s *ExactEvmScheme) confirm(ctx context.Context, client evm.ChainSigner, txHash string) (*evm.TransactionReceipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmationTimeout)
	defer cancel()
	return client.WaitForTransactionReceipt(waitCtx, txHash)
}

func checkCoversAmount(value, amount string) error {
	v, err := evm.ParseUint256("authorization.value", value)
	if err != nil {
		return x402.NewValidationError("authorization.value", err.Error())
	}
	a, err := evm.ParseUint256("amount", amount)
	if err != nil {
		return x402.NewValidationError("amount", err.Error())
	}
	if v.Cmp(a) < 0 {
		return x402.NewValidationError("authorization.value",
			fmt.Sprintf("authorized value %s is below the required amount %s", v, a))
	}
	return nil
}
