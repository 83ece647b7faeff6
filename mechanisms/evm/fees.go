package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	x402 "github.com/openfacilitator/openfacilitator/go"
)

// FeeBid is the dynamic-fee pricing of a settlement's transactions.
type FeeBid struct {
	MaxFeePerGas         *big.Int `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas"`

	// Raw chain values the bid was computed from
	BaseFee          *big.Int `json:"baseFee"`
	PriorityFee      *big.Int `json:"priorityFee"`
	PriorityFallback bool     `json:"priorityFallback"`
}

// EstimateFees queries the base fee and the suggested priority fee
// concurrently and applies the buffer policy. A failed priority query
// falls back to DefaultPriorityFee; a failed base fee query is an
// estimation_error.
func EstimateFees(ctx context.Context, oracle FeeOracle) (*FeeBid, error) {
	var (
		baseFee     *big.Int
		priorityFee *big.Int
		fallback    bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fee, err := oracle.BaseFee(gctx)
		if err != nil {
			return err
		}
		if fee == nil {
			return errors.New("chain returned no base fee")
		}
		baseFee = fee
		return nil
	})
	g.Go(func() error {
		tip, err := oracle.SuggestGasTipCap(gctx)
		if err != nil || tip == nil {
			priorityFee = new(big.Int).Set(DefaultPriorityFee)
			fallback = true
			return nil
		}
		priorityFee = tip
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeEstimationError,
			fmt.Sprintf("failed to query base fee: %v", err), nil)
	}

	bid := ApplyFeeBuffers(baseFee, priorityFee)
	bid.PriorityFallback = fallback
	return bid, nil
}

// ApplyFeeBuffers computes the bid for a base fee b and priority fee p:
// maxPriorityFeePerGas = p*150/100 and maxFeePerGas = b*120/100 plus the
// buffered priority fee.
func ApplyFeeBuffers(baseFee, priorityFee *big.Int) *FeeBid {
	maxPriority := percentOf(priorityFee, PriorityFeeBufferPercent)
	maxFee := percentOf(baseFee, BaseFeeBufferPercent)
	maxFee.Add(maxFee, maxPriority)

	return &FeeBid{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriority,
		BaseFee:              new(big.Int).Set(baseFee),
		PriorityFee:          new(big.Int).Set(priorityFee),
	}
}

// GasBudget is the worst-case native cost of a sequence of calls with the
// given gas ceilings.
func GasBudget(bid *FeeBid, gasLimits ...uint64) *big.Int {
	var total uint64
	for _, limit := range gasLimits {
		total += limit
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(total), bid.MaxFeePerGas)
}

func percentOf(value *big.Int, percent int64) *big.Int {
	out := new(big.Int).Mul(value, big.NewInt(percent))
	return out.Quo(out, big.NewInt(100))
}
