package facilitator

import (
	"context"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
)

// settlePermit runs the two-phase strategy: permit(owner, facilitator,
// value, deadline, v, r, s), one confirmation, then transferFrom(owner,
// recipient, value), one confirmation.
//
// A transferFrom revert leaves the confirmed approval on-chain. The result
// then carries both hashes so the caller can reconcile it; nothing here
// revokes it.
func (s *ExactEvmScheme) settlePermit(ctx context.Context, run *settlementRun, p *prepared) x402.SettlementResult {
	permitHash, err := p.client.WriteContract(ctx, evm.ContractCall{
		To:       p.token.Hex(),
		ABI:      evm.PermitABI,
		Function: evm.FunctionPermit,
		Args: []interface{}{
			p.owner,
			p.spender,
			p.value,
			p.deadline,
			p.signature.V,
			p.signature.R,
			p.signature.S,
		},
		Gas:  evm.PermitGasLimit,
		Fees: p.fees,
	})
	if err != nil {
		return run.fail(x402.PhasePermit, submissionError("failed to submit permit", err))
	}
	run.permitTx = permitHash
	if err := run.advance(StatePermitSubmitted, map[string]any{"permitTx": permitHash}); err != nil {
		return run.fail(x402.PhasePermit, err)
	}

	receipt, err := s.confirm(ctx, p.client, permitHash)
	if err != nil {
		return run.fail(x402.PhasePermit, submissionError("waiting for permit", err))
	}
	run.gasUsed += receipt.GasUsed
	if receipt.Status != evm.TxStatusSuccess {
		return run.fail(x402.PhasePermit, reverted(x402.ErrCodePermitReverted, ErrMsgPermitReverted, permitHash))
	}
	if err := run.advance(StatePermitConfirmed, map[string]any{
		"permitTx": permitHash,
		"block":    receipt.BlockNumber,
		"gasUsed":  receipt.GasUsed,
	}); err != nil {
		return run.fail(x402.PhasePermit, err)
	}

	transferHash, err := p.client.WriteContract(ctx, evm.ContractCall{
		To:       p.token.Hex(),
		ABI:      evm.TransferFromABI,
		Function: evm.FunctionTransferFrom,
		Args:     []interface{}{p.owner, p.recipient, p.value},
		Gas:      evm.TransferFromGasLimit,
		Fees:     p.fees,
	})
	if err != nil {
		return run.fail(x402.PhaseTransfer, submissionError("failed to submit transferFrom", err))
	}

	return s.finishTransfer(ctx, run, p, transferHash, ErrMsgTransferReverted)
}

// finishTransfer records the submitted transfer, waits for it and ends the
// run. It is the last phase of both strategies.
func (s *ExactEvmScheme) finishTransfer(ctx context.Context, run *settlementRun, p *prepared, txHash, revertMessage string) x402.SettlementResult {
	run.transferTx = txHash
	if err := run.advance(StateTransferSubmitted, map[string]any{"transferTx": txHash}); err != nil {
		return run.fail(x402.PhaseTransfer, err)
	}

	receipt, err := s.confirm(ctx, p.client, txHash)
	if err != nil {
		return run.fail(x402.PhaseTransfer, submissionError("waiting for transfer", err))
	}
	run.gasUsed += receipt.GasUsed
	if receipt.Status != evm.TxStatusSuccess {
		return run.fail(x402.PhaseTransfer, reverted(x402.ErrCodeTransferReverted, revertMessage, txHash))
	}
	if err := run.advance(StateTransferConfirmed, map[string]any{
		"transferTx": txHash,
		"block":      receipt.BlockNumber,
		"gasUsed":    receipt.GasUsed,
	}); err != nil {
		return run.fail(x402.PhaseTransfer, err)
	}

	return run.succeed()
}
