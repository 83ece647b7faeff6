package facilitator

import (
	"context"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
)

// settleAuthorizedTransfer submits a single transferWithAuthorization that
// verifies the signature and moves funds atomically. There is no partial
// state: the run either transfers or fails with one hash at most.
func (s *ExactEvmScheme) settleAuthorizedTransfer(ctx context.Context, run *settlementRun, p *prepared) x402.SettlementResult {
	txHash, err := p.client.WriteContract(ctx, evm.ContractCall{
		To:       p.token.Hex(),
		ABI:      evm.TransferWithAuthorizationVRSABI,
		Function: evm.FunctionTransferWithAuthorization,
		Args: []interface{}{
			p.owner,
			p.recipient,
			p.value,
			p.validAfter,
			p.validBefore,
			p.nonce,
			p.signature.V,
			p.signature.R,
			p.signature.S,
		},
		Gas:  evm.TransferWithAuthorizationGasLimit,
		Fees: p.fees,
	})
	if err != nil {
		return run.fail(x402.PhaseTransfer, submissionError("failed to submit transferWithAuthorization", err))
	}

	return s.finishTransfer(ctx, run, p, txHash, ErrMsgAuthorizedReverted)
}
