package facilitator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
)

// prepared holds everything a strategy needs after preflight passed. No
// transaction has been sent when it exists.
type prepared struct {
	client    evm.ChainSigner
	fees      *evm.FeeBid
	signature evm.Signature

	token     common.Address
	owner     common.Address
	spender   common.Address
	recipient common.Address

	value       *big.Int
	deadline    *big.Int
	validAfter  *big.Int
	validBefore *big.Int
	nonce       [32]byte
}

// gasLimits returns the per-call gas ceilings of a strategy
func gasLimits(strategy x402.Strategy) []uint64 {
	if strategy == x402.StrategyPermit {
		return []uint64{evm.PermitGasLimit, evm.TransferFromGasLimit}
	}
	return []uint64{evm.TransferWithAuthorizationGasLimit}
}

// preflight runs the checks that must all pass before any transaction is
// built, short-circuiting on the first failure: chain support, signer
// identity, local field parsing, signature decomposition, fee estimation
// and the native balance check.
func (s *ExactEvmScheme) preflight(ctx context.Context, run *settlementRun) (*prepared, error) {
	req := run.request
	auth := req.Authorization

	chain, err := s.registry.Lookup(req.ChainID)
	if err != nil {
		return nil, err
	}
	run.chain = chain
	run.network = chain.Network

	facilitator := s.signer.Address()
	if err := checkIdentity(auth, facilitator, req.Recipient); err != nil {
		return nil, err
	}

	p, err := parseAuthorization(req, s.now().Unix())
	if err != nil {
		return nil, err
	}

	sig, err := evm.ParseSignature(req.Signature)
	if err != nil {
		return nil, err
	}
	p.signature = sig

	client, err := s.signer.Connect(ctx, chain)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeUnknownError,
			fmt.Sprintf("failed to connect to chain %d: %v", chain.ChainID, err), nil)
	}
	p.client = client

	fees, err := evm.EstimateFees(ctx, client)
	if err != nil {
		return nil, err
	}
	p.fees = fees

	balance, err := client.GetBalance(ctx, facilitator)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeUnknownError,
			fmt.Sprintf("failed to query facilitator balance: %v", err), nil)
	}
	budget := evm.GasBudget(fees, gasLimits(auth.Strategy)...)
	if balance.Cmp(budget) < 0 {
		return nil, insufficientBalance(facilitator, balance, budget, chain.NativeCurrency)
	}

	return p, nil
}

// checkIdentity verifies the addresses the signature binds: a permit must
// approve the facilitator, an authorized transfer must pay the recipient.
func checkIdentity(auth x402.Authorization, facilitator, recipient string) error {
	if !evm.IsValidAddress(recipient) {
		return x402.NewValidationError("recipient", "recipient must be a 0x-prefixed 20-byte address")
	}
	switch auth.Strategy {
	case x402.StrategyPermit:
		if !evm.SameAddress(auth.Spender, facilitator) {
			return spenderMismatch(auth.Spender, facilitator)
		}
	case x402.StrategyAuthorizedTransfer:
		if !evm.SameAddress(auth.Spender, recipient) {
			return recipientMismatch(auth.Spender, recipient)
		}
	}
	return nil
}

func parseAuthorization(req SettleRequest, now int64) (*prepared, error) {
	auth := req.Authorization
	if !evm.IsValidAddress(req.Token) {
		return nil, x402.NewValidationError("asset", "token must be a 0x-prefixed 20-byte address")
	}
	if !evm.IsValidAddress(auth.Owner) {
		return nil, x402.NewValidationError("authorization.owner", "owner must be a 0x-prefixed 20-byte address")
	}

	value, err := evm.ParseUint256("authorization.value", auth.Value)
	if err != nil {
		return nil, x402.NewValidationError("authorization.value", err.Error())
	}

	p := &prepared{
		token:     common.HexToAddress(req.Token),
		owner:     common.HexToAddress(auth.Owner),
		spender:   common.HexToAddress(auth.Spender),
		recipient: common.HexToAddress(req.Recipient),
		value:     value,
	}
	nowBig := big.NewInt(now)

	switch auth.Strategy {
	case x402.StrategyPermit:
		p.deadline, err = evm.ParseUint256("authorization.deadline", auth.Deadline)
		if err != nil {
			return nil, x402.NewValidationError("authorization.deadline", err.Error())
		}
		if p.deadline.Cmp(nowBig) <= 0 {
			return nil, x402.NewValidationError("authorization.deadline",
				fmt.Sprintf("permit deadline %s has passed", p.deadline))
		}

	case x402.StrategyAuthorizedTransfer:
		p.validAfter, err = evm.ParseUint256("authorization.validAfter", auth.ValidAfter)
		if err != nil {
			return nil, x402.NewValidationError("authorization.validAfter", err.Error())
		}
		p.validBefore, err = evm.ParseUint256("authorization.validBefore", auth.ValidBefore)
		if err != nil {
			return nil, x402.NewValidationError("authorization.validBefore", err.Error())
		}
		if p.validAfter.Cmp(nowBig) > 0 {
			return nil, x402.NewValidationError("authorization.validAfter",
				fmt.Sprintf("authorization not valid until %s", p.validAfter))
		}
		if p.validBefore.Cmp(nowBig) <= 0 {
			return nil, x402.NewValidationError("authorization.validBefore",
				fmt.Sprintf("authorization expired at %s", p.validBefore))
		}
		p.nonce, err = evm.ParseBytes32("authorization.nonce", auth.Nonce)
		if err != nil {
			return nil, x402.NewValidationError("authorization.nonce", err.Error())
		}
	}

	return p, nil
}
