package evm

import (
	"context"
	"errors"
	"math/big"
)

// ErrConfirmationTimeout is returned by receipt waits that end while the
// transaction is still pending. The outcome is unknown, not failed.
var ErrConfirmationTimeout = errors.New("evm: timed out waiting for transaction receipt")

// FacilitatorEvmSigner is the facilitator's gas-paying identity. It holds
// the credential and hands out per-chain transaction clients.
type FacilitatorEvmSigner interface {
	// Address returns the checksummed facilitator address. It is derived
	// locally from the key and never touches the network.
	Address() string

	// Connect returns a client bound to the given chain.
	Connect(ctx context.Context, chain ChainConfig) (ChainSigner, error)
}

// FeeOracle exposes the fee levels of one chain.
type FeeOracle interface {
	// BaseFee returns the current base fee per gas
	BaseFee(ctx context.Context) (*big.Int, error)

	// SuggestGasTipCap returns the suggested priority fee per gas
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// ChainSigner submits facilitator transactions on one chain.
type ChainSigner interface {
	FeeOracle

	// GetBalance returns the native balance of address
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// WriteContract signs and broadcasts a contract call as a dynamic-fee
	// transaction and returns its hash. Nonce allocation is serialized per
	// chain and account by the implementation.
	WriteContract(ctx context.Context, call ContractCall) (string, error)

	// WaitForTransactionReceipt waits until the transaction is mined or ctx
	// ends; a deadline yields ErrConfirmationTimeout.
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// ContractCall describes one facilitator transaction.
type ContractCall struct {
	To       string
	ABI      []byte
	Function string
	Args     []interface{}
	Gas      uint64
	Fees     *FeeBid
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
	GasUsed     uint64 `json:"gasUsed"`
}
