package evm

import (
	"math/big"
	"time"
)

const (
	// Scheme identifier
	SchemeExact = "exact"

	// CaipFamily is the network pattern served by EVM mechanisms
	CaipFamily = "eip155:*"

	// ERC-20 / EIP-2612 function names
	FunctionPermit       = "permit"
	FunctionTransferFrom = "transferFrom"

	// EIP-3009 function names
	FunctionTransferWithAuthorization = "transferWithAuthorization"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Gas ceilings per call. Settlement never estimates gas on-chain.
	PermitGasLimit                    uint64 = 80_000
	TransferFromGasLimit              uint64 = 80_000
	TransferWithAuthorizationGasLimit uint64 = 100_000

	// Fee buffers, in percent of the queried value
	PriorityFeeBufferPercent = 150
	BaseFeeBufferPercent     = 120

	// DefaultConfirmationTimeout bounds each receipt wait
	DefaultConfirmationTimeout = 120 * time.Second

	// DefaultPollInterval is the receipt polling period
	DefaultPollInterval = 2 * time.Second

	// SignatureHexLength is the length of a 0x-prefixed 65-byte signature
	SignatureHexLength = 132
)

// DefaultPriorityFee is used when a chain cannot suggest a priority fee.
var DefaultPriorityFee = big.NewInt(1_000_000)

// PermitABI is the EIP-2612 permit function
var PermitABI = []byte(`[
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "permit",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// TransferFromABI is the ERC-20 transferFrom function
var TransferFromABI = []byte(`[
	{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "transferFrom",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// TransferWithAuthorizationVRSABI is the EIP-3009 transferWithAuthorization
// function taking split v, r, s
var TransferWithAuthorizationVRSABI = []byte(`[
	{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)
