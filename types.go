package x402

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:1" for Ethereum mainnet)
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// ChainID returns the numeric reference of an eip155 network.
func (n Network) ChainID() (uint64, error) {
	namespace, reference, err := n.Parse()
	if err != nil {
		return 0, err
	}
	if namespace != EVMNamespace {
		return 0, fmt.Errorf("not an %s network: %s", EVMNamespace, n)
	}
	id, err := strconv.ParseUint(reference, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chain reference in network: %s", n)
	}
	return id, nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:1" matches "eip155:*" and "eip155:*" matches "eip155:1"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// EVMNamespace is the CAIP-2 namespace of EVM chains.
const EVMNamespace = "eip155"

// NewEVMNetwork builds the CAIP-2 identifier of an EVM chain.
func NewEVMNetwork(chainID uint64) Network {
	return Network(fmt.Sprintf("%s:%d", EVMNamespace, chainID))
}

// Strategy selects the on-chain mechanism used to settle an authorization.
type Strategy string

const (
	// StrategyPermit settles with EIP-2612 permit followed by transferFrom.
	StrategyPermit Strategy = "permit"
	// StrategyAuthorizedTransfer settles with a single EIP-3009
	// transferWithAuthorization call.
	StrategyAuthorizedTransfer Strategy = "eip3009"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyPermit || s == StrategyAuthorizedTransfer
}

// Authorization is the canonical, version-independent form of a signed
// token transfer authorization. Integer fields are base-10 strings.
//
// For permits, Spender is the approved spender and Deadline bounds the
// signature. For authorized transfers, Spender is the payee ("to") and the
// ValidAfter/ValidBefore window plus Nonce apply.
type Authorization struct {
	Strategy    Strategy `json:"strategy"`
	Owner       string   `json:"owner"`
	Spender     string   `json:"spender"`
	Value       string   `json:"value"`
	Deadline    string   `json:"deadline,omitempty"`
	ValidAfter  string   `json:"validAfter,omitempty"`
	ValidBefore string   `json:"validBefore,omitempty"`
	Nonce       string   `json:"nonce,omitempty"`
}

// CanonicalPayment is what Normalize produces from either wire version and
// the only input the settlement mechanisms accept.
type CanonicalPayment struct {
	X402Version       int           `json:"x402Version"`
	Scheme            string        `json:"scheme"`
	Network           Network       `json:"network"`
	ChainID           uint64        `json:"chainId"`
	Asset             string        `json:"asset"`
	PayTo             string        `json:"payTo"`
	Amount            string        `json:"amount"`
	MaxTimeoutSeconds int           `json:"maxTimeoutSeconds,omitempty"`
	Authorization     Authorization `json:"authorization"`
	Signature         string        `json:"signature"`
}

// Settlement phases reported on failed results
const (
	PhasePreflight = "preflight"
	PhasePermit    = "permit"
	PhaseTransfer  = "transfer"
)

// SettlementResult is the terminal outcome of one settlement run
type SettlementResult struct {
	Success bool `json:"success"`
	// Transaction is the transfer transaction hash (the only hash for
	// authorized transfers)
	Transaction string `json:"transaction,omitempty"`
	// PermitTransaction is the permit transaction hash of two-phase settlements
	PermitTransaction string  `json:"permitTransaction,omitempty"`
	GasUsed           uint64  `json:"gasUsed,omitempty"`
	ErrorReason       string  `json:"errorReason,omitempty"`
	ErrorMessage      string  `json:"errorMessage,omitempty"`
	Phase             string  `json:"phase,omitempty"`
	Payer             string  `json:"payer,omitempty"`
	Network           Network `json:"network,omitempty"`
}

// TransactionHashes lists every hash the run produced, permit first.
func (r SettlementResult) TransactionHashes() []string {
	hashes := make([]string, 0, 2)
	if r.PermitTransaction != "" {
		hashes = append(hashes, r.PermitTransaction)
	}
	if r.Transaction != "" {
		hashes = append(hashes, r.Transaction)
	}
	return hashes
}

// FailedResult builds an unsuccessful result from an error.
func FailedResult(err error, network Network) SettlementResult {
	result := SettlementResult{
		Success:     false,
		ErrorReason: ErrorCode(err),
		Network:     network,
	}
	if err != nil {
		result.ErrorMessage = err.Error()
		var paymentErr *PaymentError
		if errors.As(err, &paymentErr) {
			result.ErrorMessage = paymentErr.Message
		}
	}
	return result
}

// SettleRequest is the body of a settle call. X402Version is optional and,
// when set, must match the version of PaymentPayload.
type SettleRequest struct {
	X402Version         int             `json:"x402Version,omitempty"`
	PaymentPayload      json.RawMessage `json:"paymentPayload" binding:"required"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements" binding:"required"`
}

// SupportedKind represents a single supported payment configuration
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what payment kinds a facilitator supports
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers"`
}
