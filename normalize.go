package x402

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfacilitator/openfacilitator/go/types"
)

// Normalize converts a wire payment of either protocol version into the
// canonical record the settlement mechanisms consume.
//
// Malformed input yields a PaymentError with ErrCodeValidationError and the
// offending field in Details["field"]; a network outside the supported set
// yields ErrCodeUnsupportedNetwork.
func Normalize(payloadBytes, requirementsBytes []byte) (*CanonicalPayment, error) {
	payment, err := types.DecodePayment(payloadBytes, requirementsBytes)
	if err != nil {
		return nil, fromFieldError(err)
	}

	var canonical CanonicalPayment
	switch p := payment.(type) {
	case *types.PaymentV1:
		canonical, err = fromV1(p)
	case *types.PaymentV2:
		canonical, err = fromV2(p)
	default:
		return nil, NewValidationError("x402Version", fmt.Sprintf("unsupported payment variant %T", payment))
	}
	if err != nil {
		return nil, err
	}

	normalized, err := NormalizeCanonical(canonical)
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

func fromV1(p *types.PaymentV1) (CanonicalPayment, error) {
	info, err := resolveV1Network(string(p.Payload.Network))
	if err != nil {
		return CanonicalPayment{}, err
	}
	required, err := resolveV1Network(string(p.Requirements.Network))
	if err != nil {
		return CanonicalPayment{}, err
	}
	if required.ChainID != info.ChainID {
		return CanonicalPayment{}, NewValidationError("paymentRequirements.network",
			fmt.Sprintf("requirements network %s does not match payload network %s", p.Requirements.Network, p.Payload.Network))
	}
	if p.Payload.Scheme != p.Requirements.Scheme {
		return CanonicalPayment{}, NewValidationError("paymentRequirements.scheme",
			fmt.Sprintf("requirements scheme %q does not match payload scheme %q", p.Requirements.Scheme, p.Payload.Scheme))
	}

	auth, signature, err := extractAuthorization(p.Payload.Payload)
	if err != nil {
		return CanonicalPayment{}, err
	}

	return CanonicalPayment{
		X402Version:       types.Version1,
		Scheme:            p.Payload.Scheme,
		Network:           info.V2,
		ChainID:           info.ChainID,
		Asset:             p.Requirements.Asset,
		PayTo:             p.Requirements.PayTo,
		Amount:            p.Requirements.MaxAmountRequired,
		MaxTimeoutSeconds: p.Requirements.MaxTimeoutSeconds,
		Authorization:     auth,
		Signature:         signature,
	}, nil
}

func fromV2(p *types.PaymentV2) (CanonicalPayment, error) {
	scheme, network := p.Payload.SchemeAndNetwork()
	info, err := resolveV2Network(network)
	if err != nil {
		return CanonicalPayment{}, err
	}
	if Network(p.Requirements.Network) != info.V2 {
		return CanonicalPayment{}, NewValidationError("paymentRequirements.network",
			fmt.Sprintf("requirements network %s does not match payload network %s", p.Requirements.Network, network))
	}
	if scheme != p.Requirements.Scheme {
		return CanonicalPayment{}, NewValidationError("paymentRequirements.scheme",
			fmt.Sprintf("requirements scheme %q does not match payload scheme %q", p.Requirements.Scheme, scheme))
	}

	auth, signature, err := extractAuthorization(p.Payload.Payload)
	if err != nil {
		return CanonicalPayment{}, err
	}

	return CanonicalPayment{
		X402Version:       types.Version2,
		Scheme:            scheme,
		Network:           info.V2,
		ChainID:           info.ChainID,
		Asset:             p.Requirements.Asset,
		PayTo:             p.Requirements.PayTo,
		Amount:            p.Requirements.Amount,
		MaxTimeoutSeconds: p.Requirements.MaxTimeoutSeconds,
		Authorization:     auth,
		Signature:         signature,
	}, nil
}

// resolveV1Network accepts a chain ID or a legacy name. CAIP-2 identifiers
// belong to v2 and are rejected here.
func resolveV1Network(network string) (NetworkInfo, error) {
	if strings.Contains(network, ":") {
		return NetworkInfo{}, NewValidationError("network", fmt.Sprintf("v1 network must be a chain ID or name, got %s", network))
	}
	info, ok := GetNetwork(network)
	if !ok {
		return NetworkInfo{}, unsupportedNetwork(network)
	}
	return info, nil
}

// resolveV2Network accepts only CAIP-2 identifiers.
func resolveV2Network(network string) (NetworkInfo, error) {
	namespace, _, err := Network(network).Parse()
	if err != nil {
		return NetworkInfo{}, NewValidationError("network", err.Error())
	}
	if namespace != EVMNamespace {
		return NetworkInfo{}, unsupportedNetwork(network)
	}
	id, err := Network(network).ChainID()
	if err != nil {
		return NetworkInfo{}, NewValidationError("network", err.Error())
	}
	info, ok := GetNetworkByChainID(id)
	if !ok {
		return NetworkInfo{}, unsupportedNetwork(network)
	}
	return info, nil
}

var (
	permitFields   = []string{"owner", "spender", "value", "deadline"}
	eip3009Fields  = []string{"from", "to", "value", "validAfter", "validBefore", "nonce"}
	strategyFields = map[Strategy][]string{StrategyPermit: permitFields, StrategyAuthorizedTransfer: eip3009Fields}
)

// extractAuthorization reads the scheme payload: a signature plus an
// authorization object whose fields identify the strategy.
func extractAuthorization(payload map[string]interface{}) (Authorization, string, error) {
	signature, ok := payload["signature"].(string)
	if !ok || signature == "" {
		return Authorization{}, "", NewValidationError("payload.signature", "signature must be a non-empty string")
	}

	raw, ok := payload["authorization"].(map[string]interface{})
	if !ok {
		return Authorization{}, "", NewValidationError("payload.authorization", "authorization must be an object")
	}

	strategy, err := detectStrategy(raw)
	if err != nil {
		return Authorization{}, "", err
	}
	if declared, present := payload["strategy"]; present {
		if s, ok := declared.(string); !ok || Strategy(s) != strategy {
			return Authorization{}, "", NewValidationError("payload.strategy",
				fmt.Sprintf("declared strategy %v does not match %s authorization", declared, strategy))
		}
	}

	values := make(map[string]string, len(strategyFields[strategy]))
	for _, field := range strategyFields[strategy] {
		value, err := scalarString(raw[field])
		if err != nil {
			return Authorization{}, "", NewValidationError("payload.authorization."+field, err.Error())
		}
		values[field] = value
	}

	if strategy == StrategyPermit {
		return Authorization{
			Strategy: StrategyPermit,
			Owner:    values["owner"],
			Spender:  values["spender"],
			Value:    values["value"],
			Deadline: values["deadline"],
		}, signature, nil
	}
	return Authorization{
		Strategy:    StrategyAuthorizedTransfer,
		Owner:       values["from"],
		Spender:     values["to"],
		Value:       values["value"],
		ValidAfter:  values["validAfter"],
		ValidBefore: values["validBefore"],
		Nonce:       values["nonce"],
	}, signature, nil
}

func detectStrategy(raw map[string]interface{}) (Strategy, error) {
	_, hasSpender := raw["spender"]
	_, hasDeadline := raw["deadline"]
	_, hasValidBefore := raw["validBefore"]
	_, hasFrom := raw["from"]

	isPermit := hasSpender || hasDeadline
	isTransfer := hasValidBefore || hasFrom
	switch {
	case isPermit && isTransfer:
		return "", NewValidationError("payload.authorization", "authorization mixes permit and transferWithAuthorization fields")
	case isPermit:
		return StrategyPermit, nil
	case isTransfer:
		return StrategyAuthorizedTransfer, nil
	default:
		return "", NewValidationError("payload.authorization", "authorization matches neither permit nor transferWithAuthorization")
	}
}

// scalarString accepts JSON strings and integral numbers.
func scalarString(v interface{}) (string, error) {
	switch value := v.(type) {
	case string:
		if value == "" {
			return "", errors.New("must not be empty")
		}
		return value, nil
	case json.Number:
		if strings.ContainsAny(value.String(), ".eE") {
			return "", fmt.Errorf("must be an integer, got %s", value)
		}
		return value.String(), nil
	case nil:
		return "", errors.New("is required")
	default:
		return "", fmt.Errorf("must be a string or integer, got %T", v)
	}
}

// NormalizeCanonical validates a canonical record and rewrites it into its
// normal form: checksummed addresses, minimal base-10 integers, network and
// chain ID in agreement. Applying it to its own output changes nothing.
func NormalizeCanonical(p CanonicalPayment) (CanonicalPayment, error) {
	if p.X402Version != types.Version1 && p.X402Version != types.Version2 {
		return CanonicalPayment{}, NewValidationError("x402Version", fmt.Sprintf("unsupported version %d", p.X402Version))
	}
	if p.Scheme == "" {
		return CanonicalPayment{}, NewValidationError("scheme", "scheme is required")
	}

	var info NetworkInfo
	var ok bool
	switch {
	case p.ChainID != 0:
		info, ok = GetNetworkByChainID(p.ChainID)
		if !ok {
			return CanonicalPayment{}, unsupportedNetwork(fmt.Sprint(p.ChainID))
		}
		if p.Network != "" && p.Network != info.V2 {
			return CanonicalPayment{}, NewValidationError("network",
				fmt.Sprintf("network %s does not match chain ID %d", p.Network, p.ChainID))
		}
	case p.Network != "":
		info, ok = GetNetwork(string(p.Network))
		if !ok {
			return CanonicalPayment{}, unsupportedNetwork(string(p.Network))
		}
	default:
		return CanonicalPayment{}, NewValidationError("network", "network or chain ID is required")
	}
	p.ChainID = info.ChainID
	p.Network = info.V2

	var err error
	if p.Asset, err = checksumAddress("asset", p.Asset); err != nil {
		return CanonicalPayment{}, err
	}
	if p.PayTo, err = checksumAddress("payTo", p.PayTo); err != nil {
		return CanonicalPayment{}, err
	}
	if p.Amount, err = canonicalUint("amount", p.Amount); err != nil {
		return CanonicalPayment{}, err
	}
	if p.Signature == "" {
		return CanonicalPayment{}, NewValidationError("signature", "signature is required")
	}

	if p.Authorization, err = normalizeAuthorization(p.Authorization); err != nil {
		return CanonicalPayment{}, err
	}
	return p, nil
}

func normalizeAuthorization(a Authorization) (Authorization, error) {
	if !a.Strategy.Valid() {
		return Authorization{}, NewValidationError("authorization.strategy", fmt.Sprintf("unknown strategy %q", a.Strategy))
	}

	var err error
	if a.Owner, err = checksumAddress("authorization.owner", a.Owner); err != nil {
		return Authorization{}, err
	}
	if a.Spender, err = checksumAddress("authorization.spender", a.Spender); err != nil {
		return Authorization{}, err
	}
	if a.Value, err = canonicalUint("authorization.value", a.Value); err != nil {
		return Authorization{}, err
	}

	switch a.Strategy {
	case StrategyPermit:
		if a.Deadline, err = canonicalUint("authorization.deadline", a.Deadline); err != nil {
			return Authorization{}, err
		}
		a.ValidAfter, a.ValidBefore, a.Nonce = "", "", ""
	case StrategyAuthorizedTransfer:
		if a.ValidAfter, err = canonicalUint("authorization.validAfter", a.ValidAfter); err != nil {
			return Authorization{}, err
		}
		if a.ValidBefore, err = canonicalUint("authorization.validBefore", a.ValidBefore); err != nil {
			return Authorization{}, err
		}
		if a.Nonce, err = canonicalBytes32("authorization.nonce", a.Nonce); err != nil {
			return Authorization{}, err
		}
		a.Deadline = ""
	}
	return a, nil
}

func checksumAddress(field, address string) (string, error) {
	if !common.IsHexAddress(address) || !strings.HasPrefix(address, "0x") {
		return "", NewValidationError(field, fmt.Sprintf("invalid address %q", address))
	}
	return common.HexToAddress(address).Hex(), nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func canonicalUint(field, value string) (string, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 || n.Cmp(maxUint256) > 0 || strings.HasPrefix(value, "+") || strings.HasPrefix(value, "-") {
		return "", NewValidationError(field, fmt.Sprintf("must be an unsigned 256-bit base-10 integer, got %q", value))
	}
	return n.String(), nil
}

func canonicalBytes32(field, value string) (string, error) {
	if !strings.HasPrefix(value, "0x") || len(value) != 66 {
		return "", NewValidationError(field, fmt.Sprintf("must be 0x-prefixed 32-byte hex, got %q", value))
	}
	b := common.FromHex(value)
	if len(b) != 32 || common.Bytes2Hex(b) != strings.ToLower(value[2:]) {
		return "", NewValidationError(field, fmt.Sprintf("must be 0x-prefixed 32-byte hex, got %q", value))
	}
	return "0x" + common.Bytes2Hex(b), nil
}

func fromFieldError(err error) error {
	var fieldErr *types.FieldError
	if errors.As(err, &fieldErr) {
		return NewValidationError(fieldErr.Field, fieldErr.Reason)
	}
	return NewPaymentError(ErrCodeValidationError, err.Error(), nil)
}
