package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// maxUint256 is 2^256 - 1
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// FormatAmount converts base units to a decimal display amount.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// IsValidAddress reports whether address is a 0x-prefixed 20-byte hex string
func IsValidAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// SameAddress compares two addresses case-insensitively
func SameAddress(a, b string) bool {
	return IsValidAddress(a) && IsValidAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}

// ParseUint256 parses a base-10 unsigned integer bounded by 2^256-1
func ParseUint256(field, value string) (*big.Int, error) {
	if value == "" || strings.HasPrefix(value, "+") || strings.HasPrefix(value, "-") {
		return nil, fmt.Errorf("%s must be an unsigned base-10 integer", field)
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%s must be an unsigned base-10 integer below 2^256", field)
	}
	return n, nil
}

// ParseBytes32 decodes a 0x-prefixed 32-byte hex value
func ParseBytes32(field, value string) ([32]byte, error) {
	var out [32]byte
	if !strings.HasPrefix(value, "0x") || len(value) != 66 {
		return out, fmt.Errorf("%s must be 0x followed by 64 hex characters", field)
	}
	raw, err := hex.DecodeString(value[2:])
	if err != nil {
		return out, fmt.Errorf("%s is not valid hex", field)
	}
	copy(out[:], raw)
	return out, nil
}
