package evm

import (
	"encoding/hex"
	"fmt"
	"strings"

	x402 "github.com/openfacilitator/openfacilitator/go"
)

// Signature is a 65-byte secp256k1 signature split into its components.
type Signature struct {
	R [32]byte
	S [32]byte
	V uint8
}

// ParseSignature splits a 0x-prefixed 65-byte hex signature positionally:
// r is bytes 0..32, s is bytes 32..64 and v is the last byte. No
// recovery or low-s check is done here; the token contract verifies it.
func ParseSignature(signature string) (Signature, error) {
	if len(signature) != SignatureHexLength || !strings.HasPrefix(signature, "0x") {
		return Signature{}, malformedSignature(fmt.Sprintf("signature must be 0x followed by 130 hex characters, got %d characters", len(signature)))
	}

	raw, err := hex.DecodeString(signature[2:])
	if err != nil {
		return Signature{}, malformedSignature("signature is not valid hex")
	}

	var sig Signature
	copy(sig.R[:], raw[0:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	return sig, nil
}

// Bytes reassembles the 65-byte form.
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, 65)
	out = append(out, s.R[:]...)
	out = append(out, s.S[:]...)
	return append(out, s.V)
}

func malformedSignature(message string) error {
	return x402.NewPaymentError(x402.ErrCodeMalformedSignature, message,
		map[string]interface{}{"field": "signature"})
}
