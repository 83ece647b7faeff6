package evm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const redacted = "[REDACTED]"

// ErrKeyClosed is returned when signing with a closed key.
var ErrKeyClosed = errors.New("facilitator key has been closed")

// PrivateKey is a scoped handle on the facilitator credential. It signs
// transactions but never exposes the key: every formatting path prints a
// redaction marker, and errors never carry key material.
type PrivateKey struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
}

// ParsePrivateKey parses a hex-encoded secp256k1 key, with or without the
// 0x prefix.
func ParsePrivateKey(hexKey string) (*PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if len(hexKey) != 64 {
		return nil, fmt.Errorf("invalid private key: expected 64 hex characters, got %d", len(hexKey))
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// The underlying error can quote offending characters.
		return nil, errors.New("invalid private key: not a valid secp256k1 hex key")
	}

	return &PrivateKey{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the account controlled by the key.
func (k *PrivateKey) Address() common.Address {
	return k.address
}

// SignTx signs a transaction for the given chain.
func (k *PrivateKey) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.key == nil {
		return nil, ErrKeyClosed
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), k.key)
}

// Close zeroes the key material. Signing fails afterwards.
func (k *PrivateKey) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key == nil {
		return
	}
	words := k.key.D.Bits()
	for i := range words {
		words[i] = 0
	}
	k.key.D.SetInt64(0)
	k.key = nil
}

func (k *PrivateKey) String() string {
	return redacted
}

func (k *PrivateKey) GoString() string {
	return redacted
}

// Format redacts the key under every verb, including %+v and %#v.
func (k *PrivateKey) Format(f fmt.State, verb rune) {
	_, _ = io.WriteString(f, redacted)
}

func (k *PrivateKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (k *PrivateKey) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
