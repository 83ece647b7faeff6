package evm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reports the next nonce the chain expects from an account,
// including pending transactions.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager serializes nonce allocation per chain and account. Every
// settlement on a chain shares the facilitator's nonce sequence, so
// allocation, signing and broadcast of one transaction happen under the
// account lock. Confirmation waits happen outside it.
type NonceManager struct {
	mu       sync.Mutex
	accounts map[nonceKey]*accountNonce
}

type nonceKey struct {
	chainID uint64
	address common.Address
}

type accountNonce struct {
	mu     sync.Mutex
	next   uint64
	seeded bool
}

func NewNonceManager() *NonceManager {
	return &NonceManager{accounts: make(map[nonceKey]*accountNonce)}
}

func (m *NonceManager) account(chainID uint64, address common.Address) *accountNonce {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nonceKey{chainID: chainID, address: address}
	acct, ok := m.accounts[key]
	if !ok {
		acct = &accountNonce{}
		m.accounts[key] = acct
	}
	return acct
}

// Submit allocates the next nonce and runs send with it while holding the
// account lock. The local counter advances only when send succeeds; the
// chain's pending nonce wins when it is ahead, which covers transactions
// sent by other processes with the same key.
func (m *NonceManager) Submit(
	ctx context.Context,
	chainID uint64,
	address common.Address,
	source NonceSource,
	send func(nonce uint64) error,
) error {
	acct := m.account(chainID, address)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	pending, err := source.PendingNonceAt(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	nonce := pending
	if acct.seeded && acct.next > pending {
		nonce = acct.next
	}

	if err := send(nonce); err != nil {
		// Forget the local counter so the next submission re-reads the chain.
		acct.seeded = false
		return err
	}

	acct.next = nonce + 1
	acct.seeded = true
	return nil
}

// Reset drops the local counter of an account.
func (m *NonceManager) Reset(chainID uint64, address common.Address) {
	acct := m.account(chainID, address)
	acct.mu.Lock()
	acct.seeded = false
	acct.next = 0
	acct.mu.Unlock()
}
