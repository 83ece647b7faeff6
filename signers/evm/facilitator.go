package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/singleflight"

	x402evm "github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
	"github.com/openfacilitator/openfacilitator/go/pkg/logger"
)

// EthClient is the subset of the go-ethereum RPC client the facilitator
// signer uses.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// DialFunc opens an RPC client for an endpoint.
type DialFunc func(ctx context.Context, rpcURL string) (EthClient, error)

// DialEthClient dials an endpoint with go-ethereum's ethclient.
func DialEthClient(ctx context.Context, rpcURL string) (EthClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// FacilitatorSigner implements x402evm.FacilitatorEvmSigner with a local
// key. It keeps one RPC client per chain and shares one NonceManager
// across them.
type FacilitatorSigner struct {
	key          *PrivateKey
	nonces       *NonceManager
	dial         DialFunc
	pollInterval time.Duration
	logger       logger.Logger

	mu      sync.Mutex
	chains  map[uint64]*ChainClient
	dialing singleflight.Group
}

type SignerOption func(*FacilitatorSigner)

func WithDialer(dial DialFunc) SignerOption {
	return func(s *FacilitatorSigner) {
		if dial != nil {
			s.dial = dial
		}
	}
}

func WithPollInterval(d time.Duration) SignerOption {
	return func(s *FacilitatorSigner) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithLogger(l logger.Logger) SignerOption {
	return func(s *FacilitatorSigner) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithNonceManager(m *NonceManager) SignerOption {
	return func(s *FacilitatorSigner) {
		if m != nil {
			s.nonces = m
		}
	}
}

// NewFacilitatorSigner creates a signer for the given credential.
func NewFacilitatorSigner(key *PrivateKey, opts ...SignerOption) (*FacilitatorSigner, error) {
	if key == nil {
		return nil, errors.New("facilitator key is required")
	}

	s := &FacilitatorSigner{
		key:          key,
		nonces:       NewNonceManager(),
		dial:         DialEthClient,
		pollInterval: x402evm.DefaultPollInterval,
		logger:       logger.NoopLogger{},
		chains:       make(map[uint64]*ChainClient),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the checksummed facilitator address.
func (s *FacilitatorSigner) Address() string {
	return s.key.Address().Hex()
}

// Connect returns the client of a chain, dialing it on first use. The
// endpoint must report the configured chain ID. Dialing one chain never
// blocks callers of another; concurrent first uses of a chain share one
// dial.
func (s *FacilitatorSigner) Connect(ctx context.Context, chain x402evm.ChainConfig) (x402evm.ChainSigner, error) {
	if client, ok := s.cached(chain.ChainID); ok {
		return client, nil
	}

	v, err, _ := s.dialing.Do(strconv.FormatUint(chain.ChainID, 10), func() (interface{}, error) {
		if client, ok := s.cached(chain.ChainID); ok {
			return client, nil
		}
		client, err := s.connect(ctx, chain)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.chains == nil {
			// closed while dialing
			closeClient(client.rpc)
			return nil, errors.New("signer is closed")
		}
		s.chains[chain.ChainID] = client
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChainClient), nil
}

func (s *FacilitatorSigner) cached(chainID uint64) (*ChainClient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.chains[chainID]
	return client, ok
}

func (s *FacilitatorSigner) connect(ctx context.Context, chain x402evm.ChainConfig) (*ChainClient, error) {
	rpc, err := s.dial(ctx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC for chain %d: %w", chain.ChainID, err)
	}

	reported, err := rpc.ChainID(ctx)
	if err != nil {
		closeClient(rpc)
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if !reported.IsUint64() || reported.Uint64() != chain.ChainID {
		closeClient(rpc)
		return nil, fmt.Errorf("rpc endpoint for chain %d reports chain ID %s", chain.ChainID, reported)
	}

	return &ChainClient{
		chain:        chain,
		chainID:      new(big.Int).SetUint64(chain.ChainID),
		rpc:          rpc,
		key:          s.key,
		nonces:       s.nonces,
		pollInterval: s.pollInterval,
		logger:       logger.With(s.logger, map[string]any{"chainId": chain.ChainID}),
	}, nil
}

// Close releases every RPC client; later Connect calls fail. The key stays
// open; its owner closes it.
func (s *FacilitatorSigner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, client := range s.chains {
		closeClient(client.rpc)
	}
	s.chains = nil
}

func closeClient(rpc EthClient) {
	if c, ok := rpc.(interface{ Close() }); ok {
		c.Close()
	}
}
