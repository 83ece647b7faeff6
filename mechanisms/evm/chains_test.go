package evm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/openfacilitator/openfacilitator/go"
)

func TestDefaultChains(t *testing.T) {
	chains := DefaultChains()
	require.Len(t, chains, len(x402.Networks()))

	for _, chain := range chains {
		t.Run(chain.Name, func(t *testing.T) {
			assert.NotZero(t, chain.ChainID)
			assert.NotEmpty(t, chain.RPCURL)
			assert.NotEmpty(t, chain.RPCEnvVar)
			assert.Equal(t, x402.NewEVMNetwork(chain.ChainID), chain.Network)
			assert.NotEmpty(t, chain.V1Name)
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	registry, err := NewRegistry(DefaultChains()...)
	require.NoError(t, err)

	t.Run("known chain", func(t *testing.T) {
		chain, err := registry.Lookup(84532)
		require.NoError(t, err)
		assert.Equal(t, "base-sepolia", chain.V1Name)
		assert.True(t, chain.Testnet)
		assert.Equal(t, "https://sepolia.basescan.org/tx/0xabc", chain.TxURL("0xabc"))
	})

	t.Run("unknown chain", func(t *testing.T) {
		_, err := registry.Lookup(999999)
		require.Error(t, err)
		assert.Equal(t, x402.ErrCodeUnsupportedChain, x402.ErrorCode(err))
	})

	t.Run("network lookup", func(t *testing.T) {
		chain, err := registry.LookupNetwork("eip155:8453")
		require.NoError(t, err)
		assert.Equal(t, uint64(8453), chain.ChainID)
	})

	t.Run("non evm network", func(t *testing.T) {
		_, err := registry.LookupNetwork("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp")
		assert.Equal(t, x402.ErrCodeUnsupportedNetwork, x402.ErrorCode(err))
	})

	t.Run("networks are ordered by chain id", func(t *testing.T) {
		networks := registry.Networks()
		require.NotEmpty(t, networks)
		assert.Equal(t, x402.Network("eip155:1"), networks[0])
		assert.True(t, registry.Supports(1328))
		assert.False(t, registry.Supports(2))
	})
}

func TestNewRegistryRejectsInvalidChains(t *testing.T) {
	tests := []struct {
		name   string
		chains []ChainConfig
	}{
		{
			name:   "missing chain id",
			chains: []ChainConfig{{Name: "nowhere", RPCURL: "http://localhost:8545"}},
		},
		{
			name:   "missing rpc url",
			chains: []ChainConfig{{ChainID: 31337, Name: "anvil"}},
		},
		{
			name: "duplicate chain id",
			chains: []ChainConfig{
				{ChainID: 31337, RPCURL: "http://localhost:8545"},
				{ChainID: 31337, RPCURL: "http://localhost:8546"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.chains...)
			assert.Error(t, err)
		})
	}
}

func TestNewRegistryFillsNetwork(t *testing.T) {
	registry, err := NewRegistry(ChainConfig{ChainID: 31337, Name: "anvil", RPCURL: "http://localhost:8545"})
	require.NoError(t, err)

	chain, err := registry.Lookup(31337)
	require.NoError(t, err)
	assert.Equal(t, x402.Network("eip155:31337"), chain.Network)
	assert.Equal(t, "", chain.TxURL("0xabc"))
}

func TestLoadRegistryOverridesRPC(t *testing.T) {
	env := map[string]string{
		"BASE_SEPOLIA_RPC_URL": " https://base-sepolia.example.org ",
		"SEPOLIA_RPC_URL":      "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	registry, err := LoadRegistry(lookup)
	require.NoError(t, err)

	baseSepolia, err := registry.Lookup(84532)
	require.NoError(t, err)
	assert.Equal(t, "https://base-sepolia.example.org", baseSepolia.RPCURL)

	sepolia, err := registry.Lookup(11155111)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.sepolia.org", sepolia.RPCURL)
}
