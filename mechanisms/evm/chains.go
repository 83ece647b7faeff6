package evm

import (
	"fmt"
	"sort"
	"strings"

	x402 "github.com/openfacilitator/openfacilitator/go"
)

// ChainConfig is the settlement configuration of one EVM chain.
type ChainConfig struct {
	ChainID        uint64              `json:"chainId"`
	Name           string              `json:"name"`
	Network        x402.Network        `json:"network"`
	V1Name         string              `json:"v1Name"`
	NativeCurrency x402.NativeCurrency `json:"nativeCurrency"`
	ExplorerURL    string              `json:"explorerUrl"`
	RPCURL         string              `json:"-"`
	RPCEnvVar      string              `json:"-"`
	Testnet        bool                `json:"testnet"`
}

// TxURL links a transaction on the chain's explorer.
func (c ChainConfig) TxURL(txHash string) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.ExplorerURL, "/") + "/tx/" + txHash
}

// defaultRPCs maps chain IDs to their public RPC endpoint and the
// environment variable that overrides it.
var defaultRPCs = map[uint64]struct {
	url    string
	envVar string
}{
	1:        {"https://eth.llamarpc.com", "ETHEREUM_RPC_URL"},
	8453:     {"https://mainnet.base.org", "BASE_RPC_URL"},
	43114:    {"https://api.avax.network/ext/bc/C/rpc", "AVALANCHE_RPC_URL"},
	4689:     {"https://babel-api.mainnet.iotex.io", "IOTEX_RPC_URL"},
	3338:     {"https://peaq.api.onfinality.io/public", "PEAQ_RPC_URL"},
	137:      {"https://polygon-rpc.com", "POLYGON_RPC_URL"},
	1329:     {"https://evm-rpc.sei-apis.com", "SEI_RPC_URL"},
	196:      {"https://rpc.xlayer.tech", "XLAYER_RPC_URL"},
	11155111: {"https://rpc.sepolia.org", "SEPOLIA_RPC_URL"},
	84532:    {"https://sepolia.base.org", "BASE_SEPOLIA_RPC_URL"},
	43113:    {"https://api.avax-test.network/ext/bc/C/rpc", "AVALANCHE_FUJI_RPC_URL"},
	80002:    {"https://rpc-amoy.polygon.technology", "POLYGON_AMOY_RPC_URL"},
	1328:     {"https://evm-rpc-testnet.sei-apis.com", "SEI_TESTNET_RPC_URL"},
	195:      {"https://testrpc.xlayer.tech", "XLAYER_TESTNET_RPC_URL"},
}

// DefaultChains returns the built-in chain table with public RPC endpoints.
func DefaultChains() []ChainConfig {
	infos := x402.Networks()
	chains := make([]ChainConfig, 0, len(infos))
	for _, info := range infos {
		rpc, ok := defaultRPCs[info.ChainID]
		if !ok {
			continue
		}
		chains = append(chains, ChainConfig{
			ChainID:        info.ChainID,
			Name:           info.Name,
			Network:        info.V2,
			V1Name:         info.V1,
			NativeCurrency: info.NativeCurrency,
			ExplorerURL:    info.ExplorerURL,
			RPCURL:         rpc.url,
			RPCEnvVar:      rpc.envVar,
			Testnet:        info.Testnet,
		})
	}
	return chains
}

// Registry is an immutable lookup table of supported chains.
type Registry struct {
	byID map[uint64]ChainConfig
	ids  []uint64
}

// NewRegistry builds a registry from chain configurations.
func NewRegistry(chains ...ChainConfig) (*Registry, error) {
	r := &Registry{byID: make(map[uint64]ChainConfig, len(chains))}
	for _, chain := range chains {
		if chain.ChainID == 0 {
			return nil, fmt.Errorf("chain %q has no chain id", chain.Name)
		}
		if _, exists := r.byID[chain.ChainID]; exists {
			return nil, fmt.Errorf("duplicate chain id %d", chain.ChainID)
		}
		if chain.RPCURL == "" {
			return nil, fmt.Errorf("chain %d has no rpc url", chain.ChainID)
		}
		if chain.Network == "" {
			chain.Network = x402.NewEVMNetwork(chain.ChainID)
		}
		r.byID[chain.ChainID] = chain
		r.ids = append(r.ids, chain.ChainID)
	}
	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	return r, nil
}

// LoadRegistry builds the default registry, replacing each chain's RPC
// endpoint with the value of its environment variable when set.
func LoadRegistry(lookup func(string) (string, bool)) (*Registry, error) {
	chains := DefaultChains()
	if lookup != nil {
		for i := range chains {
			if url, ok := lookup(chains[i].RPCEnvVar); ok && strings.TrimSpace(url) != "" {
				chains[i].RPCURL = strings.TrimSpace(url)
			}
		}
	}
	return NewRegistry(chains...)
}

// Lookup returns the configuration of a chain. Unknown chains yield an
// unsupported_chain payment error.
func (r *Registry) Lookup(chainID uint64) (ChainConfig, error) {
	chain, ok := r.byID[chainID]
	if !ok {
		return ChainConfig{}, x402.NewPaymentError(x402.ErrCodeUnsupportedChain,
			fmt.Sprintf("chain %d is not supported", chainID),
			map[string]interface{}{"chainId": chainID})
	}
	return chain, nil
}

// LookupNetwork resolves a CAIP-2 network to its chain configuration.
func (r *Registry) LookupNetwork(network x402.Network) (ChainConfig, error) {
	chainID, err := network.ChainID()
	if err != nil {
		return ChainConfig{}, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork, err.Error(),
			map[string]interface{}{"network": string(network)})
	}
	return r.Lookup(chainID)
}

// Supports reports whether the chain is configured.
func (r *Registry) Supports(chainID uint64) bool {
	_, ok := r.byID[chainID]
	return ok
}

// Chains returns all configured chains ordered by chain ID.
func (r *Registry) Chains() []ChainConfig {
	chains := make([]ChainConfig, 0, len(r.ids))
	for _, id := range r.ids {
		chains = append(chains, r.byID[id])
	}
	return chains
}

// Networks returns the CAIP-2 identifiers of all configured chains.
func (r *Registry) Networks() []x402.Network {
	networks := make([]x402.Network, 0, len(r.ids))
	for _, id := range r.ids {
		networks = append(networks, r.byID[id].Network)
	}
	return networks
}
