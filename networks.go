package x402

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NativeCurrency describes a chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// NetworkInfo is the static description of a supported EVM network: its
// legacy (v1) name, its CAIP-2 (v2) identifier and display metadata.
type NetworkInfo struct {
	ChainID        uint64         `json:"chainId"`
	Name           string         `json:"name"`
	V1             string         `json:"v1"`
	V2             Network        `json:"v2"`
	NativeCurrency NativeCurrency `json:"nativeCurrency"`
	ExplorerURL    string         `json:"explorerUrl"`
	Testnet        bool           `json:"testnet"`
}

var (
	ether = NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}
	avax  = NativeCurrency{Name: "Avalanche", Symbol: "AVAX", Decimals: 18}
	pol   = NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18}
	sei   = NativeCurrency{Name: "SEI", Symbol: "SEI", Decimals: 18}
	okb   = NativeCurrency{Name: "OKB", Symbol: "OKB", Decimals: 18}
)

var networks = []NetworkInfo{
	{ChainID: 1, Name: "Ethereum", V1: "ethereum", NativeCurrency: ether, ExplorerURL: "https://etherscan.io"},
	{ChainID: 8453, Name: "Base", V1: "base", NativeCurrency: ether, ExplorerURL: "https://basescan.org"},
	{ChainID: 43114, Name: "Avalanche", V1: "avalanche", NativeCurrency: avax, ExplorerURL: "https://snowtrace.io"},
	{ChainID: 4689, Name: "IoTeX", V1: "iotex", NativeCurrency: NativeCurrency{Name: "IOTX", Symbol: "IOTX", Decimals: 18}, ExplorerURL: "https://iotexscan.io"},
	{ChainID: 3338, Name: "Peaq", V1: "peaq", NativeCurrency: NativeCurrency{Name: "PEAQ", Symbol: "PEAQ", Decimals: 18}, ExplorerURL: "https://peaq.subscan.io"},
	{ChainID: 137, Name: "Polygon", V1: "polygon", NativeCurrency: pol, ExplorerURL: "https://polygonscan.com"},
	{ChainID: 1329, Name: "Sei", V1: "sei", NativeCurrency: sei, ExplorerURL: "https://seitrace.com"},
	{ChainID: 196, Name: "XLayer", V1: "xlayer", NativeCurrency: okb, ExplorerURL: "https://www.okx.com/explorer/xlayer"},
	{ChainID: 11155111, Name: "Sepolia", V1: "sepolia", NativeCurrency: ether, ExplorerURL: "https://sepolia.etherscan.io", Testnet: true},
	{ChainID: 84532, Name: "Base Sepolia", V1: "base-sepolia", NativeCurrency: ether, ExplorerURL: "https://sepolia.basescan.org", Testnet: true},
	{ChainID: 43113, Name: "Avalanche Fuji", V1: "avalanche-fuji", NativeCurrency: avax, ExplorerURL: "https://testnet.snowtrace.io", Testnet: true},
	{ChainID: 80002, Name: "Polygon Amoy", V1: "polygon-amoy", NativeCurrency: pol, ExplorerURL: "https://amoy.polygonscan.com", Testnet: true},
	{ChainID: 1328, Name: "Sei Testnet", V1: "sei-testnet", NativeCurrency: sei, ExplorerURL: "https://testnet.seitrace.com", Testnet: true},
	{ChainID: 195, Name: "XLayer Testnet", V1: "xlayer-testnet", NativeCurrency: okb, ExplorerURL: "https://www.okx.com/explorer/xlayer-test", Testnet: true},
}

var (
	networksByChainID = make(map[uint64]NetworkInfo, len(networks))
	networksByV1      = make(map[string]NetworkInfo, len(networks))
)

func init() {
	for i := range networks {
		networks[i].V2 = NewEVMNetwork(networks[i].ChainID)
		networksByChainID[networks[i].ChainID] = networks[i]
		networksByV1[networks[i].V1] = networks[i]
	}
}

// GetNetwork resolves any network form: a legacy v1 name ("base"), a CAIP-2
// identifier ("eip155:8453") or a bare chain ID ("8453").
func GetNetwork(network string) (NetworkInfo, bool) {
	network = strings.TrimSpace(network)
	if info, ok := networksByV1[strings.ToLower(network)]; ok {
		return info, true
	}
	if strings.Contains(network, ":") {
		id, err := Network(network).ChainID()
		if err != nil {
			return NetworkInfo{}, false
		}
		return GetNetworkByChainID(id)
	}
	id, err := strconv.ParseUint(network, 10, 64)
	if err != nil {
		return NetworkInfo{}, false
	}
	return GetNetworkByChainID(id)
}

// GetNetworkByChainID looks a network up by its numeric chain ID.
func GetNetworkByChainID(chainID uint64) (NetworkInfo, bool) {
	info, ok := networksByChainID[chainID]
	return info, ok
}

// IsValidNetwork reports whether network resolves to a supported network.
func IsValidNetwork(network string) bool {
	_, ok := GetNetwork(network)
	return ok
}

// ToV1NetworkID converts any supported network form to its legacy v1 name.
func ToV1NetworkID(network string) (string, error) {
	info, ok := GetNetwork(network)
	if !ok {
		return "", unsupportedNetwork(network)
	}
	return info.V1, nil
}

// ToV2NetworkID converts any supported network form to its CAIP-2 identifier.
func ToV2NetworkID(network string) (Network, error) {
	info, ok := GetNetwork(network)
	if !ok {
		return "", unsupportedNetwork(network)
	}
	return info.V2, nil
}

// Networks returns every supported network ordered by chain ID.
func Networks() []NetworkInfo {
	out := make([]NetworkInfo, len(networks))
	copy(out, networks)
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Mainnets returns the supported production networks.
func Mainnets() []NetworkInfo {
	return filterNetworks(false)
}

// Testnets returns the supported test networks.
func Testnets() []NetworkInfo {
	return filterNetworks(true)
}

func filterNetworks(testnet bool) []NetworkInfo {
	var out []NetworkInfo
	for _, info := range Networks() {
		if info.Testnet == testnet {
			out = append(out, info)
		}
	}
	return out
}

func unsupportedNetwork(network string) *PaymentError {
	return NewPaymentError(
		ErrCodeUnsupportedNetwork,
		fmt.Sprintf("unsupported network: %s", network),
		map[string]interface{}{"network": network},
	)
}
