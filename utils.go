package x402

import "sort"

// findByNetworkAndScheme returns the mechanism registered for scheme on
// network. An exact registration wins over a wildcard one such as
// "eip155:*"; among wildcards the lexically smallest network is used so
// routing does not depend on map order.
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) (T, bool) {
	if impl, ok := networkMap[network][scheme]; ok {
		return impl, true
	}

	registered := make([]Network, 0, len(networkMap))
	for n := range networkMap {
		registered = append(registered, n)
	}
	sort.Slice(registered, func(i, j int) bool { return registered[i] < registered[j] })

	for _, n := range registered {
		if !network.Match(n) && !n.Match(network) {
			continue
		}
		if impl, ok := networkMap[n][scheme]; ok {
			return impl, true
		}
	}

	var zero T
	return zero, false
}
