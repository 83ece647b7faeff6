// Package evm provides the EVM building blocks of gasless settlement: the
// chain registry, signature decomposition, EIP-1559 fee estimation and the
// signer contracts the settlement executor is written against.
// The executor itself lives in the exact/facilitator subpackage.
package evm

import (
	"fmt"

	x402 "github.com/openfacilitator/openfacilitator/go"
)

// RegisterFacilitator registers an EVM mechanism with the facilitator for
// every chain in the registry, or only for the given networks.
func RegisterFacilitator(
	facilitator *x402.X402Facilitator,
	mechanism x402.SchemeNetworkFacilitator,
	registry *Registry,
	networks ...x402.Network,
) error {
	if facilitator == nil || mechanism == nil || registry == nil {
		return fmt.Errorf("facilitator, mechanism and registry are required")
	}

	if len(networks) == 0 {
		networks = registry.Networks()
	}

	for _, network := range networks {
		if _, err := registry.LookupNetwork(network); err != nil {
			return err
		}
	}

	facilitator.Register(networks, mechanism)
	return nil
}
