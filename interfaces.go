package x402

import "context"

// SchemeNetworkFacilitator is implemented by facilitator-side settlement
// mechanisms. Implementations receive payments already normalized and
// never return Go errors from Settle: every failure is encoded in the
// returned SettlementResult.
type SchemeNetworkFacilitator interface {
	Scheme() string

	// CaipFamily returns the CAIP family pattern this facilitator supports.
	// EVM facilitators return "eip155:*".
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data for the supported kinds
	// endpoint, or nil.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the addresses that pay gas on the given network.
	GetSigners(network Network) []string

	// Settle executes the payment on-chain.
	Settle(ctx context.Context, payment CanonicalPayment) SettlementResult
}
