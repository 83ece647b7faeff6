package types

import "strings"

// PaymentPayloadV2 represents a v2 payment payload structure.
// Scheme and network are carried either at the top level or inside the
// accepted requirements; the network is a CAIP-2 identifier.
type PaymentPayloadV2 struct {
	X402Version int                    `json:"x402Version,omitempty"`
	Scheme      string                 `json:"scheme,omitempty"`
	Network     string                 `json:"network,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    *PaymentRequirementsV2 `json:"accepted,omitempty"`
	Resource    *ResourceInfoV2        `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// SchemeAndNetwork returns the top-level scheme and network, falling back
// to the accepted requirements.
func (p *PaymentPayloadV2) SchemeAndNetwork() (scheme, network string) {
	scheme, network = p.Scheme, p.Network
	if p.Accepted != nil {
		if scheme == "" {
			scheme = p.Accepted.Scheme
		}
		if network == "" {
			network = p.Accepted.Network
		}
	}
	return scheme, network
}

// checkAccepted rejects a payload whose top-level scheme or network
// disagrees with the accepted requirements it echoes.
func (p *PaymentPayloadV2) checkAccepted() error {
	if p.Accepted == nil {
		return nil
	}
	if p.Scheme != "" && p.Accepted.Scheme != "" && p.Scheme != p.Accepted.Scheme {
		return fieldError("paymentPayload.accepted.scheme",
			"accepted scheme %q does not match payload scheme %q", p.Accepted.Scheme, p.Scheme)
	}
	if p.Network != "" && p.Accepted.Network != "" && !strings.EqualFold(p.Network, p.Accepted.Network) {
		return fieldError("paymentPayload.accepted.network",
			"accepted network %q does not match payload network %q", p.Accepted.Network, p.Network)
	}
	return nil
}

// PaymentRequirementsV2 represents v2 payment requirements structure
type PaymentRequirementsV2 struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// ResourceInfoV2 describes the resource being accessed
type ResourceInfoV2 struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}
