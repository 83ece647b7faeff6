package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// NetworkIDV1 is a v1 network field. V1 senders use either a bare chain ID
// (as a JSON number or string) or a legacy network name such as "base".
type NetworkIDV1 string

// UnmarshalJSON accepts a JSON string or an unsigned JSON integer.
func (n *NetworkIDV1) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NetworkIDV1(s)
		return nil
	}
	id, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("network must be a string or an unsigned integer, got %s", data)
	}
	*n = NetworkIDV1(strconv.FormatUint(id, 10))
	return nil
}

// ChainID returns the numeric chain ID when the field carries one.
func (n NetworkIDV1) ChainID() (uint64, bool) {
	id, err := strconv.ParseUint(string(n), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// PaymentPayloadV1 represents a v1 payment payload structure
// V1 has scheme and network at top level (not in accepted field)
type PaymentPayloadV1 struct {
	X402Version int                    `json:"x402Version,omitempty"`
	Scheme      string                 `json:"scheme"`
	Network     NetworkIDV1            `json:"network"`
	Payload     map[string]interface{} `json:"payload"`
}

// PaymentRequirementsV1 represents v1 payment requirements structure
type PaymentRequirementsV1 struct {
	Scheme            string           `json:"scheme"`
	Network           NetworkIDV1      `json:"network"`
	MaxAmountRequired string           `json:"maxAmountRequired"`
	Resource          string           `json:"resource,omitempty"`
	Description       string           `json:"description,omitempty"`
	MimeType          string           `json:"mimeType,omitempty"`
	PayTo             string           `json:"payTo"`
	MaxTimeoutSeconds int              `json:"maxTimeoutSeconds,omitempty"`
	Asset             string           `json:"asset"`
	OutputSchema      *json.RawMessage `json:"outputSchema,omitempty"`
	Extra             *json.RawMessage `json:"extra,omitempty"`
}
