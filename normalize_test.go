package x402

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const permitAuthorization = `{
	"owner": "0x2222222222222222222222222222222222222222",
	"spender": "0x1111111111111111111111111111111111111111",
	"value": "1000000",
	"deadline": "1700003600"
}`

const permitPayloadV1 = `{
	"x402Version": 1,
	"scheme": "exact",
	"network": "base-sepolia",
	"payload": {
		"signature": "` + testSignature + `",
		"authorization": ` + permitAuthorization + `
	}
}`

const requirementsV1 = `{
	"scheme": "exact",
	"network": "base-sepolia",
	"maxAmountRequired": "1000000",
	"resource": "https://api.example.com/report",
	"payTo": "0x3333333333333333333333333333333333333333",
	"maxTimeoutSeconds": 60,
	"asset": "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
}`

const permitPayloadV2 = `{
	"x402Version": 2,
	"scheme": "exact",
	"network": "eip155:84532",
	"payload": {
		"signature": "` + testSignature + `",
		"authorization": ` + permitAuthorization + `
	}
}`

const requirementsV2 = `{
	"scheme": "exact",
	"network": "eip155:84532",
	"amount": "1000000",
	"payTo": "0x3333333333333333333333333333333333333333",
	"maxTimeoutSeconds": 60,
	"asset": "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
}`

const authorizedTransferPayloadV2 = `{
	"x402Version": 2,
	"accepted": {"scheme": "exact", "network": "eip155:84532"},
	"payload": {
		"signature": "` + testSignature + `",
		"authorization": {
			"from": "0x2222222222222222222222222222222222222222",
			"to": "0x3333333333333333333333333333333333333333",
			"value": 1000000,
			"validAfter": "0",
			"validBefore": "1700003600",
			"nonce": "0x00000000000000000000000000000000000000000000000000000000000000AB"
		}
	}
}`

func TestNormalizeVersionsAgree(t *testing.T) {
	v1, err := Normalize([]byte(permitPayloadV1), []byte(requirementsV1))
	require.NoError(t, err)
	v2, err := Normalize([]byte(permitPayloadV2), []byte(requirementsV2))
	require.NoError(t, err)

	assert.Equal(t, 1, v1.X402Version)
	assert.Equal(t, 2, v2.X402Version)

	v1.X402Version = v2.X402Version
	assert.Equal(t, *v2, *v1)

	assert.Equal(t, Network("eip155:84532"), v2.Network)
	assert.Equal(t, uint64(84532), v2.ChainID)
	assert.Equal(t, StrategyPermit, v2.Authorization.Strategy)
	assert.Equal(t, testFacilitator, v2.Authorization.Spender)
	assert.Equal(t, "1700003600", v2.Authorization.Deadline)
	assert.Equal(t, "1000000", v2.Amount)
	assert.Equal(t, 60, v2.MaxTimeoutSeconds)
	assert.Equal(t, testSignature, v2.Signature)
}

func TestNormalizeV1NetworkForms(t *testing.T) {
	for _, network := range []string{`"base-sepolia"`, `"84532"`, `84532`} {
		t.Run(network, func(t *testing.T) {
			payload := strings.Replace(permitPayloadV1, `"base-sepolia"`, network, 1)
			requirements := strings.Replace(requirementsV1, `"base-sepolia"`, network, 1)

			payment, err := Normalize([]byte(payload), []byte(requirements))
			require.NoError(t, err)
			assert.Equal(t, Network("eip155:84532"), payment.Network)
			assert.Equal(t, uint64(84532), payment.ChainID)
		})
	}
}

func TestNormalizeAuthorizedTransfer(t *testing.T) {
	payment, err := Normalize([]byte(authorizedTransferPayloadV2), []byte(requirementsV2))
	require.NoError(t, err)

	auth := payment.Authorization
	assert.Equal(t, StrategyAuthorizedTransfer, auth.Strategy)
	assert.Equal(t, testOwner, auth.Owner)
	assert.Equal(t, testRecipient, auth.Spender)
	assert.Equal(t, "1000000", auth.Value)
	assert.Equal(t, "0", auth.ValidAfter)
	assert.Equal(t, "1700003600", auth.ValidBefore)
	assert.Equal(t, "0x00000000000000000000000000000000000000000000000000000000000000ab", auth.Nonce)
	assert.Empty(t, auth.Deadline)
}

func TestNormalizeCanonicalizesFields(t *testing.T) {
	payload := strings.Replace(permitPayloadV2, `"value": "1000000"`, `"value": "0001000000"`, 1)
	requirements := strings.Replace(requirementsV2,
		"0x036CbD53842c5426634e7929541eC2318f3dCF7e", "0x036cbd53842c5426634e7929541ec2318f3dcf7e", 1)

	payment, err := Normalize([]byte(payload), []byte(requirements))
	require.NoError(t, err)
	assert.Equal(t, "1000000", payment.Authorization.Value)
	assert.Equal(t, testAsset, payment.Asset)
}

func TestNormalizeCanonicalIsIdempotent(t *testing.T) {
	for name, input := range map[string][2]string{
		"v1 permit":              {permitPayloadV1, requirementsV1},
		"v2 permit":              {permitPayloadV2, requirementsV2},
		"v2 authorized transfer": {authorizedTransferPayloadV2, requirementsV2},
	} {
		t.Run(name, func(t *testing.T) {
			first, err := Normalize([]byte(input[0]), []byte(input[1]))
			require.NoError(t, err)

			second, err := NormalizeCanonical(*first)
			require.NoError(t, err)
			assert.Equal(t, *first, second)
		})
	}
}

func TestNormalizeCanonicalFillsNetworkFromChainID(t *testing.T) {
	payment := testPayment()
	payment.Network = ""

	out, err := NormalizeCanonical(payment)
	require.NoError(t, err)
	assert.Equal(t, Network("eip155:84532"), out.Network)

	payment = testPayment()
	payment.ChainID = 0
	out, err = NormalizeCanonical(payment)
	require.NoError(t, err)
	assert.Equal(t, uint64(84532), out.ChainID)

	payment = testPayment()
	payment.Network = "eip155:8453"
	_, err = NormalizeCanonical(payment)
	assert.True(t, IsCode(err, ErrCodeValidationError))
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name         string
		payload      string
		requirements string
		wantCode     string
		wantField    string
	}{
		{
			name:         "unknown version",
			payload:      `{"x402Version": 3, "payload": {}}`,
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "x402Version",
		},
		{
			name:         "no version discriminator",
			payload:      `{"scheme": "exact", "payload": {}}`,
			requirements: `{"scheme": "exact", "payTo": "0x3333333333333333333333333333333333333333"}`,
			wantCode:     ErrCodeValidationError,
			wantField:    "amount",
		},
		{
			name:         "both amount fields",
			payload:      `{"scheme": "exact", "payload": {}}`,
			requirements: `{"amount": "1", "maxAmountRequired": "1"}`,
			wantCode:     ErrCodeValidationError,
			wantField:    "maxAmountRequired",
		},
		{
			name:         "payload not an object",
			payload:      `[]`,
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "paymentPayload",
		},
		{
			name:         "v2 with legacy network name",
			payload:      strings.Replace(permitPayloadV2, `"eip155:84532"`, `"base-sepolia"`, 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "paymentPayload.network",
		},
		{
			name:         "v1 with CAIP-2 network",
			payload:      strings.Replace(permitPayloadV1, `"base-sepolia"`, `"eip155:84532"`, 1),
			requirements: strings.Replace(requirementsV1, `"base-sepolia"`, `"eip155:84532"`, 1),
			wantCode:     ErrCodeValidationError,
			wantField:    "network",
		},
		{
			name:         "unsupported v1 network",
			payload:      strings.Replace(permitPayloadV1, `"base-sepolia"`, `"solana"`, 1),
			requirements: strings.Replace(requirementsV1, `"base-sepolia"`, `"solana"`, 1),
			wantCode:     ErrCodeUnsupportedNetwork,
		},
		{
			name:         "unsupported v2 chain",
			payload:      strings.Replace(permitPayloadV2, `"eip155:84532"`, `"eip155:31337"`, 1),
			requirements: strings.Replace(requirementsV2, `"eip155:84532"`, `"eip155:31337"`, 1),
			wantCode:     ErrCodeUnsupportedNetwork,
		},
		{
			name:         "requirements on another network",
			payload:      permitPayloadV2,
			requirements: strings.Replace(requirementsV2, `"eip155:84532"`, `"eip155:8453"`, 1),
			wantCode:     ErrCodeValidationError,
			wantField:    "paymentRequirements.network",
		},
		{
			name: "accepted network disagrees with top level",
			payload: strings.Replace(permitPayloadV2, `"payload": {`,
				`"accepted": {"scheme": "exact", "network": "eip155:8453"}, "payload": {`, 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "paymentPayload.accepted.network",
		},
		{
			name:         "missing signature",
			payload:      strings.Replace(permitPayloadV2, `"signature": "`+testSignature+`",`, "", 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "payload.signature",
		},
		{
			name:         "mixed authorization",
			payload:      strings.Replace(permitPayloadV2, `"deadline": "1700003600"`, `"deadline": "1700003600", "validBefore": "1"`, 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "payload.authorization",
		},
		{
			name: "declared strategy disagrees",
			payload: strings.Replace(permitPayloadV2, `"signature":`,
				`"strategy": "eip3009", "signature":`, 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "payload.strategy",
		},
		{
			name:         "missing deadline",
			payload:      strings.Replace(permitPayloadV2, `"deadline": "1700003600"`, `"deadline": null`, 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "payload.authorization.deadline",
		},
		{
			name:         "negative value",
			payload:      strings.Replace(permitPayloadV2, `"value": "1000000"`, `"value": "-1"`, 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "authorization.value",
		},
		{
			name:         "fractional value",
			payload:      strings.Replace(permitPayloadV2, `"value": "1000000"`, `"value": 1.5`, 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "payload.authorization.value",
		},
		{
			name:         "bad owner address",
			payload:      strings.Replace(permitPayloadV2, testOwner, "0x2222", 1),
			requirements: requirementsV2,
			wantCode:     ErrCodeValidationError,
			wantField:    "authorization.owner",
		},
		{
			name:         "bad pay-to address",
			payload:      permitPayloadV2,
			requirements: strings.Replace(requirementsV2, testRecipient, "merchant", 1),
			wantCode:     ErrCodeValidationError,
			wantField:    "payTo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.payload), []byte(tt.requirements))
			require.Error(t, err)

			var paymentErr *PaymentError
			require.ErrorAs(t, err, &paymentErr)
			assert.Equal(t, tt.wantCode, paymentErr.Code, paymentErr.Message)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, paymentErr.Details["field"], paymentErr.Message)
			}
		})
	}
}
