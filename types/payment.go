package types

import (
	"bytes"
	"encoding/json"
)

// VersionedPayment is a decoded payload/requirements pair of one wire
// version. It is implemented only by *PaymentV1 and *PaymentV2.
type VersionedPayment interface {
	Version() int
	isVersionedPayment()
}

// PaymentV1 is a validated v1 payload with its requirements.
type PaymentV1 struct {
	Payload      PaymentPayloadV1
	Requirements PaymentRequirementsV1
}

func (*PaymentV1) Version() int        { return Version1 }
func (*PaymentV1) isVersionedPayment() {}

// PaymentV2 is a validated v2 payload with its requirements.
type PaymentV2 struct {
	Payload      PaymentPayloadV2
	Requirements PaymentRequirementsV2
}

func (*PaymentV2) Version() int        { return Version2 }
func (*PaymentV2) isVersionedPayment() {}

// DecodePayment detects the wire version, validates both documents against
// that version's shape and decodes them. A document that does not match the
// detected version is rejected, never reinterpreted as the other version.
func DecodePayment(payloadBytes, requirementsBytes []byte) (VersionedPayment, error) {
	version, err := DetectVersion(payloadBytes, requirementsBytes)
	if err != nil {
		return nil, err
	}

	requirements, err := decodeObject(requirementsBytes)
	if err != nil {
		return nil, fieldError("paymentRequirements", "%v", err)
	}

	switch version {
	case Version1:
		if _, ok := requirements["amount"]; ok {
			return nil, fieldError("paymentRequirements.amount", "v1 requirements must not carry amount")
		}
		if err := validateShape(payloadV1Validator, "paymentPayload", payloadBytes); err != nil {
			return nil, err
		}
		if err := validateShape(requirementsV1Validator, "paymentRequirements", requirementsBytes); err != nil {
			return nil, err
		}
		payment := &PaymentV1{}
		if err := decodeWire(payloadBytes, &payment.Payload); err != nil {
			return nil, fieldError("paymentPayload", "%v", err)
		}
		if err := decodeWire(requirementsBytes, &payment.Requirements); err != nil {
			return nil, fieldError("paymentRequirements", "%v", err)
		}
		return payment, nil

	default:
		if _, ok := requirements["maxAmountRequired"]; ok {
			return nil, fieldError("paymentRequirements.maxAmountRequired", "v2 requirements must not carry maxAmountRequired")
		}
		if err := validateShape(payloadV2Validator, "paymentPayload", payloadBytes); err != nil {
			return nil, err
		}
		if err := validateShape(requirementsV2Validator, "paymentRequirements", requirementsBytes); err != nil {
			return nil, err
		}
		payment := &PaymentV2{}
		if err := decodeWire(payloadBytes, &payment.Payload); err != nil {
			return nil, fieldError("paymentPayload", "%v", err)
		}
		if err := decodeWire(requirementsBytes, &payment.Requirements); err != nil {
			return nil, fieldError("paymentRequirements", "%v", err)
		}
		if err := payment.Payload.checkAccepted(); err != nil {
			return nil, err
		}
		scheme, network := payment.Payload.SchemeAndNetwork()
		if scheme == "" {
			return nil, fieldError("paymentPayload.scheme", "scheme is required at the top level or in accepted")
		}
		if network == "" {
			return nil, fieldError("paymentPayload.network", "network is required at the top level or in accepted")
		}
		return payment, nil
	}
}

func decodeWire(data []byte, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}
