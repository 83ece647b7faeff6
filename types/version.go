package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Protocol versions
const (
	Version1 = 1
	Version2 = 2
)

// FieldError reports a wire field that is missing or has the wrong shape.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

func fieldError(field, format string, args ...interface{}) *FieldError {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DetectVersion determines the wire version of a payment. An explicit
// x402Version on the payload wins; otherwise the requirements decide:
// maxAmountRequired means v1, amount without maxAmountRequired means v2.
func DetectVersion(payloadBytes, requirementsBytes []byte) (int, error) {
	payload, err := decodeObject(payloadBytes)
	if err != nil {
		return 0, fieldError("paymentPayload", "%v", err)
	}

	if raw, ok := payload["x402Version"]; ok {
		version, ok := numberValue(raw)
		if !ok {
			return 0, fieldError("x402Version", "must be a number")
		}
		switch version {
		case "1":
			return Version1, nil
		case "2":
			return Version2, nil
		default:
			return 0, fieldError("x402Version", "unsupported version %s", version)
		}
	}

	requirements, err := decodeObject(requirementsBytes)
	if err != nil {
		return 0, fieldError("paymentRequirements", "%v", err)
	}
	_, hasMax := requirements["maxAmountRequired"]
	_, hasAmount := requirements["amount"]
	switch {
	case hasMax && hasAmount:
		return 0, fieldError("maxAmountRequired", "v1 maxAmountRequired and v2 amount are mutually exclusive")
	case hasMax:
		return Version1, nil
	case hasAmount:
		return Version2, nil
	default:
		return 0, fieldError("amount", "requirements carry neither amount nor maxAmountRequired")
	}
}

// IsPaymentPayloadV1 reports whether data is a v1 payload: x402Version 1,
// string scheme, string or numeric network and an object payload.
func IsPaymentPayloadV1(data []byte) bool {
	obj, err := decodeObject(data)
	if err != nil || !hasVersion(obj, Version1) {
		return false
	}
	return isString(obj["scheme"]) && (isString(obj["network"]) || isNumber(obj["network"])) && isObject(obj["payload"])
}

// IsPaymentPayloadV2 reports whether data is a v2 payload: x402Version 2,
// an object payload and scheme/network strings either at the top level or
// in the accepted requirements.
func IsPaymentPayloadV2(data []byte) bool {
	obj, err := decodeObject(data)
	if err != nil || !hasVersion(obj, Version2) || !isObject(obj["payload"]) {
		return false
	}
	if isString(obj["scheme"]) && isString(obj["network"]) {
		return true
	}
	accepted, err := decodeObject(obj["accepted"])
	if err != nil {
		return false
	}
	return isString(accepted["scheme"]) && isString(accepted["network"])
}

// IsPaymentRequirementsV1 reports whether data carries maxAmountRequired.
func IsPaymentRequirementsV1(data []byte) bool {
	obj, err := decodeObject(data)
	if err != nil {
		return false
	}
	_, ok := obj["maxAmountRequired"]
	return ok
}

// IsPaymentRequirementsV2 reports whether data carries amount and not
// maxAmountRequired.
func IsPaymentRequirementsV2(data []byte) bool {
	obj, err := decodeObject(data)
	if err != nil {
		return false
	}
	_, hasAmount := obj["amount"]
	_, hasMax := obj["maxAmountRequired"]
	return hasAmount && !hasMax
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("must be a JSON object")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("must be a JSON object: %w", err)
	}
	return obj, nil
}

func hasVersion(obj map[string]json.RawMessage, version int) bool {
	v, ok := numberValue(obj["x402Version"])
	return ok && v == fmt.Sprint(version)
}

// numberValue returns the literal of a JSON number. Quoted numbers are
// rejected.
func numberValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return "", false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil || n == "" {
		return "", false
	}
	return n.String(), true
}

func isString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

func isNumber(raw json.RawMessage) bool {
	_, ok := numberValue(raw)
	return ok
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
