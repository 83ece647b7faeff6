package x402

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Category groups error codes the way callers handle them: configuration
// problems, malformed input, chain/network problems and settlement outcomes.
func (e *PaymentError) Category() string {
	switch e.Code {
	case ErrCodeValidationError, ErrCodeMalformedSignature, ErrCodeSpenderMismatch, ErrCodeRecipientMismatch:
		return CategoryValidation
	case ErrCodeUnsupportedChain, ErrCodeUnsupportedNetwork:
		return CategoryConfiguration
	case ErrCodeEstimationError, ErrCodeConfirmationTimeout:
		return CategoryNetwork
	default:
		return CategorySettlement
	}
}

// Error categories
const (
	CategoryConfiguration = "configuration"
	CategoryValidation    = "validation"
	CategoryNetwork       = "network"
	CategorySettlement    = "settlement"
)

// Settlement error codes
const (
	ErrCodeUnsupportedChain       = "unsupported_chain"
	ErrCodeValidationError        = "validation_error"
	ErrCodeUnsupportedNetwork     = "unsupported_network"
	ErrCodeMalformedSignature     = "malformed_signature"
	ErrCodeSpenderMismatch        = "spender_mismatch"
	ErrCodeRecipientMismatch      = "recipient_mismatch"
	ErrCodeInsufficientGasBalance = "insufficient_gas_balance"
	ErrCodePermitReverted         = "permit_reverted"
	ErrCodeTransferReverted       = "transfer_reverted"
	ErrCodeConfirmationTimeout    = "confirmation_timeout"
	ErrCodeEstimationError        = "estimation_error"
	ErrCodeUnknownError           = "unknown_error"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewValidationError reports a malformed wire field.
func NewValidationError(field, message string) *PaymentError {
	return NewPaymentError(ErrCodeValidationError, message, map[string]interface{}{"field": field})
}

// ErrorCode returns the code of the first PaymentError in err's chain, or
// ErrCodeUnknownError when there is none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var paymentErr *PaymentError
	if errors.As(err, &paymentErr) {
		return paymentErr.Code
	}
	return ErrCodeUnknownError
}

// IsCode reports whether err carries the given payment error code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}
