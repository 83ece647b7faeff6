package facilitator

import (
	"errors"
	"fmt"
	"math/big"

	x402 "github.com/openfacilitator/openfacilitator/go"
	"github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
)

// Failure messages for the exact EVM scheme
const (
	ErrMsgPermitReverted      = "permit transaction reverted"
	ErrMsgTransferReverted    = "transferFrom transaction reverted"
	ErrMsgAuthorizedReverted  = "transferWithAuthorization transaction reverted"
	ErrMsgInsufficientBalance = "facilitator has insufficient native balance for gas"
)

func spenderMismatch(spender, facilitator string) error {
	return x402.NewPaymentError(x402.ErrCodeSpenderMismatch,
		fmt.Sprintf("permit spender (%s) does not match facilitator (%s)", spender, facilitator),
		map[string]interface{}{"spender": spender, "facilitator": facilitator})
}

func recipientMismatch(payee, recipient string) error {
	return x402.NewPaymentError(x402.ErrCodeRecipientMismatch,
		fmt.Sprintf("authorization payee (%s) does not match recipient (%s)", payee, recipient),
		map[string]interface{}{"to": payee, "recipient": recipient})
}

func insufficientBalance(address string, balance, required *big.Int, currency x402.NativeCurrency) error {
	return x402.NewPaymentError(x402.ErrCodeInsufficientGasBalance,
		fmt.Sprintf("%s: have %s %s, need %s %s", ErrMsgInsufficientBalance,
			evm.FormatAmount(balance, currency.Decimals), currency.Symbol,
			evm.FormatAmount(required, currency.Decimals), currency.Symbol),
		map[string]interface{}{"address": address, "balance": balance.String(), "required": required.String()})
}

func reverted(code, message, txHash string) error {
	return x402.NewPaymentError(code, message, map[string]interface{}{"transaction": txHash})
}

// submissionError classifies a failure of the transaction layer.
func submissionError(action string, err error) error {
	if errors.Is(err, evm.ErrConfirmationTimeout) {
		return x402.NewPaymentError(x402.ErrCodeConfirmationTimeout,
			fmt.Sprintf("%s: transaction still pending, outcome unknown", action), nil)
	}
	var paymentErr *x402.PaymentError
	if errors.As(err, &paymentErr) {
		return paymentErr
	}
	return x402.NewPaymentError(x402.ErrCodeUnknownError, fmt.Sprintf("%s: %v", action, err), nil)
}
