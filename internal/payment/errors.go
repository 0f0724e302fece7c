package payment

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies a payment failure for callers and retry decisions.
type ErrorCode string

const (
	CodeInvalidGateway           ErrorCode = "INVALID_GATEWAY"
	CodeGatewayUnavailable       ErrorCode = "GATEWAY_UNAVAILABLE"
	CodeGatewayTimeout           ErrorCode = "GATEWAY_TIMEOUT"
	CodeInsufficientFunds        ErrorCode = "INSUFFICIENT_FUNDS"
	CodeCardDeclined             ErrorCode = "CARD_DECLINED"
	CodeExpiredCard              ErrorCode = "EXPIRED_CARD"
	CodeInvalidCVC               ErrorCode = "INVALID_CVC"
	CodeInvalidPaymentMethod     ErrorCode = "INVALID_PAYMENT_METHOD"
	CodeUserCancelled            ErrorCode = "USER_CANCELLED"
	CodeTransactionNotFound      ErrorCode = "TRANSACTION_NOT_FOUND"
	CodeInvalidTransactionStatus ErrorCode = "INVALID_TRANSACTION_STATUS"
	CodeInvalidAmount            ErrorCode = "INVALID_AMOUNT"
	CodeInvalidCurrency          ErrorCode = "INVALID_CURRENCY"
	CodeNetworkError             ErrorCode = "NETWORK_ERROR"
	CodeAPIError                 ErrorCode = "API_ERROR"
	CodeRefundFailed             ErrorCode = "REFUND_FAILED"
	CodeProcessingError          ErrorCode = "PROCESSING_ERROR"
)

// Retryable reports whether a failure with this code may succeed on retry.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeInvalidGateway, CodeInsufficientFunds, CodeCardDeclined, CodeExpiredCard,
		CodeInvalidCVC, CodeInvalidPaymentMethod, CodeUserCancelled, CodeTransactionNotFound,
		CodeInvalidTransactionStatus, CodeInvalidAmount, CodeInvalidCurrency, CodeRefundFailed:
		return false
	}
	return true
}

// PaymentError is the structured failure returned to callers.
type PaymentError struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	GatewayCode string    `json:"gatewayCode,omitempty"`
	Retryable   bool      `json:"retryable"`
	Err         error     `json:"-"`
}

// NewError creates a PaymentError whose retryability follows its code.
func NewError(code ErrorCode, format string, args ...any) *PaymentError {
	return &PaymentError{Code: code, Message: fmt.Sprintf(format, args...), Retryable: code.Retryable()}
}

// Wrap creates a PaymentError carrying err.
func Wrap(code ErrorCode, err error) *PaymentError {
	return &PaymentError{Code: code, Message: err.Error(), Retryable: code.Retryable(), Err: err}
}

func (e *PaymentError) Error() string {
	if e.GatewayCode != "" {
		return fmt.Sprintf("payment: %s (%s): %s", e.Code, e.GatewayCode, e.Message)
	}
	return fmt.Sprintf("payment: %s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// Is matches another PaymentError by code.
func (e *PaymentError) Is(target error) bool {
	var pe *PaymentError
	if errors.As(target, &pe) {
		return pe.Code == e.Code
	}
	return false
}

// AsPaymentError converts any error into a PaymentError. Context errors map
// to cancellation and timeout; anything unrecognized is a retryable
// processing error.
func AsPaymentError(err error) *PaymentError {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(CodeUserCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeGatewayTimeout, err)
	case errors.Is(err, ErrNotFound):
		return Wrap(CodeTransactionNotFound, err)
	case errors.Is(err, ErrInvalidGateway):
		return Wrap(CodeInvalidGateway, err)
	}
	return Wrap(CodeProcessingError, err)
}

// gatewayCodes maps processor decline codes onto error codes.
var gatewayCodes = map[string]ErrorCode{
	"card_declined":        CodeCardDeclined,
	"insufficient_funds":   CodeInsufficientFunds,
	"expired_card":         CodeExpiredCard,
	"invalid_cvc":          CodeInvalidCVC,
	"incorrect_cvc":        CodeInvalidCVC,
	"invalid_payment":      CodeInvalidPaymentMethod,
	"processing_error":     CodeProcessingError,
	"rate_limit":           CodeAPIError,
	"api_connection_error": CodeNetworkError,
	"api_error":            CodeAPIError,
	"timeout":              CodeGatewayTimeout,
	"user_cancelled":       CodeUserCancelled,
}

// FromGatewayCode builds a PaymentError from a processor's decline code.
// Unknown codes are non-retryable processing errors.
func FromGatewayCode(gatewayCode, message string) *PaymentError {
	if message == "" {
		message = "payment processing failed"
	}
	code, ok := gatewayCodes[gatewayCode]
	if !ok {
		return &PaymentError{Code: CodeProcessingError, Message: message, GatewayCode: gatewayCode}
	}
	return &PaymentError{Code: code, Message: message, GatewayCode: gatewayCode, Retryable: code.Retryable()}
}
