// Package stripe adapts Stripe PaymentIntents to payment.Adapter.
package stripe

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mbd888/tiptap/internal/payment"
	"github.com/mbd888/tiptap/internal/tip"
)

// ConfigSecretKey is the Gateway.Configuration entry holding the API key.
const ConfigSecretKey = "secret_key"

// Adapter creates and inspects PaymentIntents. Charges are confirmed
// immediately with the request's payment token as the payment method.
type Adapter struct {
	api    *client.API
	key    string
	logger *slog.Logger
}

// New creates an adapter using secretKey.
func New(secretKey string, logger *slog.Logger) *Adapter {
	return NewWithBackends(secretKey, nil, logger)
}

// NewWithBackends creates an adapter against custom Stripe backends.
func NewWithBackends(secretKey string, backends *stripego.Backends, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{api: client.New(secretKey, backends), key: secretKey, logger: logger}
}

func (a *Adapter) ValidateGateway(_ context.Context, gw payment.Gateway) error {
	if gw.Type != payment.GatewayStripe {
		return payment.NewError(payment.CodeInvalidGateway, "stripe adapter cannot serve %s gateways", gw.Type)
	}
	key := gw.Configuration[ConfigSecretKey]
	if key == "" {
		key = a.key
	}
	if !strings.HasPrefix(key, "sk_") && !strings.HasPrefix(key, "rk_") {
		return payment.NewError(payment.CodeInvalidGateway, "stripe gateway %s has no secret key", gw.ID)
	}
	return nil
}

func (a *Adapter) ProcessPayment(ctx context.Context, _ payment.Gateway, c payment.Charge) (payment.GatewayResponse, error) {
	amount, err := MinorAmount(c.Amount, c.Currency)
	if err != nil {
		return payment.GatewayResponse{}, err
	}
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(amount),
		Currency:      stripego.String(strings.ToLower(c.Currency)),
		PaymentMethod: stripego.String(c.PaymentToken),
		Confirm:       stripego.Bool(true),
	}
	if c.CustomerID != "" {
		params.Customer = stripego.String(c.CustomerID)
	}
	if c.Description != "" {
		params.Description = stripego.String(c.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(c.IdempotencyKey)
	params.AddMetadata("transaction_id", c.TransactionID)
	if c.MerchantID != "" {
		params.AddMetadata("merchant_id", c.MerchantID)
	}
	for k, v := range c.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := a.api.PaymentIntents.New(params)
	if err != nil {
		return declineOrError(err)
	}
	a.logger.Debug("stripe payment intent created", "intent", pi.ID, "status", pi.Status)
	return intentResponse(pi), nil
}

func (a *Adapter) RefundPayment(ctx context.Context, _ payment.Gateway, r payment.RefundCall) (payment.GatewayResponse, error) {
	amount, err := MinorAmount(r.Amount, r.Currency)
	if err != nil {
		return payment.GatewayResponse{}, err
	}
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(r.GatewayTransactionID),
		Amount:        stripego.Int64(amount),
	}
	if reason := refundReason(r.Reason); reason != "" {
		params.Reason = stripego.String(reason)
	}
	params.Context = ctx
	params.SetIdempotencyKey(r.IdempotencyKey)
	params.AddMetadata("transaction_id", r.TransactionID)

	ref, err := a.api.Refunds.New(params)
	if err != nil {
		return declineOrError(err)
	}
	resp := payment.GatewayResponse{GatewayTransactionID: ref.ID}
	switch ref.Status {
	case stripego.RefundStatusSucceeded:
		resp.Status = payment.GatewaySuccess
	case stripego.RefundStatusPending:
		resp.Status = payment.GatewayPending
	default:
		resp.Status = payment.GatewayFailed
		resp.ErrorCode = string(ref.FailureReason)
		resp.ErrorMessage = "refund " + string(ref.Status)
	}
	return resp, nil
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, _ payment.Gateway, id string) (payment.GatewayResponse, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := a.api.PaymentIntents.Get(id, params)
	if err != nil {
		return payment.GatewayResponse{}, MapError(err)
	}
	return intentResponse(pi), nil
}

// VoidPayment cancels an intent that has not been captured.
func (a *Adapter) VoidPayment(ctx context.Context, _ payment.Gateway, id string) (payment.GatewayResponse, error) {
	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx
	pi, err := a.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return declineOrError(err)
	}
	if pi.Status != stripego.PaymentIntentStatusCanceled {
		return payment.GatewayResponse{Status: payment.GatewayFailed, GatewayTransactionID: pi.ID,
			ErrorMessage: "intent is " + string(pi.Status)}, nil
	}
	return payment.GatewayResponse{Status: payment.GatewaySuccess, GatewayTransactionID: pi.ID}, nil
}

func intentResponse(pi *stripego.PaymentIntent) payment.GatewayResponse {
	resp := payment.GatewayResponse{GatewayTransactionID: pi.ID}
	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		resp.Status = payment.GatewaySuccess
	case stripego.PaymentIntentStatusProcessing, stripego.PaymentIntentStatusRequiresCapture,
		stripego.PaymentIntentStatusRequiresAction, stripego.PaymentIntentStatusRequiresConfirmation:
		resp.Status = payment.GatewayPending
	default:
		resp.Status = payment.GatewayFailed
		resp.ErrorCode = "payment_intent_" + string(pi.Status)
		if pi.LastPaymentError != nil {
			resp.ErrorCode = declineCode(pi.LastPaymentError)
			resp.ErrorMessage = pi.LastPaymentError.Msg
		}
	}
	return resp
}

// declineOrError turns card errors into a failed response and everything
// else into a PaymentError.
func declineOrError(err error) (payment.GatewayResponse, error) {
	var se *stripego.Error
	if errors.As(err, &se) && se.Type == stripego.ErrorTypeCard {
		return payment.GatewayResponse{
			Status:       payment.GatewayFailed,
			ErrorCode:    declineCode(se),
			ErrorMessage: se.Msg,
		}, nil
	}
	return payment.GatewayResponse{}, MapError(err)
}

func declineCode(se *stripego.Error) string {
	switch {
	case se.DeclineCode == stripego.DeclineCodeInsufficientFunds:
		return "insufficient_funds"
	case se.Code != "":
		return string(se.Code)
	case se.DeclineCode != "":
		return string(se.DeclineCode)
	}
	return "card_declined"
}

// MapError classifies a Stripe client error.
func MapError(err error) *payment.PaymentError {
	var se *stripego.Error
	if !errors.As(err, &se) {
		return payment.AsPaymentError(err)
	}
	var pe *payment.PaymentError
	switch {
	case se.Type == stripego.ErrorTypeCard:
		pe = payment.FromGatewayCode(declineCode(se), se.Msg)
	case se.Code == stripego.ErrorCodeResourceMissing:
		pe = payment.NewError(payment.CodeTransactionNotFound, "%s", se.Msg)
	case se.Code == stripego.ErrorCodeRateLimit || se.HTTPStatusCode == 429:
		pe = payment.NewError(payment.CodeAPIError, "%s", se.Msg)
	case se.HTTPStatusCode >= 500:
		pe = payment.NewError(payment.CodeGatewayUnavailable, "%s", se.Msg)
	case se.Type == stripego.ErrorTypeIdempotency, se.Type == stripego.ErrorTypeInvalidRequest:
		pe = payment.NewError(payment.CodeInvalidPaymentMethod, "%s", se.Msg)
		pe.Retryable = false
	case se.HTTPStatusCode == 401 || se.HTTPStatusCode == 403:
		pe = payment.NewError(payment.CodeInvalidGateway, "%s", se.Msg)
	default:
		pe = payment.NewError(payment.CodeAPIError, "%s", se.Msg)
	}
	pe.GatewayCode = string(se.Code)
	pe.Err = err
	return pe
}

// MinorAmount converts amount to the integer minor units Stripe expects.
func MinorAmount(amount decimal.Decimal, currency string) (int64, error) {
	units := amount.Shift(tip.MinorUnits(currency))
	if !units.IsInteger() {
		return 0, payment.NewError(payment.CodeInvalidAmount,
			"%s has more precision than %s allows", amount, strings.ToUpper(currency))
	}
	if !units.IsPositive() {
		return 0, payment.NewError(payment.CodeInvalidAmount, "amount must be positive")
	}
	return units.IntPart(), nil
}

func refundReason(reason string) string {
	switch reason {
	case "duplicate":
		return string(stripego.RefundReasonDuplicate)
	case "fraudulent":
		return string(stripego.RefundReasonFraudulent)
	case "requested_by_customer", "customer_request":
		return string(stripego.RefundReasonRequestedByCustomer)
	}
	return ""
}

var _ payment.Voider = (*Adapter)(nil)
