// Package payment records tip and payment transactions and drives them
// through a gateway adapter.
//
// Flow:
//  1. Process validates the gateway and persists a Pending transaction
//  2. The adapter is called with the transaction's idempotency key, retried
//     with backoff on transient failures
//  3. The gateway status maps onto the transaction: success → Completed,
//     pending → Pending (awaiting confirmation), anything else → Failed
//  4. Refunds are separate negative-amount transactions linked to the
//     original; the original becomes Refunded once fully covered
package payment

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/tip"
)

var (
	ErrNotFound       = errors.New("payment: transaction not found")
	ErrDuplicateKey   = errors.New("payment: idempotency key already used")
	ErrStatusConflict = errors.New("payment: transaction status changed concurrently")
	ErrInvalidGateway = errors.New("payment: invalid gateway configuration")

	ErrInvalidTransition = errors.New("payment: status transition not allowed")
)

// Status is a transaction lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// CanTransition reports whether a transaction may move from one status to
// another. Only Pending may be cancelled and only Completed may be refunded.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusCompleted:
		return to == StatusRefunded
	default:
		return false
	}
}

// Type distinguishes tips, plain payments and refunds.
type Type string

const (
	TypeTip     Type = "tip"
	TypePayment Type = "payment"
	TypeRefund  Type = "refund"
)

// Method is how the customer paid.
type Method string

const (
	MethodNFC        Method = "nfc"
	MethodQRCode     Method = "qr_code"
	MethodManual     Method = "manual"
	MethodStripeCard Method = "stripe_card"
	MethodACHBank    Method = "ach_bank"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodNFC, MethodQRCode, MethodManual, MethodStripeCard, MethodACHBank:
		return true
	}
	return false
}

// Metadata keys written by the orchestrator.
const (
	MetaOriginalTransactionID = "original_transaction_id"
	MetaErrorCode             = "error_code"
	MetaGatewayErrorCode      = "gateway_error_code"
	MetaRefundReason          = "refund_reason"
	MetaOriginalAmount        = "original_amount"
	MetaRiskScore             = "risk_score"
)

// Transaction is the persisted financial record. Amount never changes after
// creation; refunds carry a negative amount.
type Transaction struct {
	ID                    string            `json:"id"`
	IdempotencyKey        string            `json:"idempotencyKey"`
	Type                  Type              `json:"type"`
	Method                Method            `json:"method"`
	Status                Status            `json:"status"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	MerchantID            string            `json:"merchantId,omitempty"`
	CustomerID            string            `json:"customerId,omitempty"`
	GatewayID             string            `json:"gatewayId"`
	GatewayTransactionID  string            `json:"gatewayTransactionId,omitempty"`
	OriginalTransactionID string            `json:"originalTransactionId,omitempty"`
	FailureReason         string            `json:"failureReason,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	Tip                   *tip.Calculation  `json:"tip,omitempty"`
	SubmittedAt           *time.Time        `json:"submittedAt,omitempty"`
	ProcessedAt           *time.Time        `json:"processedAt,omitempty"`
	CreatedAt             time.Time         `json:"createdAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}

// AwaitingConfirmation reports whether the transaction was accepted by the
// gateway but not yet settled.
func (t *Transaction) AwaitingConfirmation() bool {
	return t.Status == StatusPending && t.SubmittedAt != nil
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.Tip != nil {
		tc := *t.Tip
		c.Tip = &tc
	}
	if t.SubmittedAt != nil {
		s := *t.SubmittedAt
		c.SubmittedAt = &s
	}
	if t.ProcessedAt != nil {
		p := *t.ProcessedAt
		c.ProcessedAt = &p
	}
	return &c
}

func (t *Transaction) setMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

// GatewayType identifies the processor behind a gateway.
type GatewayType string

const (
	GatewayStripe GatewayType = "stripe"
	GatewayPlaid  GatewayType = "plaid"
	GatewaySquare GatewayType = "square"
	GatewayPayPal GatewayType = "paypal"
	GatewayAdyen  GatewayType = "adyen"
	GatewayMock   GatewayType = "mock"
)

// Gateway is a configured payment processor.
type Gateway struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Type                GatewayType       `json:"type"`
	IsActive            bool              `json:"isActive"`
	Configuration       map[string]string `json:"-"`
	SupportedCurrencies []string          `json:"supportedCurrencies"`
	SupportedCountries  []string          `json:"supportedCountries"`
}

// Validate checks the static configuration. Adapter-specific checks happen
// in Adapter.ValidateGateway.
func (g Gateway) Validate() error {
	switch {
	case g.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidGateway)
	case !g.IsActive:
		return fmt.Errorf("%w: %s is inactive", ErrInvalidGateway, g.ID)
	case len(g.SupportedCurrencies) == 0:
		return fmt.Errorf("%w: %s supports no currencies", ErrInvalidGateway, g.ID)
	}
	switch g.Type {
	case GatewayStripe, GatewayPlaid, GatewaySquare, GatewayPayPal, GatewayAdyen, GatewayMock:
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidGateway, g.Type)
}

// SupportsCurrency reports whether the gateway accepts currency.
func (g Gateway) SupportsCurrency(currency string) bool {
	return slices.ContainsFunc(g.SupportedCurrencies, func(c string) bool {
		return strings.EqualFold(c, currency)
	})
}
