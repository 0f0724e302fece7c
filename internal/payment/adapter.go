package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// GatewayStatus is the processor's view of a charge.
type GatewayStatus string

const (
	GatewaySuccess GatewayStatus = "success"
	GatewayPending GatewayStatus = "pending"
	GatewayFailed  GatewayStatus = "failed"
)

// Charge is sent to the gateway. IdempotencyKey must be passed through so
// a retried call cannot charge twice.
type Charge struct {
	TransactionID  string
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Method         Method
	MerchantID     string
	CustomerID     string
	Description    string
	PaymentToken   string
	Metadata       map[string]string
}

// RefundCall asks the gateway to return part or all of a charge.
type RefundCall struct {
	TransactionID        string
	GatewayTransactionID string
	IdempotencyKey       string
	Amount               decimal.Decimal
	Currency             string
	Reason               string
}

// GatewayResponse is what an adapter reports for a call that reached the
// processor. A decline is a GatewayFailed response, not an error.
type GatewayResponse struct {
	Status               GatewayStatus `json:"status"`
	GatewayTransactionID string        `json:"gatewayTransactionId,omitempty"`
	ErrorCode            string        `json:"errorCode,omitempty"`
	ErrorMessage         string        `json:"errorMessage,omitempty"`
}

// Adapter talks to one kind of payment processor. Errors should be
// *PaymentError so the orchestrator can tell transient failures from
// terminal ones.
type Adapter interface {
	ProcessPayment(ctx context.Context, gw Gateway, charge Charge) (GatewayResponse, error)
	RefundPayment(ctx context.Context, gw Gateway, refund RefundCall) (GatewayResponse, error)
	GetPaymentStatus(ctx context.Context, gw Gateway, gatewayTransactionID string) (GatewayResponse, error)
	ValidateGateway(ctx context.Context, gw Gateway) error
}

// Voider is implemented by adapters that can cancel a charge the gateway
// accepted but has not settled.
type Voider interface {
	VoidPayment(ctx context.Context, gw Gateway, gatewayTransactionID string) (GatewayResponse, error)
}
