// Package sandbox is an in-process payment gateway for development and
// tests. Outcomes are chosen by the payment token so a client can exercise
// declines, slow settlement, and transient outages without a processor.
package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/idgen"
	"github.com/mbd888/tiptap/internal/payment"
)

// Magic payment tokens.
const (
	TokenSuccess   = "tok_sandbox_success"
	TokenDecline   = "tok_sandbox_decline"
	TokenNoFunds   = "tok_sandbox_insufficient_funds"
	TokenPending   = "tok_sandbox_pending"
	TokenTransient = "tok_sandbox_transient"
)

// DefaultSettleAfter is how long a pending sandbox charge stays pending.
const DefaultSettleAfter = 2 * time.Second

type charge struct {
	id        string
	amount    decimal.Decimal
	refunded  decimal.Decimal
	status    payment.GatewayStatus
	settlesAt time.Time
}

// Gateway is a payment.Adapter backed by memory. Calls with an idempotency
// key it has seen return the first response unchanged.
type Gateway struct {
	mu        sync.Mutex
	charges   map[string]*charge
	responses map[string]payment.GatewayResponse
	flaky     map[string]int

	failuresBeforeSuccess int
	settleAfter           time.Duration
	latency               time.Duration
	now                   func() time.Time
}

// New creates a sandbox gateway.
func New() *Gateway {
	return &Gateway{
		charges:               make(map[string]*charge),
		responses:             make(map[string]payment.GatewayResponse),
		flaky:                 make(map[string]int),
		failuresBeforeSuccess: 2,
		settleAfter:           DefaultSettleAfter,
		now:                   time.Now,
	}
}

// WithTransientFailures sets how many times a TokenTransient charge fails
// before it succeeds.
func (g *Gateway) WithTransientFailures(n int) *Gateway {
	g.failuresBeforeSuccess = n
	return g
}

// WithSettleAfter sets how long TokenPending charges stay pending.
func (g *Gateway) WithSettleAfter(d time.Duration) *Gateway {
	g.settleAfter = d
	return g
}

// WithLatency delays every call by d.
func (g *Gateway) WithLatency(d time.Duration) *Gateway {
	g.latency = d
	return g
}

// WithClock overrides the time source.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Gateway) ProcessPayment(ctx context.Context, _ payment.Gateway, c payment.Charge) (payment.GatewayResponse, error) {
	if err := g.wait(ctx); err != nil {
		return payment.GatewayResponse{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if resp, ok := g.responses[c.IdempotencyKey]; ok {
		return resp, nil
	}
	if c.PaymentToken == TokenTransient {
		if g.flaky[c.IdempotencyKey] < g.failuresBeforeSuccess {
			g.flaky[c.IdempotencyKey]++
			return payment.GatewayResponse{}, payment.NewError(payment.CodeNetworkError, "sandbox: simulated connection reset")
		}
	}

	var resp payment.GatewayResponse
	switch c.PaymentToken {
	case TokenDecline:
		resp = payment.GatewayResponse{Status: payment.GatewayFailed, ErrorCode: "card_declined", ErrorMessage: "Your card was declined."}
	case TokenNoFunds:
		resp = payment.GatewayResponse{Status: payment.GatewayFailed, ErrorCode: "insufficient_funds", ErrorMessage: "Your card has insufficient funds."}
	default:
		ch := &charge{id: idgen.WithPrefix("sbx_"), amount: c.Amount, status: payment.GatewaySuccess}
		if c.PaymentToken == TokenPending {
			ch.status = payment.GatewayPending
			ch.settlesAt = g.now().Add(g.settleAfter)
		}
		g.charges[ch.id] = ch
		resp = payment.GatewayResponse{Status: ch.status, GatewayTransactionID: ch.id}
	}
	g.responses[c.IdempotencyKey] = resp
	return resp, nil
}

func (g *Gateway) RefundPayment(ctx context.Context, _ payment.Gateway, r payment.RefundCall) (payment.GatewayResponse, error) {
	if err := g.wait(ctx); err != nil {
		return payment.GatewayResponse{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if resp, ok := g.responses[r.IdempotencyKey]; ok {
		return resp, nil
	}
	ch, ok := g.charges[r.GatewayTransactionID]
	if !ok {
		return payment.GatewayResponse{}, payment.NewError(payment.CodeTransactionNotFound, "sandbox: no charge %s", r.GatewayTransactionID)
	}
	g.settle(ch)

	var resp payment.GatewayResponse
	switch {
	case ch.status != payment.GatewaySuccess:
		resp = payment.GatewayResponse{Status: payment.GatewayFailed, ErrorCode: "charge_not_settled", ErrorMessage: "charge has not settled"}
	case ch.refunded.Add(r.Amount).GreaterThan(ch.amount):
		resp = payment.GatewayResponse{Status: payment.GatewayFailed, ErrorCode: "amount_too_large", ErrorMessage: "refund exceeds charge"}
	default:
		ch.refunded = ch.refunded.Add(r.Amount)
		resp = payment.GatewayResponse{Status: payment.GatewaySuccess, GatewayTransactionID: idgen.WithPrefix("sbr_")}
	}
	g.responses[r.IdempotencyKey] = resp
	return resp, nil
}

func (g *Gateway) GetPaymentStatus(ctx context.Context, _ payment.Gateway, id string) (payment.GatewayResponse, error) {
	if err := g.wait(ctx); err != nil {
		return payment.GatewayResponse{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.charges[id]
	if !ok {
		return payment.GatewayResponse{}, payment.NewError(payment.CodeTransactionNotFound, "sandbox: no charge %s", id)
	}
	g.settle(ch)
	resp := payment.GatewayResponse{Status: ch.status, GatewayTransactionID: ch.id}
	if ch.status == payment.GatewayFailed {
		resp.ErrorCode = "voided"
	}
	return resp, nil
}

// VoidPayment cancels a charge that has not settled yet.
func (g *Gateway) VoidPayment(_ context.Context, _ payment.Gateway, id string) (payment.GatewayResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.charges[id]
	if !ok {
		return payment.GatewayResponse{}, payment.NewError(payment.CodeTransactionNotFound, "sandbox: no charge %s", id)
	}
	g.settle(ch)
	if ch.status == payment.GatewaySuccess {
		return payment.GatewayResponse{Status: payment.GatewayFailed, GatewayTransactionID: id,
			ErrorCode: "charge_already_captured", ErrorMessage: "charge already settled"}, nil
	}
	ch.status = payment.GatewayFailed
	return payment.GatewayResponse{Status: payment.GatewaySuccess, GatewayTransactionID: id}, nil
}

func (g *Gateway) ValidateGateway(_ context.Context, gw payment.Gateway) error {
	if gw.Type != payment.GatewayMock {
		return payment.NewError(payment.CodeInvalidGateway, "sandbox cannot serve %s gateways", gw.Type)
	}
	return nil
}

func (g *Gateway) settle(ch *charge) {
	if ch.status == payment.GatewayPending && !g.now().Before(ch.settlesAt) {
		ch.status = payment.GatewaySuccess
	}
}
