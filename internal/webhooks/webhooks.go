// Package webhooks accepts payment gateway callbacks.
//
// Stripe posts an event whenever a payment intent settles, fails or needs
// customer action. Each event is verified against the endpoint secret,
// checked against the ledger of events already handled, and turned into a
// status refresh of the transaction named in the intent's metadata.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/payment"
)

var (
	ErrInvalidSignature = errors.New("webhooks: invalid signature")
	ErrMalformedEvent   = errors.New("webhooks: malformed event")
	ErrRetryLater       = errors.New("webhooks: transaction refresh failed")
)

// Reasons reported for events that were acknowledged without effect.
const (
	ReasonIgnoredType        = "ignored_type"
	ReasonNoTransactionID    = "no_transaction_id"
	ReasonUnknownTransaction = "unknown_transaction"
)

// metadataTransactionID is the intent metadata key the Stripe adapter writes.
const metadataTransactionID = "transaction_id"

var eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tiptap",
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Inbound gateway events by source and outcome.",
}, []string{"source", "outcome"})

func init() {
	prometheus.MustRegister(eventsTotal)
}

// Refresher re-reads a transaction from its gateway.
type Refresher interface {
	Status(ctx context.Context, id string) payment.Result
}

// Publisher receives transactions changed by an event. Must not block.
type Publisher interface {
	PublishTransaction(tx *payment.Transaction)
}

// Outcome describes what an accepted event did.
type Outcome struct {
	EventID       string         `json:"eventId"`
	Type          string         `json:"type"`
	Processed     bool           `json:"processed"`
	Duplicate     bool           `json:"duplicate,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Status        payment.Status `json:"status,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// Processor handles verified gateway events.
type Processor struct {
	secret    string
	tolerance time.Duration
	ledger    Ledger
	payments  Refresher
	publisher Publisher
	logger    *slog.Logger
}

// NewProcessor creates a processor for events signed with secret.
func NewProcessor(secret string, ledger Ledger, payments Refresher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Processor{
		secret:    secret,
		tolerance: webhook.DefaultTolerance,
		ledger:    ledger,
		payments:  payments,
		logger:    logger,
	}
}

// WithPublisher streams refreshed transactions to p.
func (p *Processor) WithPublisher(pub Publisher) *Processor {
	p.publisher = pub
	return p
}

// WithTolerance sets how old a signature timestamp may be.
func (p *Processor) WithTolerance(d time.Duration) *Processor {
	if d > 0 {
		p.tolerance = d
	}
	return p
}

// HandleStripe verifies and applies one Stripe event. An error means the
// event was not recorded and Stripe should deliver it again.
func (p *Processor) HandleStripe(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		eventsTotal.WithLabelValues("stripe", "rejected").Inc()
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.ID == "" || event.Data == nil {
		eventsTotal.WithLabelValues("stripe", "rejected").Inc()
		return Outcome{}, ErrMalformedEvent
	}

	out := Outcome{EventID: event.ID, Type: string(event.Type)}
	seen, err := p.ledger.Seen(ctx, event.ID)
	if err != nil {
		return out, fmt.Errorf("webhooks: ledger: %w", err)
	}
	if seen {
		eventsTotal.WithLabelValues("stripe", "duplicate").Inc()
		out.Duplicate = true
		return out, nil
	}

	switch event.Type {
	case stripego.EventTypePaymentIntentSucceeded,
		stripego.EventTypePaymentIntentPaymentFailed,
		stripego.EventTypePaymentIntentRequiresAction,
		stripego.EventTypePaymentIntentProcessing,
		stripego.EventTypePaymentIntentCanceled:
		err = p.refreshIntent(ctx, event.Data.Raw, &out)
	case stripego.EventTypeChargeDisputeCreated:
		err = p.recordDispute(ctx, event.Data.Raw, &out)
	default:
		out.Reason = ReasonIgnoredType
	}
	if err != nil {
		eventsTotal.WithLabelValues("stripe", "failed").Inc()
		return out, err
	}

	if err := p.ledger.Mark(ctx, event.ID); err != nil {
		// The effect already happened; a redelivery only repeats a refresh.
		logging.L(ctx).Warn("webhook ledger write failed", "event", event.ID, "error", err)
	}
	outcome := "processed"
	if !out.Processed {
		outcome = "ignored"
	}
	eventsTotal.WithLabelValues("stripe", outcome).Inc()
	return out, nil
}

func (p *Processor) refreshIntent(ctx context.Context, raw json.RawMessage, out *Outcome) error {
	var intent stripego.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	txID := intent.Metadata[metadataTransactionID]
	if txID == "" {
		out.Reason = ReasonNoTransactionID
		p.logger.Warn("payment intent event without transaction id", "event", out.EventID, "intent", intent.ID)
		return nil
	}
	out.TransactionID = txID

	res := p.payments.Status(ctx, txID)
	if res.Err != nil && res.Err.Code == payment.CodeTransactionNotFound {
		out.Reason = ReasonUnknownTransaction
		return nil
	}
	if res.Err != nil && res.Err.Code.Retryable() {
		return fmt.Errorf("%w: %s: %v", ErrRetryLater, txID, res.Err)
	}
	if res.Transaction == nil {
		return fmt.Errorf("%w: %s", ErrRetryLater, txID)
	}

	out.Processed = true
	out.Status = res.Transaction.Status
	if p.publisher != nil {
		p.publisher.PublishTransaction(res.Transaction)
	}
	p.logger.Info("transaction refreshed from webhook",
		"event", out.EventID, "type", out.Type, "transaction", txID, "status", out.Status)
	return nil
}

func (p *Processor) recordDispute(_ context.Context, raw json.RawMessage, out *Outcome) error {
	var dispute stripego.Dispute
	if err := json.Unmarshal(raw, &dispute); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	chargeID := ""
	if dispute.Charge != nil {
		chargeID = dispute.Charge.ID
	}
	out.Processed = true
	p.logger.Warn("charge disputed",
		"event", out.EventID, "dispute", dispute.ID, "charge", chargeID,
		"reason", string(dispute.Reason), "amount_minor", dispute.Amount, "currency", string(dispute.Currency))
	return nil
}
