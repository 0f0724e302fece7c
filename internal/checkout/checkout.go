// Package checkout runs a payment through authorization and, when
// approved, the orchestrator. Nothing reaches a gateway without an
// approved authorization.
package checkout

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/authorize"
	"github.com/mbd888/tiptap/internal/fraud"
	"github.com/mbd888/tiptap/internal/idgen"
	"github.com/mbd888/tiptap/internal/payment"
	"github.com/mbd888/tiptap/internal/tip"
)

// Authorizer decides whether a payment may proceed.
type Authorizer interface {
	Authorize(ctx context.Context, req authorize.Request) authorize.Check
}

// Processor charges an authorized payment.
type Processor interface {
	Process(ctx context.Context, req payment.Request) payment.Result
}

// Publisher receives checkout events. Implementations must not block.
type Publisher interface {
	PublishAuthorization(userID, merchantID string, amount decimal.Decimal, verdict any)
	PublishTransaction(tx *payment.Transaction)
}

// Request is a payment plus the context authorization needs.
type Request struct {
	Payment    payment.Request    `json:"payment"`
	Location   *fraud.Geolocation `json:"location,omitempty"`
	Challenger authn.Challenger   `json:"-"`
}

// Outcome carries the authorization verdict and, if it was approved, the
// payment result.
type Outcome struct {
	Authorization authorize.Check `json:"authorization"`
	Payment       *payment.Result `json:"payment,omitempty"`
}

// Completed reports whether the payment was charged.
func (o Outcome) Completed() bool {
	return o.Payment != nil && o.Payment.Success
}

// Service composes authorization and processing.
type Service struct {
	authorizer Authorizer
	processor  Processor
	publisher  Publisher
	logger     *slog.Logger
}

// New creates a checkout service.
func New(authorizer Authorizer, processor Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{authorizer: authorizer, processor: processor, logger: logger}
}

// WithPublisher streams verdicts and transactions to p.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// Checkout authorizes the charged total, then processes the payment. The
// transaction id is fixed before authorization so both steps share it.
func (s *Service) Checkout(ctx context.Context, req Request) Outcome {
	pay := req.Payment
	if pay.TransactionID == "" {
		pay.TransactionID = idgen.WithPrefix(idgen.PrefixTransaction)
	}

	total, err := chargedTotal(pay)
	if err != nil {
		return Outcome{
			Authorization: authorize.Check{Reason: string(payment.CodeInvalidAmount)},
			Payment:       &payment.Result{Err: payment.Wrap(payment.CodeInvalidAmount, err)},
		}
	}

	check := s.authorizer.Authorize(ctx, authorize.Request{
		TransactionID: pay.TransactionID,
		Amount:        total,
		MerchantID:    pay.MerchantID,
		Location:      req.Location,
		Challenger:    req.Challenger,
	})
	if s.publisher != nil {
		s.publisher.PublishAuthorization(pay.CustomerID, pay.MerchantID, total, check)
	}
	out := Outcome{Authorization: check}
	if !check.OverallApproved {
		s.logger.Info("checkout declined", "transaction_id", pay.TransactionID, "reason", check.Reason)
		return out
	}

	if check.RiskScore != nil {
		meta := make(map[string]string, len(pay.Metadata)+1)
		for k, v := range pay.Metadata {
			meta[k] = v
		}
		meta[payment.MetaRiskScore] = strconv.FormatFloat(check.RiskScore.Score, 'f', -1, 64)
		pay.Metadata = meta
	}

	res := s.processor.Process(ctx, pay)
	out.Payment = &res
	if s.publisher != nil && res.Transaction != nil {
		s.publisher.PublishTransaction(res.Transaction)
	}
	return out
}

func chargedTotal(p payment.Request) (decimal.Decimal, error) {
	if p.Tip == nil {
		return p.Amount, nil
	}
	c, err := tip.Calculate(tip.Input{
		BaseAmount:      p.Amount,
		TipPercentage:   p.Tip.Percentage,
		CustomTipAmount: p.Tip.CustomAmount,
		Currency:        p.Currency,
		Rounding:        p.Tip.Rounding,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return c.TotalAmount, nil
}
