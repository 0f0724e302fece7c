// Package authorize decides whether a payment may proceed: the session must
// be active, fraud risk acceptable, and the user authenticated when required.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/fraud"
	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/metrics"
	"github.com/mbd888/tiptap/internal/session"
	"github.com/mbd888/tiptap/internal/traces"
)

// Denial reasons.
const (
	ReasonSessionInvalid   = "session_invalid"
	ReasonFraudBlocked     = "fraud_blocked"
	ReasonFraudUnavailable = "fraud_unavailable"
	ReasonAuthFailed       = "auth_failed"
	ReasonAuthCancelled    = "auth_cancelled"
	ReasonPINLockedOut     = "pin_locked_out"
	ReasonInvalidAmount    = "invalid_amount"
)

// WarningFraudSkipped is attached when a fraud failure was waved through.
const WarningFraudSkipped = "Fraud check unavailable; approved under fail-open policy"

// FraudAnalyzer scores a payment attempt.
type FraudAnalyzer interface {
	Analyze(ctx context.Context, req fraud.Request) (fraud.RiskScore, error)
	Config(ctx context.Context) fraud.Config
}

// Sessions exposes the current session.
type Sessions interface {
	Current() (session.Session, bool)
	UpdateActivity(ctx context.Context) error
}

// Request describes the payment to authorize. Challenger overrides the
// authorizer's default for this request.
type Request struct {
	TransactionID string
	Amount        decimal.Decimal
	MerchantID    string
	Location      *fraud.Geolocation
	Challenger    authn.Challenger
}

// Check is the authorization verdict.
type Check struct {
	SessionValid           bool             `json:"sessionValid"`
	FraudRiskAcceptable    bool             `json:"fraudRiskAcceptable"`
	BiometricsPassed       bool             `json:"biometricsPassed"`
	OverallApproved        bool             `json:"overallApproved"`
	RiskScore              *fraud.RiskScore `json:"riskScore,omitempty"`
	RequiresAdditionalAuth bool             `json:"requiresAdditionalAuth"`
	FraudCheckSkipped      bool             `json:"fraudCheckSkipped"`
	AuthMethod             authn.Method     `json:"authMethod,omitempty"`
	Reason                 string           `json:"reason,omitempty"`
	Warnings               []string         `json:"warnings,omitempty"`
}

// Authorizer combines session, fraud and authentication checks.
type Authorizer struct {
	sessions    Sessions
	fraud       FraudAnalyzer
	challenger  authn.Challenger
	requireAuth bool
	policy      fraud.FailurePolicy
	logger      *slog.Logger
}

// New creates an authorizer. Authentication is required for every payment
// unless disabled with WithRequireAuth.
func New(sessions Sessions, analyzer FraudAnalyzer, challenger authn.Challenger, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		sessions:    sessions,
		fraud:       analyzer,
		challenger:  challenger,
		requireAuth: true,
		logger:      logger,
	}
}

// WithRequireAuth sets whether every payment needs a challenge. Stepped-up
// risk always requires one.
func (a *Authorizer) WithRequireAuth(require bool) *Authorizer {
	a.requireAuth = require
	return a
}

// WithFailurePolicy pins the fraud failure policy instead of reading it from
// the fraud configuration.
func (a *Authorizer) WithFailurePolicy(p fraud.FailurePolicy) *Authorizer {
	a.policy = p
	return a
}

// Authorize runs the checks in order and stops at the first denial.
func (a *Authorizer) Authorize(ctx context.Context, req Request) Check {
	ctx, span := traces.StartSpan(ctx, "authorize.Authorize", traces.TransactionID(req.TransactionID))
	defer span.End()

	check := a.authorize(ctx, req)
	outcome := "approved"
	if !check.OverallApproved {
		outcome = check.Reason
	}
	metrics.AuthorizationsTotal.WithLabelValues(outcome).Inc()
	if check.RiskScore != nil {
		span.SetAttributes(traces.RiskScore(int(check.RiskScore.Score)))
	}
	logging.L(ctx).Info("payment authorization",
		"transaction_id", req.TransactionID,
		"approved", check.OverallApproved,
		"reason", check.Reason,
		"fraud_skipped", check.FraudCheckSkipped,
	)
	return check
}

func (a *Authorizer) authorize(ctx context.Context, req Request) Check {
	var check Check

	sess, ok := a.sessions.Current()
	if !ok || !sess.Active() {
		check.Reason = ReasonSessionInvalid
		return check
	}
	check.SessionValid = true
	ctx = logging.WithSession(ctx, sess.ID, sess.UserID)

	// Amounts must be positive. This denial ignores the failure policy.
	if !req.Amount.IsPositive() {
		check.Reason = ReasonInvalidAmount
		return check
	}

	score, err := a.analyze(ctx, req)
	if err != nil {
		policy := a.failurePolicy(ctx)
		metrics.FraudFailuresTotal.WithLabelValues(string(policy)).Inc()
		logging.L(ctx).Error("fraud check failed",
			"transaction_id", req.TransactionID, "policy", policy, "error", err)
		if policy != fraud.FailOpen {
			check.Reason = ReasonFraudUnavailable
			return check
		}
		check.FraudCheckSkipped = true
		check.Warnings = append(check.Warnings, WarningFraudSkipped)
	} else {
		check.RiskScore = &score
		if score.ShouldBlock {
			check.Reason = ReasonFraudBlocked
			return check
		}
		check.RequiresAdditionalAuth = score.RequireAdditionalAuth
	}
	check.FraudRiskAcceptable = true

	if a.requireAuth || check.RequiresAdditionalAuth {
		ch := req.Challenger
		if ch == nil {
			ch = a.challenger
		}
		res := challenge(ctx, ch)
		check.AuthMethod = res.Method
		if !res.Passed {
			check.Reason = authReason(res.Err)
			return check
		}
	}
	check.BiometricsPassed = true

	// The challenge may have waited on the user long enough for the session
	// to lock or end.
	if now, ok := a.sessions.Current(); !ok || now.ID != sess.ID || !now.Active() {
		check.SessionValid = false
		check.Reason = ReasonSessionInvalid
		return check
	}

	check.OverallApproved = true
	if check.RiskScore != nil && check.RiskScore.Level == fraud.LevelHigh {
		check.Warnings = append(check.Warnings, check.RiskScore.Reasons...)
	}
	if err := a.sessions.UpdateActivity(ctx); err != nil {
		logging.L(ctx).Warn("failed to refresh session activity", "error", err)
	}
	return check
}

// analyze runs the fraud check, converting a panic into an error so the
// failure policy applies to it as well.
func (a *Authorizer) analyze(ctx context.Context, req Request) (score fraud.RiskScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("authorize: fraud check panicked: %v", r)
		}
	}()
	return a.fraud.Analyze(ctx, fraud.Request{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		MerchantID:    req.MerchantID,
		Location:      req.Location,
	})
}

func (a *Authorizer) failurePolicy(ctx context.Context) (policy fraud.FailurePolicy) {
	if a.policy != "" {
		return a.policy
	}
	defer func() {
		if r := recover(); r != nil {
			policy = fraud.DefaultConfig().FailurePolicy
		}
	}()
	return a.fraud.Config(ctx).FailurePolicy
}

func challenge(ctx context.Context, ch authn.Challenger) authn.Result {
	if ch == nil {
		return authn.Result{Method: authn.MethodNone, Outcome: authn.OutcomeFailed, Err: authn.ErrNoAuthMethod}
	}
	return ch.Challenge(ctx, authn.ReasonPayment)
}

func authReason(err error) string {
	switch {
	case errors.Is(err, authn.ErrPINLockedOut):
		return ReasonPINLockedOut
	case errors.Is(err, authn.ErrChallengeCancelled), errors.Is(err, authn.ErrChallengeTimeout):
		return ReasonAuthCancelled
	default:
		return ReasonAuthFailed
	}
}
