// Package authn implements the user-presence challenge that gates unlock
// and payment: biometric first, PIN as the fallback.
package authn

import (
	"context"
	"errors"
)

var (
	ErrChallengeCancelled = errors.New("authn: challenge cancelled")
	ErrChallengeTimeout   = errors.New("authn: challenge timed out")
	ErrNoAuthMethod       = errors.New("authn: no authentication method available")
	ErrPINNotSet          = errors.New("authn: PIN not set")
	ErrPINLockedOut       = errors.New("authn: PIN locked out")
	ErrIncorrectPIN       = errors.New("authn: incorrect PIN")
	ErrInvalidPINFormat   = errors.New("authn: invalid PIN format")
	ErrPINMismatch        = errors.New("authn: PIN confirmation does not match")
)

// Reason says why the user is being challenged.
type Reason string

const (
	ReasonPayment Reason = "payment"
	ReasonUnlock  Reason = "unlock"
)

// Method is the factor that decided a challenge.
type Method string

const (
	MethodNone      Method = "none"
	MethodBiometric Method = "biometric"
	MethodPIN       Method = "pin"
)

// Outcome is the overall result of a challenge.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeLockedOut Outcome = "locked_out"
)

// Result describes a finished challenge. Only Passed grants access; Err
// carries the sentinel explaining a failure so callers can route the user.
type Result struct {
	Passed            bool             `json:"passed"`
	Method            Method           `json:"method"`
	Outcome           Outcome          `json:"outcome"`
	Biometric         BiometricOutcome `json:"biometric,omitempty"`
	AttemptsRemaining int              `json:"attemptsRemaining,omitempty"`
	Err               error            `json:"-"`
}

// Challenger runs an authentication challenge.
type Challenger interface {
	Challenge(ctx context.Context, reason Reason) Result
}

// ChallengerFunc adapts a function to Challenger.
type ChallengerFunc func(ctx context.Context, reason Reason) Result

func (f ChallengerFunc) Challenge(ctx context.Context, reason Reason) Result { return f(ctx, reason) }

// Pass and Deny are fixed challengers, mostly for tests and for flows where
// the decision was made elsewhere.
var (
	Pass Challenger = ChallengerFunc(func(context.Context, Reason) Result {
		return Result{Passed: true, Method: MethodBiometric, Outcome: OutcomeSuccess, Biometric: BiometricSuccess}
	})
	Deny Challenger = ChallengerFunc(func(context.Context, Reason) Result {
		return Result{Method: MethodBiometric, Outcome: OutcomeCancelled, Biometric: BiometricUserCancelled, Err: ErrChallengeCancelled}
	})
)
