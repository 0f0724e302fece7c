package authn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/metrics"
)

// DefaultChallengeTimeout bounds how long a challenge may wait on the user.
const DefaultChallengeTimeout = 60 * time.Second

// PINPrompter asks the user for a PIN. ok is false when the user dismissed
// the prompt.
type PINPrompter interface {
	PromptPIN(ctx context.Context, reason Reason) (pin string, ok bool, err error)
}

// StaticPIN answers a prompt with a PIN collected up front. An empty value
// behaves as a dismissed prompt.
type StaticPIN string

func (s StaticPIN) PromptPIN(context.Context, Reason) (string, bool, error) {
	return string(s), s != "", nil
}

// Gate runs biometric-then-PIN challenges.
type Gate struct {
	biometric Biometric
	prompter  PINPrompter
	pins      *PINAuthenticator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewGate creates a gate. biometric and prompter may be nil; a gate with
// neither fails every challenge.
func NewGate(biometric Biometric, prompter PINPrompter, pins *PINAuthenticator, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		biometric: biometric,
		prompter:  prompter,
		pins:      pins,
		timeout:   DefaultChallengeTimeout,
		logger:    logger,
	}
}

// WithTimeout sets the challenge deadline. Zero disables it.
func (g *Gate) WithTimeout(d time.Duration) *Gate {
	g.timeout = d
	return g
}

// With returns a copy of the gate bound to different capabilities, sharing
// the PIN authenticator.
func (g *Gate) With(biometric Biometric, prompter PINPrompter) *Gate {
	c := *g
	c.biometric = biometric
	c.prompter = prompter
	return &c
}

// PINs returns the PIN authenticator behind the gate.
func (g *Gate) PINs() *PINAuthenticator { return g.pins }

// Challenge asks the user to prove presence. A biometric cancel ends the
// challenge without offering the PIN; a fallback request, an unavailable
// sensor or a sensor lockout moves on to a single PIN attempt.
func (g *Gate) Challenge(ctx context.Context, reason Reason) Result {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	res := g.challenge(ctx, reason)
	metrics.ChallengesTotal.WithLabelValues(string(reason), string(res.Method), string(res.Outcome)).Inc()
	logging.L(ctx).Info("authentication challenge",
		"reason", reason,
		"method", res.Method,
		"outcome", res.Outcome,
		"biometric", res.Biometric,
	)
	return res
}

func (g *Gate) challenge(ctx context.Context, reason Reason) Result {
	bio := g.tryBiometric(ctx, reason)
	if r, done := timedOut(ctx, MethodBiometric, bio); done {
		return r
	}
	switch bio {
	case BiometricSuccess:
		return Result{Passed: true, Method: MethodBiometric, Outcome: OutcomeSuccess, Biometric: bio}
	case BiometricUserCancelled:
		return Result{Method: MethodBiometric, Outcome: OutcomeCancelled, Biometric: bio, Err: ErrChallengeCancelled}
	}

	res := g.tryPIN(ctx, reason)
	res.Biometric = bio
	return res
}

func (g *Gate) tryBiometric(ctx context.Context, reason Reason) BiometricOutcome {
	if g.biometric == nil {
		return BiometricUnavailable
	}
	avail, err := g.biometric.CheckAvailability(ctx)
	if err != nil {
		g.logger.Warn("biometric availability check failed", "error", err)
		return BiometricUnavailable
	}
	if !avail.Available {
		return BiometricUnavailable
	}
	outcome, err := g.biometric.Authenticate(ctx, PromptFor(reason))
	if err != nil {
		g.logger.Warn("biometric authentication errored", "error", err)
		return BiometricUnavailable
	}
	return outcome
}

func (g *Gate) tryPIN(ctx context.Context, reason Reason) Result {
	fail := func(outcome Outcome, err error) Result {
		return Result{Method: MethodPIN, Outcome: outcome, Err: err}
	}
	if g.pins == nil || g.prompter == nil {
		return Result{Method: MethodNone, Outcome: OutcomeFailed, Err: ErrNoAuthMethod}
	}

	status, err := g.pins.Status(ctx)
	if err != nil {
		return fail(OutcomeFailed, err)
	}
	if !status.Set {
		return Result{Method: MethodNone, Outcome: OutcomeFailed, Err: ErrPINNotSet}
	}
	if status.LockedUntil != nil {
		return fail(OutcomeLockedOut, ErrPINLockedOut)
	}

	pin, ok, err := g.prompter.PromptPIN(ctx, reason)
	if r, done := timedOut(ctx, MethodPIN, ""); done {
		return r
	}
	if err != nil {
		return fail(OutcomeFailed, err)
	}
	if !ok {
		return fail(OutcomeCancelled, ErrChallengeCancelled)
	}

	v, err := g.pins.Validate(ctx, pin)
	switch {
	case errors.Is(err, ErrPINLockedOut):
		return fail(OutcomeLockedOut, err)
	case err != nil:
		return fail(OutcomeFailed, err)
	case v.Valid:
		return Result{Passed: true, Method: MethodPIN, Outcome: OutcomeSuccess}
	case v.LockedUntil != nil:
		return fail(OutcomeLockedOut, ErrPINLockedOut)
	default:
		r := fail(OutcomeFailed, ErrIncorrectPIN)
		r.AttemptsRemaining = v.AttemptsRemaining
		return r
	}
}

// timedOut converts an expired challenge deadline into a cancellation.
func timedOut(ctx context.Context, method Method, bio BiometricOutcome) (Result, bool) {
	if ctx.Err() == nil {
		return Result{}, false
	}
	err := ErrChallengeCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ErrChallengeTimeout
	}
	return Result{Method: method, Outcome: OutcomeCancelled, Biometric: bio, Err: err}, true
}
