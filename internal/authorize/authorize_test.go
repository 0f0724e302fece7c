package authorize

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/device"
	"github.com/mbd888/tiptap/internal/fraud"
	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/session"
)

type stubSessions struct {
	s        session.Session
	ok       bool
	activity int
}

func (s *stubSessions) Current() (session.Session, bool) { return s.s, s.ok }
func (s *stubSessions) UpdateActivity(context.Context) error {
	s.activity++
	return nil
}

func activeSessions() *stubSessions {
	return &stubSessions{s: session.Session{ID: "sess_1", UserID: "u1", State: session.StateActive}, ok: true}
}

type stubFraud struct {
	score  fraud.RiskScore
	err    error
	panics bool
	policy fraud.FailurePolicy
}

func (f stubFraud) Analyze(context.Context, fraud.Request) (fraud.RiskScore, error) {
	if f.panics {
		panic("history decoder exploded")
	}
	return f.score, f.err
}

func (f stubFraud) Config(context.Context) fraud.Config {
	cfg := fraud.DefaultConfig()
	if f.policy != "" {
		cfg.FailurePolicy = f.policy
	}
	return cfg
}

type countingChallenger struct {
	res   authn.Result
	calls int
}

func (c *countingChallenger) Challenge(context.Context, authn.Reason) authn.Result {
	c.calls++
	return c.res
}

var (
	low  = fraud.RiskScore{Score: 10, Level: fraud.LevelLow}
	high = fraud.RiskScore{Score: 80, Level: fraud.LevelHigh, RequireAdditionalAuth: true,
		Reasons: []string{"Transaction from emulated device"}}
	blocked = fraud.RiskScore{Score: 100, Level: fraud.LevelCritical, ShouldBlock: true}
)

func req() Request {
	return Request{TransactionID: "txn_1", Amount: decimal.NewFromInt(20), MerchantID: "m1"}
}

func TestAuthorize_Approved(t *testing.T) {
	sessions := activeSessions()
	ch := &countingChallenger{res: authn.Result{Passed: true, Method: authn.MethodBiometric}}
	a := New(sessions, stubFraud{score: low}, ch, logging.Discard())

	c := a.Authorize(context.Background(), req())
	if !c.OverallApproved || !c.SessionValid || !c.FraudRiskAcceptable || !c.BiometricsPassed {
		t.Fatalf("expected approval, got %+v", c)
	}
	if c.AuthMethod != authn.MethodBiometric {
		t.Errorf("auth method = %q", c.AuthMethod)
	}
	if ch.calls != 1 {
		t.Errorf("expected 1 challenge, got %d", ch.calls)
	}
	if sessions.activity != 1 {
		t.Error("approval should refresh session activity")
	}
}

func TestAuthorize_InactiveSession(t *testing.T) {
	for _, state := range []session.State{session.StateLocked, session.StateEnded} {
		sessions := &stubSessions{s: session.Session{ID: "sess_1", State: state}, ok: true}
		ch := &countingChallenger{res: authn.Result{Passed: true}}
		c := New(sessions, stubFraud{score: low}, ch, logging.Discard()).Authorize(context.Background(), req())
		if c.OverallApproved || c.SessionValid || c.Reason != ReasonSessionInvalid {
			t.Fatalf("%s: expected session_invalid, got %+v", state, c)
		}
		if ch.calls != 0 {
			t.Errorf("%s: must not challenge without an active session", state)
		}
	}

	c := New(&stubSessions{}, stubFraud{score: low}, authn.Pass, logging.Discard()).Authorize(context.Background(), req())
	if c.Reason != ReasonSessionInvalid {
		t.Fatalf("missing session: got %+v", c)
	}
}

func TestAuthorize_FraudBlockSkipsChallenge(t *testing.T) {
	ch := &countingChallenger{res: authn.Result{Passed: true}}
	c := New(activeSessions(), stubFraud{score: blocked}, ch, logging.Discard()).Authorize(context.Background(), req())
	if c.OverallApproved || c.FraudRiskAcceptable || c.Reason != ReasonFraudBlocked {
		t.Fatalf("expected fraud_blocked, got %+v", c)
	}
	if ch.calls != 0 {
		t.Error("blocked payment must not prompt the user")
	}
}

func TestAuthorize_StepUpForcesChallenge(t *testing.T) {
	ch := &countingChallenger{res: authn.Result{Passed: true, Method: authn.MethodPIN}}
	a := New(activeSessions(), stubFraud{score: high}, ch, logging.Discard()).WithRequireAuth(false)

	c := a.Authorize(context.Background(), req())
	if !c.OverallApproved || !c.RequiresAdditionalAuth {
		t.Fatalf("expected stepped-up approval, got %+v", c)
	}
	if ch.calls != 1 {
		t.Fatalf("high risk must challenge even when auth is optional")
	}
	if len(c.Warnings) != 1 || c.Warnings[0] != "Transaction from emulated device" {
		t.Errorf("high-risk approval should carry reasons as warnings: %v", c.Warnings)
	}
}

func TestAuthorize_NoChallengeWhenOptionalAndLowRisk(t *testing.T) {
	ch := &countingChallenger{}
	c := New(activeSessions(), stubFraud{score: low}, ch, logging.Discard()).
		WithRequireAuth(false).
		Authorize(context.Background(), req())
	if !c.OverallApproved || !c.BiometricsPassed || ch.calls != 0 {
		t.Fatalf("expected approval without challenge, got %+v (calls %d)", c, ch.calls)
	}
}

func TestAuthorize_ChallengeFailures(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{authn.ErrChallengeCancelled, ReasonAuthCancelled},
		{authn.ErrChallengeTimeout, ReasonAuthCancelled},
		{authn.ErrPINLockedOut, ReasonPINLockedOut},
		{authn.ErrIncorrectPIN, ReasonAuthFailed},
		{nil, ReasonAuthFailed},
	}
	for _, tt := range tests {
		ch := &countingChallenger{res: authn.Result{Err: tt.err}}
		sessions := activeSessions()
		c := New(sessions, stubFraud{score: low}, ch, logging.Discard()).Authorize(context.Background(), req())
		if c.OverallApproved || c.BiometricsPassed || c.Reason != tt.want {
			t.Errorf("%v: got %+v, want reason %s", tt.err, c, tt.want)
		}
		if sessions.activity != 0 {
			t.Errorf("%v: denial must not refresh activity", tt.err)
		}
	}
}

func TestAuthorize_FailOpen(t *testing.T) {
	ch := &countingChallenger{res: authn.Result{Passed: true}}
	a := New(activeSessions(), stubFraud{err: errors.New("store unreadable")}, ch, logging.Discard())

	c := a.Authorize(context.Background(), req())
	if !c.OverallApproved || !c.FraudRiskAcceptable || !c.FraudCheckSkipped {
		t.Fatalf("fail-open should approve with the check skipped, got %+v", c)
	}
	if c.RiskScore != nil {
		t.Error("skipped check must not report a score")
	}
	if len(c.Warnings) == 0 || c.Warnings[0] != WarningFraudSkipped {
		t.Errorf("expected skip warning, got %v", c.Warnings)
	}
}

func TestAuthorize_FailOpenOnPanic(t *testing.T) {
	c := New(activeSessions(), stubFraud{panics: true}, authn.Pass, logging.Discard()).Authorize(context.Background(), req())
	if !c.OverallApproved || !c.FraudCheckSkipped {
		t.Fatalf("panic should be treated as a fraud failure, got %+v", c)
	}
}

func TestAuthorize_FailClosed(t *testing.T) {
	analyzer := stubFraud{err: errors.New("store unreadable"), policy: fraud.FailClosed}
	c := New(activeSessions(), analyzer, authn.Pass, logging.Discard()).Authorize(context.Background(), req())
	if c.OverallApproved || c.FraudRiskAcceptable || c.Reason != ReasonFraudUnavailable {
		t.Fatalf("fail-closed should deny, got %+v", c)
	}

	pinned := New(activeSessions(), stubFraud{err: errors.New("x")}, authn.Pass, logging.Discard()).
		WithFailurePolicy(fraud.FailClosed)
	if c := pinned.Authorize(context.Background(), req()); c.OverallApproved {
		t.Fatal("pinned fail-closed policy ignored")
	}
}

type unreadableHistory struct{ *fraud.MemoryStore }

func (unreadableHistory) History(context.Context) ([]fraud.Attempt, error) {
	return nil, errors.New("history blob unreadable")
}

type fixedDevice struct{}

func (fixedDevice) Current(context.Context) (device.Fingerprint, error) {
	return device.Fingerprint{DeviceID: "dev-1"}, nil
}
func (fixedDevice) Previous(context.Context) (*device.Fingerprint, error) { return nil, nil }

func TestAuthorize_FailurePolicyFollowsSavedConfig(t *testing.T) {
	ctx := context.Background()
	detector := fraud.NewDetector(unreadableHistory{fraud.NewMemoryStore(0)}, fixedDevice{}, fraud.DefaultConfig(), logging.Discard())
	a := New(activeSessions(), detector, authn.Pass, logging.Discard())

	if c := a.Authorize(ctx, req()); !c.OverallApproved || !c.FraudCheckSkipped {
		t.Fatalf("default fail-open should approve, got %+v", c)
	}

	cfg := detector.Config(ctx)
	cfg.FailurePolicy = fraud.FailClosed
	if err := detector.UpdateConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if c := a.Authorize(ctx, req()); c.OverallApproved || c.Reason != ReasonFraudUnavailable {
		t.Fatalf("saved fail-closed policy ignored, got %+v", c)
	}
}

func TestAuthorize_NonPositiveAmountDenied(t *testing.T) {
	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		ch := &countingChallenger{res: authn.Result{Passed: true}}
		analyzer := stubFraud{err: fraud.ErrInvalidAmount}
		r := req()
		r.Amount = amount

		c := New(activeSessions(), analyzer, ch, logging.Discard()).Authorize(context.Background(), r)
		if c.OverallApproved || c.FraudCheckSkipped || c.Reason != ReasonInvalidAmount {
			t.Fatalf("amount %s: expected invalid_amount denial even under fail-open, got %+v", amount, c)
		}
		if ch.calls != 0 {
			t.Errorf("amount %s: challenge ran for an invalid amount", amount)
		}
	}
}

func TestAuthorize_SessionLockedDuringChallenge(t *testing.T) {
	sessions := activeSessions()
	ch := authn.ChallengerFunc(func(context.Context, authn.Reason) authn.Result {
		sessions.s.State = session.StateLocked
		return authn.Result{Passed: true}
	})
	c := New(sessions, stubFraud{score: low}, ch, logging.Discard()).Authorize(context.Background(), req())
	if c.OverallApproved || c.Reason != ReasonSessionInvalid {
		t.Fatalf("expected session_invalid after lock, got %+v", c)
	}
}

func TestAuthorize_RequestChallengerOverrides(t *testing.T) {
	r := req()
	r.Challenger = authn.Pass
	c := New(activeSessions(), stubFraud{score: low}, authn.Deny, logging.Discard()).Authorize(context.Background(), r)
	if !c.OverallApproved {
		t.Fatalf("request challenger should be used, got %+v", c)
	}
}
