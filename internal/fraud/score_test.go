package fraud

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/device"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func usd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func attemptAt(id string, amount int64, at time.Time) Attempt {
	return Attempt{
		TransactionID: id,
		Amount:        usd(amount),
		Timestamp:     at,
		Fingerprint:   device.Fingerprint{DeviceID: "dev-1", BuildID: "b1", SystemVersion: "17.1"},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func hasReason(rs RiskScore, prefix string) bool {
	for _, r := range rs.Reasons {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func burstHistory() []Attempt {
	return []Attempt{
		attemptAt("txn_1", 150, t0.Add(-4*time.Minute)),
		attemptAt("txn_2", 150, t0.Add(-3*time.Minute)),
		attemptAt("txn_3", 150, t0.Add(-2*time.Minute)),
	}
}

func TestScore_BurstVelocity(t *testing.T) {
	cfg := DefaultConfig()
	current := attemptAt("txn_4", 150, t0)

	rs := Score(cfg, current, burstHistory(), nil, nil)

	if !hasReason(rs, "Exceeded burst_protection transaction limit: 4/3") {
		t.Errorf("missing burst count reason: %v", rs.Reasons)
	}
	if !hasReason(rs, "Exceeded burst_protection amount limit") {
		t.Errorf("missing burst amount reason: %v", rs.Reasons)
	}
	if !hasReason(rs, "Exceeded hourly amount limit") {
		t.Errorf("missing hourly amount reason: %v", rs.Reasons)
	}
	// burst count 10 + burst amount 25 (capped) + hourly amount 4
	if !approx(rs.Score, 39) {
		t.Fatalf("score = %v, want 39", rs.Score)
	}
	if rs.Level != LevelLow {
		t.Errorf("velocity alone should stay LOW, got %s", rs.Level)
	}
}

func TestScore_BurstWithDeviceSignalsEscalates(t *testing.T) {
	cfg := DefaultConfig()

	emulated := attemptAt("txn_4", 150, t0)
	emulated.Fingerprint.IsEmulator = true
	rs := Score(cfg, emulated, burstHistory(), nil, nil)
	if !approx(rs.Score, 74) || rs.Level != LevelMedium || !rs.RequireAdditionalAuth || rs.ShouldBlock {
		t.Fatalf("emulator + burst: got %+v", rs)
	}

	prev := device.Fingerprint{DeviceID: "dev-1", BuildID: "b0", SystemVersion: "17.0"}
	rs = Score(cfg, emulated, burstHistory(), &prev, nil)
	if !approx(rs.Score, 99) || rs.Level != LevelCritical || !rs.ShouldBlock {
		t.Fatalf("emulator + drift + burst: got %+v", rs)
	}
}

func TestScore_CountsCurrentAttemptOnce(t *testing.T) {
	cfg := DefaultConfig()
	current := attemptAt("txn_4", 150, t0)
	withSelf := append(burstHistory(), current)

	a := Score(cfg, current, burstHistory(), nil, nil)
	b := Score(cfg, current, withSelf, nil, nil)
	if !approx(a.Score, b.Score) {
		t.Fatalf("score changed when history contains the attempt: %v vs %v", a.Score, b.Score)
	}
}

func TestScore_OutsideWindowIgnored(t *testing.T) {
	cfg := DefaultConfig()
	old := []Attempt{
		attemptAt("txn_1", 150, t0.Add(-10*time.Minute)),
		attemptAt("txn_2", 150, t0.Add(-9*time.Minute)),
		attemptAt("txn_3", 150, t0.Add(-8*time.Minute)),
	}
	rs := Score(cfg, attemptAt("txn_4", 50, t0), old, nil, nil)
	if hasReason(rs, "Exceeded burst_protection") {
		t.Fatalf("attempts outside the burst window counted: %v", rs.Reasons)
	}
}

func TestScore_BlockedDeviceShortCircuits(t *testing.T) {
	cfg := DefaultConfig()
	current := attemptAt("txn_1", 10, t0)
	current.Fingerprint.IsEmulator = true

	rs := Score(cfg, current, burstHistory(), nil, NewBlockedSet("dev-1"))
	if rs.Score != 100 || !rs.ShouldBlock || rs.Level != LevelCritical {
		t.Fatalf("blocked device: got %+v", rs)
	}
	if len(rs.Reasons) != 1 {
		t.Fatalf("blocked device should short-circuit, reasons = %v", rs.Reasons)
	}
}

func TestScore_Location(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocationRules = append(cfg.LocationRules, LocationRule{Name: "sanctions", Enabled: true, BlockedCountries: []string{"KP"}})

	nyc := &Geolocation{Latitude: 40.7128, Longitude: -74.0060, Country: "US"}
	la := &Geolocation{Latitude: 34.0522, Longitude: -118.2437, Country: "US"}

	tests := []struct {
		name    string
		loc     *Geolocation
		prior   []Attempt
		want    float64
		wantMsg string
	}{
		{name: "no location", loc: nil, want: 0},
		{name: "allowed country", loc: nyc, want: 0},
		{name: "country unknown", loc: &Geolocation{Latitude: 1, Longitude: 1}, want: 0},
		{name: "unlisted country", loc: &Geolocation{Country: "BR"}, want: 30, wantMsg: "Transaction from non-allowed country: BR"},
		{name: "blocked and unlisted", loc: &Geolocation{Country: "KP"}, want: 80, wantMsg: "Transaction from blocked country: KP"},
		{
			name: "impossible travel",
			loc:  la,
			prior: []Attempt{func() Attempt {
				a := attemptAt("txn_prev", 5, t0.Add(-10*time.Minute))
				a.Location = nyc
				return a
			}()},
			want:    40,
			wantMsg: "Impossible travel",
		},
		{
			name: "plausible travel",
			loc:  la,
			prior: []Attempt{func() Attempt {
				a := attemptAt("txn_prev", 5, t0.Add(-8*time.Hour))
				a.Location = nyc
				return a
			}()},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := attemptAt("txn_now", 5, t0)
			current.Location = tt.loc
			rs := Score(cfg, current, tt.prior, nil, nil)
			if !approx(rs.Score, tt.want) {
				t.Fatalf("score = %v, want %v (%v)", rs.Score, tt.want, rs.Reasons)
			}
			if tt.wantMsg != "" && !hasReason(rs, tt.wantMsg) {
				t.Errorf("missing reason %q in %v", tt.wantMsg, rs.Reasons)
			}
		})
	}
}

func TestScore_ClampedAndMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockThreshold = 100
	cfg.StepUpThreshold = 100

	base := attemptAt("txn_x", 150, t0)
	prev := device.Fingerprint{DeviceID: "other"}

	var history []Attempt
	for i := 0; i < 20; i++ {
		history = append(history, attemptAt("h"+string(rune('a'+i)), 400, t0.Add(-time.Duration(i)*time.Second)))
	}

	steps := []func(*Attempt, *[]Attempt, **device.Fingerprint){
		func(*Attempt, *[]Attempt, **device.Fingerprint) {},
		func(a *Attempt, _ *[]Attempt, _ **device.Fingerprint) { a.Fingerprint.IsEmulator = true },
		func(_ *Attempt, _ *[]Attempt, p **device.Fingerprint) { *p = &prev },
		func(a *Attempt, _ *[]Attempt, _ **device.Fingerprint) { a.Location = &Geolocation{Country: "BR"} },
		func(_ *Attempt, h *[]Attempt, _ **device.Fingerprint) { *h = history },
	}

	a := base
	var h []Attempt
	var p *device.Fingerprint
	last := -1.0
	for i, step := range steps {
		step(&a, &h, &p)
		rs := Score(cfg, a, h, p, nil)
		if rs.Score < 0 || rs.Score > 100 {
			t.Fatalf("step %d: score %v outside [0,100]", i, rs.Score)
		}
		if rs.Score < last {
			t.Fatalf("step %d: adding a signal lowered the score from %v to %v", i, last, rs.Score)
		}
		last = rs.Score
	}
	if last != 100 {
		t.Fatalf("expected all signals to saturate at 100, got %v", last)
	}
}

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		score  float64
		level  Level
		block  bool
		stepUp bool
	}{
		{0, LevelLow, false, false},
		{59.9, LevelLow, false, false},
		{60, LevelMedium, false, true},
		{74.9, LevelMedium, false, true},
		{75, LevelHigh, false, true},
		{84.9, LevelHigh, false, true},
		{85, LevelCritical, true, false},
		{140, LevelCritical, true, false},
	}
	for _, tt := range tests {
		rs := classify(cfg, tt.score, nil)
		if rs.Level != tt.level || rs.ShouldBlock != tt.block || rs.RequireAdditionalAuth != tt.stepUp {
			t.Errorf("classify(%v) = %+v", tt.score, rs)
		}
		if rs.Score > 100 {
			t.Errorf("classify(%v) not clamped: %v", tt.score, rs.Score)
		}
	}
}

func TestDistance(t *testing.T) {
	nyc := Geolocation{Latitude: 40.7128, Longitude: -74.0060}
	la := Geolocation{Latitude: 34.0522, Longitude: -118.2437}
	d := Distance(nyc, la)
	if d < 2400 || d > 2500 {
		t.Fatalf("NYC-LA distance = %.1f miles, want ~2445", d)
	}
	if Distance(nyc, nyc) != 0 {
		t.Error("distance to self should be 0")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultConfig()
	bad.StepUpThreshold = 90
	if err := bad.Validate(); err == nil {
		t.Error("expected error for step-up above block")
	}
	bad = DefaultConfig()
	bad.FailurePolicy = "ignore"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown policy")
	}
}
