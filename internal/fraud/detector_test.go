package fraud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/device"
	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/securestore"
)

type stubIdentity struct {
	current  device.Fingerprint
	previous *device.Fingerprint
	err      error
}

func (s stubIdentity) Current(context.Context) (device.Fingerprint, error) { return s.current, s.err }
func (s stubIdentity) Previous(context.Context) (*device.Fingerprint, error) {
	return s.previous, s.err
}

type stubLocation struct {
	pos *Geolocation
	err error
}

func (s stubLocation) CurrentLocation(context.Context) (*Geolocation, error) { return s.pos, s.err }

type brokenStore struct{ *MemoryStore }

func (brokenStore) History(context.Context) ([]Attempt, error) {
	return nil, errors.New("disk unreadable")
}

func newDetector(store Store) *Detector {
	id := stubIdentity{current: device.Fingerprint{DeviceID: "dev-1", BuildID: "b1"}}
	return NewDetector(store, id, DefaultConfig(), logging.Discard()).WithClock(func() time.Time { return t0 })
}

func TestDetector_AnalyzeRecordsHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	d := newDetector(store)

	for i := 1; i <= 4; i++ {
		rs, err := d.Analyze(ctx, Request{TransactionID: fmt.Sprintf("txn_%d", i), Amount: usd(150)})
		if err != nil {
			t.Fatalf("Analyze %d: %v", i, err)
		}
		if i == 4 && !hasReason(rs, "Exceeded burst_protection transaction limit: 4/3") {
			t.Errorf("fourth attempt should trip the burst rule: %v", rs.Reasons)
		}
	}

	history, _ := d.History(ctx)
	if len(history) != 4 {
		t.Fatalf("expected 4 recorded attempts, got %d", len(history))
	}
	if history[0].Fingerprint.DeviceID != "dev-1" {
		t.Errorf("attempt not stamped with fingerprint: %+v", history[0].Fingerprint)
	}
}

func TestDetector_InvalidAmount(t *testing.T) {
	d := newDetector(NewMemoryStore(0))
	if _, err := d.Analyze(context.Background(), Request{TransactionID: "txn_1", Amount: decimal.Zero}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDetector_StoreFailureIsReported(t *testing.T) {
	d := newDetector(brokenStore{NewMemoryStore(0)})
	if _, err := d.Analyze(context.Background(), Request{TransactionID: "txn_1", Amount: usd(5)}); err == nil {
		t.Fatal("expected error when history is unreadable")
	}
}

func TestDetector_MissingSignalsDegrade(t *testing.T) {
	store := NewMemoryStore(0)
	d := NewDetector(store, stubIdentity{err: errors.New("no device info")}, DefaultConfig(), logging.Discard()).
		WithLocationProvider(stubLocation{err: errors.New("permission denied")})

	rs, err := d.Analyze(context.Background(), Request{TransactionID: "txn_1", Amount: usd(5)})
	if err != nil {
		t.Fatalf("missing optional signals must not fail scoring: %v", err)
	}
	if rs.Score != 0 || rs.Level != LevelLow {
		t.Fatalf("expected clean score, got %+v", rs)
	}
}

func TestDetector_UsesLocationProvider(t *testing.T) {
	d := newDetector(NewMemoryStore(0)).WithLocationProvider(stubLocation{pos: &Geolocation{Country: "BR"}})
	rs, err := d.Analyze(context.Background(), Request{TransactionID: "txn_1", Amount: usd(5)})
	if err != nil {
		t.Fatal(err)
	}
	if !hasReason(rs, "Transaction from non-allowed country: BR") {
		t.Fatalf("provider location not used: %v", rs.Reasons)
	}
}

func TestDetector_DisabledAndOverride(t *testing.T) {
	ctx := context.Background()
	d := newDetector(NewMemoryStore(0))

	if err := d.BlockDevice(ctx, "dev-1"); err != nil {
		t.Fatal(err)
	}
	rs, _ := d.Analyze(ctx, Request{TransactionID: "txn_1", Amount: usd(5)})
	if !rs.ShouldBlock {
		t.Fatalf("blocked device should be blocked: %+v", rs)
	}

	cfg := DefaultConfig()
	cfg.Enabled = false
	if err := d.UpdateConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	rs, _ = d.Analyze(ctx, Request{TransactionID: "txn_2", Amount: usd(5)})
	if rs.ShouldBlock || rs.Score != 0 {
		t.Fatalf("disabled detector should not score: %+v", rs)
	}

	bad := DefaultConfig()
	bad.BlockThreshold = 150
	if err := d.UpdateConfig(ctx, bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	if err := d.UnblockDevice(ctx, "dev-1"); err != nil {
		t.Fatal(err)
	}
	blocked, _ := d.BlockedDevices(ctx)
	if blocked.Has("dev-1") {
		t.Fatal("device still blocked after unblock")
	}
}

func TestSecureStore_ConcurrentAppendsNotDropped(t *testing.T) {
	ctx := context.Background()
	store := NewSecureStore(securestore.New(securestore.NewMemoryBackend(), "dev-1"), "pw", 0)
	d := newDetector(store)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := d.Analyze(ctx, Request{TransactionID: fmt.Sprintf("txn_%d", i), Amount: usd(1)}); err != nil {
				t.Errorf("Analyze: %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := store.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != n {
		t.Fatalf("expected %d attempts, got %d", n, len(history))
	}
}

func TestSecureStore_BoundedHistoryAndBlockList(t *testing.T) {
	ctx := context.Background()
	store := NewSecureStore(securestore.New(securestore.NewMemoryBackend(), "dev-1"), "pw", 5)

	for i := 0; i < 8; i++ {
		if err := store.AppendHistory(ctx, attemptAt(fmt.Sprintf("txn_%d", i), 1, t0)); err != nil {
			t.Fatal(err)
		}
	}
	history, _ := store.History(ctx)
	if len(history) != 5 || history[0].TransactionID != "txn_3" {
		t.Fatalf("expected last 5 attempts starting at txn_3, got %d starting %s", len(history), history[0].TransactionID)
	}

	_ = store.BlockDevice(ctx, "a")
	_ = store.BlockDevice(ctx, "a")
	_ = store.BlockDevice(ctx, "b")
	_ = store.UnblockDevice(ctx, "a")
	blocked, _ := store.BlockedDevices(ctx)
	if len(blocked) != 1 || !blocked.Has("b") {
		t.Fatalf("unexpected block list %v", blocked)
	}

	if cfg, err := store.ConfigOverride(ctx); err != nil || cfg != nil {
		t.Fatalf("expected no override, got %v, %v", cfg, err)
	}
	cfg := DefaultConfig()
	cfg.FailurePolicy = FailClosed
	_ = store.SaveConfig(ctx, cfg)
	got, err := store.ConfigOverride(ctx)
	if err != nil || got == nil || got.FailurePolicy != FailClosed {
		t.Fatalf("override not persisted: %v, %v", got, err)
	}
	if got.VelocityRules[0].Window != time.Hour {
		t.Errorf("rule window lost in round trip: %v", got.VelocityRules[0].Window)
	}
}

type flakyInfo struct {
	fp    device.Fingerprint
	calls int
}

func (f *flakyInfo) Fingerprint(context.Context) (device.Fingerprint, error) {
	f.calls++
	if f.calls == 1 {
		return device.Fingerprint{}, errors.New("device info not ready")
	}
	return f.fp, nil
}

func TestDetector_BlockedDeviceSeenAfterFingerprintRecovers(t *testing.T) {
	ctx := context.Background()
	ss := securestore.New(securestore.NewMemoryBackend(), "dev")
	id := device.NewIdentity(&flakyInfo{fp: device.Fingerprint{DeviceID: "stolen-phone"}}, ss, "pw", logging.Discard())
	d := NewDetector(NewMemoryStore(0), id, DefaultConfig(), logging.Discard()).WithClock(func() time.Time { return t0 })

	if err := d.BlockDevice(ctx, "stolen-phone"); err != nil {
		t.Fatal(err)
	}

	rs, err := d.Analyze(ctx, Request{TransactionID: "txn_1", Amount: usd(5)})
	if err != nil {
		t.Fatal(err)
	}
	if rs.ShouldBlock {
		t.Fatalf("no fingerprint yet, nothing to match: %+v", rs)
	}

	rs, err = d.Analyze(ctx, Request{TransactionID: "txn_2", Amount: usd(5)})
	if err != nil {
		t.Fatal(err)
	}
	if rs.Score != 100 || !rs.ShouldBlock {
		t.Fatalf("blocked device must be caught once the fingerprint is readable: %+v", rs)
	}
}
