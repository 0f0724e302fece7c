package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/tiptap/internal/device"
	"github.com/mbd888/tiptap/internal/metrics"
)

// FingerprintSource yields this launch's fingerprint and the previous one.
// *device.Identity implements it.
type FingerprintSource interface {
	Current(ctx context.Context) (device.Fingerprint, error)
	Previous(ctx context.Context) (*device.Fingerprint, error)
}

// LocationProvider is the optional geolocation capability. A nil position
// with a nil error means no fix is available.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (*Geolocation, error)
}

// Request identifies the attempt to analyze. Location, when set, takes
// precedence over the LocationProvider.
type Request struct {
	TransactionID string
	Amount        decimal.Decimal
	MerchantID    string
	Location      *Geolocation
}

// Detector scores attempts and maintains the attempt history.
type Detector struct {
	store    Store
	identity FingerprintSource
	location LocationProvider
	defaults Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewDetector creates a Detector. defaults apply until a config override is
// saved.
func NewDetector(store Store, identity FingerprintSource, defaults Config, logger *slog.Logger) *Detector {
	return &Detector{
		store:    store,
		identity: identity,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// WithLocationProvider sets the geolocation capability.
func (d *Detector) WithLocationProvider(p LocationProvider) *Detector {
	d.location = p
	return d
}

// WithClock replaces the time source.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Config returns the active configuration.
func (d *Detector) Config(ctx context.Context) Config {
	override, err := d.store.ConfigOverride(ctx)
	if err != nil {
		d.logger.Warn("fraud config override unreadable, using defaults", "error", err)
		return d.defaults
	}
	if override == nil {
		return d.defaults
	}
	return *override
}

// UpdateConfig validates and persists a config override.
func (d *Detector) UpdateConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return d.store.SaveConfig(ctx, cfg)
}

// Analyze scores an attempt and appends it to the history. An error means
// the fraud subsystem itself failed (storage unreadable); the caller's
// failure policy decides what that means. Missing optional signals never
// produce an error.
func (d *Detector) Analyze(ctx context.Context, req Request) (RiskScore, error) {
	if !req.Amount.IsPositive() {
		return RiskScore{}, ErrInvalidAmount
	}
	cfg := d.Config(ctx)
	if !cfg.Enabled {
		return classify(cfg, 0, nil), nil
	}

	var (
		history  []Attempt
		blocked  BlockedSet
		current  device.Fingerprint
		previous *device.Fingerprint
		loc      = req.Location
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = d.store.History(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		blocked, err = d.store.BlockedDevices(gctx)
		return err
	})
	g.Go(func() error {
		fp, err := d.identity.Current(gctx)
		if err != nil {
			d.logger.Warn("device fingerprint unavailable", "error", err)
			return nil
		}
		current = fp
		if prev, err := d.identity.Previous(gctx); err == nil {
			previous = prev
		}
		return nil
	})
	if loc == nil && d.location != nil && cfg.LocationEnabled {
		g.Go(func() error {
			pos, err := d.location.CurrentLocation(gctx)
			if err != nil {
				d.logger.Debug("geolocation unavailable", "error", err)
				return nil
			}
			loc = pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RiskScore{}, fmt.Errorf("fraud: gather signals: %w", err)
	}

	attempt := Attempt{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Timestamp:     d.now(),
		MerchantID:    req.MerchantID,
		Fingerprint:   current,
		Location:      loc,
	}

	score := Score(cfg, attempt, history, previous, blocked)
	metrics.RiskScore.Observe(score.Score)

	if err := d.store.AppendHistory(ctx, attempt); err != nil {
		d.logger.Warn("failed to record attempt in fraud history",
			"transaction_id", req.TransactionID, "error", err)
	}

	if score.ShouldBlock || score.RequireAdditionalAuth {
		d.logger.Info("elevated fraud risk",
			"transaction_id", req.TransactionID,
			"score", score.Score,
			"level", score.Level,
			"reasons", score.Reasons,
		)
	}
	return score, nil
}

// BlockDevice adds deviceID to the blocked list.
func (d *Detector) BlockDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("fraud: device id required")
	}
	return d.store.BlockDevice(ctx, deviceID)
}

// UnblockDevice removes deviceID from the blocked list.
func (d *Detector) UnblockDevice(ctx context.Context, deviceID string) error {
	return d.store.UnblockDevice(ctx, deviceID)
}

// BlockedDevices returns the blocked device ids.
func (d *Detector) BlockedDevices(ctx context.Context) (BlockedSet, error) {
	return d.store.BlockedDevices(ctx)
}

// History returns the recorded attempts, oldest first.
func (d *Detector) History(ctx context.Context) ([]Attempt, error) {
	return d.store.History(ctx)
}
