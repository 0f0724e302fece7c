package fraud

import (
	"fmt"
	"math"
	"slices"

	"github.com/mbd888/tiptap/internal/device"
)

const (
	pointsBlockedDevice  = 100
	pointsEmulator       = 35
	pointsDrift          = 25
	pointsBlockedCountry = 50
	pointsUnlisted       = 30
	pointsTravel         = 40
	maxCountPoints       = 30
	maxAmountPoints      = 25
)

// Score computes the risk score of attempt against history, the
// fingerprint persisted by the previous launch and the blocked devices.
// history may include attempt itself; it is counted once. Missing optional
// inputs make the dependent rule contribute nothing.
func Score(cfg Config, attempt Attempt, history []Attempt, previous *device.Fingerprint, blocked BlockedSet) RiskScore {
	if cfg.FingerprintEnabled && blocked.Has(attempt.Fingerprint.DeviceID) {
		return classify(cfg, pointsBlockedDevice, []string{"Transaction from blocked device"})
	}

	prior := make([]Attempt, 0, len(history))
	for _, h := range history {
		if h.TransactionID != attempt.TransactionID {
			prior = append(prior, h)
		}
	}

	var total float64
	var reasons []string
	add := func(points float64, reason string) {
		if points <= 0 {
			return
		}
		total += points
		reasons = append(reasons, reason)
	}

	for _, rule := range cfg.VelocityRules {
		if rule.Enabled {
			velocity(rule, attempt, prior, add)
		}
	}

	if cfg.LocationEnabled && attempt.Location != nil {
		for _, rule := range cfg.LocationRules {
			if rule.Enabled {
				location(rule, attempt, prior, add)
			}
		}
	}

	if cfg.FingerprintEnabled {
		if attempt.Fingerprint.IsEmulator {
			add(pointsEmulator, "Transaction from emulated device")
		}
		if previous != nil {
			if changed := device.Drift(*previous, attempt.Fingerprint); len(changed) > 0 {
				add(pointsDrift, "Device fingerprint inconsistency detected")
			}
		}
	}

	return classify(cfg, total, reasons)
}

func velocity(rule VelocityRule, attempt Attempt, prior []Attempt, add func(float64, string)) {
	cutoff := attempt.Timestamp.Add(-rule.Window)
	count := 1
	sum := attempt.Amount
	for _, h := range prior {
		if !h.Timestamp.Before(cutoff) && !h.Timestamp.After(attempt.Timestamp) {
			count++
			sum = sum.Add(h.Amount)
		}
	}

	if count > rule.MaxCount {
		excess := count - rule.MaxCount
		add(math.Min(maxCountPoints, float64(excess*10)),
			fmt.Sprintf("Exceeded %s transaction limit: %d/%d", rule.Name, count, rule.MaxCount))
	}
	if sum.GreaterThan(rule.MaxAmount) {
		ratio, _ := sum.Sub(rule.MaxAmount).Div(rule.MaxAmount).Float64()
		add(math.Min(maxAmountPoints, ratio*20),
			fmt.Sprintf("Exceeded %s amount limit: %s/%s", rule.Name, sum.StringFixed(2), rule.MaxAmount.StringFixed(2)))
	}
}

func location(rule LocationRule, attempt Attempt, prior []Attempt, add func(float64, string)) {
	loc := attempt.Location

	if country := loc.Country; country != "" {
		switch {
		case slices.Contains(rule.BlockedCountries, country):
			add(pointsBlockedCountry, "Transaction from blocked country: "+country)
		case len(rule.AllowedCountries) > 0 && !slices.Contains(rule.AllowedCountries, country):
			add(pointsUnlisted, "Transaction from non-allowed country: "+country)
		}
	}

	if rule.MaxDistanceMiles <= 0 {
		return
	}
	prev := lastLocated(prior, attempt)
	if prev == nil {
		return
	}
	distance := Distance(*prev.Location, *loc)
	elapsed := attempt.Timestamp.Sub(prev.Timestamp)
	if distance > rule.MaxDistanceMiles && elapsed < rule.MinElapsed {
		add(pointsTravel, fmt.Sprintf("Impossible travel: %.0f miles in %.0f minutes", distance, elapsed.Minutes()))
	}
}

// lastLocated returns the most recent geolocated attempt not after current.
func lastLocated(prior []Attempt, current Attempt) *Attempt {
	var best *Attempt
	for i := range prior {
		h := &prior[i]
		if h.Location == nil || h.Timestamp.After(current.Timestamp) {
			continue
		}
		if best == nil || h.Timestamp.After(best.Timestamp) {
			best = h
		}
	}
	return best
}

// Distance is the haversine great-circle distance in miles.
func Distance(a, b Geolocation) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	lat1, lat2 := toRad(a.Latitude), toRad(b.Latitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	return EarthRadiusMiles * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func classify(cfg Config, score float64, reasons []string) RiskScore {
	score = math.Max(0, math.Min(100, score))
	rs := RiskScore{Score: score, Level: LevelLow, Reasons: reasons}
	if rs.Reasons == nil {
		rs.Reasons = []string{}
	}
	switch {
	case score >= cfg.BlockThreshold:
		rs.Level = LevelCritical
		rs.ShouldBlock = true
	case score >= cfg.StepUpThreshold:
		rs.Level = LevelMedium
		if score >= HighLevelScore {
			rs.Level = LevelHigh
		}
		rs.RequireAdditionalAuth = true
	}
	return rs
}
