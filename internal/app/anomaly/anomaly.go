// Package anomaly flags participants whose mirrored coin earnings are not
// physically reachable with the energy pool, or that spike far above their
// own history.
//
// The click reward is rolled on the client, so the server cannot verify it.
// What it can bound is the rate: a pool of MaxEnergy regenerating at
// RegenPerSecond affords only so many clicks, and a click pays at most
// 3 coins times the level multiplier. Flags are reported, never enforced.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/confquest/confquest/internal/app/economy"
	"github.com/confquest/confquest/internal/app/energy"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// SigmaThreshold is the number of standard deviations for a rate outlier.
	SigmaThreshold = 3.0

	// MinSamplesForProfile is how many mirrors before statistical checks kick in.
	MinSamplesForProfile = 5

	// MaxConsecutiveAnomalies before escalation.
	MaxConsecutiveAnomalies = 3

	// ProfileRetention is how long a profile survives without a mirror.
	ProfileRetention = 7 * 24 * time.Hour

	// MaxFlagged caps the retained flag list.
	MaxFlagged = 1000

	// maxBaseReward is the top of the 1..3 click roll.
	maxBaseReward = 3
)

// ─── Types ──────────────────────────────────────────────────────────────────

// Type identifies what kind of anomaly was detected.
type Type string

const (
	TypeNone           Type = ""
	TypeEarningCeiling Type = "earning_ceiling" // more coins than the pool allows
	TypeEarningSpike   Type = "earning_spike"   // rate far above the user's history
)

// Severity indicates how serious an anomaly is.
type Severity string

const (
	SevInfo     Severity = "info"
	SevWarning  Severity = "warning"
	SevCritical Severity = "critical"
)

// Event is one applied coins-earned mirror.
type Event struct {
	UserID string    `json:"user_id"`
	Delta  int64     `json:"delta"`
	Total  int64     `json:"total"` // coins earned after the mirror
	At     time.Time `json:"at"`
}

// Result is the outcome of analyzing an event.
type Result struct {
	IsAnomaly   bool      `json:"is_anomaly"`
	Type        Type      `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// Profile holds running statistics of a user's earning rate in coins per
// second, updated with Welford's online algorithm.
type Profile struct {
	UserID    string    `json:"user_id"`
	Count     int       `json:"count"`
	RateMean  float64   `json:"rate_mean"`
	RateM2    float64   `json:"rate_m2"`
	LastAt    time.Time `json:"last_at"`
	LastTotal int64     `json:"last_total"`

	ConsecutiveAnomalies int       `json:"consecutive_anomalies"`
	TotalAnomalies       int       `json:"total_anomalies"`
	LastAnomaly          time.Time `json:"last_anomaly,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// RateStddev returns the standard deviation of the earning rate.
func (p *Profile) RateStddev() float64 {
	if p.Count < 2 {
		return 0
	}
	return math.Sqrt(p.RateM2 / float64(p.Count-1))
}

// Stats provides an overview of the detector's state.
type Stats struct {
	Profiles       int `json:"profiles"`
	TotalAnomalies int `json:"total_anomalies"`
	Flagged        int `json:"flagged"`
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the detector.
type Config struct {
	Energy         energy.Config
	SigmaThreshold float64
	MinSamples     int
	MaxConsecutive int
	Retention      time.Duration
}

// DefaultConfig returns defaults for the given pool.
func DefaultConfig(pool energy.Config) Config {
	return Config{
		Energy:         pool,
		SigmaThreshold: SigmaThreshold,
		MinSamples:     MinSamplesForProfile,
		MaxConsecutive: MaxConsecutiveAnomalies,
		Retention:      ProfileRetention,
	}
}

// ─── Detector ───────────────────────────────────────────────────────────────

// Detector analyzes coin mirrors. Safe for concurrent use.
type Detector struct {
	mu       sync.RWMutex
	cfg      Config
	profiles map[string]*Profile
	flagged  []Result
	log      *slog.Logger

	now func() time.Time
}

// NewDetector creates a detector.
func NewDetector(cfg Config) *Detector {
	if cfg.SigmaThreshold <= 0 {
		cfg.SigmaThreshold = SigmaThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = MinSamplesForProfile
	}
	if cfg.MaxConsecutive <= 0 {
		cfg.MaxConsecutive = MaxConsecutiveAnomalies
	}
	if cfg.Retention <= 0 {
		cfg.Retention = ProfileRetention
	}
	return &Detector{
		cfg:      cfg,
		profiles: make(map[string]*Profile),
		log:      slog.With("component", "anomaly"),
		now:      time.Now,
	}
}

// SetNow overrides the clock.
func (d *Detector) SetNow(now func() time.Time) { d.now = now }

// Observe analyzes an applied journal entry. Only clicker mirrors are
// inspected; organizer grants and conversions pass through.
func (d *Detector) Observe(e domain.JournalEntry) {
	if e.Field != domain.FieldCoinsEarned || e.Delta <= 0 || !strings.HasPrefix(e.Ref, "coins:") {
		return
	}
	at := e.CreatedAt
	if at.IsZero() {
		at = d.now()
	}
	res := d.Analyze(Event{UserID: e.UserID, Delta: e.Delta, Total: e.Balance, At: at})
	if !res.IsAnomaly {
		return
	}
	metrics.Anomalies.WithLabelValues(string(res.Type), string(res.Severity)).Inc()
	d.log.Warn("earning anomaly", "user", res.UserID, "type", res.Type, "severity", res.Severity, "detail", res.Description)
}

// Ceiling returns the most coins a client can earn over elapsed, starting
// from a full pool, at the level reached with total coins earned.
func (d *Detector) Ceiling(elapsed time.Duration, total int64) int64 {
	e := d.cfg.Energy
	clicks := math.Floor((e.MaxEnergy + e.RegenPerSecond*elapsed.Seconds()) / e.Cost)
	lvl, _ := economy.AddExperience(domain.DefaultCoinsState(), total)
	perClick := math.Round(maxBaseReward * economy.Multiplier(lvl.NewLevel))
	return int64(clicks * perClick)
}

// Analyze checks an event and updates the user's profile.
func (d *Detector) Analyze(ev Event) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.profileLocked(ev.UserID, ev.At)
	res := Result{UserID: ev.UserID, Timestamp: ev.At}

	// The first mirror has no reference point.
	if p.LastAt.IsZero() {
		p.LastAt, p.LastTotal = ev.At, ev.Total
		return res
	}
	elapsed := ev.At.Sub(p.LastAt)
	if elapsed < time.Second {
		elapsed = time.Second
	}

	// Check 1: physically unreachable
	if limit := d.Ceiling(elapsed, ev.Total); ev.Delta > limit {
		res.IsAnomaly = true
		res.Type = TypeEarningCeiling
		res.Severity = SevCritical
		res.Description = fmt.Sprintf("%d coins in %s exceeds the pool ceiling of %d",
			ev.Delta, elapsed.Round(time.Second), limit)
	}

	// Check 2: rate outlier against the user's own history
	rate := float64(ev.Delta) / elapsed.Seconds()
	if !res.IsAnomaly && p.Count >= d.cfg.MinSamples {
		if sd := p.RateStddev(); sd > 0 {
			z := (rate - p.RateMean) / sd
			if z > d.cfg.SigmaThreshold {
				res.IsAnomaly = true
				res.Type = TypeEarningSpike
				res.Severity = SevWarning
				res.Description = fmt.Sprintf("rate %.2f coins/s is %.1fσ above mean %.2f (stddev=%.2f)",
					rate, z, p.RateMean, sd)
			}
		}
	}

	// Update profile (Welford's)
	p.Count++
	delta := rate - p.RateMean
	p.RateMean += delta / float64(p.Count)
	p.RateM2 += delta * (rate - p.RateMean)
	p.LastAt, p.LastTotal = ev.At, ev.Total

	if res.IsAnomaly {
		p.ConsecutiveAnomalies++
		p.TotalAnomalies++
		p.LastAnomaly = ev.At
		if p.ConsecutiveAnomalies >= d.cfg.MaxConsecutive {
			res.Severity = SevCritical
			res.Description += fmt.Sprintf(" [escalated: %d consecutive]", p.ConsecutiveAnomalies)
		}
		d.flagged = append(d.flagged, res)
		if len(d.flagged) > MaxFlagged {
			d.flagged = d.flagged[len(d.flagged)-MaxFlagged:]
		}
	} else {
		p.ConsecutiveAnomalies = 0
	}
	return res
}

func (d *Detector) profileLocked(userID string, at time.Time) *Profile {
	if p, ok := d.profiles[userID]; ok {
		return p
	}
	p := &Profile{UserID: userID, CreatedAt: at}
	d.profiles[userID] = p
	return p
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Flagged returns retained anomalies, oldest first.
func (d *Detector) Flagged() []Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Result, len(d.flagged))
	copy(out, d.flagged)
	return out
}

// Profile returns a copy of the user's profile.
func (d *Detector) Profile(userID string) (Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// Stats returns aggregate detector counts.
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := Stats{Profiles: len(d.profiles), Flagged: len(d.flagged)}
	for _, p := range d.profiles {
		s.TotalAnomalies += p.TotalAnomalies
	}
	return s
}

// CleanupStale removes profiles without a mirror within the retention window.
func (d *Detector) CleanupStale() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.cfg.Retention)
	removed := 0
	for id, p := range d.profiles {
		if p.LastAt.Before(cutoff) {
			delete(d.profiles, id)
			removed++
		}
	}
	return removed
}

// Run prunes stale profiles every interval until ctx ends.
func (d *Detector) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := d.CleanupStale(); n > 0 {
				d.log.Debug("pruned stale profiles", "count", n)
			}
		}
	}
}
