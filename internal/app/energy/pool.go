// Package energy implements the capped, continuously regenerating resource
// spent by the power-up clicker.
//
// Energy is never ticked: every read recomputes regeneration from the
// persisted (amount, lastUpdateAt) pair, so the value stays correct no matter
// how long the process was suspended.
package energy

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
)

// Config holds the pool constants.
type Config struct {
	MaxEnergy      float64 `toml:"max_energy"`       // cap
	RegenPerSecond float64 `toml:"regen_per_second"` // units regenerated per second
	Cost           float64 `toml:"cost"`             // deducted per click
}

// DefaultConfig returns the clicker defaults.
func DefaultConfig() Config {
	return Config{
		MaxEnergy:      100,
		RegenPerSecond: 0.1,
		Cost:           1,
	}
}

// Validate rejects configurations that would divide by zero or never afford a click.
func (c Config) Validate() error {
	if c.MaxEnergy <= 0 || c.RegenPerSecond <= 0 || c.Cost <= 0 || c.Cost > c.MaxEnergy {
		return fmt.Errorf("%w: energy config max=%v regen=%v cost=%v",
			domain.ErrInvalidInput, c.MaxEnergy, c.RegenPerSecond, c.Cost)
	}
	return nil
}

// Pool applies the regeneration and spend rules.
type Pool struct {
	cfg Config
}

// NewPool creates a pool.
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{cfg: cfg}, nil
}

// Config returns the pool constants.
func (p *Pool) Config() Config { return p.cfg }

// Full returns a full pool stamped at now.
func (p *Pool) Full(now time.Time) domain.EnergyState {
	return domain.EnergyState{Amount: p.cfg.MaxEnergy, LastUpdateAt: now}
}

// Regenerate credits the energy accrued between state.LastUpdateAt and now.
// Elapsed time is capped at the time needed to refill from empty, so an
// arbitrarily long absence costs O(1) and cannot overflow.
func (p *Pool) Regenerate(state domain.EnergyState, now time.Time) domain.EnergyState {
	elapsed := timewindow.Elapsed(state.LastUpdateAt, now).Seconds()
	elapsed = math.Min(elapsed, p.cfg.MaxEnergy/p.cfg.RegenPerSecond)

	amount := clamp(state.Amount, 0, p.cfg.MaxEnergy)
	amount = math.Min(amount+elapsed*p.cfg.RegenPerSecond, p.cfg.MaxEnergy)

	last := state.LastUpdateAt
	if now.After(last) {
		last = now
	}
	return domain.EnergyState{Amount: amount, LastUpdateAt: last}
}

// Spend regenerates to now and deducts one click's cost.
// When the pool holds less than the cost it returns the regenerated state
// unchanged and a Rejection wrapping domain.ErrInsufficientEnergy.
func (p *Pool) Spend(state domain.EnergyState, now time.Time) (domain.EnergyState, error) {
	cur := p.Regenerate(state, now)
	if cur.Amount < p.cfg.Cost {
		wait := p.TimeToAfford(cur, now)
		return cur, domain.Reject(domain.ErrInsufficientEnergy,
			fmt.Sprintf("%.0f of %.0f energy, recharging", math.Floor(cur.Amount), p.cfg.Cost),
			now.Add(wait))
	}
	cur.Amount = math.Max(cur.Amount-p.cfg.Cost, 0)
	return cur, nil
}

// TimeToAfford returns how long until the pool can pay for one click.
func (p *Pool) TimeToAfford(state domain.EnergyState, now time.Time) time.Duration {
	cur := p.Regenerate(state, now)
	missing := p.cfg.Cost - cur.Amount
	if missing <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(missing/p.cfg.RegenPerSecond*1000)) * time.Millisecond
}

// TimeToFull returns how long until the pool is at its cap.
func (p *Pool) TimeToFull(state domain.EnergyState, now time.Time) time.Duration {
	cur := p.Regenerate(state, now)
	missing := p.cfg.MaxEnergy - cur.Amount
	if missing <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(missing/p.cfg.RegenPerSecond*1000)) * time.Millisecond
}

// ─── Click Reward ───────────────────────────────────────────────────────────

// ClickReward rolls the coins earned by one click: a uniform 1..3 scaled by
// the level multiplier and rounded. The roll is deliberately non-reproducible
// in production; callers pass a seeded source in tests.
func ClickReward(rng *rand.Rand, multiplier float64) int64 {
	base := rng.Intn(3) + 1
	return int64(math.Round(float64(base) * multiplier))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
