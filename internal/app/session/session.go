// Package session owns one user's client-side economy state: the energy pool,
// the coin wallet and level, and the mirror of coins earned to the server.
//
// A Session is constructed explicitly per user and persisted through the
// injected key-value store: Open (load or default) → mutate → Snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confquest/confquest/internal/app/economy"
	"github.com/confquest/confquest/internal/app/energy"
	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
	"github.com/confquest/confquest/internal/retry"
)

// Config configures a session.
type Config struct {
	Energy           energy.Config
	Conversion       economy.ConversionRate
	DisplayInterval  time.Duration // UI refresh only; never the source of truth
	SnapshotInterval time.Duration
	Retry            retry.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Energy:           energy.DefaultConfig(),
		Conversion:       economy.DefaultConversionRate(),
		DisplayInterval:  time.Second,
		SnapshotInterval: 15 * time.Second,
		Retry:            retry.DefaultConfig(),
	}
}

// Deps are the collaborators of a session.
type Deps struct {
	KV       domain.KVStore
	Remote   domain.BalanceStore
	Clock    timewindow.Clock
	Rand     *rand.Rand // nil seeds from the clock
	Notifier domain.Notifier
}

// mirrorBatch is a coins-earned delta being sent to the server. Its ref is
// fixed when the batch is cut, so resending after a timeout cannot double-count.
type mirrorBatch struct {
	Ref   string `json:"ref"`
	Delta int64  `json:"delta"`
}

// conversionBatch is a conversion sent but not yet confirmed. It is resent
// with the same ref until the server answers, and its coins leave the wallet
// only then.
type conversionBatch struct {
	Ref        string             `json:"ref"`
	Conversion economy.Conversion `json:"conversion"`
}

// persisted is the snapshot stored in the key-value store.
type persisted struct {
	Energy     domain.EnergyState `json:"energy"`
	Coins      domain.CoinsState  `json:"coins"`
	Pending    int64              `json:"pending_mirror"`
	InFlight   *mirrorBatch       `json:"inflight_mirror,omitempty"`
	Conversion *conversionBatch   `json:"inflight_conversion,omitempty"`
}

// State is a read-only view for rendering.
type State struct {
	UserID        string             `json:"user_id"`
	Energy        domain.EnergyState `json:"energy"`
	MaxEnergy     float64            `json:"max_energy"`
	TimeToFull    time.Duration      `json:"time_to_full"`
	Coins         domain.CoinsState  `json:"coins"`
	Multiplier    float64            `json:"multiplier"`
	LevelProgress float64            `json:"level_progress"`
	Unmirrored    int64              `json:"unmirrored"`
	Converting    bool               `json:"converting"`
}

// ClickResult is the outcome of one clicker action.
type ClickResult struct {
	Reward  int64           `json:"reward"`
	LevelUp economy.LevelUp `json:"level_up"`
	State   State           `json:"state"`
}

// ConvertResult is the outcome of a confirmed conversion.
type ConvertResult struct {
	Conversion economy.Conversion  `json:"conversion"`
	Entry      domain.JournalEntry `json:"entry"`
	State      State               `json:"state"`
}

// Session is one user's economy state.
type Session struct {
	userID string
	cfg    Config
	pool   *energy.Pool
	deps   Deps
	log    *slog.Logger

	mu         sync.Mutex
	energy     domain.EnergyState
	coins      domain.CoinsState
	pending    int64
	inflight   *mirrorBatch
	conversion *conversionBatch
	converting bool
	mirroring  bool
	dirty      bool
}

func storeKey(userID string) string { return "session:" + userID }

// Open loads the user's snapshot, or starts from a full pool and level 1.
func Open(userID string, cfg Config, deps Deps) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: session without user", domain.ErrInvalidInput)
	}
	pool, err := energy.NewPool(cfg.Energy)
	if err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = timewindow.SystemClock{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Clock.Now().UnixNano()))
	}

	s := &Session{
		userID: userID,
		cfg:    cfg,
		pool:   pool,
		deps:   deps,
		log:    slog.With("component", "session", "user", userID),
		energy: pool.Full(deps.Clock.Now()),
		coins:  domain.DefaultCoinsState(),
	}

	if deps.KV != nil {
		var p persisted
		ok, err := deps.KV.Get(storeKey(userID), &p)
		if err != nil {
			// The snapshot is a cache; start fresh rather than refusing to open.
			s.log.Warn("discarding unreadable session snapshot", "error", err)
		} else if ok {
			s.energy = p.Energy
			s.coins = p.Coins
			if s.coins.Level < 1 {
				s.coins.Level = 1
			}
			s.pending = p.Pending
			s.inflight = p.InFlight
			s.conversion = p.Conversion
		}
	}
	return s, nil
}

// UserID returns the session's user.
func (s *Session) UserID() string { return s.userID }

// Energy returns the energy regenerated to now without mutating the session.
func (s *Session) Energy(now time.Time) domain.EnergyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Regenerate(s.energy, now)
}

// State returns a render view at the clock's now.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(s.deps.Clock.Now())
}

func (s *Session) stateLocked(now time.Time) State {
	e := s.pool.Regenerate(s.energy, now)
	unmirrored := s.pending
	if s.inflight != nil {
		unmirrored += s.inflight.Delta
	}
	return State{
		UserID:        s.userID,
		Energy:        e,
		MaxEnergy:     s.pool.Config().MaxEnergy,
		TimeToFull:    s.pool.TimeToFull(e, now),
		Coins:         s.coins,
		Multiplier:    economy.Multiplier(s.coins.Level),
		LevelProgress: economy.ProgressPct(s.coins),
		Unmirrored:    unmirrored,
		Converting:    s.converting,
	}
}

// ─── Click ──────────────────────────────────────────────────────────────────

// Click spends one click's energy and rolls the coin reward. The reward is
// also granted as experience and queued for mirroring to the server.
// Insufficient energy returns a Rejection wrapping domain.ErrInsufficientEnergy
// and changes nothing.
func (s *Session) Click(ctx context.Context) (ClickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Clock.Now()

	next, err := s.pool.Spend(s.energy, now)
	if err != nil {
		metrics.Clicks.WithLabelValues("insufficient_energy").Inc()
		return ClickResult{State: s.stateLocked(now)}, err
	}

	reward := energy.ClickReward(s.deps.Rand, economy.Multiplier(s.coins.Level))
	lu, err := economy.AddExperience(s.coins, reward)
	if err != nil {
		return ClickResult{State: s.stateLocked(now)}, err
	}

	s.energy = next
	s.coins = lu.State
	s.coins.Coins += reward
	s.coins.TotalCoinsEarned += reward
	s.pending += reward
	s.dirty = true
	lu.State = s.coins
	metrics.Clicks.WithLabelValues("ok").Inc()

	if lu.LeveledUp {
		s.log.Info("level up", "level", lu.NewLevel)
		s.notify(ctx, domain.Notification{
			Type:  domain.NotifyLevelUp,
			Title: fmt.Sprintf("Level %d!", lu.NewLevel),
			Body:  fmt.Sprintf("Clicks now earn x%.1f coins", economy.Multiplier(lu.NewLevel)),
		})
	}

	return ClickResult{Reward: reward, LevelUp: lu, State: s.stateLocked(now)}, nil
}

// ─── Conversion ─────────────────────────────────────────────────────────────

// Convert exchanges whole units of coins for points. At most one conversion
// runs at a time. Unmirrored coins are mirrored first so the server can check
// the conversion against coins earned. The conversion is persisted before it
// is sent; an unconfirmed one is resent with the same ref on the next call,
// and its coins are deducted once, after the server confirms.
func (s *Session) Convert(ctx context.Context) (ConvertResult, error) {
	s.mu.Lock()
	if s.converting {
		st := s.stateLocked(s.deps.Clock.Now())
		s.mu.Unlock()
		metrics.Conversions.WithLabelValues("in_flight").Inc()
		return ConvertResult{State: st}, domain.Reject(domain.ErrOperationInFlight, "a conversion is already running", time.Time{})
	}
	if s.conversion == nil {
		if conv, err := s.cfg.Conversion.Convert(s.coins.Coins); err != nil {
			st := s.stateLocked(s.deps.Clock.Now())
			s.mu.Unlock()
			if domain.IsInsufficientResource(err) {
				metrics.Conversions.WithLabelValues("below_threshold").Inc()
			}
			return ConvertResult{Conversion: conv, State: st}, err
		}
	}
	s.converting = true
	s.mu.Unlock()

	if err := s.Flush(ctx); err != nil {
		s.mu.Lock()
		s.converting = false
		st := s.stateLocked(s.deps.Clock.Now())
		s.mu.Unlock()
		metrics.Conversions.WithLabelValues("failed").Inc()
		return ConvertResult{State: st}, fmt.Errorf("convert: %w", err)
	}

	s.mu.Lock()
	if s.conversion == nil {
		conv, err := s.cfg.Conversion.Convert(s.coins.Coins)
		if err != nil {
			s.converting = false
			st := s.stateLocked(s.deps.Clock.Now())
			s.mu.Unlock()
			return ConvertResult{Conversion: conv, State: st}, err
		}
		s.conversion = &conversionBatch{Ref: "conversion:" + uuid.NewString(), Conversion: conv}
		s.dirty = true
		if err := s.snapshotLocked(); err != nil {
			s.log.Warn("snapshot before conversion", "error", err)
		}
	}
	batch := *s.conversion
	s.mu.Unlock()

	conv := batch.Conversion
	grant := domain.Grant{
		UserID: s.userID,
		Field:  domain.FieldPoints,
		Delta:  conv.PointsAwarded,
		Reason: fmt.Sprintf("conversion:%d coins", conv.CoinsSpent),
		Ref:    batch.Ref,
	}
	entry, err := retry.Value(ctx, s.cfg.Retry, "convert", func(ctx context.Context) (domain.JournalEntry, error) {
		e, _, err := s.deps.Remote.IncrementBalance(ctx, grant)
		return e, err
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.converting = false
	now := s.deps.Clock.Now()

	if err != nil {
		metrics.Conversions.WithLabelValues("failed").Inc()
		if refused(err) {
			// The server answered no; nothing was granted under this ref.
			s.conversion = nil
			s.dirty = true
		}
		if serr := s.snapshotLocked(); serr != nil {
			s.log.Warn("snapshot after failed conversion", "error", serr)
		}
		s.log.Warn("conversion not confirmed", "ref", grant.Ref, "kept", s.conversion != nil, "error", err)
		s.notify(ctx, domain.Notification{
			Type:  domain.NotifyFailure,
			Title: "Conversion failed",
			Body:  "Your coins were not spent. Please try again.",
		})
		return ConvertResult{State: s.stateLocked(now)}, fmt.Errorf("convert: %w", err)
	}

	// Clicks may have added coins meanwhile; only the converted units leave.
	s.coins.Coins -= conv.CoinsSpent
	s.conversion = nil
	s.dirty = true
	if err := s.snapshotLocked(); err != nil {
		s.log.Warn("snapshot after conversion", "error", err)
	}
	metrics.Conversions.WithLabelValues("ok").Inc()
	s.notify(ctx, domain.Notification{
		Type:  domain.NotifyConverted,
		Title: "Coins converted",
		Body:  fmt.Sprintf("%d coins → %d points", conv.CoinsSpent, conv.PointsAwarded),
	})

	conv.CoinsRemaining = s.coins.Coins
	return ConvertResult{Conversion: conv, Entry: entry, State: s.stateLocked(now)}, nil
}

// refused reports whether the server definitely declined a request, as
// opposed to an answer that may have been lost.
func refused(err error) bool {
	return domain.IsExpected(err) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrUnauthorized)
}

// ─── Mirror / Snapshot ──────────────────────────────────────────────────────

// Flush mirrors coins earned since the last confirmed mirror to the server's
// coins-earned balance. A failed batch is resent with the same ref.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.mirroring || s.deps.Remote == nil {
		s.mu.Unlock()
		return nil
	}
	if s.inflight == nil {
		if s.pending == 0 {
			s.mu.Unlock()
			return nil
		}
		s.inflight = &mirrorBatch{Ref: "coins:" + uuid.NewString(), Delta: s.pending}
		s.pending = 0
		s.dirty = true
	}
	batch := *s.inflight
	s.mirroring = true
	s.mu.Unlock()

	_, err := retry.Value(ctx, s.cfg.Retry, "mirror_coins", func(ctx context.Context) (domain.JournalEntry, error) {
		e, _, err := s.deps.Remote.IncrementBalance(ctx, domain.Grant{
			UserID: s.userID,
			Field:  domain.FieldCoinsEarned,
			Delta:  batch.Delta,
			Reason: "clicker",
			Ref:    batch.Ref,
		})
		return e, err
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirroring = false
	if err != nil {
		return fmt.Errorf("mirror coins earned: %w", err)
	}
	s.inflight = nil
	s.dirty = true
	return nil
}

// Snapshot persists the session if anything changed since the last snapshot.
func (s *Session) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() error {
	if s.deps.KV == nil || !s.dirty {
		return nil
	}
	p := persisted{
		Energy:     s.energy,
		Coins:      s.coins,
		Pending:    s.pending,
		InFlight:   s.inflight,
		Conversion: s.conversion,
	}
	if err := s.deps.KV.Set(storeKey(s.userID), p); err != nil {
		return fmt.Errorf("snapshot session: %w", err)
	}
	s.dirty = false
	return nil
}

// Run drives the display tick and the snapshot tick until ctx ends, then
// takes a final snapshot. onTick may be nil. All displayed values are derived
// from absolute timestamps, so pausing Run never drifts the state.
func (s *Session) Run(ctx context.Context, onTick func(State)) {
	display := time.NewTicker(orDefault(s.cfg.DisplayInterval, time.Second))
	defer display.Stop()
	snapshot := time.NewTicker(orDefault(s.cfg.SnapshotInterval, 15*time.Second))
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Flush(flushCtx); err != nil {
				s.log.Warn("final mirror failed", "error", err)
			}
			cancel()
			if err := s.Snapshot(); err != nil {
				s.log.Error("final snapshot failed", "error", err)
			}
			return
		case <-display.C:
			if onTick != nil {
				onTick(s.State())
			}
		case <-snapshot.C:
			if err := s.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("mirror failed, will retry", "error", err)
			}
			if err := s.Snapshot(); err != nil {
				s.log.Warn("snapshot failed", "error", err)
			}
		}
	}
}

func (s *Session) notify(ctx context.Context, n domain.Notification) {
	if s.deps.Notifier == nil {
		return
	}
	n.UserID = s.userID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.deps.Clock.Now()
	}
	s.deps.Notifier.Notify(ctx, n)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
