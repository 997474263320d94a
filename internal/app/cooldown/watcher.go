package cooldown

import (
	"context"
	"log/slog"
	"time"

	"github.com/confquest/confquest/internal/domain"
)

const (
	// DefaultInterval is how often a watcher re-evaluates.
	DefaultInterval = 30 * time.Second
	// MaxInterval bounds how late a midnight flip may be observed.
	MaxInterval = 60 * time.Second
)

// Evaluator is satisfied by *Service.
type Evaluator interface {
	Evaluate(ctx context.Context, userID string, family domain.TaskFamily) (domain.CooldownWindow, error)
}

// Watcher re-evaluates one user's family on a fixed interval and reports the
// window whenever it changes. Remaining is recomputed by the caller from
// ResetAt, so a countdown alone is not a change.
type Watcher struct {
	eval     Evaluator
	userID   string
	family   domain.TaskFamily
	interval time.Duration
	onChange func(domain.CooldownWindow)
	poke     chan struct{}
}

// NewWatcher creates a watcher. interval is clamped to (0, MaxInterval].
func NewWatcher(eval Evaluator, userID string, family domain.TaskFamily, interval time.Duration, onChange func(domain.CooldownWindow)) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval > MaxInterval {
		interval = MaxInterval
	}
	return &Watcher{
		eval:     eval,
		userID:   userID,
		family:   family,
		interval: interval,
		onChange: onChange,
		poke:     make(chan struct{}, 1),
	}
}

// Poke requests an immediate re-evaluation (e.g. on a change-feed event).
func (w *Watcher) Poke() {
	select {
	case w.poke <- struct{}{}:
	default:
	}
}

// Run evaluates immediately, then on every tick or poke, until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		last domain.CooldownWindow
		seen bool
	)
	check := func() {
		cur, err := w.eval.Evaluate(ctx, w.userID, w.family)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("cooldown evaluation failed", "component", "cooldown",
					"user", w.userID, "family", w.family, "error", err)
			}
			return
		}
		if seen && sameWindow(last, cur) {
			return
		}
		last, seen = cur, true
		w.onChange(cur)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		case <-w.poke:
			check()
		}
	}
}

func sameWindow(a, b domain.CooldownWindow) bool {
	return a.Family == b.Family &&
		a.Eligible == b.Eligible &&
		a.ResetAt.Equal(b.ResetAt) &&
		a.ActiveVariant == b.ActiveVariant &&
		a.LastKindActedOn == b.LastKindActedOn
}
