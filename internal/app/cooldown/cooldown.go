// Package cooldown derives whether a user may act on a task family right now
// and how long until they may act again. Windows are recomputed from the
// ledger history and the wall clock on every call; nothing is persisted.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
)

// Evaluate computes the cooldown window of family at now from the user's
// completion history. Only rewarded rows count.
func Evaluate(win timewindow.Window, now time.Time, family domain.TaskFamily, history []domain.Completion) domain.CooldownWindow {
	w := domain.CooldownWindow{Family: family, ActiveVariant: domain.VariantNone}

	switch family.Policy() {
	case domain.PolicyCalendar:
		w = evaluateCalendar(win, now, family, history)
	case domain.PolicyFirstTime:
		w.Eligible = true
		for _, c := range history {
			if c.Rewarded() && c.Metadata.FirstTime && c.Kind.Family() == family {
				w.Eligible = false
				w.LastKindActedOn = c.Kind
				w.Reason = "the first post of this kind was already rewarded"
				break
			}
		}
	case domain.PolicyUncapped:
		// Capped per task instance, enforced by the ledger.
		w.Eligible = true
	default:
		w.Reason = fmt.Sprintf("unknown task family %q", family)
	}

	if !w.Eligible && !w.ResetAt.IsZero() {
		w.Remaining = timewindow.Until(now, w.ResetAt)
	}
	return w
}

func evaluateCalendar(win timewindow.Window, now time.Time, family domain.TaskFamily, history []domain.Completion) domain.CooldownWindow {
	w := domain.CooldownWindow{Family: family, ActiveVariant: domain.VariantNone}
	daily := family == domain.FamilyGreetingQuote
	if daily {
		w.ActiveVariant = win.Variant(now)
	}

	var last *domain.Completion
	for i := range history {
		c := &history[i]
		if !c.Rewarded() || c.Kind.Family() != family || !win.SameDay(c.CompletedAt, now) {
			continue
		}
		if last == nil || c.CompletedAt.After(last.CompletedAt) {
			last = c
		}
	}

	switch {
	case daily && w.ActiveVariant == domain.VariantNone:
		w.ResetAt = win.NextWeekdayStart(now)
		w.Reason = "the daily post is only available Monday to Friday"
		if last != nil {
			w.LastKindActedOn = last.Kind
		}
	case last != nil:
		w.LastKindActedOn = last.Kind
		w.ResetAt = win.NextMidnight(last.CompletedAt)
		if daily {
			w.ResetAt = win.NextWeekdayStart(last.CompletedAt)
		}
		w.Reason = fmt.Sprintf("%s already posted today", last.Kind)
	default:
		w.Eligible = true
	}
	return w
}

// ─── Service ────────────────────────────────────────────────────────────────

// HistoryReader is the slice of the ledger store the scheduler reads.
type HistoryReader interface {
	ListCompletions(ctx context.Context, userID string, kinds []domain.TaskKind, since time.Time) ([]domain.Completion, error)
}

// Service evaluates cooldowns against the ledger store.
type Service struct {
	store HistoryReader
	win   timewindow.Window
	clock timewindow.Clock
}

// NewService creates a cooldown service.
func NewService(store HistoryReader, win timewindow.Window, clock timewindow.Clock) *Service {
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	return &Service{store: store, win: win, clock: clock}
}

// Window returns the service's time window.
func (s *Service) Window() timewindow.Window { return s.win }

// In returns a service evaluating in another time window over the same store.
func (s *Service) In(win timewindow.Window) *Service {
	return &Service{store: s.store, win: win, clock: s.clock}
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Evaluate loads the relevant history for userID and evaluates family now.
func (s *Service) Evaluate(ctx context.Context, userID string, family domain.TaskFamily) (domain.CooldownWindow, error) {
	return s.EvaluateAt(ctx, userID, family, s.clock.Now())
}

// EvaluateAt is Evaluate at an explicit instant.
func (s *Service) EvaluateAt(ctx context.Context, userID string, family domain.TaskFamily, now time.Time) (domain.CooldownWindow, error) {
	kinds := family.Kinds()
	if len(kinds) == 0 {
		return domain.CooldownWindow{}, fmt.Errorf("%w: unknown task family %q", domain.ErrInvalidInput, family)
	}
	if family.Policy() == domain.PolicyUncapped {
		return Evaluate(s.win, now, family, nil), nil
	}

	var since time.Time
	if family.Policy() == domain.PolicyCalendar {
		since = s.win.StartOfDay(now)
	}
	history, err := s.store.ListCompletions(ctx, userID, kinds, since)
	if err != nil {
		return domain.CooldownWindow{}, fmt.Errorf("load history: %w", err)
	}
	return Evaluate(s.win, now, family, history), nil
}
