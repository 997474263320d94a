// Package ledger is the single place that grants task rewards.
//
// A reward is granted if and only if no completion row satisfying the kind's
// uniqueness predicate exists. The predicate is enforced by the store's
// conditional insert; the cooldown check and the in-process lock in front of
// it only shorten the path for repeated taps.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/confquest/confquest/internal/app/cooldown"
	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
	"github.com/confquest/confquest/internal/retry"
)

// Status is the terminal result of a completion attempt.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusAlreadyCompleted Status = "already_completed"
	StatusRejected         Status = "rejected"
)

// Attempt describes a finished remote action (post, upload, form) to record.
type Attempt struct {
	UserID   string          `json:"user_id"`
	Kind     domain.TaskKind `json:"task_kind"`
	Metadata domain.Metadata `json:"metadata"`
	At       time.Time       `json:"at,omitempty"` // zero means now
}

// Outcome is returned for every expected result. Only transient failures
// after retries and invariant violations are errors.
type Outcome struct {
	Status        Status            `json:"status"`
	Completion    domain.Completion `json:"completion,omitempty"` // new row, or the row that already satisfied the predicate
	PointsAwarded int64             `json:"points_awarded"`
	Reason        string            `json:"reason,omitempty"`
	RetryAt       time.Time         `json:"retry_at,omitempty"`
}

// Config configures the ledger.
type Config struct {
	Points PointsTable
	Retry  retry.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Points: DefaultPoints(), Retry: retry.DefaultConfig()}
}

// Ledger records completions and their point deltas.
type Ledger struct {
	store    domain.LedgerStore
	cooldown *cooldown.Service
	win      timewindow.Window
	cfg      Config
	locks    *keyedMutex
	notifier domain.Notifier
	feed     domain.Publisher
	newID    func() string
	log      *slog.Logger
}

// New creates a ledger over store. cd supplies the clock, the time window and
// calendar eligibility.
func New(store domain.LedgerStore, cd *cooldown.Service, cfg Config) *Ledger {
	if cfg.Points == nil {
		cfg.Points = DefaultPoints()
	}
	return &Ledger{
		store:    store,
		cooldown: cd,
		win:      cd.Window(),
		cfg:      cfg,
		locks:    newKeyedMutex(),
		notifier: nopNotifier{},
		feed:     nopPublisher{},
		newID:    uuid.NewString,
		log:      slog.With("component", "ledger"),
	}
}

// SetNotifier sets the user notification sink.
func (l *Ledger) SetNotifier(n domain.Notifier) {
	if n != nil {
		l.notifier = n
	}
}

// SetPublisher sets the change-feed publisher.
func (l *Ledger) SetPublisher(p domain.Publisher) {
	if p != nil {
		l.feed = p
	}
}

// ─── Award ──────────────────────────────────────────────────────────────────

// TryComplete records a rewarded completion unless the kind's predicate is
// already satisfied.
func (l *Ledger) TryComplete(ctx context.Context, a Attempt) (Outcome, error) {
	if a.UserID == "" {
		return Outcome{}, fmt.Errorf("%w: completion without user", domain.ErrInvalidInput)
	}
	if !a.Kind.Valid() {
		return Outcome{}, fmt.Errorf("%w: unknown task kind %q", domain.ErrInvalidInput, a.Kind)
	}
	at := a.At
	if at.IsZero() {
		at = l.cooldown.Now()
	}
	day := l.win.DayKey(at)

	key, err := domain.UniqueKey(a.Kind, a.Metadata, day)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return l.rejected(ctx, a, rejectReason(a.Kind), time.Time{}), nil
		}
		return Outcome{}, err
	}

	if a.Kind.Policy() == domain.PolicyCalendar {
		if out, stop, err := l.checkCalendar(ctx, a, at); err != nil || stop {
			return out, err
		}
	}

	unlock := l.locks.Lock(a.UserID + "|" + key)
	defer unlock()

	c := domain.Completion{
		ID:            l.newID(),
		UserID:        a.UserID,
		Kind:          a.Kind,
		PointsAwarded: l.cfg.Points.For(a.Kind),
		Metadata:      a.Metadata,
		UniqueKey:     key,
		Day:           day,
		CompletedAt:   at,
	}

	stored, inserted, err := l.award(ctx, c)
	if errors.Is(err, domain.ErrAlreadyCompleted) {
		// Stores without a conditional insert surface the unique constraint.
		stored, inserted, err = c, false, nil
	}
	if err != nil {
		metrics.Completions.WithLabelValues(string(a.Kind), "failed").Inc()
		l.log.Error("completion not recorded", "user", a.UserID, "kind", a.Kind, "key", key, "error", err)
		l.notify(ctx, domain.Notification{
			Type:   domain.NotifyFailure,
			UserID: a.UserID,
			Title:  "Could not save your task",
			Body:   "Nothing was recorded. Please try again in a moment.",
		})
		return Outcome{}, fmt.Errorf("record %s: %w", a.Kind, err)
	}

	if !inserted {
		out := Outcome{
			Status:     StatusAlreadyCompleted,
			Completion: stored,
			Reason:     alreadyReason(stored),
			RetryAt:    l.resetAfter(stored),
		}
		metrics.Completions.WithLabelValues(string(a.Kind), string(out.Status)).Inc()
		l.notify(ctx, domain.Notification{
			Type:    domain.NotifyAlreadyDone,
			UserID:  a.UserID,
			Title:   "Already counted",
			Body:    out.Reason,
			RetryAt: out.RetryAt,
		})
		return out, nil
	}

	metrics.Completions.WithLabelValues(string(a.Kind), string(StatusCompleted)).Inc()
	metrics.PointsAwarded.WithLabelValues(string(a.Kind)).Add(float64(stored.PointsAwarded))
	l.log.Info("completion recorded", "user", a.UserID, "kind", a.Kind, "points", stored.PointsAwarded, "id", stored.ID)

	l.feed.Publish(domain.ChangeEvent{Type: domain.ChangeCompletion, UserID: a.UserID, At: at})
	if stored.PointsAwarded != 0 {
		l.feed.Publish(domain.ChangeEvent{Type: domain.ChangeBalance, UserID: a.UserID, At: at})
	}
	l.notify(ctx, domain.Notification{
		Type:   domain.NotifyAwarded,
		UserID: a.UserID,
		Title:  "Task completed",
		Body:   fmt.Sprintf("+%d points for %s", stored.PointsAwarded, humanKind(a.Kind)),
	})

	return Outcome{Status: StatusCompleted, Completion: stored, PointsAwarded: stored.PointsAwarded}, nil
}

// checkCalendar applies the weekday variant and daily cooldown. stop is true
// when out is final.
func (l *Ledger) checkCalendar(ctx context.Context, a Attempt, at time.Time) (out Outcome, stop bool, err error) {
	family := a.Kind.Family()
	if family == domain.FamilyGreetingQuote {
		want, ok := l.win.Variant(at).Kind()
		if !ok {
			return l.rejected(ctx, a, "the daily post is only available Monday to Friday", l.win.NextWeekdayStart(at)), true, nil
		}
		if want != a.Kind {
			return l.rejected(ctx, a, fmt.Sprintf("today's daily post is a %s", humanKind(want)), time.Time{}), true, nil
		}
	}

	w, err := retry.Value(ctx, l.cfg.Retry, "cooldown", func(ctx context.Context) (domain.CooldownWindow, error) {
		return l.cooldown.EvaluateAt(ctx, a.UserID, family, at)
	})
	if err != nil {
		// The store is the enforcement point; a failed fast path falls through to it.
		l.log.Warn("cooldown check skipped", "user", a.UserID, "family", family, "error", err)
		return Outcome{}, false, nil
	}
	if w.Eligible {
		return Outcome{}, false, nil
	}
	if w.LastKindActedOn != "" {
		out := Outcome{
			Status:  StatusAlreadyCompleted,
			Reason:  w.Reason,
			RetryAt: w.ResetAt,
		}
		metrics.Completions.WithLabelValues(string(a.Kind), string(out.Status)).Inc()
		l.notify(ctx, domain.Notification{
			Type:    domain.NotifyAlreadyDone,
			UserID:  a.UserID,
			Title:   "Already counted today",
			Body:    fmt.Sprintf("%s. Next chance in %s.", w.Reason, timewindow.FormatRemaining(w.Remaining)),
			RetryAt: w.ResetAt,
		})
		return out, true, nil
	}
	return l.rejected(ctx, a, w.Reason, w.ResetAt), true, nil
}

// award writes c and its point delta, retrying transient failures.
func (l *Ledger) award(ctx context.Context, c domain.Completion) (domain.Completion, bool, error) {
	if atomic, ok := l.store.(domain.AtomicLedger); ok {
		type result struct {
			c        domain.Completion
			inserted bool
		}
		r, err := retry.Value(ctx, l.cfg.Retry, "award", func(ctx context.Context) (result, error) {
			stored, inserted, err := atomic.AwardCompletion(ctx, c)
			return result{stored, inserted}, err
		})
		return r.c, r.inserted, err
	}
	return l.awardSplit(ctx, c)
}

// awardSplit inserts then increments. A failed increment leaves a marker the
// reconciler settles; the grant's ref keeps the settlement idempotent.
func (l *Ledger) awardSplit(ctx context.Context, c domain.Completion) (domain.Completion, bool, error) {
	var (
		stored   domain.Completion
		inserted bool
	)
	err := retry.Do(ctx, l.cfg.Retry, "insert_completion", func(ctx context.Context) error {
		var err error
		stored, inserted, err = l.store.InsertCompletionIfAbsent(ctx, c)
		return err
	})
	if err != nil || !inserted || stored.PointsAwarded == 0 {
		return stored, inserted, err
	}

	grant := domain.Grant{
		UserID: stored.UserID,
		Field:  domain.FieldPoints,
		Delta:  stored.PointsAwarded,
		Reason: "completion:" + string(stored.Kind),
		Ref:    "completion:" + stored.ID,
	}
	err = retry.Do(ctx, l.cfg.Retry, "increment", func(ctx context.Context) error {
		_, _, err := l.store.IncrementBalance(ctx, grant)
		return err
	})
	if err != nil {
		l.recordDiscrepancy(domain.DiscrepancyMissingIncrement, stored.ID, grant, err)
		return domain.Completion{}, false, err
	}
	return stored, true, nil
}

// ─── Reversal ───────────────────────────────────────────────────────────────

// Remove reverses an admin-deleted completion: it re-reads the stored row,
// debits exactly the points it awarded and deletes it. The predicate lock is
// held throughout so a concurrent award of the same predicate cannot slip in.
func (l *Ledger) Remove(ctx context.Context, completionID string) (domain.Completion, error) {
	c, err := retry.Value(ctx, l.cfg.Retry, "get_completion", func(ctx context.Context) (domain.Completion, error) {
		return l.store.GetCompletion(ctx, completionID)
	})
	if err != nil {
		return domain.Completion{}, err
	}

	lockKey := c.UserID + "|" + c.UniqueKey
	if c.UniqueKey == "" {
		lockKey = c.UserID + "|row:" + c.ID
	}
	unlock := l.locks.Lock(lockKey)
	defer unlock()

	var removed domain.Completion
	if atomic, ok := l.store.(domain.AtomicLedger); ok {
		removed, err = retry.Value(ctx, l.cfg.Retry, "reverse", func(ctx context.Context) (domain.Completion, error) {
			return atomic.ReverseCompletion(ctx, completionID)
		})
	} else {
		removed, err = l.removeSplit(ctx, completionID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			l.log.Error("reversal aborted", "id", completionID, "user", c.UserID, "error", err)
		}
		return domain.Completion{}, err
	}

	metrics.Reversals.WithLabelValues(string(removed.Kind)).Inc()
	l.log.Info("completion reversed", "id", removed.ID, "user", removed.UserID, "kind", removed.Kind, "points", removed.PointsAwarded)

	now := l.cooldown.Now()
	l.feed.Publish(domain.ChangeEvent{Type: domain.ChangeReversal, UserID: removed.UserID, At: now})
	if removed.PointsAwarded != 0 {
		l.feed.Publish(domain.ChangeEvent{Type: domain.ChangeBalance, UserID: removed.UserID, At: now})
	}
	l.notify(ctx, domain.Notification{
		Type:   domain.NotifyReversed,
		UserID: removed.UserID,
		Title:  "Task reversed",
		Body:   fmt.Sprintf("An organizer removed your %s (-%d points)", humanKind(removed.Kind), removed.PointsAwarded),
	})
	return removed, nil
}

func (l *Ledger) removeSplit(ctx context.Context, id string) (domain.Completion, error) {
	c, err := retry.Value(ctx, l.cfg.Retry, "get_completion", func(ctx context.Context) (domain.Completion, error) {
		return l.store.GetCompletion(ctx, id)
	})
	if err != nil {
		return domain.Completion{}, err
	}

	debit := c.PointsAwarded
	if debit != 0 {
		// A credit that never landed leaves nothing to take back; its
		// missing-increment marker lapses once the row is gone.
		credited, err := retry.Value(ctx, l.cfg.Retry, "journaled", func(ctx context.Context) (bool, error) {
			return l.store.Journaled(ctx, c.UserID, domain.FieldPoints, "completion:"+c.ID)
		})
		if err != nil {
			return domain.Completion{}, err
		}
		if !credited {
			l.log.Warn("reversing uncredited completion", "id", c.ID, "user", c.UserID, "points", debit)
			debit = 0
		}
	}
	if debit != 0 {
		grant := domain.Grant{
			UserID: c.UserID,
			Field:  domain.FieldPoints,
			Delta:  -debit,
			Reason: "reversal:" + string(c.Kind),
			Ref:    "reversal:" + c.ID,
		}
		if err := retry.Do(ctx, l.cfg.Retry, "increment", func(ctx context.Context) error {
			_, _, err := l.store.IncrementBalance(ctx, grant)
			return err
		}); err != nil {
			return domain.Completion{}, err
		}
	}

	err = retry.Do(ctx, l.cfg.Retry, "delete_completion", func(ctx context.Context) error {
		_, err := l.store.DeleteCompletion(ctx, id)
		return err
	})
	if err != nil {
		l.recordDiscrepancy(domain.DiscrepancyPendingDelete, c.ID, domain.Grant{
			UserID: c.UserID, Field: domain.FieldPoints, Delta: -debit, Ref: "reversal:" + c.ID,
		}, err)
		return domain.Completion{}, err
	}
	c.PointsAwarded = debit
	return c, nil
}

// ─── Re-posts / History ─────────────────────────────────────────────────────

// RecordRepost stores an unrewarded re-post of a first-time kind. It never
// conflicts and never moves a balance.
func (l *Ledger) RecordRepost(ctx context.Context, a Attempt) (domain.Completion, error) {
	if a.Kind.Policy() != domain.PolicyFirstTime {
		return domain.Completion{}, fmt.Errorf("%w: %s has no re-posts", domain.ErrInvalidInput, a.Kind)
	}
	at := a.At
	if at.IsZero() {
		at = l.cooldown.Now()
	}
	meta := a.Metadata
	meta.FirstTime = false

	c := domain.Completion{
		ID:          l.newID(),
		UserID:      a.UserID,
		Kind:        a.Kind,
		Metadata:    meta,
		Day:         l.win.DayKey(at),
		CompletedAt: at,
	}
	stored, err := retry.Value(ctx, l.cfg.Retry, "insert_completion", func(ctx context.Context) (domain.Completion, error) {
		stored, _, err := l.store.InsertCompletionIfAbsent(ctx, c)
		return stored, err
	})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("record re-post: %w", err)
	}
	metrics.Completions.WithLabelValues(string(a.Kind), "repost").Inc()
	l.feed.Publish(domain.ChangeEvent{Type: domain.ChangeCompletion, UserID: a.UserID, At: at})
	return stored, nil
}

// History lists a user's completions, newest first. Empty kinds means all.
func (l *Ledger) History(ctx context.Context, userID string, kinds []domain.TaskKind, since time.Time) ([]domain.Completion, error) {
	return retry.Value(ctx, l.cfg.Retry, "list_completions", func(ctx context.Context) ([]domain.Completion, error) {
		return l.store.ListCompletions(ctx, userID, kinds, since)
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (l *Ledger) rejected(ctx context.Context, a Attempt, reason string, retryAt time.Time) Outcome {
	metrics.Completions.WithLabelValues(string(a.Kind), string(StatusRejected)).Inc()
	body := reason
	if !retryAt.IsZero() {
		body = fmt.Sprintf("%s. Next chance in %s.", reason, timewindow.FormatRemaining(timewindow.Until(l.cooldown.Now(), retryAt)))
	}
	l.notify(ctx, domain.Notification{
		Type:    domain.NotifyRejected,
		UserID:  a.UserID,
		Title:   "Not available right now",
		Body:    body,
		RetryAt: retryAt,
	})
	return Outcome{Status: StatusRejected, Reason: reason, RetryAt: retryAt}
}

func (l *Ledger) recordDiscrepancy(kind domain.DiscrepancyKind, completionID string, g domain.Grant, cause error) {
	metrics.Discrepancies.WithLabelValues(string(kind)).Inc()
	d := domain.Discrepancy{
		Kind:         kind,
		CompletionID: completionID,
		Grant:        g,
		Error:        cause.Error(),
		CreatedAt:    l.cooldown.Now(),
	}
	// Detached from the caller's ctx: the marker must outlive a cancelled request.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.store.RecordDiscrepancy(ctx, d); err != nil {
		l.log.Error("discrepancy not persisted", "kind", kind, "completion", completionID,
			"user", g.UserID, "delta", g.Delta, "ref", g.Ref, "cause", cause, "error", err)
		return
	}
	l.log.Warn("discrepancy recorded", "kind", kind, "completion", completionID, "user", g.UserID, "cause", cause)
}

// resetAfter returns when the predicate satisfied by c frees up again.
func (l *Ledger) resetAfter(c domain.Completion) time.Time {
	if c.Kind.Policy() != domain.PolicyCalendar || c.CompletedAt.IsZero() {
		return time.Time{}
	}
	if c.Kind.Family() == domain.FamilyGreetingQuote {
		return l.win.NextWeekdayStart(c.CompletedAt)
	}
	return l.win.NextMidnight(c.CompletedAt)
}

func (l *Ledger) notify(ctx context.Context, n domain.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = l.cooldown.Now()
	}
	l.notifier.Notify(ctx, n)
}

func rejectReason(kind domain.TaskKind) string {
	switch kind.Policy() {
	case domain.PolicyFirstTime:
		return fmt.Sprintf("only the first %s earns points; record it as a re-post", humanKind(kind))
	case domain.PolicyUncapped:
		return fmt.Sprintf("%s needs a task id", humanKind(kind))
	default:
		return "this task cannot be rewarded"
	}
}

func alreadyReason(c domain.Completion) string {
	switch c.Kind.Policy() {
	case domain.PolicyCalendar:
		return fmt.Sprintf("%s already posted today", humanKind(c.Kind))
	case domain.PolicyFirstTime:
		return fmt.Sprintf("your first %s was already rewarded", humanKind(c.Kind))
	default:
		return fmt.Sprintf("this %s was already completed", humanKind(c.Kind))
	}
}

var kindNames = map[domain.TaskKind]string{
	domain.KindGreeting:         "greeting",
	domain.KindQuote:            "quote of the day",
	domain.KindTeamPhoto:        "team photo",
	domain.KindParticipantPhoto: "participant photo",
	domain.KindPracticeStory:    "practice story",
	domain.KindSlogan:           "slogan",
	domain.KindLikesGiven:       "likes task",
	domain.KindAchievement:      "achievement",
	domain.KindSurvey:           "survey",
	domain.KindFeedback:         "feedback form",
}

func humanKind(k domain.TaskKind) string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return string(k)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notification) {}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.ChangeEvent) {}
