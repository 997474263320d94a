// Package balance moves the authoritative points and coins-earned balances.
// Every movement is journaled with the running balance after it; the cached
// profile balances derive from the journal.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/confquest/confquest/internal/app/economy"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
)

// MaxGrant caps the magnitude of a single grant.
const MaxGrant int64 = 100_000

// Store is the journal and profile side of the authoritative store.
type Store interface {
	domain.BalanceStore
	Profile(ctx context.Context, userID string) (domain.Profile, error)
	Journal(ctx context.Context, userID string, field domain.BalanceField, limit int) ([]domain.JournalEntry, error)

	// IncrementConversion applies a conversion grant only while all of the
	// user's conversions stay covered by coins earned at the given rate.
	IncrementConversion(ctx context.Context, g domain.Grant, ratio, pointsPerUnit int64) (domain.JournalEntry, bool, error)
}

// conversionRef prefixes the refs of coin-to-point conversion grants.
const conversionRef = "conversion:"

// Auditor inspects applied movements.
type Auditor interface {
	Observe(e domain.JournalEntry)
}

// Service manages user balances.
type Service struct {
	store   Store
	feed    domain.Publisher
	auditor Auditor
	rate    economy.ConversionRate
	now     func() time.Time
	log     *slog.Logger
}

// NewService creates a balance service.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		rate:  economy.DefaultConversionRate(),
		now:   time.Now,
		log:   slog.With("component", "balance"),
	}
}

// SetConversionRate sets the rate conversion grants are checked against.
func (s *Service) SetConversionRate(r economy.ConversionRate) { s.rate = r }

// SetPublisher sets the change-feed publisher.
func (s *Service) SetPublisher(p domain.Publisher) { s.feed = p }

// SetAuditor sets the auditor told about every applied movement.
func (s *Service) SetAuditor(a Auditor) { s.auditor = a }

// Balance returns the user's cached balances.
func (s *Service) Balance(ctx context.Context, userID string) (domain.Profile, error) {
	if userID == "" {
		return domain.Profile{}, fmt.Errorf("%w: balance without user", domain.ErrInvalidInput)
	}
	return s.store.Profile(ctx, userID)
}

// Grant applies g. A ref seen before returns the original entry with
// applied=false and moves nothing.
func (s *Service) Grant(ctx context.Context, g domain.Grant) (domain.JournalEntry, bool, error) {
	if err := validate(g); err != nil {
		return domain.JournalEntry{}, false, err
	}

	var (
		entry   domain.JournalEntry
		applied bool
		err     error
	)
	if isConversion(g) {
		entry, applied, err = s.store.IncrementConversion(ctx, g, s.rate.Ratio, s.rate.PointsPerUnit)
	} else {
		entry, applied, err = s.store.IncrementBalance(ctx, g)
	}
	if err != nil {
		return domain.JournalEntry{}, false, fmt.Errorf("grant %s to %s: %w", g.Field, g.UserID, err)
	}

	result := "applied"
	if !applied {
		result = "duplicate"
	}
	metrics.Grants.WithLabelValues(string(g.Field), result).Inc()
	if !applied {
		return entry, false, nil
	}

	if s.auditor != nil {
		s.auditor.Observe(entry)
	}
	s.log.Debug("balance moved", "user", g.UserID, "field", g.Field, "delta", g.Delta, "balance", entry.Balance, "reason", g.Reason)
	if s.feed != nil {
		s.feed.Publish(domain.ChangeEvent{Type: domain.ChangeBalance, UserID: g.UserID, At: s.now()})
	}
	return entry, true, nil
}

// isConversion reports whether g claims points bought with coins.
func isConversion(g domain.Grant) bool {
	return strings.HasPrefix(g.Ref, conversionRef)
}

func validate(g domain.Grant) error {
	switch {
	case g.UserID == "":
		return fmt.Errorf("%w: grant without user", domain.ErrInvalidInput)
	case !g.Field.Valid():
		return fmt.Errorf("%w: unknown balance field %q", domain.ErrInvalidInput, g.Field)
	case g.Delta == 0:
		return fmt.Errorf("%w: grant amount must be non-zero", domain.ErrInvalidInput)
	case g.Delta > MaxGrant || g.Delta < -MaxGrant:
		return fmt.Errorf("%w: grant %d exceeds cap %d", domain.ErrInvalidInput, g.Delta, MaxGrant)
	case g.Field == domain.FieldCoinsEarned && g.Delta < 0:
		return fmt.Errorf("%w: coins earned never decreases", domain.ErrInvariantViolation)
	}
	return nil
}

// History returns recent journal entries for the field, newest first.
func (s *Service) History(ctx context.Context, userID string, field domain.BalanceField, limit int) ([]domain.JournalEntry, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("%w: unknown balance field %q", domain.ErrInvalidInput, field)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.Journal(ctx, userID, field, limit)
}
