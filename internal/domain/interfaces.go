package domain

import (
	"context"
	"time"
)

// ─── Collaborator Ports ─────────────────────────────────────────────────────
// Infrastructure implements them; the engine depends on them.

// LedgerStore is the remote point of truth for completions and balances.
type LedgerStore interface {
	BalanceStore

	// InsertCompletionIfAbsent inserts c unless a row with the same
	// (UserID, UniqueKey) exists. On conflict it returns the existing row
	// and inserted=false. Rows with an empty UniqueKey always insert.
	InsertCompletionIfAbsent(ctx context.Context, c Completion) (Completion, bool, error)

	// GetCompletion returns ErrCompletionNotFound if absent.
	GetCompletion(ctx context.Context, id string) (Completion, error)

	// DeleteCompletion removes the row and returns it.
	DeleteCompletion(ctx context.Context, id string) (Completion, error)

	// ListCompletions returns the user's completions of the given kinds at or
	// after since, newest first. A zero since means all time.
	ListCompletions(ctx context.Context, userID string, kinds []TaskKind, since time.Time) ([]Completion, error)

	// RecordDiscrepancy persists a reconciliation marker.
	RecordDiscrepancy(ctx context.Context, d Discrepancy) error

	// Journaled reports whether a grant with ref was applied to (user, field).
	Journaled(ctx context.Context, userID string, field BalanceField, ref string) (bool, error)
}

// AtomicLedger is implemented by stores that can tie a ledger row to its
// balance delta in a single transaction.
type AtomicLedger interface {
	// AwardCompletion inserts c if absent and credits c.PointsAwarded.
	AwardCompletion(ctx context.Context, c Completion) (Completion, bool, error)

	// ReverseCompletion re-reads the row, debits its points and deletes it.
	ReverseCompletion(ctx context.Context, id string) (Completion, error)
}

// BalanceStore moves remote balances.
type BalanceStore interface {
	// IncrementBalance applies g. When g.Ref was already applied it returns the
	// original entry and applied=false. A resulting negative balance fails with
	// ErrInvariantViolation and changes nothing.
	IncrementBalance(ctx context.Context, g Grant) (JournalEntry, bool, error)
}

// LikeStore holds the liked-by sets.
type LikeStore interface {
	LikeState(ctx context.Context, targetID, userID string) (LikeState, error)

	// SetLike adds or removes userID from the target's liked-by set on the
	// server's current set and returns the resulting state.
	SetLike(ctx context.Context, targetID, userID string, liked bool) (LikeState, error)
}

// KVStore is the local persistent key-value store for small JSON blobs.
// No transactional guarantees are assumed.
type KVStore interface {
	Get(key string, v any) (bool, error)
	Set(key string, v any) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// Notifier is the one-way notification sink.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Publisher emits change-feed events.
type Publisher interface {
	Publish(ev ChangeEvent)
}
