// Package domain holds economy state: energy, coins, levels, balances and likes.
// Local snapshots are caches of the remote truth; they are never the basis of an award.
package domain

import "time"

// ─── Energy ─────────────────────────────────────────────────────────────────

// EnergyState is a persisted snapshot; regeneration is recomputed from
// LastUpdateAt on every read, never ticked.
type EnergyState struct {
	Amount       float64   `json:"amount"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// ─── Coins / Levels ─────────────────────────────────────────────────────────

// CoinsState is the clicker-game wallet.
// Coins is spendable; TotalCoinsEarned never decreases and is mirrored remotely.
type CoinsState struct {
	Coins            int64 `json:"coins"`
	TotalCoinsEarned int64 `json:"total_coins_earned"`
	Level            int   `json:"level"`
	Experience       int64 `json:"experience"`
}

// DefaultCoinsState is the state of a brand-new player.
func DefaultCoinsState() CoinsState {
	return CoinsState{Level: 1}
}

// ─── Balances ───────────────────────────────────────────────────────────────

// BalanceField names a remotely-held balance.
type BalanceField string

const (
	FieldPoints      BalanceField = "points"
	FieldCoinsEarned BalanceField = "coins_earned"
)

// Valid reports whether f is a known field.
func (f BalanceField) Valid() bool {
	return f == FieldPoints || f == FieldCoinsEarned
}

// Grant is a request to move a remote balance by Delta.
// Ref makes the grant idempotent per (user, field); empty Ref is never deduplicated.
type Grant struct {
	UserID string       `json:"user_id"`
	Field  BalanceField `json:"field"`
	Delta  int64        `json:"delta"`
	Reason string       `json:"reason"`
	Ref    string       `json:"ref,omitempty"`
}

// JournalEntry records one balance movement and the balance after it.
type JournalEntry struct {
	ID        int64        `json:"id"`
	UserID    string       `json:"user_id"`
	Field     BalanceField `json:"field"`
	Delta     int64        `json:"delta"`
	Balance   int64        `json:"balance"`
	Reason    string       `json:"reason"`
	Ref       string       `json:"ref,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Profile holds the cached authoritative balances of a user.
type Profile struct {
	UserID      string    `json:"user_id"`
	Points      int64     `json:"points"`
	CoinsEarned int64     `json:"coins_earned"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DiscrepancyKind says which half of a two-step mutation is missing.
type DiscrepancyKind string

const (
	DiscrepancyMissingIncrement DiscrepancyKind = "missing_increment"
	DiscrepancyPendingDelete    DiscrepancyKind = "pending_delete"
)

// Discrepancy marks a ledger row whose matching balance mutation could not be
// confirmed. The reconciler settles it; it is never silently dropped.
type Discrepancy struct {
	ID           int64           `json:"id"`
	Kind         DiscrepancyKind `json:"kind"`
	CompletionID string          `json:"completion_id"`
	Grant        Grant           `json:"grant"`
	Error        string          `json:"error"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ─── Cooldowns ──────────────────────────────────────────────────────────────

// Variant is the weekday-dependent semantic kind of the daily post.
type Variant string

const (
	VariantNone     Variant = "none"
	VariantGreeting Variant = "greeting"
	VariantQuote    Variant = "quote"
)

// Kind maps a variant onto the task kind it is recorded as.
func (v Variant) Kind() (TaskKind, bool) {
	switch v {
	case VariantGreeting:
		return KindGreeting, true
	case VariantQuote:
		return KindQuote, true
	default:
		return "", false
	}
}

// CooldownWindow is derived on every evaluation; it is never persisted.
type CooldownWindow struct {
	Family          TaskFamily    `json:"family"`
	Eligible        bool          `json:"eligible"`
	ResetAt         time.Time     `json:"reset_at,omitempty"`
	Remaining       time.Duration `json:"remaining"`
	ActiveVariant   Variant       `json:"active_variant"`
	LastKindActedOn TaskKind      `json:"last_kind_acted_on,omitempty"`
	Reason          string        `json:"reason,omitempty"`
}

// ─── Likes ──────────────────────────────────────────────────────────────────

// LikeState is the authoritative like status of a target as seen by one user.
type LikeState struct {
	TargetID string `json:"target_id"`
	Liked    bool   `json:"liked"`
	Count    int64  `json:"count"`
}

// EngagementEntry is a speculative like override. It masks round-trip
// latency only and must never be treated as authoritative.
type EngagementEntry struct {
	TargetID  string    `json:"target_id"`
	Liked     bool      `json:"liked"`
	Count     int64     `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry outlived its retention window.
func (e EngagementEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ─── Notifications / Change feed ────────────────────────────────────────────

// NotificationType categorizes notifications.
type NotificationType string

const (
	NotifyAwarded      NotificationType = "awarded"
	NotifyAlreadyDone  NotificationType = "already_done"
	NotifyRejected     NotificationType = "rejected"
	NotifyReversed     NotificationType = "reversed"
	NotifyLevelUp      NotificationType = "level_up"
	NotifyConverted    NotificationType = "converted"
	NotifyFailure      NotificationType = "failure"
	NotifyLikeRollback NotificationType = "like_rollback"
	NotifyReminder     NotificationType = "reminder"
)

// Promotional reports whether the notification is optional and subject to
// quiet hours and the daily cap. Outcome notices always go out.
func (t NotificationType) Promotional() bool {
	return t == NotifyReminder
}

// Notification is a one-way user-facing message.
type Notification struct {
	Type      NotificationType `json:"type"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	RetryAt   time.Time        `json:"retry_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ChangeType categorizes change-feed events.
type ChangeType string

const (
	ChangeCompletion ChangeType = "completion"
	ChangeReversal   ChangeType = "reversal"
	ChangeBalance    ChangeType = "balance"
	ChangeLike       ChangeType = "like"
)

// ChangeEvent tells subscribers which derived views to refresh.
type ChangeEvent struct {
	Type     ChangeType `json:"type"`
	UserID   string     `json:"user_id,omitempty"`
	TargetID string     `json:"target_id,omitempty"`
	At       time.Time  `json:"at"`
}
