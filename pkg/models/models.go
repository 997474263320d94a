// Package models holds the JSON bodies exchanged by the confquest HTTP API
// and its Go client.
package models

import (
	"time"

	"github.com/confquest/confquest/internal/app/anomaly"
	"github.com/confquest/confquest/internal/domain"
)

// InitDataHeader carries the Telegram Mini-App initData of the caller.
const InitDataHeader = "X-Telegram-Init-Data"

// InitDataQuery carries initData on stream requests, where browsers cannot
// set headers.
const InitDataQuery = "init_data"

// Error codes carried in ErrorBody.Type.
const (
	CodeInvalidInput       = "invalid_input"
	CodeNotFound           = "not_found"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeInFlight           = "in_flight"
	CodeAlreadyCompleted   = "already_completed"
	CodeRejected           = "rejected"
	CodeInsufficient       = "insufficient"
	CodeUnavailable        = "unavailable"
	CodeInvariantViolation = "invariant_violation"
	CodeInternal           = "internal"
)

// ErrorBody is the payload of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Reason  string    `json:"reason,omitempty"`
	RetryAt time.Time `json:"retry_at,omitempty"`
}

// CompleteRequest records a finished task. Repost stores an unrewarded
// re-post of a first-time kind. At is honored for organizers only.
type CompleteRequest struct {
	Kind     domain.TaskKind `json:"task_kind"`
	Metadata domain.Metadata `json:"metadata"`
	At       time.Time       `json:"at,omitempty"`
	Repost   bool            `json:"repost,omitempty"`
}

// GrantRequest moves a balance. Ref makes it idempotent.
type GrantRequest struct {
	Field  domain.BalanceField `json:"field"`
	Delta  int64               `json:"delta"`
	Reason string              `json:"reason"`
	Ref    string              `json:"ref,omitempty"`
}

// GrantResponse reports the journal entry and whether it was newly applied.
type GrantResponse struct {
	Entry   domain.JournalEntry `json:"entry"`
	Applied bool                `json:"applied"`
}

// LikeRequest sets the caller's membership in a target's liked-by set.
type LikeRequest struct {
	UserID string `json:"user_id"`
	Liked  bool   `json:"liked"`
}

// UserState is the polling view of a participant.
type UserState struct {
	Profile   domain.Profile                              `json:"profile"`
	Cooldowns map[domain.TaskFamily]domain.CooldownWindow `json:"cooldowns"`
	Recent    []domain.Completion                         `json:"recent"`
}

// AnomalyReport lists flagged earning rates for organizers.
type AnomalyReport struct {
	Stats   anomaly.Stats    `json:"stats"`
	Flagged []anomaly.Result `json:"flagged"`
}
