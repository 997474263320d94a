package domain

import (
	"errors"
	"fmt"
	"time"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Expected outcomes: returned as values, never escalated to the UI as failures.
	ErrAlreadyCompleted         = errors.New("already completed")
	ErrInsufficientEnergy       = errors.New("not enough energy")
	ErrBelowConversionThreshold = errors.New("not enough coins to convert")
	ErrOperationInFlight        = errors.New("operation already in progress")
	ErrRejected                 = errors.New("not eligible right now")

	// Input / lookup errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrCompletionNotFound = errors.New("completion not found")
	ErrNotFound           = errors.New("not found")

	// Caller identity
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Failures that propagate to the caller
	ErrTransient          = errors.New("store temporarily unavailable")
	ErrInvariantViolation = errors.New("invariant violation")
)

// IsInsufficientResource reports whether err means "not enough of something".
func IsInsufficientResource(err error) bool {
	return errors.Is(err, ErrInsufficientEnergy) || errors.Is(err, ErrBelowConversionThreshold)
}

// IsExpected reports whether err is an ordinary outcome the caller branches on.
func IsExpected(err error) bool {
	return errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrOperationInFlight) ||
		IsInsufficientResource(err)
}

// temporary matches errors that advertise themselves as retryable.
type temporary interface {
	Temporary() bool
}

// coder matches driver errors exposing a numeric result code (modernc sqlite).
type coder interface {
	Code() int
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	var c coder
	if errors.As(err, &c) {
		switch c.Code() & 0xff {
		case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
			return true
		}
	}
	return false
}

// Rejection explains why an action is refused and when it becomes possible.
type Rejection struct {
	Cause   error     // one of the expected sentinels
	Reason  string    // user-facing explanation
	RetryAt time.Time // zero when it never becomes possible again
}

func (r *Rejection) Error() string {
	if r.RetryAt.IsZero() {
		return fmt.Sprintf("%s: %s", r.Cause, r.Reason)
	}
	return fmt.Sprintf("%s: %s (retry at %s)", r.Cause, r.Reason, r.RetryAt.Format(time.RFC3339))
}

func (r *Rejection) Unwrap() error { return r.Cause }

// Reject builds a Rejection.
func Reject(cause error, reason string, retryAt time.Time) error {
	return &Rejection{Cause: cause, Reason: reason, RetryAt: retryAt}
}

// RejectionOf extracts the Rejection from err, if any.
func RejectionOf(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
