package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/pkg/models"
)

// classify maps an error onto an HTTP status and a stable error code.
// Expected outcomes get 4xx codes the client branches on; only transient
// failures and invariant violations are server errors.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, models.CodeInvalidInput
	case errors.Is(err, domain.ErrCompletionNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, models.CodeNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, models.CodeUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, models.CodeForbidden
	case errors.Is(err, domain.ErrOperationInFlight):
		return http.StatusConflict, models.CodeInFlight
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return http.StatusConflict, models.CodeAlreadyCompleted
	case domain.IsInsufficientResource(err):
		return http.StatusUnprocessableEntity, models.CodeInsufficient
	case errors.Is(err, domain.ErrRejected):
		return http.StatusUnprocessableEntity, models.CodeRejected
	case errors.Is(err, domain.ErrInvariantViolation):
		return http.StatusInternalServerError, models.CodeInvariantViolation
	case domain.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, models.CodeUnavailable
	default:
		return http.StatusInternalServerError, models.CodeInternal
	}
}

// writeError writes err as an ErrorBody.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	detail := models.ErrorDetail{Message: err.Error(), Type: code}
	if rej, ok := domain.RejectionOf(err); ok {
		detail.Reason, detail.RetryAt = rej.Reason, rej.RetryAt
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, models.ErrorBody{Error: detail})
}
