// Package client provides a Go SDK for the confquest HTTP API. It implements
// the remote ports the client-side engine depends on (domain.LikeStore and
// domain.BalanceStore) and maps error responses back onto domain sentinels.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/confquest/confquest/internal/app/ledger"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/retry"
	"github.com/confquest/confquest/pkg/models"
)

var (
	_ domain.LikeStore    = (*Client)(nil)
	_ domain.BalanceStore = (*Client)(nil)
)

// Client calls the confquest HTTP API. It is safe for concurrent use.
// Reads are retried on transient failures; writes are left to callers,
// which retry them under an idempotency ref.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:8640"
	HTTPClient *http.Client // optional; nil uses a client with a 10s timeout
	Retry      retry.Config
	InitData   string // Mini-App initData, sent when the server verifies participants
	AdminToken string // organizer token for grants and reversals
}

// New returns a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Retry:   retry.DefaultConfig(),
	}
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return defaultHTTPClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.InitData != "" {
		req.Header.Set(models.InitDataHeader, c.InitData)
	}
	if c.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	return resp, nil
}

// doJSON performs one request and decodes a 2xx body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(method, path, resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// get is doJSON for reads, retried on transient failures.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, c.Retry, "GET "+path, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, path, nil, out)
	})
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// Complete records a finished task. AlreadyCompleted and Rejected come back
// as outcomes, not errors.
func (c *Client) Complete(ctx context.Context, a ledger.Attempt) (ledger.Outcome, error) {
	path := "/api/users/" + url.PathEscape(a.UserID) + "/completions"
	req := models.CompleteRequest{Kind: a.Kind, Metadata: a.Metadata, At: a.At}

	resp, err := c.do(ctx, http.MethodPost, path, req)
	if err != nil {
		return ledger.Outcome{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict, http.StatusUnprocessableEntity:
		var body struct {
			ledger.Outcome
			Error *models.ErrorDetail `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return ledger.Outcome{}, fmt.Errorf("decode outcome: %w", err)
		}
		if body.Error != nil {
			return ledger.Outcome{}, detailError(http.MethodPost, path, resp.StatusCode, *body.Error)
		}
		return body.Outcome, nil
	default:
		return ledger.Outcome{}, decodeError(http.MethodPost, path, resp)
	}
}

// Repost stores an unrewarded re-post of a first-time kind.
func (c *Client) Repost(ctx context.Context, a ledger.Attempt) (domain.Completion, error) {
	var out domain.Completion
	path := "/api/users/" + url.PathEscape(a.UserID) + "/completions"
	err := c.doJSON(ctx, http.MethodPost, path,
		models.CompleteRequest{Kind: a.Kind, Metadata: a.Metadata, At: a.At, Repost: true}, &out)
	return out, err
}

// Remove reverses a completion (admin).
func (c *Client) Remove(ctx context.Context, completionID string) (domain.Completion, error) {
	var out domain.Completion
	err := c.doJSON(ctx, http.MethodDelete, "/api/completions/"+url.PathEscape(completionID), nil, &out)
	return out, err
}

// Completions lists a user's completions, newest first. Empty kinds means all.
func (c *Client) Completions(ctx context.Context, userID string, kinds []domain.TaskKind, since time.Time) ([]domain.Completion, error) {
	q := url.Values{}
	if len(kinds) > 0 {
		ks := make([]string, len(kinds))
		for i, k := range kinds {
			ks[i] = string(k)
		}
		q.Set("kind", strings.Join(ks, ","))
	}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}
	var out []domain.Completion
	err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/completions"+query(q), &out)
	return out, err
}

// ListCompletions adapts Completions to cooldown.HistoryReader.
func (c *Client) ListCompletions(ctx context.Context, userID string, kinds []domain.TaskKind, since time.Time) ([]domain.Completion, error) {
	return c.Completions(ctx, userID, kinds, since)
}

// Cooldown evaluates a family's cooldown. tz optionally overrides the
// server's default time zone.
func (c *Client) Cooldown(ctx context.Context, userID string, family domain.TaskFamily, tz string) (domain.CooldownWindow, error) {
	q := url.Values{}
	if tz != "" {
		q.Set("tz", tz)
	}
	var out domain.CooldownWindow
	err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/cooldown/"+url.PathEscape(string(family))+query(q), &out)
	return out, err
}

// State returns the polling view of a user.
func (c *Client) State(ctx context.Context, userID string) (models.UserState, error) {
	var out models.UserState
	err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/state", &out)
	return out, err
}

// ─── Balances ───────────────────────────────────────────────────────────────

// IncrementBalance applies g on the server.
func (c *Client) IncrementBalance(ctx context.Context, g domain.Grant) (domain.JournalEntry, bool, error) {
	var out models.GrantResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/users/"+url.PathEscape(g.UserID)+"/grants",
		models.GrantRequest{Field: g.Field, Delta: g.Delta, Reason: g.Reason, Ref: g.Ref}, &out)
	return out.Entry, out.Applied, err
}

// Journal returns recent balance movements, newest first.
func (c *Client) Journal(ctx context.Context, userID string, field domain.BalanceField, limit int) ([]domain.JournalEntry, error) {
	q := url.Values{}
	q.Set("field", string(field))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []domain.JournalEntry
	err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/journal"+query(q), &out)
	return out, err
}

// ─── Likes ──────────────────────────────────────────────────────────────────

// LikeState reads the target's like state as seen by userID.
func (c *Client) LikeState(ctx context.Context, targetID, userID string) (domain.LikeState, error) {
	var out domain.LikeState
	err := c.get(ctx, "/api/likes/"+url.PathEscape(targetID)+"?user="+url.QueryEscape(userID), &out)
	return out, err
}

// SetLike sets userID's membership in the target's liked-by set.
func (c *Client) SetLike(ctx context.Context, targetID, userID string, liked bool) (domain.LikeState, error) {
	var out domain.LikeState
	err := c.doJSON(ctx, http.MethodPut, "/api/likes/"+url.PathEscape(targetID),
		models.LikeRequest{UserID: userID, Liked: liked}, &out)
	return out, err
}

// Anomalies returns the server's flagged earning rates (admin).
func (c *Client) Anomalies(ctx context.Context) (models.AnomalyReport, error) {
	var out models.AnomalyReport
	err := c.get(ctx, "/api/admin/anomalies", &out)
	return out, err
}

// ─── Health ─────────────────────────────────────────────────────────────────

// Health reports whether the server considers itself healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func query(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// transportError marks connection-level failures as transient.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}

func decodeError(method, path string, resp *http.Response) error {
	var body models.ErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return detailError(method, path, resp.StatusCode, body.Error)
}

// detailError rebuilds a domain error from a response.
func detailError(method, path string, status int, d models.ErrorDetail) error {
	cause := sentinel(status, d.Type)
	msg := d.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if d.Reason != "" {
		return fmt.Errorf("api %s %s: %w", method, path, domain.Reject(cause, d.Reason, d.RetryAt))
	}
	return fmt.Errorf("api %s %s: %s: %w", method, path, msg, cause)
}

func sentinel(status int, code string) error {
	switch code {
	case models.CodeInvalidInput:
		return domain.ErrInvalidInput
	case models.CodeNotFound:
		return domain.ErrNotFound
	case models.CodeUnauthorized:
		return domain.ErrUnauthorized
	case models.CodeForbidden:
		return domain.ErrForbidden
	case models.CodeInFlight:
		return domain.ErrOperationInFlight
	case models.CodeAlreadyCompleted:
		return domain.ErrAlreadyCompleted
	case models.CodeRejected:
		return domain.ErrRejected
	case models.CodeInsufficient:
		return domain.ErrBelowConversionThreshold
	case models.CodeUnavailable:
		return domain.ErrTransient
	case models.CodeInvariantViolation:
		return domain.ErrInvariantViolation
	}
	switch {
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway,
		status == http.StatusGatewayTimeout, status == http.StatusTooManyRequests:
		return domain.ErrTransient
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case status == http.StatusForbidden:
		return domain.ErrForbidden
	case status >= 400 && status < 500:
		return domain.ErrInvalidInput
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}
