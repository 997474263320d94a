package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confquest/confquest/internal/app/anomaly"
	"github.com/confquest/confquest/internal/app/energy"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/security"
	"github.com/confquest/confquest/pkg/models"
)

func newAuthEnv(t *testing.T) (*testEnv, *security.Verifier) {
	t.Helper()
	v := security.NewVerifier("123456:bot", time.Hour)
	v.SetNow(func() time.Time { return monday })
	e := newTestEnvWith(t, func(d *Deps) {
		d.Auth = v
		d.AdminToken = "organizer"
	})
	return e, v
}

func initData(v *security.Verifier, userID int64) string {
	return v.Sign(url.Values{
		"auth_date": {strconv.FormatInt(monday.Unix(), 10)},
		"user":      {`{"id":` + strconv.FormatInt(userID, 10) + `}`},
	})
}

func (e *testEnv) callAs(t *testing.T, method, path string, headers map[string]string, body any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestAuth_ParticipantRoutes(t *testing.T) {
	e, v := newAuthEnv(t)
	own := map[string]string{models.InitDataHeader: initData(v, 1001)}
	tma := map[string]string{"Authorization": "tma " + initData(v, 1001)}

	assert.Equal(t, http.StatusUnauthorized, e.callAs(t, http.MethodGet, "/api/users/1001/state", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, e.callAs(t, http.MethodGet, "/api/users/1001/state",
		map[string]string{models.InitDataHeader: "user=x&hash=00"}, nil))
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodGet, "/api/users/1001/state", own, nil))
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodGet, "/api/users/1001/state", tma, nil))
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodGet, "/api/users/1002/state", own, nil))

	code := e.callAs(t, http.MethodPost, "/api/users/1001/completions", own, models.CompleteRequest{Kind: domain.KindGreeting})
	assert.Equal(t, http.StatusOK, code)
}

func TestAuth_Likes(t *testing.T) {
	e, v := newAuthEnv(t)
	own := map[string]string{models.InitDataHeader: initData(v, 1001)}

	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodPut, "/api/likes/post-1", own,
		models.LikeRequest{UserID: "1001", Liked: true}))
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodPut, "/api/likes/post-1", own,
		models.LikeRequest{UserID: "1002", Liked: true}))
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodGet, "/api/likes/post-1?user=1002", own, nil))
}

func TestAuth_OrganizerRoutes(t *testing.T) {
	e, v := newAuthEnv(t)
	grant := models.GrantRequest{Field: domain.FieldPoints, Delta: 5, Reason: "prize", Ref: "prize:1"}
	participant := map[string]string{models.InitDataHeader: initData(v, 1001)}
	organizer := map[string]string{"Authorization": "Bearer organizer"}

	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, grant))
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodPost, "/api/users/1001/grants",
		map[string]string{"Authorization": "Bearer guess"}, grant))
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodPost, "/api/users/1001/grants", organizer, grant))

	// A participant's client mirrors its own coins and conversions.
	mirror := models.GrantRequest{Field: domain.FieldCoinsEarned, Delta: 1000, Reason: "clicker", Ref: "coins:abc"}
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, mirror))
	convert := models.GrantRequest{Field: domain.FieldPoints, Delta: 10, Reason: "conversion", Ref: "conversion:abc"}
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, convert))
	sneaky := models.GrantRequest{Field: domain.FieldPoints, Delta: 10, Reason: "x", Ref: "coins:abd"}
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, sneaky))
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodPost, "/api/users/1002/grants", participant, mirror))

	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodDelete, "/api/completions/missing", participant, nil))
	assert.Equal(t, http.StatusNotFound, e.callAs(t, http.MethodDelete, "/api/completions/missing", organizer, nil))
}

func TestAdmin_Anomalies(t *testing.T) {
	v := security.NewVerifier("123456:bot", time.Hour)
	v.SetNow(func() time.Time { return monday })
	det := anomaly.NewDetector(anomaly.DefaultConfig(energy.Config{MaxEnergy: 10, RegenPerSecond: 1, Cost: 1}))
	e := newTestEnvWith(t, func(d *Deps) {
		d.Auth = v
		d.AdminToken = "organizer"
		d.Anomalies = det
		d.Balances.SetAuditor(det)
	})
	participant := map[string]string{models.InitDataHeader: initData(v, 1001)}
	organizer := map[string]string{"Authorization": "Bearer organizer"}

	for i, delta := range []int64{5, 1000} {
		g := models.GrantRequest{Field: domain.FieldCoinsEarned, Delta: delta, Reason: "clicker", Ref: "coins:" + strconv.Itoa(i)}
		require.Equal(t, http.StatusOK, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, g))
	}

	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodGet, "/api/admin/anomalies", participant, nil))

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/admin/anomalies", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", organizer["Authorization"])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report models.AnomalyReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Len(t, report.Flagged, 1)
	assert.Equal(t, "1001", report.Flagged[0].UserID)
	assert.Equal(t, anomaly.SevCritical, report.Flagged[0].Severity)
	assert.Equal(t, 1, report.Stats.Profiles)
}

func TestAuth_ParticipantCannotBackdate(t *testing.T) {
	e, v := newAuthEnv(t)
	participant := map[string]string{models.InitDataHeader: initData(v, 1001)}

	rewarded := 0
	for week := 1; week <= 8; week++ {
		req := models.CompleteRequest{Kind: domain.KindGreeting, At: monday.AddDate(0, 0, -7*week)}
		if e.callAs(t, http.MethodPost, "/api/users/1001/completions", participant, req) == http.StatusOK {
			rewarded++
		}
	}
	assert.Equal(t, 1, rewarded, "the claimed time is ignored, so every post lands on today")

	p, err := e.db.Profile(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Points)

	rows, err := e.db.ListCompletions(context.Background(), "1001", nil, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-02", rows[0].Day)

	// Organizers may still backfill a missed day.
	organizer := map[string]string{"Authorization": "Bearer organizer"}
	req := models.CompleteRequest{Kind: domain.KindGreeting, At: monday.AddDate(0, 0, -7)}
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodPost, "/api/users/1002/completions", organizer, req))
}

func TestAuth_ConversionNeedsCoinsEarned(t *testing.T) {
	e, v := newAuthEnv(t)
	participant := map[string]string{models.InitDataHeader: initData(v, 1001)}

	free := models.GrantRequest{Field: domain.FieldPoints, Delta: 100_000, Reason: "conversion", Ref: "conversion:free"}
	assert.Equal(t, http.StatusUnprocessableEntity, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, free))

	mirror := models.GrantRequest{Field: domain.FieldCoinsEarned, Delta: 2500, Reason: "clicker", Ref: "coins:1"}
	require.Equal(t, http.StatusOK, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, mirror))
	fair := models.GrantRequest{Field: domain.FieldPoints, Delta: 20, Reason: "conversion", Ref: "conversion:1"}
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, fair))
	more := models.GrantRequest{Field: domain.FieldPoints, Delta: 10, Reason: "conversion", Ref: "conversion:2"}
	assert.Equal(t, http.StatusUnprocessableEntity, e.callAs(t, http.MethodPost, "/api/users/1001/grants", participant, more))

	p, err := e.db.Profile(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.Points)
	assert.Equal(t, int64(2500), p.CoinsEarned)
}

func TestAuth_FeedNeedsOwnIdentity(t *testing.T) {
	e, v := newAuthEnv(t)
	own := map[string]string{models.InitDataHeader: initData(v, 1001)}

	assert.Equal(t, http.StatusUnauthorized, e.callAs(t, http.MethodGet, "/api/feed/sse?user_id=1001", nil, nil))
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodGet, "/api/feed/sse?user_id=1002", own, nil))
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodGet, "/api/feed/sse", own, nil), "participants see only their own stream")
	assert.Equal(t, http.StatusForbidden, e.callAs(t, http.MethodGet, "/api/feed/ws?user_id=1002", own, nil))

	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodGet, "/api/feed/sse?user_id=1001", own, nil))
	q := url.Values{"user_id": {"1001"}, models.InitDataQuery: {initData(v, 1001)}}
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodGet, "/api/feed/sse?"+q.Encode(), nil, nil))

	admin := map[string]string{"Authorization": "Bearer organizer"}
	assert.Equal(t, http.StatusOK, e.callAs(t, http.MethodGet, "/api/feed/sse", admin, nil))
}
