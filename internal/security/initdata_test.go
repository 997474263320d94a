package security

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confquest/confquest/internal/domain"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testVerifier() *Verifier {
	v := NewVerifier("123456:test-token", time.Hour)
	v.SetNow(func() time.Time { return now })
	return v
}

func payload(authDate time.Time, user string) url.Values {
	return url.Values{
		"auth_date": {strconv.FormatInt(authDate.Unix(), 10)},
		"query_id":  {"AAH"},
		"user":      {user},
	}
}

func TestVerify_Valid(t *testing.T) {
	v := testVerifier()
	raw := v.Sign(payload(now.Add(-time.Minute), `{"id":1001,"username":"ada"}`))

	id, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "1001", id.UserID)
	assert.Equal(t, "ada", id.Username)
	assert.Equal(t, now.Add(-time.Minute).Unix(), id.AuthDate.Unix())
}

func TestVerify_Rejects(t *testing.T) {
	v := testVerifier()
	good := v.Sign(payload(now, `{"id":1001}`))

	tampered, err := url.ParseQuery(good)
	require.NoError(t, err)
	tampered.Set("user", `{"id":1002}`)

	otherBot := NewVerifier("999:other", time.Hour).Sign(payload(now, `{"id":1001}`))

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no hash", "auth_date=1&user=%7B%7D"},
		{"tampered", tampered.Encode()},
		{"other bot", otherBot},
		{"expired", v.Sign(payload(now.Add(-2*time.Hour), `{"id":1001}`))},
		{"no user", v.Sign(url.Values{"auth_date": {strconv.FormatInt(now.Unix(), 10)}})},
		{"no auth date", v.Sign(url.Values{"user": {`{"id":1001}`}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.raw)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestTokenMatches(t *testing.T) {
	assert.True(t, TokenMatches("s3cret", "s3cret"))
	assert.False(t, TokenMatches("s3cret", "s3cre"))
	assert.False(t, TokenMatches("", ""))
	assert.False(t, TokenMatches("s3cret", ""))
}
