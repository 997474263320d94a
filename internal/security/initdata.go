// Package security authenticates API callers: Mini-App participants by the
// signed initData Telegram hands the webview, organizers by a shared token.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/confquest/confquest/internal/domain"
)

// DefaultMaxAge bounds how old an initData payload may be.
const DefaultMaxAge = 24 * time.Hour

// Identity is the verified participant behind a request.
type Identity struct {
	UserID   string
	Username string
	AuthDate time.Time
}

// Verifier checks Telegram Web App initData against the bot token.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier derives the Web App secret from botToken. maxAge <= 0 uses
// DefaultMaxAge.
func NewVerifier(botToken string, maxAge time.Duration) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &Verifier{secret: mac.Sum(nil), maxAge: maxAge, now: time.Now}
}

// SetNow overrides the clock.
func (v *Verifier) SetNow(now func() time.Time) { v.now = now }

// Verify validates raw initData (a URL-encoded query string) and returns the
// identity it carries.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: missing init data", domain.ErrUnauthorized)
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed init data", domain.ErrUnauthorized)
	}
	got, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(got) == 0 {
		return Identity{}, fmt.Errorf("%w: init data hash missing", domain.ErrUnauthorized)
	}
	if !hmac.Equal(got, v.sign(values)) {
		return Identity{}, fmt.Errorf("%w: init data signature mismatch", domain.ErrUnauthorized)
	}

	unix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: auth_date missing", domain.ErrUnauthorized)
	}
	authDate := time.Unix(unix, 0)
	if v.now().Sub(authDate) > v.maxAge {
		return Identity{}, fmt.Errorf("%w: init data expired", domain.ErrUnauthorized)
	}

	var user struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return Identity{}, fmt.Errorf("%w: init data has no user", domain.ErrUnauthorized)
	}
	return Identity{
		UserID:   strconv.FormatInt(user.ID, 10),
		Username: user.Username,
		AuthDate: authDate,
	}, nil
}

// Sign returns values encoded as initData with a valid hash. Telegram does
// this in production; tests and local tooling use it to mint payloads.
func (v *Verifier) Sign(values url.Values) string {
	out := url.Values{}
	for k, vs := range values {
		if k != "hash" {
			out[k] = vs
		}
	}
	out.Set("hash", hex.EncodeToString(v.sign(out)))
	return out.Encode()
}

// sign computes the HMAC of the data-check string: every field but hash,
// sorted by key, as key=value lines.
func (v *Verifier) sign(values url.Values) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}

// TokenMatches compares an organizer token in constant time.
func TokenMatches(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
