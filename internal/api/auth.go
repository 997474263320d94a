package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/security"
	"github.com/confquest/confquest/pkg/models"
)

type identityKey struct{}

// identify verifies the caller's initData when a verifier is configured and
// stores the identity on the request context.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		raw := r.Header.Get(models.InitDataHeader)
		if raw == "" {
			// Telegram's own convention: Authorization: tma <initData>
			if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "tma "); ok {
				raw = v
			}
		}
		if raw == "" && isStream(r) {
			raw = r.URL.Query().Get(models.InitDataQuery)
		}
		// Organizers act on anyone's behalf.
		if raw == "" && s.isAdmin(r) {
			next.ServeHTTP(w, r)
			return
		}
		id, err := s.deps.Auth.Verify(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// sameUser rejects /users/{user} requests for someone else's account.
func (s *Server) sameUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authorizeUser(r, chi.URLParam(r, "user")); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sameFeedUser limits a participant's feed subscription to their own events.
func (s *Server) sameFeedUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authorizeUser(r, r.URL.Query().Get("user_id")); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isStream(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/feed/")
}

// requireAdmin guards organizer operations when an admin token is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminToken != "" && !s.isAdmin(r) {
			writeError(w, r, fmt.Errorf("%w: organizer token required", domain.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorizeGrant lets a verified participant post only the increments their
// own client produces: mirrored coins and coin conversions. Everything else
// is an organizer grant.
func (s *Server) authorizeGrant(r *http.Request, g domain.Grant) error {
	if s.isAdmin(r) {
		return nil
	}
	if _, ok := r.Context().Value(identityKey{}).(security.Identity); ok {
		if selfService(g) {
			return nil
		}
		return fmt.Errorf("%w: participants may only mirror coins and conversions", domain.ErrForbidden)
	}
	if s.deps.AdminToken != "" {
		return fmt.Errorf("%w: organizer token required", domain.ErrForbidden)
	}
	return nil
}

func selfService(g domain.Grant) bool {
	if g.Delta <= 0 {
		return false
	}
	switch {
	case strings.HasPrefix(g.Ref, "coins:"):
		return g.Field == domain.FieldCoinsEarned
	case strings.HasPrefix(g.Ref, "conversion:"):
		return g.Field == domain.FieldPoints
	}
	return false
}

func (s *Server) isAdmin(r *http.Request) bool {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && security.TokenMatches(s.deps.AdminToken, tok)
}

// authorizeUser checks that a verified caller acts only for themselves.
// Requests without a verified identity pass.
func authorizeUser(r *http.Request, user string) error {
	id, ok := r.Context().Value(identityKey{}).(security.Identity)
	if !ok {
		return nil
	}
	if id.UserID != user {
		return fmt.Errorf("%w: signed in as %s, not %s", domain.ErrForbidden, id.UserID, user)
	}
	return nil
}
