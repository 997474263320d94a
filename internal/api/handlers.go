package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/confquest/confquest/internal/app/anomaly"
	"github.com/confquest/confquest/internal/app/cooldown"
	"github.com/confquest/confquest/internal/app/ledger"
	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/pkg/models"
)

// stateFamilies are the cooldowns reported in the polling state view.
var stateFamilies = []domain.TaskFamily{
	domain.FamilyGreetingQuote,
	domain.FamilyTeamPhoto,
	domain.TaskFamily(domain.KindParticipantPhoto),
	domain.TaskFamily(domain.KindPracticeStory),
	domain.TaskFamily(domain.KindSlogan),
}

const recentLimit = 20

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req models.CompleteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := domain.ParseTaskKind(string(req.Kind))
	if err != nil {
		writeError(w, r, err)
		return
	}
	a := ledger.Attempt{UserID: chi.URLParam(r, "user"), Kind: kind, Metadata: req.Metadata}
	// Eligibility is judged on the server's clock; only organizers backfill.
	if s.isAdmin(r) {
		a.At = req.At
	}

	if req.Repost {
		c, err := s.deps.Ledger.RecordRepost(r.Context(), a)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
		return
	}

	out, err := s.deps.Ledger.TryComplete(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, outcomeStatus(out.Status), out)
}

func outcomeStatus(s ledger.Status) int {
	switch s {
	case ledger.StatusAlreadyCompleted:
		return http.StatusConflict
	case ledger.StatusRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Ledger.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListCompletions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var kinds []domain.TaskKind
	if f := q.Get("family"); f != "" {
		fam, err := domain.ParseTaskFamily(f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		kinds = fam.Kinds()
	}
	if ks := q.Get("kind"); ks != "" {
		for _, k := range strings.Split(ks, ",") {
			kind, err := domain.ParseTaskKind(k)
			if err != nil {
				writeError(w, r, err)
				return
			}
			kinds = append(kinds, kind)
		}
	}
	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: since: %v", domain.ErrInvalidInput, err))
			return
		}
		since = t
	}

	list, err := s.deps.Ledger.History(r.Context(), chi.URLParam(r, "user"), kinds, since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Completion{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ─── Cooldowns / State ──────────────────────────────────────────────────────

func (s *Server) cooldownFor(r *http.Request) (*cooldown.Service, error) {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		return s.deps.Cooldown, nil
	}
	win, err := timewindow.Load(tz)
	if err != nil {
		return nil, err
	}
	return s.deps.Cooldown.In(win), nil
}

func (s *Server) handleCooldown(w http.ResponseWriter, r *http.Request) {
	family, err := domain.ParseTaskFamily(chi.URLParam(r, "family"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	cd, err := s.cooldownFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	win, err := cd.Evaluate(r.Context(), chi.URLParam(r, "user"), family)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := chi.URLParam(r, "user")
	cd, err := s.cooldownFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := s.deps.Balances.Balance(ctx, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st := models.UserState{
		Profile:   profile,
		Cooldowns: make(map[domain.TaskFamily]domain.CooldownWindow, len(stateFamilies)),
	}
	now := cd.Now()
	for _, f := range stateFamilies {
		win, err := cd.EvaluateAt(ctx, user, f, now)
		if err != nil {
			writeError(w, r, err)
			return
		}
		st.Cooldowns[f] = win
	}
	recent, err := s.deps.Ledger.History(ctx, user, nil, time.Time{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	st.Recent = recent
	if st.Recent == nil {
		st.Recent = []domain.Completion{}
	}
	writeJSON(w, http.StatusOK, st)
}

// ─── Balances ───────────────────────────────────────────────────────────────

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req models.GrantRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g := domain.Grant{
		UserID: chi.URLParam(r, "user"),
		Field:  req.Field,
		Delta:  req.Delta,
		Reason: req.Reason,
		Ref:    req.Ref,
	}
	if err := s.authorizeGrant(r, g); err != nil {
		writeError(w, r, err)
		return
	}
	entry, applied, err := s.deps.Balances.Grant(r.Context(), g)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.GrantResponse{Entry: entry, Applied: applied})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field := domain.BalanceField(q.Get("field"))
	if field == "" {
		field = domain.FieldPoints
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := s.deps.Balances.History(r.Context(), chi.URLParam(r, "user"), field, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	flagged := s.deps.Anomalies.Flagged()
	if flagged == nil {
		flagged = []anomaly.Result{}
	}
	writeJSON(w, http.StatusOK, models.AnomalyReport{Stats: s.deps.Anomalies.Stats(), Flagged: flagged})
}

// ─── Likes ──────────────────────────────────────────────────────────────────

func (s *Server) handleLikeState(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, r, fmt.Errorf("%w: user query parameter required", domain.ErrInvalidInput))
		return
	}
	if err := authorizeUser(r, user); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.deps.Likes.LikeState(r.Context(), chi.URLParam(r, "target"), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSetLike(w http.ResponseWriter, r *http.Request) {
	var req models.LikeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := authorizeUser(r, req.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	target := chi.URLParam(r, "target")
	st, err := s.deps.Likes.SetLike(r.Context(), target, req.UserID, req.Liked)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.deps.Feed != nil {
		s.deps.Feed.Publish(domain.ChangeEvent{Type: domain.ChangeLike, TargetID: target, At: time.Now()})
	}
	writeJSON(w, http.StatusOK, st)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
