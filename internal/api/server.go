// Package api provides the HTTP server for confquest: the authoritative
// ledger, balances and like sets, plus the live change feed.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/confquest/confquest/internal/app/anomaly"
	"github.com/confquest/confquest/internal/app/balance"
	"github.com/confquest/confquest/internal/app/cooldown"
	"github.com/confquest/confquest/internal/app/ledger"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/feed"
	"github.com/confquest/confquest/internal/health"
	"github.com/confquest/confquest/internal/security"
)

// Deps are the services the server exposes.
type Deps struct {
	Ledger    *ledger.Ledger
	Cooldown  *cooldown.Service
	Balances  *balance.Service
	Likes     domain.LikeStore
	Feed      *feed.Hub         // optional
	Health    *health.Checker   // optional
	Anomalies *anomaly.Detector // optional

	Auth       *security.Verifier // nil accepts any caller
	AdminToken string             // empty leaves organizer routes open
}

// Server is the confquest HTTP API server.
type Server struct {
	deps           Deps
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Streams stay open; everything else is bounded.
		if s.deps.Feed != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.identify)
				r.Use(s.sameFeedUser)
				r.Get("/feed/sse", s.deps.Feed.SSEHandler())
				r.Get("/feed/ws", s.deps.Feed.WSHandler())
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(s.identify)

			r.Route("/users/{user}", func(r chi.Router) {
				r.Use(s.sameUser)
				r.Get("/state", s.handleState)
				r.Get("/cooldown/{family}", s.handleCooldown)
				r.Get("/completions", s.handleListCompletions)
				r.Post("/completions", s.handleComplete)
				r.Get("/journal", s.handleJournal)
				r.Post("/grants", s.handleGrant)
			})
			r.With(s.requireAdmin).Delete("/completions/{id}", s.handleRemove)

			r.Get("/likes/{target}", s.handleLikeState)
			r.Put("/likes/{target}", s.handleSetLike)

			if s.deps.Anomalies != nil {
				r.With(s.requireAdmin).Get("/admin/anomalies", s.handleAnomalies)
			}
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.deps.Health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.deps.Health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// corsMiddleware lets the Mini-App webview call the API from its own origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
