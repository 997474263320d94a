// Package metrics provides Prometheus metrics for confquest: ledger outcomes,
// balance movements, the clicker economy, likes, retries and the change feed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// Completions counts completion attempts by kind and outcome
// (completed, already_completed, rejected, failed).
var Completions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "completions_total",
	Help:      "Task completion attempts by kind and outcome.",
}, []string{"kind", "outcome"})

// PointsAwarded counts points credited through completions.
var PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "points_awarded_total",
	Help:      "Points credited through task completions.",
}, []string{"kind"})

// Reversals counts admin reversals.
var Reversals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "reversals_total",
	Help:      "Completions reversed by an admin.",
}, []string{"kind"})

// StoreLatency tracks round trips to the authoritative store.
var StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "confquest",
	Name:      "store_latency_seconds",
	Help:      "Authoritative store call latency in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
}, []string{"op"})

// ─── Balances ───────────────────────────────────────────────────────────────

// Grants counts balance grants by field and whether they applied or were deduplicated.
var Grants = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "grants_total",
	Help:      "Balance grants by field and result.",
}, []string{"field", "result"})

// Discrepancies counts ledger rows whose balance half could not be confirmed.
var Discrepancies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "discrepancies_total",
	Help:      "Reconciliation markers recorded.",
}, []string{"kind"})

// ReconcileRepairs counts balance repairs made by the reconciler.
var ReconcileRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "reconcile_repairs_total",
	Help:      "Balance repairs made by the reconciler.",
}, []string{"kind"})

// Anomalies counts suspicious coin mirrors by anomaly type and severity.
var Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "earning_anomalies_total",
	Help:      "Suspicious coins-earned mirrors by type and severity.",
}, []string{"type", "severity"})

// ─── Clicker Economy ────────────────────────────────────────────────────────

// Clicks counts clicker actions by outcome (ok, insufficient_energy).
var Clicks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "clicks_total",
	Help:      "Clicker actions by outcome.",
}, []string{"outcome"})

// Conversions counts coin→point conversions by outcome.
var Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "conversions_total",
	Help:      "Coin to point conversions by outcome.",
}, []string{"outcome"})

// ─── Likes ──────────────────────────────────────────────────────────────────

// LikeToggles counts like toggles by result (confirmed, rolled_back).
var LikeToggles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "like_toggles_total",
	Help:      "Optimistic like toggles by result.",
}, []string{"result"})

// ─── Notifications ──────────────────────────────────────────────────────────

// Notifications counts notifications by type and result (sent, suppressed, failed).
var Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "notifications_total",
	Help:      "Notifications by type and delivery result.",
}, []string{"type", "result"})

// ─── Infrastructure ─────────────────────────────────────────────────────────

// Retries counts backoff retries per operation.
var Retries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "retries_total",
	Help:      "Retries of transient failures per operation.",
}, []string{"op"})

// FeedSubscribers tracks connected change-feed subscribers.
var FeedSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "confquest",
	Name:      "feed_subscribers",
	Help:      "Connected change-feed subscribers by transport.",
}, []string{"transport"})

// FeedDropped counts events dropped for slow subscribers.
var FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "confquest",
	Name:      "feed_dropped_total",
	Help:      "Change-feed events dropped for slow subscribers.",
})

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "confquest",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
