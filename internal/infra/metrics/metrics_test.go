package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestLedgerMetrics(t *testing.T) {
	Completions.WithLabelValues("greeting", "completed").Inc()
	PointsAwarded.WithLabelValues("greeting").Add(10)
	Reversals.WithLabelValues("greeting").Inc()
	StoreLatency.WithLabelValues("award").Observe(0.01)

	names := gatheredNames(t)
	for _, name := range []string{
		"confquest_completions_total",
		"confquest_points_awarded_total",
		"confquest_reversals_total",
		"confquest_store_latency_seconds",
	} {
		assert.True(t, names[name], "metric %q not found", name)
	}
}

func TestEconomyMetrics(t *testing.T) {
	Clicks.WithLabelValues("ok").Inc()
	Conversions.WithLabelValues("ok").Inc()
	Grants.WithLabelValues("points", "applied").Inc()
	LikeToggles.WithLabelValues("confirmed").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"confquest_clicks_total",
		"confquest_conversions_total",
		"confquest_grants_total",
		"confquest_like_toggles_total",
	} {
		assert.True(t, names[name], "metric %q not found", name)
	}
}

func TestInfraMetrics(t *testing.T) {
	Retries.WithLabelValues("award").Inc()
	FeedSubscribers.WithLabelValues("sse").Set(2)
	FeedDropped.Inc()
	HealthCheckStatus.WithLabelValues("sqlite").Set(1)
	Discrepancies.WithLabelValues("missing_increment").Inc()
	ReconcileRepairs.WithLabelValues("points").Inc()
	Notifications.WithLabelValues("awarded", "sent").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"confquest_retries_total",
		"confquest_feed_subscribers",
		"confquest_feed_dropped_total",
		"confquest_health_check_status",
		"confquest_discrepancies_total",
		"confquest_notifications_total",
		"confquest_reconcile_repairs_total",
	} {
		assert.True(t, names[name], "metric %q not found", name)
	}
}
