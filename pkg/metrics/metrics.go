package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	AccountsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roost_accounts_total",
			Help: "Total number of accounts by status",
		},
		[]string{"status"},
	)

	ActiveGroup = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roost_active_group",
			Help: "Group currently scheduled by the time-of-day rotation",
		},
	)

	TargetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roost_targets_total",
			Help: "Total number of follow targets by pool",
		},
		[]string{"pool"},
	)

	// Follow metrics
	FollowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_follows_total",
			Help: "Total number of follow attempts by outcome",
		},
		[]string{"outcome"},
	)

	FollowDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roost_follow_duration_seconds",
			Help:    "Wall time of individual follow actions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AccountsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_accounts_skipped_total",
			Help: "Accounts skipped by the eligibility gate, by reason",
		},
		[]string{"reason"},
	)

	// Scheduler metrics
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roost_scheduler_tick_duration_seconds",
			Help:    "Time taken by one scheduler pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GroupRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_group_rotations_total",
			Help: "Total number of group rotations",
		},
	)

	DailyResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_daily_resets_total",
			Help: "Total number of daily counter resets",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roost_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AccountsTotal)
	prometheus.MustRegister(ActiveGroup)
	prometheus.MustRegister(TargetsTotal)
	prometheus.MustRegister(FollowsTotal)
	prometheus.MustRegister(FollowDuration)
	prometheus.MustRegister(AccountsSkipped)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(GroupRotations)
	prometheus.MustRegister(DailyResets)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
