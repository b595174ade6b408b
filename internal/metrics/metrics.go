// Package metrics exposes Prometheus collectors for the relay.
//
// Label sets are bounded: action kinds and outcomes are small enums, and no
// chat or user identifiers are ever used as label values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SessionsRunning gauges bot sessions currently owned by the supervisor.
	SessionsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "botrelay_sessions_running",
			Help: "Number of bot sessions currently running.",
		},
	)

	// SessionStarts counts session launches; reason is "start" or "restart".
	SessionStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botrelay_session_starts_total",
			Help: "Total number of bot session launches.",
		},
		[]string{"reason"},
	)

	// Updates counts updates received across all sessions by update kind.
	Updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botrelay_updates_total",
			Help: "Total number of transport updates received.",
		},
		[]string{"kind"},
	)

	// Actions counts executed rule actions by action kind and result.
	Actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botrelay_actions_total",
			Help: "Total number of rule actions executed.",
		},
		[]string{"action", "result"},
	)

	// LookupAttempts counts order-lookup HTTP attempts by timestamp precision
	// ("ms" or "s") and outcome ("ok" or "fail").
	LookupAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botrelay_lookup_attempts_total",
			Help: "Total number of order lookup attempts.",
		},
		[]string{"precision", "outcome"},
	)

	// LookupDuration records the latency of single lookup attempts.
	LookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botrelay_lookup_duration_seconds",
			Help:    "Duration of order lookup attempts in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsRunning, SessionStarts, Updates, Actions, LookupAttempts, LookupDuration)
}
