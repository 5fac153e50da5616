package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ops API requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackpromo_requests_total",
			Help: "Total ops API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// ops API latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackpromo_request_duration_seconds",
			Help:    "Histogram of ops API request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// campaign phase transitions, labelled by the phase entered
	PhaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackpromo_phase_transitions_total",
			Help: "Total campaign phase transitions",
		},
		[]string{"phase"},
	)

	// calls to the ads platform and listens feed
	RemoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackpromo_remote_calls_total",
			Help: "Total remote calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// remote call latency in seconds per operation
	RemoteCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackpromo_remote_call_duration_seconds",
			Help:    "Histogram of remote call latencies",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// calculator outcomes per objective mode
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackpromo_decisions_total",
			Help: "Total per-ad calculator decisions",
		},
		[]string{"mode", "decision"},
	)

	// latest observed spend per campaign
	CampaignSpend = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trackpromo_campaign_spend",
			Help: "Latest observed spend per campaign",
		},
		[]string{"campaign"},
	)

	// ads still delivering per campaign
	ActiveAds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trackpromo_active_ads",
			Help: "Ads not yet stopped per campaign",
		},
		[]string{"campaign"},
	)

	// control calls that had to wait for the per-account throttle
	ThrottleWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackpromo_throttle_waits_total",
			Help: "Total control calls delayed by the per-account throttle",
		},
		[]string{"account"},
	)

	// failed campaign state writes
	PersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackpromo_persist_errors_total",
			Help: "Total campaign state persistence errors",
		},
	)
)

func init() {
	// register all metrics with Prometheus' default registry
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		PhaseTransitions,
		RemoteCalls,
		RemoteCallLatency,
		Decisions,
		CampaignSpend,
		ActiveAds,
		ThrottleWaits,
		PersistErrors,
	)
}
