package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components take a registry by injection instead of touching the global
// Prometheus collectors directly.
type MetricsRegistry interface {
	// Ops API metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Lifecycle metrics
	IncrementPhaseTransitions(phase string)
	SetCampaignSpend(campaign string, amount float64)
	SetActiveAds(campaign string, n int)
	IncrementPersistErrors()

	// Remote call metrics
	IncrementRemoteCalls(operation, outcome string)
	RecordRemoteCallLatency(operation string, duration time.Duration)
	IncrementThrottleWaits(account string)

	// Calculator metrics
	IncrementDecisions(mode, decision string, n int)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementPhaseTransitions(phase string) {
	PhaseTransitions.WithLabelValues(phase).Inc()
}

func (r *PrometheusRegistry) SetCampaignSpend(campaign string, amount float64) {
	CampaignSpend.WithLabelValues(campaign).Set(amount)
}

func (r *PrometheusRegistry) SetActiveAds(campaign string, n int) {
	ActiveAds.WithLabelValues(campaign).Set(float64(n))
}

func (r *PrometheusRegistry) IncrementPersistErrors() {
	PersistErrors.Inc()
}

func (r *PrometheusRegistry) IncrementRemoteCalls(operation, outcome string) {
	RemoteCalls.WithLabelValues(operation, outcome).Inc()
}

func (r *PrometheusRegistry) RecordRemoteCallLatency(operation string, duration time.Duration) {
	RemoteCallLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementThrottleWaits(account string) {
	ThrottleWaits.WithLabelValues(account).Inc()
}

func (r *PrometheusRegistry) IncrementDecisions(mode, decision string, n int) {
	if n <= 0 {
		return
	}
	Decisions.WithLabelValues(mode, decision).Add(float64(n))
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementPhaseTransitions(phase string)                               {}
func (r *NoOpRegistry) SetCampaignSpend(campaign string, amount float64)                     {}
func (r *NoOpRegistry) SetActiveAds(campaign string, n int)                                  {}
func (r *NoOpRegistry) IncrementPersistErrors()                                              {}
func (r *NoOpRegistry) IncrementRemoteCalls(operation, outcome string)                       {}
func (r *NoOpRegistry) RecordRemoteCallLatency(operation string, duration time.Duration)     {}
func (r *NoOpRegistry) IncrementThrottleWaits(account string)                                {}
func (r *NoOpRegistry) IncrementDecisions(mode, decision string, n int)                      {}
