package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records metric calls so tests can assert on them.
type MockMetricsRegistry struct {
	mu               sync.Mutex
	Requests         map[string]int // keyed "endpoint method status"
	PhaseTransitions map[string]int
	RemoteCalls      map[string]int // keyed "operation/outcome"
	Decisions        map[string]int // keyed "mode/decision"
	Spend            map[string]float64
	ActiveAds        map[string]int
	ThrottleWaits    int
	PersistErrors    int
}

// NewMockMetricsRegistry returns an empty recording registry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		Requests:         make(map[string]int),
		PhaseTransitions: make(map[string]int),
		RemoteCalls:      make(map[string]int),
		Decisions:        make(map[string]int),
		Spend:            make(map[string]float64),
		ActiveAds:        make(map[string]int),
	}
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests[endpoint+" "+method+" "+status]++
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (m *MockMetricsRegistry) RecordRemoteCallLatency(operation string, duration time.Duration)     {}

func (m *MockMetricsRegistry) IncrementPhaseTransitions(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PhaseTransitions[phase]++
}

func (m *MockMetricsRegistry) SetCampaignSpend(campaign string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Spend[campaign] = amount
}

func (m *MockMetricsRegistry) SetActiveAds(campaign string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActiveAds[campaign] = n
}

func (m *MockMetricsRegistry) IncrementPersistErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistErrors++
}

func (m *MockMetricsRegistry) IncrementRemoteCalls(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoteCalls[operation+"/"+outcome]++
}

func (m *MockMetricsRegistry) IncrementThrottleWaits(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ThrottleWaits++
}

func (m *MockMetricsRegistry) IncrementDecisions(mode, decision string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Decisions[mode+"/"+decision] += n
}

// PhaseCount returns how many times phase was entered.
func (m *MockMetricsRegistry) PhaseCount(phase string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PhaseTransitions[phase]
}

// RemoteCallCount returns the recorded count for operation and outcome.
func (m *MockMetricsRegistry) RemoteCallCount(operation, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoteCalls[operation+"/"+outcome]
}

// RequestCount returns the recorded count for endpoint, method and status.
func (m *MockMetricsRegistry) RequestCount(endpoint, method, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Requests[endpoint+" "+method+" "+status]
}
