package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", samplerFor(1).Description())
	assert.Equal(t, "AlwaysOnSampler", samplerFor(2).Description())
	assert.Equal(t, "AlwaysOffSampler", samplerFor(0).Description())
	assert.True(t, strings.HasPrefix(samplerFor(0.25).Description(), "TraceIDRatioBased"))
}

func TestMockMetricsRegistryRecords(t *testing.T) {
	m := NewMockMetricsRegistry()
	var reg MetricsRegistry = m

	reg.IncrementPhaseTransitions("running")
	reg.IncrementPhaseTransitions("running")
	reg.IncrementRemoteCalls("stop", "success")
	reg.IncrementDecisions("cost", "raise", 3)

	assert.Equal(t, 2, m.PhaseCount("running"))
	assert.Equal(t, 1, m.RemoteCallCount("stop", "success"))
	assert.Equal(t, 3, m.Decisions["cost/raise"])
}
