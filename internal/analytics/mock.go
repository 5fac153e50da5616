package analytics

import (
	"context"
	"sync"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// MockAnalytics keeps recorded snapshots in memory.
type MockAnalytics struct {
	mu    sync.Mutex
	Snaps map[string][]models.Snapshot
	Err   error
}

// NewMockAnalytics returns an empty in-memory recorder.
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{Snaps: make(map[string][]models.Snapshot)}
}

// RecordSnapshot appends snap unless Err is set.
func (m *MockAnalytics) RecordSnapshot(_ context.Context, campaignKey string, snap models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Snaps[campaignKey] = append(m.Snaps[campaignKey], snap)
	return nil
}

// Count returns how many snapshots were recorded for a campaign.
func (m *MockAnalytics) Count(campaignKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Snaps[campaignKey])
}
