package models

import (
	"sort"
	"time"
)

// Phase is a campaign lifecycle stage. The phase is persisted at every
// transition so an interrupted run can resume where it left off.
type Phase string

const (
	PhaseCollectingPlaylists Phase = "collecting_playlists"
	PhasePosting             Phase = "posting"
	PhaseAwaitingModeration  Phase = "awaiting_moderation"
	PhasePruning             Phase = "pruning"
	PhaseScheduled           Phase = "scheduled"
	PhaseRunning             Phase = "running"
	PhaseRebalancing         Phase = "rebalancing"
	PhaseStopping            Phase = "stopping"
	PhaseReporting           Phase = "reporting"
	PhaseDone                Phase = "done"
)

var phaseOrder = map[Phase]int{
	PhaseCollectingPlaylists: 0,
	PhasePosting:             1,
	PhaseAwaitingModeration:  2,
	PhasePruning:             3,
	PhaseScheduled:           4,
	PhaseRunning:             5,
	PhaseRebalancing:         5,
	PhaseStopping:            6,
	PhaseReporting:           7,
	PhaseDone:                8,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// AtLeast reports whether p is the same stage as other or later.
func (p Phase) AtLeast(other Phase) bool {
	return phaseOrder[p] >= phaseOrder[other]
}

// CabinetKind distinguishes a direct advertiser account from an agency client.
type CabinetKind string

const (
	CabinetUser   CabinetKind = "user"
	CabinetClient CabinetKind = "client"
)

// Cabinet identifies the ads account (and optional agency client) a campaign
// spends from.
type Cabinet struct {
	AccountID int         `json:"account_id"`
	ClientID  int         `json:"client_id,omitempty"`
	Kind      CabinetKind `json:"kind"`
	Name      string      `json:"name,omitempty"`
}

// Schedule is the main-run window. A zero Start means start immediately after
// the test gate; a zero End means run until the budget is spent or every ad is
// stopped.
type Schedule struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AdRecord is the persisted view of one ad the campaign created.
type AdRecord struct {
	AdID        int    `json:"ad_id"`
	Name        string `json:"name"`
	PlaylistURL string `json:"playlist_url"`
	PostURL     string `json:"post_url"`
	Stopped     bool   `json:"stopped"`
	// Capped is set while the test spend limit is still on the ad.
	Capped bool `json:"capped,omitempty"`
}

// CostTargets holds cost thresholds adapted at runtime by reach-speed pacing.
type CostTargets struct {
	TargetCost float64 `json:"target_cost"`
	StopCost   float64 `json:"stop_cost"`
}

// CampaignState is everything needed to resume a campaign run.
type CampaignState struct {
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	Cabinet    Cabinet  `json:"cabinet"`
	CampaignID int      `json:"campaign_id,omitempty"`
	Phase      Phase    `json:"phase"`
	Schedule   Schedule `json:"schedule"`

	Audiences []Audience       `json:"audiences,omitempty"`
	Playlists []string         `json:"playlists,omitempty"`
	Ads       map[int]AdRecord `json:"ads,omitempty"`
	// TestPassed holds the ads that survived the test gate. Every entry must
	// also be present in Ads.
	TestPassed []int `json:"test_passed,omitempty"`

	ModerationStartedAt time.Time    `json:"moderation_started_at,omitempty"`
	CostTargets         *CostTargets `json:"cost_targets,omitempty"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// AdIDs returns every ad ID in ascending order.
func (s *CampaignState) AdIDs() []int {
	ids := make([]int, 0, len(s.Ads))
	for id := range s.Ads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ActiveAdIDs returns the IDs of ads that have not been stopped, ascending.
func (s *CampaignState) ActiveAdIDs() []int {
	ids := make([]int, 0, len(s.Ads))
	for id, ad := range s.Ads {
		if !ad.Stopped {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// MarkStopped flags the given ads as stopped. Unknown IDs are ignored.
func (s *CampaignState) MarkStopped(ids []int) {
	for _, id := range ids {
		if ad, ok := s.Ads[id]; ok {
			ad.Stopped = true
			s.Ads[id] = ad
		}
	}
}

// SetCapped records whether the test spend limit is on the given ads.
// Unknown IDs are ignored.
func (s *CampaignState) SetCapped(ids []int, capped bool) {
	for _, id := range ids {
		if ad, ok := s.Ads[id]; ok {
			ad.Capped = capped
			s.Ads[id] = ad
		}
	}
}

// CappedAdIDs returns the active ads still under the test spend limit, ascending.
func (s *CampaignState) CappedAdIDs() []int {
	var ids []int
	for id, ad := range s.Ads {
		if ad.Capped && !ad.Stopped {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// RemoveAds drops the given ads from the state, including the passed set.
func (s *CampaignState) RemoveAds(ids []int) {
	drop := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		delete(s.Ads, id)
		drop[id] = struct{}{}
	}
	kept := s.TestPassed[:0]
	for _, id := range s.TestPassed {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	s.TestPassed = kept
}
