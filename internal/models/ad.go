package models

import (
	"sort"
	"time"
)

// CPMFloor is the platform minimum bid per thousand impressions.
const CPMFloor = 30.0

// AdStats is the raw per-ad data reported by the ads platform.
type AdStats struct {
	Name       string  `json:"name"`
	Spent      float64 `json:"spent"`       // Total money spent, in account currency.
	Reach      int64   `json:"reach"`       // Unique impressions.
	CurrentBid float64 `json:"current_bid"` // CPM bid currently set on the ad.
}

// AdMetrics is one ad's observed performance at a point in time. Spend, reach
// and bid come from the ads platform; listens come from the playlist the ad
// promotes.
type AdMetrics struct {
	AdID        int     `json:"ad_id"`
	Name        string  `json:"name"`
	Spent       float64 `json:"spent"`
	Reach       int64   `json:"reach"`
	Listens     int64   `json:"listens"`
	CurrentBid  float64 `json:"current_bid"`
	PlaylistURL string  `json:"playlist_url,omitempty"`
}

// Snapshot is the set of ad metrics observed at TakenAt, keyed by ad ID.
type Snapshot struct {
	TakenAt time.Time         `json:"taken_at"`
	Ads     map[int]AdMetrics `json:"ads"`
}

// IDs returns the snapshot's ad IDs in ascending order.
func (s Snapshot) IDs() []int {
	ids := make([]int, 0, len(s.Ads))
	for id := range s.Ads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Subset returns a snapshot restricted to the given ad IDs. Unknown IDs are ignored.
func (s Snapshot) Subset(ids []int) Snapshot {
	out := Snapshot{TakenAt: s.TakenAt, Ads: make(map[int]AdMetrics, len(ids))}
	for _, id := range ids {
		if m, ok := s.Ads[id]; ok {
			out.Ads[id] = m
		}
	}
	return out
}

// Totals sums spend, reach and listens across every ad in the snapshot.
func (s Snapshot) Totals() (spent float64, reach, listens int64) {
	for _, m := range s.Ads {
		spent += m.Spent
		reach += m.Reach
		listens += m.Listens
	}
	return spent, reach, listens
}

// Audience is a retargeting group the campaign fans out to. Each audience gets
// its own playlist, dark post and ad.
type Audience struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DarkPost is an unpublished promotional post pointing at one playlist.
type DarkPost struct {
	URL         string `json:"url"`
	PlaylistURL string `json:"playlist_url"`
}

// CreatedAd describes an ad returned by the platform after creation.
type CreatedAd struct {
	AdID    int    `json:"ad_id"`
	Name    string `json:"name"`
	PostURL string `json:"post_url"`
}
