package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/patrickwarner/trackpromo/internal/logic"
)

// Campaign is one track promotion as described by an operator-written TOML file.
type Campaign struct {
	Key    string `toml:"key"`
	Name   string `toml:"name"` // Defaults to "ARTIST / Track".
	Artist string `toml:"artist"`
	Track  string `toml:"track"`

	// The artist's community. ArtistGroupID is required to publish dark posts;
	// ArtistGroup is an optional short name used in the post mention.
	ArtistGroupID int    `toml:"artist_group_id"`
	ArtistGroup   string `toml:"artist_group"`
	Citation      string `toml:"citation"`

	AccountID   int    `toml:"account_id"`
	ClientID    int    `toml:"client_id"`
	CabinetName string `toml:"cabinet_name"`

	Budget        float64 `toml:"budget"`
	MusicInterest bool    `toml:"music_interest"`

	// Objective selects the test-gate ratio: "cost" (default) or "rate".
	Objective string         `toml:"objective"`
	Schedule  ScheduleConfig `toml:"schedule"`
	Policy    logic.Policy   `toml:"policy"`
	Pacing    PacingConfig   `toml:"pacing"`
	Playlists []string       `toml:"playlists"`
}

// ScheduleConfig bounds the main run. Both fields are optional, but a
// campaign without a budget must set End.
type ScheduleConfig struct {
	Start time.Time `toml:"start"`
	End   time.Time `toml:"end"`
}

// PacingConfig enables reach-speed steering against an even spend line.
type PacingConfig struct {
	Enabled   bool    `toml:"enabled"`
	Tolerance float64 `toml:"tolerance"`
}

// LoadCampaign reads, defaults and validates a campaign file.
func LoadCampaign(path string) (*Campaign, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open campaign: %w", err)
	}
	defer file.Close()

	var c Campaign
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse campaign %s: %w", path, err)
	}

	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Campaign) normalize() {
	c.Key = strings.TrimSpace(c.Key)
	c.Artist = strings.TrimSpace(c.Artist)
	c.Track = strings.TrimSpace(c.Track)
	if c.Name == "" && c.Artist != "" && c.Track != "" {
		c.Name = fmt.Sprintf("%s / %s", strings.ToUpper(c.Artist), c.Track)
	}
	if c.Objective == "" {
		c.Objective = string(logic.ObjectiveCost)
	}
	if c.Pacing.Enabled && c.Pacing.Tolerance == 0 {
		c.Pacing.Tolerance = 0.1
	}
	c.Policy = c.Policy.WithDefaults()
}

// Validate reports every problem with the campaign at once.
func (c *Campaign) Validate() error {
	var v ValidationError
	if c.Key == "" {
		v.add("key is required")
	}
	if c.Artist == "" {
		v.add("artist is required")
	}
	if c.Track == "" {
		v.add("track is required")
	}
	if c.ArtistGroupID <= 0 {
		v.add("artist_group_id must be a positive community id")
	}
	if c.AccountID <= 0 {
		v.add("account_id must be positive")
	}
	if c.Budget < 0 {
		v.add("budget must not be negative")
	}
	if c.Budget == 0 && c.Schedule.End.IsZero() {
		v.add("campaign needs a budget or schedule.end to finish")
	}
	switch logic.Objective(c.Objective) {
	case logic.ObjectiveCost, logic.ObjectiveRate:
	default:
		v.add("objective must be %q or %q, got %q", logic.ObjectiveCost, logic.ObjectiveRate, c.Objective)
	}
	if !c.Schedule.Start.IsZero() && !c.Schedule.End.IsZero() && !c.Schedule.End.After(c.Schedule.Start) {
		v.add("schedule.end must be after schedule.start")
	}
	if c.Pacing.Enabled {
		if c.Budget <= 0 {
			v.add("pacing requires a budget")
		}
		if c.Schedule.Start.IsZero() || c.Schedule.End.IsZero() {
			v.add("pacing requires schedule.start and schedule.end")
		}
		if c.Pacing.Tolerance < 0 || c.Pacing.Tolerance >= 1 {
			v.add("pacing.tolerance must be in [0, 1)")
		}
	}
	if err := c.Policy.Validate(); err != nil {
		v.add("policy: %v", err)
	}
	return v.err()
}
