package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/middleware"
	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/reporting"
)

// CampaignSummary is one row of the campaign list.
type CampaignSummary struct {
	Key        string       `json:"key"`
	Name       string       `json:"name"`
	Phase      models.Phase `json:"phase"`
	CampaignID int          `json:"campaign_id,omitempty"`
	Ads        int          `json:"ads"`
	ActiveAds  int          `json:"active_ads"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// CampaignStatus is the detailed view of one campaign.
type CampaignStatus struct {
	State    *models.CampaignState `json:"state"`
	Snapshot *models.Snapshot      `json:"snapshot,omitempty"`
	Owner    string                `json:"owner,omitempty"` // Run ID holding the lease.
}

// ListCampaignsHandler handles GET /campaigns.
func (s *Server) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	states, err := s.Store.List(r.Context())
	if err != nil {
		logger.Error("list campaigns", zap.Error(err))
		http.Error(w, "failed to list campaigns", http.StatusInternalServerError)
		return
	}

	out := make([]CampaignSummary, 0, len(states))
	for _, st := range states {
		out = append(out, CampaignSummary{
			Key:        st.Key,
			Name:       st.Name,
			Phase:      st.Phase,
			CampaignID: st.CampaignID,
			Ads:        len(st.Ads),
			ActiveAds:  len(st.ActiveAdIDs()),
			UpdatedAt:  st.UpdatedAt,
		})
	}
	s.writeJSON(w, r, out)
}

// CampaignHandler handles GET /campaigns/{key}: persisted state plus, when
// available, the latest cached snapshot and the lease owner.
func (s *Server) CampaignHandler(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadState(w, r)
	if !ok {
		return
	}
	logger := middleware.LoggerFromRequest(r, s.Logger)

	status := CampaignStatus{State: st}
	if s.Snapshots != nil {
		snap, err := s.Snapshots.CachedSnapshot(r.Context(), st.Key)
		switch {
		case err == nil:
			status.Snapshot = snap
		case !errors.Is(err, models.ErrNotFound):
			logger.Warn("cached snapshot unavailable", zap.String("campaign", st.Key), zap.Error(err))
		}
	}
	if s.Leases != nil {
		owner, err := s.Leases.LeaseOwner(r.Context(), st.Key)
		if err != nil {
			logger.Warn("lease owner unavailable", zap.String("campaign", st.Key), zap.Error(err))
		}
		status.Owner = owner
	}
	s.writeJSON(w, r, status)
}

// CampaignReportHandler handles GET /campaigns/{key}/report. The report is
// built from the latest cached snapshot; the hourly timeline is added when
// ClickHouse is configured.
func (s *Server) CampaignReportHandler(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadState(w, r)
	if !ok {
		return
	}
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if s.Snapshots == nil {
		http.Error(w, "snapshot cache unavailable", http.StatusServiceUnavailable)
		return
	}
	snap, err := s.Snapshots.CachedSnapshot(r.Context(), st.Key)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "no snapshot recorded for campaign", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("cached snapshot", zap.String("campaign", st.Key), zap.Error(err))
		http.Error(w, "failed to read snapshot", http.StatusInternalServerError)
		return
	}

	report := reporting.Build(st, *snap)
	if s.ClickHouseDB != nil {
		timeline, err := reporting.Timeline(r.Context(), s.ClickHouseDB, st.Key)
		if err != nil {
			logger.Warn("report timeline unavailable", zap.String("campaign", st.Key), zap.Error(err))
		}
		report.Timeline = timeline
	}

	logger.Info("campaign report generated",
		zap.String("campaign", st.Key),
		zap.Float64("spent", report.Totals.Spent),
		zap.Int64("listens", report.Totals.Listens))
	s.writeJSON(w, r, report)
}

func (s *Server) loadState(w http.ResponseWriter, r *http.Request) (*models.CampaignState, bool) {
	key := mux.Vars(r)["key"]
	if key == "" {
		http.Error(w, "campaign key is required", http.StatusBadRequest)
		return nil, false
	}
	st, err := s.Store.Load(r.Context(), key)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "campaign not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("load campaign", zap.String("campaign", key), zap.Error(err))
		http.Error(w, "failed to load campaign", http.StatusInternalServerError)
		return nil, false
	}
	return st, true
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("encode response", zap.Error(err))
	}
}
