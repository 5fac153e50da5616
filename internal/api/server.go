// Package api serves the read-only operations endpoints: health, Prometheus
// metrics and campaign status and reports.
package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/middleware"
	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/observability"
)

// StateStore reads persisted campaign state.
type StateStore interface {
	Load(ctx context.Context, key string) (*models.CampaignState, error)
	List(ctx context.Context) ([]*models.CampaignState, error)
}

// SnapshotCache returns the latest snapshot a run recorded, or models.ErrNotFound.
type SnapshotCache interface {
	CachedSnapshot(ctx context.Context, key string) (*models.Snapshot, error)
}

// LeaseInspector reports which run currently owns a campaign.
type LeaseInspector interface {
	LeaseOwner(ctx context.Context, key string) (string, error)
}

// Server groups dependencies for HTTP handlers. Snapshots, Leases and
// ClickHouseDB are optional.
type Server struct {
	Logger       *zap.Logger
	Store        StateStore
	Snapshots    SnapshotCache
	Leases       LeaseInspector
	ClickHouseDB *sql.DB
	Metrics      observability.MetricsRegistry
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, store StateStore, snapshots SnapshotCache, leases LeaseInspector, ch *sql.DB, metrics observability.MetricsRegistry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:       logger,
		Store:        store,
		Snapshots:    snapshots,
		Leases:       leases,
		ClickHouseDB: ch,
		Metrics:      metrics,
	}
}

// Router wires every endpoint. Requests are traced, logged with their trace
// IDs and counted per route template.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))
	r.Use(middleware.WithRequestMetrics(s.Metrics))

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/campaigns").Subrouter()
	api.HandleFunc("", s.ListCampaignsHandler).Methods(http.MethodGet)
	api.HandleFunc("/{key}", s.CampaignHandler).Methods(http.MethodGet)
	api.HandleFunc("/{key}/report", s.CampaignReportHandler).Methods(http.MethodGet)

	return otelhttp.NewHandler(r, "trackpromo-api")
}
