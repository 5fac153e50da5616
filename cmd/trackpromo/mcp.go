package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/api"
	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/reporting"
)

// CampaignKeyInput selects one campaign.
type CampaignKeyInput struct {
	Key string `json:"key" jsonschema:"campaign key as written in the campaign file"`
}

// ListInput takes no arguments.
type ListInput struct{}

// campaignTools answers read-only questions about persisted campaigns.
type campaignTools struct {
	store     api.StateStore
	snapshots api.SnapshotCache // Optional.
	leases    api.LeaseInspector
	logger    *zap.Logger
}

func (s *services) campaignTools() *campaignTools {
	t := &campaignTools{store: s.repo, logger: s.logger}
	if s.redis != nil {
		t.snapshots = s.redis
		t.leases = s.redis
	}
	return t
}

func (t *campaignTools) ListCampaigns(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, any, error) {
	states, err := t.store.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list campaigns: %w", err)
	}
	out := make([]api.CampaignSummary, 0, len(states))
	for _, st := range states {
		out = append(out, api.CampaignSummary{
			Key:        st.Key,
			Name:       st.Name,
			Phase:      st.Phase,
			CampaignID: st.CampaignID,
			Ads:        len(st.Ads),
			ActiveAds:  len(st.ActiveAdIDs()),
			UpdatedAt:  st.UpdatedAt,
		})
	}
	return nil, map[string]any{"campaigns": out}, nil
}

func (t *campaignTools) CampaignStatus(ctx context.Context, _ *mcp.CallToolRequest, in CampaignKeyInput) (*mcp.CallToolResult, any, error) {
	st, err := t.load(ctx, in.Key)
	if err != nil {
		return nil, nil, err
	}
	status := api.CampaignStatus{State: st}
	if t.snapshots != nil {
		snap, err := t.snapshots.CachedSnapshot(ctx, st.Key)
		switch {
		case err == nil:
			status.Snapshot = snap
		case !errors.Is(err, models.ErrNotFound):
			t.logger.Warn("cached snapshot unavailable", zap.String("campaign", st.Key), zap.Error(err))
		}
	}
	if t.leases != nil {
		owner, err := t.leases.LeaseOwner(ctx, st.Key)
		if err != nil {
			t.logger.Warn("lease owner unavailable", zap.String("campaign", st.Key), zap.Error(err))
		}
		status.Owner = owner
	}
	return nil, status, nil
}

func (t *campaignTools) CampaignReport(ctx context.Context, _ *mcp.CallToolRequest, in CampaignKeyInput) (*mcp.CallToolResult, any, error) {
	st, err := t.load(ctx, in.Key)
	if err != nil {
		return nil, nil, err
	}
	if t.snapshots == nil {
		return nil, nil, errors.New("snapshot cache not configured")
	}
	snap, err := t.snapshots.CachedSnapshot(ctx, st.Key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, fmt.Errorf("campaign %q has no recorded snapshot", st.Key)
		}
		return nil, nil, err
	}
	return nil, reporting.Build(st, *snap), nil
}

func (t *campaignTools) load(ctx context.Context, key string) (*models.CampaignState, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	st, err := t.store.Load(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("campaign %q not found", key)
	}
	return st, err
}

// newMCPServer registers the campaign tools.
func newMCPServer(tools *campaignTools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "trackpromo",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_campaigns",
		Description: "List every persisted campaign with its phase and ad counts",
	}, tools.ListCampaigns)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "campaign_status",
		Description: "Show one campaign's persisted state, latest snapshot and lease owner",
	}, tools.CampaignStatus)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "campaign_report",
		Description: "Build a campaign's performance report from its latest snapshot",
	}, tools.CampaignReport)
	return server
}

func newMCPCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only campaign tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openServices(ctx, cc.cfg, cc.logger, cc.metrics)
			if err != nil {
				return err
			}
			defer svc.Close()

			var logBuffer bytes.Buffer
			transport := &mcp.LoggingTransport{
				Transport: &mcp.StdioTransport{},
				Writer:    &logBuffer,
			}
			cc.logger.Info("mcp server running via stdio")
			if err := newMCPServer(svc.campaignTools()).Run(ctx, transport); err != nil {
				return fmt.Errorf("mcp server: %w (transcript: %s)", err, logBuffer.String())
			}
			return nil
		},
	}
}
