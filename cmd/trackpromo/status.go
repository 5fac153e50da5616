package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/models"
)

func newStatusCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [key]",
		Short: "Show persisted campaign state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openServices(ctx, cc.cfg, cc.logger, cc.metrics)
			if err != nil {
				return err
			}
			defer svc.Close()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				states, err := svc.repo.List(ctx)
				if err != nil {
					return err
				}
				if len(states) == 0 {
					fmt.Fprintln(out, "No campaigns")
					return nil
				}
				fmt.Fprintln(out, renderCampaignList(states))
				return nil
			}

			st, err := svc.repo.Load(ctx, args[0])
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("campaign %q not found", args[0])
				}
				return err
			}
			var (
				snap  *models.Snapshot
				owner string
			)
			if svc.redis != nil {
				snap, err = svc.redis.CachedSnapshot(ctx, st.Key)
				if err != nil && !errors.Is(err, models.ErrNotFound) {
					cc.logger.Warn("cached snapshot unavailable", zap.Error(err))
				}
				owner, err = svc.redis.LeaseOwner(ctx, st.Key)
				if err != nil {
					cc.logger.Warn("lease owner unavailable", zap.Error(err))
				}
			}
			writeCampaignStatus(out, st, snap, owner)
			return nil
		},
	}
}

func renderCampaignList(states []*models.CampaignState) string {
	rows := make([][]string, 0, len(states))
	for _, st := range states {
		rows = append(rows, []string{
			st.Key,
			st.Name,
			string(st.Phase),
			strconv.Itoa(st.CampaignID),
			strconv.Itoa(len(st.Ads)),
			strconv.Itoa(len(st.ActiveAdIDs())),
			st.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return renderTable([]string{"Key", "Name", "Phase", "Campaign", "Ads", "Active", "Updated"}, rows, 3, 4, 5)
}

func writeCampaignStatus(out io.Writer, st *models.CampaignState, snap *models.Snapshot, owner string) {
	fmt.Fprintf(out, "Campaign:  %s (%s)\n", st.Key, st.Name)
	fmt.Fprintf(out, "Phase:     %s\n", st.Phase)
	fmt.Fprintf(out, "Cabinet:   %d", st.Cabinet.AccountID)
	if st.Cabinet.ClientID > 0 {
		fmt.Fprintf(out, " / client %d", st.Cabinet.ClientID)
	}
	if st.Cabinet.Name != "" {
		fmt.Fprintf(out, " %s", st.Cabinet.Name)
	}
	fmt.Fprintln(out)
	if st.CampaignID > 0 {
		fmt.Fprintf(out, "Remote ID: %d\n", st.CampaignID)
	}
	if owner != "" {
		fmt.Fprintf(out, "Owner:     %s\n", owner)
	}
	if snap != nil {
		fmt.Fprintf(out, "Snapshot:  %s\n", snap.TakenAt.UTC().Format(time.RFC3339))
	}
	if len(st.Ads) == 0 {
		return
	}

	rows := make([][]string, 0, len(st.Ads))
	for _, id := range st.AdIDs() {
		ad := st.Ads[id]
		state := "active"
		if ad.Stopped {
			state = "stopped"
		}
		row := []string{strconv.Itoa(id), ad.Name, state, "-", "-", "-", "-"}
		if snap != nil {
			if m, ok := snap.Ads[id]; ok {
				row[3] = money(m.Spent)
				row[4] = strconv.FormatInt(m.Reach, 10)
				row[5] = strconv.FormatInt(m.Listens, 10)
				row[6] = money(m.CurrentBid)
			}
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(out, renderTable([]string{"Ad", "Audience", "State", "Spent", "Reach", "Listens", "CPM"}, rows, 0, 3, 4, 5, 6))
}
