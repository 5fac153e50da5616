package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/reporting"
)

func newReportCommand(cc *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report <key>",
		Short: "Print a campaign's performance report from its latest snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openServices(ctx, cc.cfg, cc.logger, cc.metrics)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.repo.Load(ctx, args[0])
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("campaign %q not found", args[0])
				}
				return err
			}
			if svc.redis == nil {
				return errors.New("report needs REDIS_ADDR: snapshots are cached in redis")
			}
			snap, err := svc.redis.CachedSnapshot(ctx, st.Key)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("campaign %q has no recorded snapshot", st.Key)
				}
				return err
			}

			report := reporting.Build(st, *snap)
			if svc.analytics != nil {
				timeline, err := reporting.Timeline(ctx, svc.analytics.DB, st.Key)
				if err != nil {
					cc.logger.Warn("snapshot history unavailable", zap.Error(err))
				}
				report.Timeline = timeline
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			writeReport(out, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func writeReport(out io.Writer, r reporting.Report) {
	fmt.Fprintf(out, "%s (%s), %s at %s\n", r.Name, r.Campaign, r.Phase, r.TakenAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Spent %s, reach %d, listens %d, cost/listen %s, listen rate %s%%\n",
		money(r.Totals.Spent), r.Totals.Reach, r.Totals.Listens,
		ratioCell(r.Totals.CostPerListen), ratioCell(r.Totals.ListenRate))
	fmt.Fprintf(out, "Ads: %d active, %d stopped\n", r.Totals.AdsActive, r.Totals.AdsStopped)

	rows := make([][]string, 0, len(r.Ads))
	for _, ad := range r.Ads {
		rows = append(rows, []string{
			strconv.Itoa(ad.AdID),
			ad.Name,
			ad.Status,
			money(ad.Spent),
			strconv.FormatInt(ad.Reach, 10),
			strconv.FormatInt(ad.Listens, 10),
			money(ad.CPM),
			ratioCell(ad.CostPerListen),
			ratioCell(ad.ListenRate),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Ad", "Audience", "Status", "Spent", "Reach", "Listens", "CPM", "Cost/Listen", "Rate %"},
		rows, 0, 3, 4, 5, 6, 7, 8))

	if len(r.Timeline) == 0 {
		return
	}
	points := make([][]string, 0, len(r.Timeline))
	for _, p := range r.Timeline {
		points = append(points, []string{
			p.Hour.UTC().Format("2006-01-02 15:04"),
			money(p.Spent),
			strconv.FormatInt(p.Reach, 10),
			strconv.FormatInt(p.Listens, 10),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"Hour", "Spent", "Reach", "Listens"}, points, 1, 2, 3))
}
