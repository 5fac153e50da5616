package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/trackpromo/internal/campaign"
	"github.com/patrickwarner/trackpromo/internal/config"
)

type runOptions struct {
	parallel int
	serve    bool
	progress bool
}

func newRunCommand(cc *commandContext) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <campaign.toml>...",
		Short: "Run or resume campaigns until they finish",
		Long: "Run drives every campaign file through its lifecycle. Campaigns run " +
			"concurrently and independently; an interrupted run stops all delivering " +
			"ads and can be resumed by running the same file again.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaigns, err := loadCampaigns(args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCampaigns(ctx, cc, campaigns, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.parallel, "parallel", 0, "Maximum campaigns running at once (0 runs all)")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "Serve the status API while campaigns run")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Print progress records as JSON lines")
	return cmd
}

// loadCampaigns reads every file and rejects two files sharing a key.
func loadCampaigns(paths []string) ([]*config.Campaign, error) {
	seen := make(map[string]string, len(paths))
	out := make([]*config.Campaign, 0, len(paths))
	for _, path := range paths {
		c, err := config.LoadCampaign(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[c.Key]; ok {
			return nil, fmt.Errorf("campaign key %q used by both %s and %s", c.Key, prev, path)
		}
		seen[c.Key] = path
		out = append(out, c)
	}
	return out, nil
}

type campaignOutcome struct {
	result *campaign.Result
	err    error
}

func runCampaigns(ctx context.Context, cc *commandContext, campaigns []*config.Campaign, opts runOptions, out io.Writer) error {
	svc, err := openServices(ctx, cc.cfg, cc.logger, cc.metrics)
	if err != nil {
		return err
	}
	defer svc.Close()

	var progress campaign.ProgressSink
	if opts.progress {
		progress = jsonProgress(out)
	}

	// Every campaign is wired before any of them starts.
	orchestrators := make([]*campaign.Orchestrator, len(campaigns))
	for i, c := range campaigns {
		o, err := svc.orchestrator(ctx, c, progress)
		if err != nil {
			return fmt.Errorf("campaign %s: %w", c.Key, err)
		}
		orchestrators[i] = o
	}

	serveErr := make(chan error, 1)
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	if opts.serve {
		ln, err := net.Listen("tcp", ":"+cc.cfg.Port)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		go func() { serveErr <- svc.serve(serveCtx, ln) }()
	} else {
		serveErr <- nil
	}

	outcomes := make([]campaignOutcome, len(campaigns))
	var g errgroup.Group
	if opts.parallel > 0 {
		g.SetLimit(opts.parallel)
	}
	for i, o := range orchestrators {
		g.Go(func() error {
			res, err := o.Run(ctx)
			outcomes[i] = campaignOutcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	stopServe()
	if err := <-serveErr; err != nil {
		cc.logger.Error("api server failed", zap.Error(err))
	}

	fmt.Fprintln(out, renderResults(campaigns, outcomes))

	var errs []error
	for i, oc := range outcomes {
		switch {
		case oc.err == nil, errors.Is(oc.err, campaign.ErrCampaignDone):
		case errors.Is(oc.err, context.Canceled):
			errs = append(errs, oc.err)
		default:
			errs = append(errs, fmt.Errorf("campaign %s: %w", campaigns[i].Key, oc.err))
		}
	}
	return errors.Join(errs...)
}

func renderResults(campaigns []*config.Campaign, outcomes []campaignOutcome) string {
	rows := make([][]string, 0, len(outcomes))
	for i, oc := range outcomes {
		row := []string{campaigns[i].Key, "-", "-", "-", "-", "-"}
		if res := oc.result; res != nil {
			row[1] = string(res.Phase)
			if res.Report != nil {
				row[2] = money(res.Report.Totals.Spent)
				row[3] = strconv.FormatInt(res.Report.Totals.Listens, 10)
				row[4] = ratioCell(res.Report.Totals.CostPerListen)
			}
		}
		switch {
		case oc.err == nil:
			row[5] = "ok"
		case errors.Is(oc.err, campaign.ErrCampaignDone):
			row[5] = "already done"
		case errors.Is(oc.err, context.Canceled):
			row[5] = "interrupted"
		default:
			row[5] = oc.err.Error()
		}
		rows = append(rows, row)
	}
	return renderTable([]string{"Campaign", "Phase", "Spent", "Listens", "Cost/Listen", "Outcome"}, rows, 2, 3, 4)
}

// jsonProgress writes each record as one JSON line. Campaigns emit
// concurrently, so writes are serialized.
func jsonProgress(w io.Writer) campaign.ProgressSink {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return campaign.ProgressFunc(func(p campaign.Progress) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(p)
	})
}
