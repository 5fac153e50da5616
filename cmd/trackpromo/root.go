package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/config"
	"github.com/patrickwarner/trackpromo/internal/observability"
)

type commandContext struct {
	cfg      config.Config
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	shutdown []func()
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&commandContext{})
}

// newRootCommandWith lets tests inject a logger and metrics registry.
func newRootCommandWith(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "trackpromo",
		Short:         "Promote a track with VK ads and steer bids toward cheap listens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newReportCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMCPCommand(ctx))
	return rootCmd
}

// init loads service configuration from the environment and sets up logging
// and tracing.
func (c *commandContext) init(ctx context.Context) error {
	c.cfg = config.Load()
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	if c.logger == nil {
		logger, err := observability.InitLoggerWithService(c.cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		c.logger = logger
		c.shutdown = append(c.shutdown, func() {
			if err := logger.Sync(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
			}
		})
	}
	if c.metrics == nil {
		c.metrics = observability.NewPrometheusRegistry()
	}

	if c.cfg.TracingEnabled {
		stop, err := observability.InitTracing(ctx, c.logger, observability.TracingConfig{
			ServiceName: c.cfg.ServiceName,
			Environment: c.cfg.Environment,
			Endpoint:    c.cfg.TempoEndpoint,
			SampleRate:  c.cfg.TracingSampleRate,
		})
		if err != nil {
			c.logger.Warn("tracing disabled", zap.Error(err))
		} else {
			c.shutdown = append(c.shutdown, stop)
		}
	}
	return nil
}

func (c *commandContext) close() {
	for i := len(c.shutdown) - 1; i >= 0; i-- {
		c.shutdown[i]()
	}
	c.shutdown = nil
}
