package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/api"
)

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and campaign status over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := openServices(ctx, cc.cfg, cc.logger, cc.metrics)
			if err != nil {
				return err
			}
			defer svc.Close()

			ln, err := net.Listen("tcp", ":"+cc.cfg.Port)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return svc.serve(ctx, ln)
		},
	}
}

// apiServer builds the HTTP handlers over whichever stores are configured.
func (s *services) apiServer() *api.Server {
	var (
		snapshots api.SnapshotCache
		leases    api.LeaseInspector
		ch        *sql.DB
	)
	if s.redis != nil {
		snapshots = s.redis
		leases = s.redis
	}
	if s.analytics != nil {
		ch = s.analytics.DB
	}
	return api.NewServer(s.logger, s.repo, snapshots, leases, ch, s.metrics)
}

// serve runs the API on ln until ctx is done, then drains for up to five seconds.
func (s *services) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.apiServer().Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("api server running", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
