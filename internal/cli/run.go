package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/schedule"
	"github.com/roach88/tablesync/internal/table"
	"github.com/roach88/tablesync/internal/tables"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep tables in sync until stopped",
		Long: `Update the trading calendar now and then every sync interval. Each
update cascades to the tables that depend on it. Prometheus metrics are
served on the configured address.

Example:
  tablesync run --config ./tablesync.yaml
  tablesync run --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(rootOpts, cmd)
		},
	}
	return cmd
}

func runScheduler(opts *RootOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	interval, err := a.cfg.SyncInterval()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid sync interval", err)
	}
	sched, err := schedule.New(a.svc, table.Singleton(tables.GroupTradingDates), interval, a.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create scheduler", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsHandler(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Syncing tables. Press Ctrl-C to stop.")
	if err := sched.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}
	a.logger.Info("stopped gracefully")
	return nil
}

func metricsHandler(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	return mux
}
