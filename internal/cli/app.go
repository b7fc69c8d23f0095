package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roach88/tablesync/internal/config"
	"github.com/roach88/tablesync/internal/freshness"
	"github.com/roach88/tablesync/internal/gateway/iss"
	"github.com/roach88/tablesync/internal/metrics"
	"github.com/roach88/tablesync/internal/service"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/store/mongostore"
	"github.com/roach88/tablesync/internal/table"
	"github.com/roach88/tablesync/internal/tables"
)

// snapshotStore is what the commands need from either storage driver.
type snapshotStore interface {
	service.Store
	List(ctx context.Context) ([]table.ID, error)
	ViewJSON(ctx context.Context, id table.ID) ([]byte, error)
}

// app is the wired process: config, logging, metrics, storage and service.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	gatherer *prometheus.Registry
	metrics  *metrics.Metrics
	store    snapshotStore
	close    func(context.Context) error
	registry *table.Registry
	svc      *service.Service
}

// loadConfig reads the configured file and builds the logger.
func loadConfig(opts *RootOptions, stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	level := cfg.LogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

// newRegistry builds the table registry over ISS, or over opts.Sources when
// set.
func newRegistry(opts *RootOptions, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*table.Registry, error) {
	settings, err := cfg.TableSettings()
	if err != nil {
		return nil, err
	}

	var sources tables.Sources
	if opts.Sources != nil {
		sources = *opts.Sources
	} else {
		issCfg, err := cfg.ISSConfig()
		if err != nil {
			return nil, err
		}
		sources = iss.NewClient(issCfg, iss.WithLogger(logger), iss.WithMetrics(m)).Sources()
	}
	return tables.NewRegistry(sources, settings)
}

// openStore opens the configured storage driver.
func openStore(ctx context.Context, cfg config.Storage, logger *slog.Logger) (snapshotStore, func(context.Context) error, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		logger.Info("connecting to mongo", "db", cfg.MongoDB)
		st, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		logger.Info("opening database", "path", cfg.Path)
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, func(context.Context) error { return st.Close() }, nil
	}
}

// openApp wires everything a command needs.
func openApp(ctx context.Context, opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, logger, err := loadConfig(opts, stderr)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, gatherer: prometheus.NewRegistry()}
	a.gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metrics, err = metrics.New(a.gatherer); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	if a.registry, err = newRegistry(opts, cfg, logger, a.metrics); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build table registry", err)
	}

	freshOpts, err := cfg.FreshnessOptions()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid calendar", err)
	}
	var clock freshness.Clock = freshness.SystemClock{}
	if opts.Clock != nil {
		clock = opts.Clock
	}
	policy, err := freshness.New(clock, freshOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid calendar", err)
	}

	if a.store, a.close, err = openStore(ctx, cfg.Storage, logger); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}

	svcOpts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(a.metrics),
		service.WithWorkers(cfg.Sync.Workers),
		service.WithMaxSteps(cfg.Sync.MaxSteps),
	}
	if opts.FlowGenerator != nil {
		svcOpts = append(svcOpts, service.WithFlowGenerator(opts.FlowGenerator))
	}
	if a.svc, err = service.New(a.registry, a.store, policy, svcOpts...); err != nil {
		_ = a.close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to build service", err)
	}
	return a, nil
}

// Close releases the storage.
func (a *app) Close(ctx context.Context) {
	if err := a.close(ctx); err != nil {
		a.logger.Error("error closing storage", "error", err)
	}
}

// tableStatus is one table's state as reported by the commands.
type tableStatus struct {
	Table     string `json:"table"`
	Rows      int    `json:"rows"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (s tableStatus) String() string {
	ts := s.Timestamp
	if ts == "" {
		ts = "never"
	}
	return fmt.Sprintf("%s rows=%d updated=%s", s.Table, s.Rows, ts)
}
