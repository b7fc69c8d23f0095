// Package schedule drives the root of the update cascade. Each tick updates
// the trading calendar; everything else follows from the events it raises.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/tablesync/internal/table"
)

// Updater updates one table and its dependents.
type Updater interface {
	Update(ctx context.Context, id table.ID) error
}

// UpdaterFunc adapts a function to Updater.
type UpdaterFunc func(ctx context.Context, id table.ID) error

func (f UpdaterFunc) Update(ctx context.Context, id table.ID) error {
	return f(ctx, id)
}

// Scheduler periodically updates a root table.
type Scheduler struct {
	updater  Updater
	root     table.ID
	interval time.Duration
	logger   *slog.Logger
}

// New creates a scheduler updating root every interval.
func New(updater Updater, root table.ID, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("schedule interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{updater: updater, root: root, interval: interval, logger: logger}, nil
}

// Run updates immediately and then on every tick until ctx is done. A failed
// round is logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "table", s.root.String(), "interval", s.interval)
	s.round(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.round(ctx)
		}
	}
}

func (s *Scheduler) round(ctx context.Context) {
	start := time.Now()
	err := s.updater.Update(ctx, s.root)
	switch {
	case err == nil:
		s.logger.Debug("update round finished", "elapsed", time.Since(start))
	case ctx.Err() != nil:
		// shutting down
	default:
		s.logger.Error("update round failed", "table", s.root.String(), "error", err)
	}
}
