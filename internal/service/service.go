package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/freshness"
	"github.com/roach88/tablesync/internal/metrics"
	"github.com/roach88/tablesync/internal/table"
)

// Store is the persistence collaborator.
//
// Load returns an empty snapshot for a table that was never saved. Save
// applies a change atomically: rows and timestamp are written together or
// not at all.
type Store interface {
	Load(ctx context.Context, id table.ID) (table.Snapshot, error)
	Save(ctx context.Context, change table.Change) error
}

// Service orchestrates table updates and the event cascade.
type Service struct {
	registry *table.Registry
	store    Store
	policy   *freshness.Policy
	router   *event.Router
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    freshness.Clock
	flowGen  event.FlowTokenGenerator
	workers  int

	routerOpts []event.RouterOption

	mu     sync.Mutex
	tables map[table.ID]*table.Table
	loads  singleflight.Group
	locks  *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used by the service and its router.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
		s.routerOpts = append(s.routerOpts, event.WithLogger(logger))
	}
}

// WithMetrics records synchronization metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock sets the clock stamping commits. Defaults to the policy clock.
func WithClock(clock freshness.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithWorkers sets the parallelism of UpdateAll and of cascade deliveries.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
		s.routerOpts = append(s.routerOpts, event.WithWorkers(n))
	}
}

// WithMaxSteps bounds the deliveries of one cascade.
func WithMaxSteps(n int) Option {
	return func(s *Service) {
		s.routerOpts = append(s.routerOpts, event.WithMaxSteps(n))
	}
}

// WithFlowGenerator overrides cascade flow tokens.
func WithFlowGenerator(gen event.FlowTokenGenerator) Option {
	return func(s *Service) {
		s.flowGen = gen
	}
}

// WithObserver is called before every cascade delivery.
func WithObserver(fn func(event.Delivery)) Option {
	return func(s *Service) {
		s.routerOpts = append(s.routerOpts, event.WithObserver(fn))
	}
}

// New creates a service. The event graph is derived from the registry and
// fails construction if it has a cycle.
func New(registry *table.Registry, store Store, policy *freshness.Policy, opts ...Option) (*Service, error) {
	if registry == nil || store == nil || policy == nil {
		return nil, errors.New("service needs a registry, a store and a freshness policy")
	}

	s := &Service{
		registry: registry,
		store:    store,
		policy:   policy,
		logger:   slog.Default(),
		clock:    policy,
		flowGen:  event.UUIDv7Generator{},
		workers:  1,
		tables:   make(map[table.ID]*table.Table),
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}

	graph, err := registry.Graph()
	if err != nil {
		return nil, fmt.Errorf("build event graph: %w", err)
	}
	routerOpts := append([]event.RouterOption{event.WithFlowGenerator(s.flowGen)}, s.routerOpts...)
	s.router = event.NewRouter(graph, s, routerOpts...)
	return s, nil
}

// Graph returns the event subscription graph.
func (s *Service) Graph() *event.Graph {
	return s.router.Graph()
}

// Table returns the table for id, loading it from the store on first use.
// Concurrent first lookups share one load.
func (s *Service) Table(ctx context.Context, id table.ID) (*table.Table, error) {
	if t := s.loaded(id); t != nil {
		return t, nil
	}

	v, err, _ := s.loads.Do(id.Group+"\x00"+id.Name, func() (any, error) {
		if t := s.loaded(id); t != nil {
			return t, nil
		}

		t, err := s.registry.NewTable(id)
		if err != nil {
			return nil, err
		}
		snap, err := s.store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		if err := t.Restore(snap); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.tables[id] = t
		s.mu.Unlock()

		s.logger.Debug("table loaded",
			"table", id.String(),
			"rows", len(snap.Rows),
			"updated", snap.Updated(),
		)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*table.Table), nil
}

func (s *Service) loaded(id table.ID) *table.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[id]
}

// Tables lists the identities loaded so far, sorted.
func (s *Service) Tables() []table.ID {
	s.mu.Lock()
	ids := make([]table.ID, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Group != ids[j].Group {
			return ids[i].Group < ids[j].Group
		}
		return ids[i].Name < ids[j].Name
	})
	return ids
}

// Helper resolves the helper table of t's group, if it has one. The helper is
// loaded but never updated implicitly.
func (s *Service) Helper(ctx context.Context, t *table.Table) (freshness.Helper, error) {
	id, ok := t.Kind().Policy().HelperID()
	if !ok {
		return freshness.NoHelper(), nil
	}
	h, err := s.Table(ctx, id)
	if err != nil {
		return freshness.NoHelper(), fmt.Errorf("helper of %s: %w", t.ID(), err)
	}
	return freshness.HelperOf(h), nil
}

// Update synchronizes the table if it is stale, then publishes the events
// it raised and waits for the cascade.
func (s *Service) Update(ctx context.Context, id table.ID) error {
	return s.update(ctx, id, false)
}

// ForceUpdate is Update without the freshness check.
func (s *Service) ForceUpdate(ctx context.Context, id table.ID) error {
	return s.update(ctx, id, true)
}

func (s *Service) update(ctx context.Context, id table.ID, force bool) error {
	if event.FlowFrom(ctx) == "" {
		ctx = event.WithFlow(ctx, s.flowGen.Generate())
	}

	t, err := s.Table(ctx, id)
	if err != nil {
		return err
	}
	helper, err := s.Helper(ctx, t)
	if err != nil {
		return err
	}

	events, err := s.sync(ctx, t, helper, force, nil)
	if err != nil {
		return err
	}
	return s.router.Publish(ctx, events...)
}

// UpdateAll updates independent tables in parallel. A failure does not stop
// the others; all failures are joined.
func (s *Service) UpdateAll(ctx context.Context, ids []table.ID) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.Update(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// HandleEvent delivers ev to the table of group it routes to. It implements
// event.Handler.
func (s *Service) HandleEvent(ctx context.Context, group string, ev event.Event) ([]event.Event, error) {
	kind, err := s.registry.Kind(group)
	if err != nil {
		return nil, err
	}
	route, ok := kind.Route(ev)
	if !ok {
		return nil, nil
	}

	t, err := s.Table(ctx, table.ID{Group: group, Name: route.Name})
	if err != nil {
		return nil, err
	}
	helper, err := s.Helper(ctx, t)
	if err != nil {
		return nil, err
	}
	return s.sync(ctx, t, helper, route.Force, ev)
}

// Sync refreshes t if it is stale with respect to helper, or unconditionally
// when force is set. It returns the events raised by the update without
// publishing them. A table that needs no update yields no events and no
// error.
func (s *Service) Sync(ctx context.Context, t *table.Table, helper freshness.Helper, force bool) ([]event.Event, error) {
	return s.sync(ctx, t, helper, force, nil)
}

func (s *Service) sync(ctx context.Context, t *table.Table, helper freshness.Helper, force bool, trigger event.Event) ([]event.Event, error) {
	id := t.ID()
	logger := s.logger.With("table", id.String(), "flow", event.FlowFrom(ctx))

	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	defer unlock()

	start := time.Now()
	threshold := s.policy.Threshold(helper)
	if !force && !t.NeedsUpdate(threshold) {
		logger.Debug("table is fresh", "threshold", threshold)
		s.metrics.ObserveUpdate(id.Group, metrics.ResultSkipped, 0)
		return nil, nil
	}

	// Millisecond precision survives every store.
	now := s.clock.Now().UTC().Truncate(time.Millisecond)

	events, err := s.commit(ctx, t, now, trigger)
	if err != nil {
		logger.Warn("update failed", "force", force, "error", err)
		s.metrics.ObserveUpdate(id.Group, metrics.ResultFailed, time.Since(start))
		return nil, err
	}
	s.metrics.ObserveUpdate(id.Group, metrics.ResultCommitted, time.Since(start))
	for _, ev := range events {
		s.metrics.EventPublished(string(ev.Kind()))
	}
	return events, nil
}

// commit runs prepare, save, commit and event derivation for a locked table.
func (s *Service) commit(ctx context.Context, t *table.Table, now time.Time, trigger event.Event) ([]event.Event, error) {
	p, err := t.Prepare(ctx, now)
	if err != nil {
		return nil, err
	}

	change := p.Change()
	if err := s.store.Save(ctx, change); err != nil {
		return nil, fmt.Errorf("save %s: %w", t.ID(), err)
	}
	if err := t.Commit(p); err != nil {
		return nil, err
	}
	s.metrics.RowsCommitted(t.ID().Group, change.Mode.String(), len(change.Rows))

	s.logger.Info("table updated",
		"table", t.ID().String(),
		"mode", change.Mode.String(),
		"rows", len(change.Rows),
		"flow", event.FlowFrom(ctx),
	)

	return t.Events(p, trigger, s.policy.LastTradingDay())
}
