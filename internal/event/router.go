package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Handler processes one delivery: group is the subscribing table group.
// It returns the events raised by the resulting update.
type Handler interface {
	HandleEvent(ctx context.Context, group string, ev Event) ([]Event, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, group string, ev Event) ([]Event, error)

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, group string, ev Event) ([]Event, error) {
	return f(ctx, group, ev)
}

// Delivery describes one handler invocation. Passed to the observer.
type Delivery struct {
	Flow  string
	Depth int
	Event Event
	Group string
}

// Router publishes events along an immutable Graph.
type Router struct {
	graph    *Graph
	handler  Handler
	workers  int
	maxSteps int
	flowGen  FlowTokenGenerator
	logger   *slog.Logger
	observer func(Delivery)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithWorkers sets how many deliveries of one batch may run at once.
// The default of 1 delivers strictly sequentially, depth first.
func WithWorkers(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithMaxSteps sets the per-flow delivery quota.
func WithMaxSteps(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithFlowGenerator overrides the UUIDv7 flow tokens.
func WithFlowGenerator(gen FlowTokenGenerator) RouterOption {
	return func(r *Router) {
		r.flowGen = gen
	}
}

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithObserver registers a callback invoked before every delivery.
// With more than one worker it is called concurrently.
func WithObserver(fn func(Delivery)) RouterOption {
	return func(r *Router) {
		r.observer = fn
	}
}

// NewRouter creates a router dispatching to handler along graph.
func NewRouter(graph *Graph, handler Handler, opts ...RouterOption) *Router {
	r := &Router{
		graph:    graph,
		handler:  handler,
		workers:  1,
		maxSteps: DefaultMaxSteps,
		flowGen:  UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Graph returns the subscription graph.
func (r *Router) Graph() *Graph {
	return r.graph
}

// Publish delivers events to every subscriber and, recursively, the events
// those deliveries raise. It returns after the whole cascade completes.
//
// A failed delivery does not stop deliveries to other subscribers; all
// failures are joined into the returned error. A QuotaError or context
// cancellation stops the cascade.
func (r *Router) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	flow := FlowFrom(ctx)
	if flow == "" {
		flow = r.flowGen.Generate()
		ctx = WithFlow(ctx, flow)
	}

	c := &cascade{router: r, flow: flow, quota: newQuota(flow, r.maxSteps)}
	c.publish(ctx, 0, events)
	return c.err()
}

type delivery struct {
	group string
	ev    Event
}

// cascade is the state of one Publish call.
type cascade struct {
	router *Router
	flow   string
	quota  *quota

	mu    sync.Mutex
	errs  []error
	fatal error
}

func (c *cascade) publish(ctx context.Context, depth int, events []Event) {
	var batch []delivery
	for _, ev := range events {
		for _, group := range c.router.graph.Subscribers(ev.Kind()) {
			batch = append(batch, delivery{group: group, ev: ev})
		}
	}

	if c.router.workers <= 1 {
		for _, d := range batch {
			if c.stopped(ctx) {
				return
			}
			c.deliver(ctx, depth, d)
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.router.workers)
	for _, d := range batch {
		if c.stopped(gctx) {
			break
		}
		g.Go(func() error {
			if c.stopped(gctx) {
				return nil
			}
			c.deliver(gctx, depth, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *cascade) deliver(ctx context.Context, depth int, d delivery) {
	if err := c.quota.check(); err != nil {
		c.router.logger.Error("cascade stopped",
			"flow", c.flow,
			"error", err,
		)
		c.fail(err, true)
		return
	}

	if c.router.observer != nil {
		c.router.observer(Delivery{Flow: c.flow, Depth: depth, Event: d.ev, Group: d.group})
	}

	raised, err := c.router.handler.HandleEvent(ctx, d.group, d.ev)
	if err != nil {
		c.router.logger.Warn("event delivery failed",
			"flow", c.flow,
			"event", d.ev.Kind(),
			"group", d.group,
			"error", err,
		)
		c.fail(fmt.Errorf("deliver %s to %s: %w", d.ev.Kind(), d.group, err), false)
		return
	}

	c.router.logger.Debug("event delivered",
		"flow", c.flow,
		"event", d.ev.Kind(),
		"group", d.group,
		"raised", len(raised),
	)
	if len(raised) > 0 {
		c.publish(ctx, depth+1, raised)
	}
}

func (c *cascade) fail(err error, fatal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fatal {
		if c.fatal == nil {
			c.fatal = err
		}
		return
	}
	c.errs = append(c.errs, err)
}

func (c *cascade) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		c.mu.Lock()
		if c.fatal == nil {
			c.fatal = ctx.Err()
		}
		c.mu.Unlock()
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal != nil
}

func (c *cascade) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return errors.Join(append([]error{c.fatal}, c.errs...)...)
	}
	return errors.Join(c.errs...)
}
