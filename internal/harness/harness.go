package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/freshness"
	"github.com/roach88/tablesync/internal/service"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/table"
	"github.com/roach88/tablesync/internal/tables"
	"github.com/roach88/tablesync/internal/testutil"
)

// errUpstreamDown is what a failed upstream returns.
var errUpstreamDown = errors.New("upstream unavailable")

// Harness is the scenario execution state.
type Harness struct {
	store    *store.Store
	registry *table.Registry
	svc      *service.Service
	clock    *testutil.FakeClock
	sources  map[string]*testutil.StaticSource

	mu     sync.Mutex
	step   int
	result *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. An error
// is returned only if the scenario cannot be set up; failed steps and
// assertions are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	now, err := time.Parse(time.RFC3339, scenario.Now)
	if err != nil {
		return nil, fmt.Errorf("now: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store: st,
		clock: testutil.NewFakeClock(now),
		sources: map[string]*testutil.StaticSource{
			tables.GroupTradingDates: testutil.NewStaticSource(tables.ColTill),
			tables.GroupSecurities:   testutil.NewStaticSource(tables.ColTicker),
			tables.GroupQuotes:       testutil.NewStaticSource(tables.ColDate),
		},
		result: NewResult(),
	}
	if err := h.setUpstream(scenario.Upstream); err != nil {
		return nil, err
	}

	settings := make(map[string]tables.Settings, len(scenario.Tables))
	for group, ts := range scenario.Tables {
		mode, err := table.ParseValidateMode(ts.Validate)
		if err != nil {
			return nil, fmt.Errorf("tables.%s: %w", group, err)
		}
		settings[group] = tables.Settings{FromScratch: ts.FromScratch, Validate: mode}
	}
	h.registry, err = tables.NewRegistry(tables.Sources{
		TradingDates: h.sources[tables.GroupTradingDates],
		Securities:   h.sources[tables.GroupSecurities],
		Quotes:       h.sources[tables.GroupQuotes],
	}, settings)
	if err != nil {
		return nil, err
	}

	policy, err := freshness.New(h.clock)
	if err != nil {
		return nil, err
	}
	h.svc, err = service.New(h.registry, st, policy,
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in tests
		service.WithFlowGenerator(&testutil.SequenceFlowGenerator{}),
		service.WithObserver(h.observe),
	)
	if err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		h.mu.Lock()
		h.step = i + 1
		h.mu.Unlock()
		if err := h.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if err := h.collectState(ctx); err != nil {
		return nil, err
	}
	for i, a := range scenario.Assertions {
		if err := h.evaluate(a); err != nil {
			h.result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return h.result, nil
}

func (h *Harness) observe(d event.Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Step:  h.step,
		Type:  TraceDelivery,
		Event: event.Format(d.Event),
		Kind:  string(d.Event.Kind()),
		Group: d.Group,
		Depth: d.Depth,
	})
}

func (h *Harness) trace(e TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e.Step = h.step
	h.result.Trace = append(h.result.Trace, e)
}

func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch {
	case step.Update != "":
		h.executeUpdate(ctx, step)
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
	case step.Upstream != nil:
		return h.setUpstream(step.Upstream)
	case step.Fail != "":
		id := table.ParseID(step.Fail)
		src, ok := h.sources[id.Group]
		if !ok {
			return fmt.Errorf("fail: unknown group %q", id.Group)
		}
		src.Fail(id.Name, errUpstreamDown)
	}
	return nil
}

func (h *Harness) executeUpdate(ctx context.Context, step Step) {
	id := table.ParseID(step.Update)
	h.trace(TraceEvent{Type: TraceUpdate, Table: id.String(), Force: step.Force})

	var err error
	if step.Force {
		err = h.svc.ForceUpdate(ctx, id)
	} else {
		err = h.svc.Update(ctx, id)
	}

	h.mu.Lock()
	n := h.step
	h.mu.Unlock()
	switch {
	case err == nil && step.ExpectError != "":
		h.result.AddError(fmt.Sprintf("step %d: update %s: expected %s, got success", n, id, step.ExpectError))
	case err == nil:
	default:
		code := table.ErrorCode(err)
		h.trace(TraceEvent{Type: TraceError, Code: code})
		if code != step.ExpectError {
			h.result.AddError(fmt.Sprintf("step %d: update %s: %v", n, id, err))
		}
	}
}

func (h *Harness) setUpstream(up Upstream) error {
	for group, byName := range up {
		src, ok := h.sources[group]
		if !ok {
			return fmt.Errorf("upstream: unknown group %q", group)
		}
		for name, fields := range byName {
			rows, err := parseRows(fields)
			if err != nil {
				return fmt.Errorf("upstream.%s.%s: %w", group, name, err)
			}
			src.Set(name, rows...)
		}
	}
	return nil
}

func (h *Harness) collectState(ctx context.Context) error {
	for _, id := range h.svc.Tables() {
		t, err := h.svc.Table(ctx, id)
		if err != nil {
			return err
		}
		snap := t.Snapshot()
		h.result.State[id.String()] = TableState{
			Rows:      snap.Rows,
			Updated:   snap.Updated(),
			Timestamp: snap.Timestamp,
		}
	}
	return nil
}
