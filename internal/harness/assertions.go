package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/table"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}
	return buf.String()
}

func (h *Harness) evaluate(a Assertion) error {
	trace := h.result.Trace
	switch a.Type {
	case AssertTableRows:
		return assertTableRows(h.result.State, trace, a)
	case AssertNeverUpdated:
		return assertNeverUpdated(h.result.State, trace, a)
	case AssertRow:
		return h.assertRow(a)
	case AssertEventCount:
		return assertEventCount(trace, a)
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTableRows checks the number of stored rows. A table the service
// never loaded counts as empty.
func assertTableRows(state map[string]TableState, trace []TraceEvent, a Assertion) error {
	got := len(state[a.Table].Rows)
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTableRows,
		Expected: fmt.Sprintf("%s has %d rows", a.Table, a.Count),
		Actual:   fmt.Sprintf("%d rows", got),
		Trace:    trace,
	}
}

func assertNeverUpdated(state map[string]TableState, trace []TraceEvent, a Assertion) error {
	st, ok := state[a.Table]
	if !ok || !st.Updated {
		return nil
	}
	return &AssertionError{
		Type:     AssertNeverUpdated,
		Expected: fmt.Sprintf("%s never updated", a.Table),
		Actual:   fmt.Sprintf("updated at %s", st.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")),
		Trace:    trace,
	}
}

// assertRow finds the row whose index column formats as Key and compares
// the expected columns (subset match).
func (h *Harness) assertRow(a Assertion) error {
	id := table.ParseID(a.Table)
	kind, err := h.registry.Kind(id.Group)
	if err != nil {
		return err
	}
	index := kind.Policy().Index

	for _, r := range h.result.State[a.Table].Rows {
		v, ok := r.Get(index)
		if !ok || row.Format(v) != a.Key {
			continue
		}
		if diff := diffRow(r, a.Expect); diff != "" {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("%s[%s] %s", a.Table, a.Key, formatExpect(a.Expect)),
				Actual:   diff,
			}
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertRow,
		Expected: fmt.Sprintf("%s has a row with %s=%s", a.Table, index, a.Key),
		Actual:   "not found",
	}
}

func diffRow(r row.Row, expect map[string]string) string {
	var diffs []string
	for _, name := range sortedKeys(expect) {
		v, ok := r.Get(name)
		switch {
		case !ok:
			diffs = append(diffs, fmt.Sprintf("%s missing", name))
		case row.Format(v) != expect[name]:
			diffs = append(diffs, fmt.Sprintf("%s=%s", name, row.Format(v)))
		}
	}
	return strings.Join(diffs, " ")
}

func formatExpect(expect map[string]string) string {
	parts := make([]string, 0, len(expect))
	for _, name := range sortedKeys(expect) {
		parts = append(parts, name+"="+expect[name])
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// assertEventCount counts deliveries of the given kind.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == TraceDelivery && event.Kind == a.Kind {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%d deliveries of %s", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d deliveries", count),
		Trace:    trace,
	}
}

// assertTraceContains checks that a delivery of the formatted event exists.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Type == TraceDelivery && event.Event == a.Event {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Event,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events are first delivered in the given
// order. Intervening deliveries are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != TraceDelivery {
			continue
		}
		if _, seen := positions[event.Event]; !seen {
			positions[event.Event] = i + 1
		}
	}

	for _, ev := range a.Events {
		if positions[ev] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("event %s in trace", ev),
				Actual:   "not found",
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, cur := a.Events[i-1], a.Events[i]
		if positions[cur] < positions[prev] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("%s before %s", prev, cur),
				Actual:   fmt.Sprintf("%s at position %d, %s at position %d", prev, positions[prev], cur, positions[cur]),
				Trace:    trace,
			}
		}
	}
	return nil
}
