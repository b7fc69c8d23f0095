package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tablesync/internal/row"
)

// Trace entry types.
const (
	TraceUpdate   = "update"
	TraceDelivery = "delivery"
	TraceError    = "error"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Step  int    `json:"step"`
	Type  string `json:"type"`
	Table string `json:"table,omitempty"` // update
	Force bool   `json:"force,omitempty"` // update
	Event string `json:"event,omitempty"` // delivery, formatted
	Kind  string `json:"kind,omitempty"`  // delivery
	Group string `json:"group,omitempty"` // delivery
	Depth int    `json:"depth,omitempty"` // delivery
	Code  string `json:"code,omitempty"`  // error
}

func (e TraceEvent) String() string {
	switch e.Type {
	case TraceUpdate:
		if e.Force {
			return fmt.Sprintf("[%d] force update %s", e.Step, e.Table)
		}
		return fmt.Sprintf("[%d] update %s", e.Step, e.Table)
	case TraceDelivery:
		return fmt.Sprintf("[%d] %s%s -> %s", e.Step, strings.Repeat("  ", e.Depth+1), e.Event, e.Group)
	default:
		return fmt.Sprintf("[%d] error %s", e.Step, e.Code)
	}
}

// TableState is a table's content after the scenario.
type TableState struct {
	Rows      []row.Row
	Updated   bool
	Timestamp time.Time
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step and assertion held.
	Pass bool
	// Trace lists updates, cascade deliveries and step errors in order.
	Trace []TraceEvent
	// Errors contains failure messages; empty if Pass is true.
	Errors []string
	// State holds every table the service loaded, keyed by table name.
	State map[string]TableState
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]TableState),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// TraceText renders the trace one entry per line.
func (r *Result) TraceText() string {
	var buf strings.Builder
	for _, e := range r.Trace {
		buf.WriteString(e.String())
		buf.WriteByte('\n')
	}
	return buf.String()
}
