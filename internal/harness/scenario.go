package harness

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/table"
	"github.com/roach88/tablesync/internal/tables"
)

// Scenario defines one synchronization scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the initial clock, RFC 3339.
	Now string `yaml:"now"`

	// Tables overrides the merge settings of a group.
	Tables map[string]TableSettings `yaml:"tables,omitempty"`

	// Upstream is the initial upstream content: group -> table name -> rows.
	Upstream Upstream `yaml:"upstream"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and tables.
	Assertions []Assertion `yaml:"assertions"`
}

// TableSettings mirrors the per-group configuration.
type TableSettings struct {
	FromScratch bool   `yaml:"from_scratch"`
	Validate    string `yaml:"validate"`
}

// Upstream maps group -> table name -> rows. Row values are written as
// strings and typed by column name (see parseValue).
type Upstream map[string]map[string][]map[string]string

// Step is one scenario action. Exactly one of Update, Advance, Upstream and
// Fail is set.
type Step struct {
	// Update names the table to update ("group" or "group/name").
	Update string `yaml:"update,omitempty"`
	// Force skips the freshness check.
	Force bool `yaml:"force,omitempty"`
	// ExpectError is the error code the update must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Advance moves the clock forward, e.g. "24h".
	Advance string `yaml:"advance,omitempty"`

	// Upstream replaces the upstream rows of the listed tables.
	Upstream Upstream `yaml:"upstream,omitempty"`

	// Fail makes every fetch of the named table fail.
	Fail string `yaml:"fail,omitempty"`
}

// Assertion validates the trace or a stored table.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Table is the table name (table_rows, never_updated, row).
	Table string `yaml:"table,omitempty"`

	// Count is the expected number (table_rows, event_count).
	Count int `yaml:"count,omitempty"`

	// Key is the index value of the row to check (row).
	Key string `yaml:"key,omitempty"`

	// Expect holds expected column values (row). Subset match.
	Expect map[string]string `yaml:"expect,omitempty"`

	// Kind is the event kind (event_count).
	Kind string `yaml:"kind,omitempty"`

	// Event is a formatted event (trace_contains).
	Event string `yaml:"event,omitempty"`

	// Events are formatted events in expected delivery order (trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertTableRows     = "table_rows"
	AssertNeverUpdated  = "never_updated"
	AssertRow           = "row"
	AssertEventCount    = "event_count"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := time.Parse(time.RFC3339, s.Now); err != nil {
		return fmt.Errorf("now: %w", err)
	}
	if err := validateUpstream("upstream", s.Upstream); err != nil {
		return err
	}
	for group, ts := range s.Tables {
		if group != tables.GroupQuotes {
			return fmt.Errorf("tables: group %q takes no settings", group)
		}
		if _, err := table.ParseValidateMode(ts.Validate); err != nil {
			return fmt.Errorf("tables.%s: %w", group, err)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	set := 0
	for _, present := range []bool{s.Update != "", s.Advance != "", s.Upstream != nil, s.Fail != ""} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of update, advance, upstream, fail is required", index)
	}
	if s.Update == "" && (s.Force || s.ExpectError != "") {
		return fmt.Errorf("steps[%d]: force and expect_error apply to update steps only", index)
	}
	if s.Advance != "" {
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must not go back in time", index)
		}
	}
	if s.Fail != "" && !knownGroup(table.ParseID(s.Fail).Group) {
		return fmt.Errorf("steps[%d]: fail: unknown group in %q", index, s.Fail)
	}
	if s.Upstream != nil {
		return validateUpstream(fmt.Sprintf("steps[%d].upstream", index), s.Upstream)
	}
	return nil
}

func validateUpstream(field string, up Upstream) error {
	for group, byName := range up {
		if !knownGroup(group) {
			return fmt.Errorf("%s: unknown group %q", field, group)
		}
		for name, rows := range byName {
			if _, err := parseRows(rows); err != nil {
				return fmt.Errorf("%s.%s.%s: %w", field, group, name, err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTableRows:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for table_rows", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for table_rows", index)
		}
	case AssertNeverUpdated:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for never_updated", index)
		}
	case AssertRow:
		if a.Table == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: table and key are required for row", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for row", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownGroup(group string) bool {
	switch group {
	case tables.GroupTradingDates, tables.GroupSecurities, tables.GroupQuotes:
		return true
	}
	return false
}

// parseRows types scenario rows. Columns are ordered by name.
func parseRows(in []map[string]string) ([]row.Row, error) {
	out := make([]row.Row, 0, len(in))
	for i, fields := range in {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		r := make(row.Row, 0, len(names))
		for _, name := range names {
			v, err := parseValue(name, fields[name])
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			r = append(r, row.F(name, v))
		}
		out = append(out, r)
	}
	return out, nil
}

// parseValue types a scenario value by its column name.
func parseValue(column, s string) (row.Value, error) {
	switch column {
	case tables.ColDate, tables.ColFrom, tables.ColTill:
		return row.ParseDate(s)
	case tables.ColOpen, tables.ColClose, tables.ColHigh, tables.ColLow, tables.ColValue:
		return row.ParseDecimal(s)
	case tables.ColVolume, tables.ColLotSize:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %q is not an integer", column, s)
		}
		return row.Int(n), nil
	default:
		return row.String(s), nil
	}
}
