package harness

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders the trace followed by one line per loaded table. The
// output is deterministic for a scenario: flow tokens and wall time never
// appear in it.
func (r *Result) Snapshot() string {
	var buf strings.Builder
	buf.WriteString("# trace\n")
	buf.WriteString(r.TraceText())

	buf.WriteString("# tables\n")
	names := make([]string, 0, len(r.State))
	for name := range r.State {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := r.State[name]
		updated := "never"
		if st.Updated {
			updated = st.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		fmt.Fprintf(&buf, "%s rows=%d updated=%s\n", name, len(st.Rows), updated)
	}
	return buf.String()
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(result.Snapshot()))
}
