package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/row"
)

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(akrnScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "akrn", s.Name)
	assert.Equal(t, "quotes/AKRN", s.Steps[0].Update)
	assert.Len(t, s.Upstream["quotes"]["AKRN"], 2)
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nassertion: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "no name",
			yaml: "description: x\n",
			want: "name is required",
		},
		{
			name: "bad now",
			yaml: "name: x\ndescription: x\nnow: soon\n",
			want: "now:",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\n",
			want: "steps list is required",
		},
		{
			name: "two actions",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nsteps:\n  - {update: quotes/AKRN, advance: 1h}\n",
			want: "exactly one of",
		},
		{
			name: "force without update",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nsteps:\n  - {advance: 1h, force: true}\n",
			want: "update steps only",
		},
		{
			name: "negative advance",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nsteps:\n  - {advance: -1h}\n",
			want: "must not go back",
		},
		{
			name: "unknown upstream group",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nupstream:\n  bonds: {}\n",
			want: "unknown group \"bonds\"",
		},
		{
			name: "bad value",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nupstream:\n  quotes:\n    AKRN:\n      - {date: \"2021-03-04\", volume: \"many\"}\n",
			want: "not an integer",
		},
		{
			name: "fail unknown group",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nsteps:\n  - {fail: bonds/X}\n",
			want: "fail: unknown group",
		},
		{
			name: "bad validate",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\ntables:\n  quotes: {validate: some}\n",
			want: "unknown validate mode",
		},
		{
			name: "settings for securities",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\ntables:\n  securities: {validate: all}\n",
			want: "takes no settings",
		},
		{
			name: "no assertions",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nsteps:\n  - {update: trading_dates}\n",
			want: "assertions list is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nsteps:\n  - {update: trading_dates}\nassertions:\n  - {type: magic}\n",
			want: "unknown assertion type",
		},
		{
			name: "row without key",
			yaml: "name: x\ndescription: x\nnow: \"2021-03-05T07:00:00Z\"\nsteps:\n  - {update: trading_dates}\nassertions:\n  - {type: row, table: quotes/AKRN}\n",
			want: "table and key are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParseRows(t *testing.T) {
	rows, err := parseRows([]map[string]string{
		{"volume": "300", "date": "2021-03-04", "close": "5150.5", "ticker": "AKRN"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, []string{"close", "date", "ticker", "volume"}, rows[0].Columns())

	date, _ := rows[0].Get("date")
	assert.Equal(t, row.Date(2021, time.March, 4), date)
	volume, _ := rows[0].Get("volume")
	assert.Equal(t, row.Int(300), volume)
	ticker, _ := rows[0].Get("ticker")
	assert.Equal(t, row.String("AKRN"), ticker)
	closed, _ := rows[0].Get("close")
	assert.Equal(t, "5150.5", row.Format(closed))
}

func TestTraceEventString(t *testing.T) {
	tests := []struct {
		event TraceEvent
		want  string
	}{
		{TraceEvent{Step: 1, Type: TraceUpdate, Table: "securities"}, "[1] update securities"},
		{TraceEvent{Step: 2, Type: TraceUpdate, Table: "quotes/AKRN", Force: true}, "[2] force update quotes/AKRN"},
		{TraceEvent{Step: 3, Type: TraceDelivery, Event: "trading_day_ended date=2021-03-04", Group: "securities"}, "[3]   trading_day_ended date=2021-03-04 -> securities"},
		{TraceEvent{Step: 3, Type: TraceDelivery, Event: "e", Group: "quotes", Depth: 1}, "[3]     e -> quotes"},
		{TraceEvent{Step: 4, Type: TraceError, Code: "HISTORY_MISMATCH"}, "[4] error HISTORY_MISMATCH"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.String())
	}
}
