package table

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/checks"
	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/testutil"
)

const index = "DATE"

// testKind serves rows from a StaticSource.
type testKind struct {
	*testutil.StaticSource
	group  string
	policy Policy
}

func (k *testKind) Group() string  { return k.group }
func (k *testKind) Policy() Policy { return k.policy }

func (k *testKind) Events(in EventInput) ([]event.Event, error) {
	if in.Rows == nil {
		return nil, NeverUpdated(in.ID)
	}
	return []event.Event{event.TradingDayEnded{Date: in.TradingDay}}, nil
}

func (k *testKind) Route(ev event.Event) (Route, bool) {
	return Route{}, false
}

func newKind(mode ValidateMode) *testKind {
	return &testKind{
		StaticSource: testutil.NewStaticSource(index),
		group:        "test",
		policy:       Policy{Index: index, Validate: mode},
	}
}

func r(date, col1, col2 int64) row.Row {
	return row.New(
		row.F(index, row.Int(date)),
		row.F("col1", row.Int(col1)),
		row.F("col2", row.Int(col2)),
	)
}

var (
	t0 = time.Date(2021, 3, 5, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
	id = ID{Group: "test", Name: "AKRN"}
)

// update prepares and commits in one step.
func update(t *testing.T, tbl *Table, now time.Time) *Pending {
	t.Helper()
	p, err := tbl.Prepare(context.Background(), now)
	require.NoError(t, err)
	require.NoError(t, tbl.Commit(p))
	return p
}

func seeded(t *testing.T, kind *testKind, rows ...row.Row) *Table {
	t.Helper()
	kind.Set(id.Name, rows...)
	tbl := newTable(id, kind)
	update(t, tbl, t0)
	return tbl
}

func TestNeedsUpdate(t *testing.T) {
	tbl := newTable(id, newKind(ValidateLast))
	assert.True(t, tbl.NeedsUpdate(t0), "never updated")

	require.NoError(t, tbl.Restore(Snapshot{ID: id, Rows: []row.Row{r(1, 1, 10)}, Timestamp: t0}))

	assert.True(t, tbl.NeedsUpdate(t0.Add(time.Second)), "refreshed before threshold")
	assert.False(t, tbl.NeedsUpdate(t0), "refreshed at threshold")
	assert.False(t, tbl.NeedsUpdate(t0.Add(-time.Second)), "refreshed after threshold")
}

func TestPrepare_FullReload(t *testing.T) {
	kind := newKind(ValidateLast)
	kind.Set(id.Name, r(1, 1, 10), r(2, 2, 15))
	tbl := newTable(id, kind)

	p, err := tbl.Prepare(context.Background(), t0)
	require.NoError(t, err)

	assert.Nil(t, tbl.Rows(), "prepare must not mutate")
	_, ok := tbl.Timestamp()
	assert.False(t, ok)

	change := p.Change()
	assert.Equal(t, ModeReplace, change.Mode)
	assert.Len(t, change.Rows, 2)
	assert.Equal(t, t0, change.Timestamp)
	assert.Nil(t, kind.Calls()[0].Since)

	require.NoError(t, tbl.Commit(p))
	assert.Len(t, tbl.Rows(), 2)
	ts, ok := tbl.Timestamp()
	assert.True(t, ok)
	assert.Equal(t, t0, ts)
}

func TestPrepare_EmptyFullReloadIsUpdated(t *testing.T) {
	tbl := newTable(id, newKind(ValidateLast))
	update(t, tbl, t0)

	rows := tbl.Rows()
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	assert.False(t, tbl.NeedsUpdate(t0))
}

func TestPrepare_IncrementalValidateLast(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := seeded(t, kind, r(1, 1, 10), r(2, 2, 15))

	kind.Set(id.Name, r(1, 1, 10), r(2, 2, 15), r(3, 3, 20), r(4, 5, 5))
	p := update(t, tbl, t1)

	change := p.Change()
	assert.Equal(t, ModeAppend, change.Mode)
	assert.Equal(t, []row.Row{r(3, 3, 20), r(4, 5, 5)}, change.Rows)
	assert.Equal(t, row.Int(2), kind.Calls()[1].Since)

	assert.Equal(t, []row.Row{r(1, 1, 10), r(2, 2, 15), r(3, 3, 20), r(4, 5, 5)}, tbl.Rows())
	ts, _ := tbl.Timestamp()
	assert.Equal(t, t1, ts)
}

func TestPrepare_IncrementalValidateAll(t *testing.T) {
	kind := newKind(ValidateAll)
	tbl := seeded(t, kind, r(1, 1, 10), r(2, 2, 15))

	kind.Set(id.Name, r(1, 1, 10), r(2, 2, 15), r(4, 5, 5))
	p := update(t, tbl, t1)

	assert.Nil(t, kind.Calls()[1].Since)
	assert.Equal(t, ModeAppend, p.Change().Mode)
	assert.Equal(t, []row.Row{r(4, 5, 5)}, p.Change().Rows)
	assert.Len(t, tbl.Rows(), 3)
}

func TestPrepare_HistoryMismatch(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := seeded(t, kind, r(1, 1, 10), r(2, 2, 15))

	kind.Set(id.Name, r(2, 9, 99), r(4, 5, 5))
	_, err := tbl.Prepare(context.Background(), t1)

	require.Error(t, err)
	assert.True(t, checks.Is(err, checks.CodeHistoryMismatch))
	assert.Contains(t, err.Error(), "test/AKRN")
	var ve *checks.Error
	require.ErrorAs(t, err, &ve)
	assert.True(t, row.Equal(r(2, 2, 15), ve.Old))
	assert.True(t, row.Equal(r(2, 9, 99), ve.New))

	assert.Equal(t, []row.Row{r(1, 1, 10), r(2, 2, 15)}, tbl.Rows())
	ts, _ := tbl.Timestamp()
	assert.Equal(t, t0, ts)
}

func TestPrepare_HistoryTruncated(t *testing.T) {
	kind := newKind(ValidateAll)
	tbl := seeded(t, kind, r(1, 1, 10), r(2, 2, 15))

	kind.Set(id.Name, r(1, 1, 10))
	_, err := tbl.Prepare(context.Background(), t1)

	require.Error(t, err)
	assert.True(t, checks.Is(err, checks.CodeHistoryTruncated))
	assert.Contains(t, err.Error(), "new 1 rows shorter than old 2 rows")
	assert.Len(t, tbl.Rows(), 2)
}

func TestPrepare_ValidateAllLostHead(t *testing.T) {
	kind := newKind(ValidateAll)
	tbl := seeded(t, kind, r(1, 1, 1), r(2, 2, 2), r(3, 3, 3))

	kind.Set(id.Name, r(2, 2, 2), r(3, 3, 3), r(4, 4, 4))
	_, err := tbl.Prepare(context.Background(), t1)

	require.Error(t, err)
	assert.True(t, checks.Is(err, checks.CodeHistoryMismatch))
	assert.Equal(t, []row.Row{r(1, 1, 1), r(2, 2, 2), r(3, 3, 3)}, tbl.Rows())
	ts, _ := tbl.Timestamp()
	assert.Equal(t, t0, ts)
}

func TestPrepare_EmptyIncrementalRefreshesTimestamp(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := seeded(t, kind, r(1, 1, 10), r(2, 2, 15))

	kind.Set(id.Name)
	p := update(t, tbl, t1)

	assert.Equal(t, ModeAppend, p.Change().Mode)
	assert.Empty(t, p.Change().Rows)
	assert.Len(t, tbl.Rows(), 2)
	ts, _ := tbl.Timestamp()
	assert.Equal(t, t1, ts)
}

func TestPrepare_FromScratch(t *testing.T) {
	kind := newKind(ValidateLast)
	kind.policy.FromScratch = true
	tbl := seeded(t, kind, r(1, 1, 10), r(2, 2, 15))

	kind.Set(id.Name, r(5, 0, 0))
	p := update(t, tbl, t1)

	assert.Equal(t, ModeReplace, p.Change().Mode)
	assert.Nil(t, kind.Calls()[1].Since)
	assert.Equal(t, []row.Row{r(5, 0, 0)}, tbl.Rows())
}

func TestPrepare_RejectsUnorderedFetch(t *testing.T) {
	tests := []struct {
		name string
		rows []row.Row
		code checks.Code
	}{
		{"duplicate", []row.Row{r(1, 1, 10), r(1, 1, 10)}, checks.CodeNonUniqueIndex},
		{"decreasing", []row.Row{r(2, 1, 10), r(1, 1, 10)}, checks.CodeNonIncreasingIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind := newKind(ValidateLast)
			kind.Set(id.Name, tt.rows...)
			tbl := newTable(id, kind)

			_, err := tbl.Prepare(context.Background(), t0)
			assert.True(t, checks.Is(err, tt.code), "got %v", err)
			assert.Nil(t, tbl.Rows())
		})
	}
}

func TestPrepare_UpstreamFailure(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := seeded(t, kind, r(1, 1, 10))

	boom := errors.New("connection reset")
	kind.Fail(id.Name, boom)
	_, err := tbl.Prepare(context.Background(), t1)

	assert.True(t, IsCode(err, CodeUpstreamFetchFailed))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []row.Row{r(1, 1, 10)}, tbl.Rows())
}

func TestPrepare_Cancelled(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := seeded(t, kind, r(1, 1, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tbl.Prepare(ctx, t1)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsCode(err, CodeUpstreamFetchFailed))
	ts, _ := tbl.Timestamp()
	assert.Equal(t, t0, ts)
}

func TestCommit_Stale(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := seeded(t, kind, r(1, 1, 10))
	kind.Set(id.Name, r(1, 1, 10), r(2, 2, 15))

	first, err := tbl.Prepare(context.Background(), t1)
	require.NoError(t, err)
	second, err := tbl.Prepare(context.Background(), t1)
	require.NoError(t, err)

	require.NoError(t, tbl.Commit(first))
	err = tbl.Commit(second)

	assert.True(t, IsCode(err, CodeStaleCommit))
	assert.Len(t, tbl.Rows(), 2)
}

func TestCommit_WrongTable(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := newTable(id, kind)
	p, err := tbl.Prepare(context.Background(), t0)
	require.NoError(t, err)

	other := newTable(ID{Group: "test", Name: "GAZP"}, kind)
	assert.Error(t, other.Commit(p))
}

func TestRestore(t *testing.T) {
	tbl := newTable(id, newKind(ValidateLast))
	require.NoError(t, tbl.Restore(Snapshot{ID: id, Rows: []row.Row{r(1, 1, 10)}, Timestamp: t0}))

	assert.Equal(t, Snapshot{ID: id, Rows: []row.Row{r(1, 1, 10)}, Timestamp: t0}, tbl.Snapshot())
}

func TestRestore_NeverUpdated(t *testing.T) {
	tbl := newTable(id, newKind(ValidateLast))
	require.NoError(t, tbl.Restore(Snapshot{ID: id}))

	assert.Nil(t, tbl.Rows())
	assert.False(t, tbl.Snapshot().Updated())
}

func TestRestore_Rejects(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := newTable(id, kind)

	assert.Error(t, tbl.Restore(Snapshot{ID: ID{Group: "test", Name: "GAZP"}, Timestamp: t0}))
	assert.True(t, checks.Is(
		tbl.Restore(Snapshot{ID: id, Rows: []row.Row{r(2, 0, 0), r(1, 0, 0)}, Timestamp: t0}),
		checks.CodeNonIncreasingIndex,
	))

	tbl = seeded(t, kind, r(1, 1, 10))
	assert.Error(t, tbl.Restore(Snapshot{ID: id, Timestamp: t0}))
}

func TestRows_ReturnsCopy(t *testing.T) {
	kind := newKind(ValidateLast)
	tbl := seeded(t, kind, r(1, 1, 10))

	rows := tbl.Rows()
	rows[0] = r(9, 9, 9)

	assert.Equal(t, []row.Row{r(1, 1, 10)}, tbl.Rows())
}

func TestEvents(t *testing.T) {
	kind := newKind(ValidateLast)
	kind.Set(id.Name, r(1, 1, 10))
	tbl := newTable(id, kind)

	p, err := tbl.Prepare(context.Background(), t0)
	require.NoError(t, err)
	_, err = tbl.Events(p, nil, t0)
	assert.True(t, IsCode(err, CodeNeverUpdated), "events before commit see no rows")

	require.NoError(t, tbl.Commit(p))
	events, err := tbl.Events(p, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, []event.Event{event.TradingDayEnded{Date: t0}}, events)
}
