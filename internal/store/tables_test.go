package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/table"
)

var (
	akrn = table.ID{Group: "quotes", Name: "AKRN"}
	ts1  = time.Date(2021, 3, 5, 7, 0, 0, 123000000, time.UTC)
	ts2  = ts1.Add(24 * time.Hour)
)

func quote(day int, price string, volume int64) row.Row {
	return row.New(
		row.F("date", row.Date(2021, time.March, day)),
		row.F("close", row.MustDecimal(price)),
		row.F("volume", row.Int(volume)),
		row.F("board", row.String("TQBR")),
		row.F("traded", row.Bool(true)),
	)
}

func TestLoad_Missing(t *testing.T) {
	s := createTestStore(t)

	snap, err := s.Load(context.Background(), akrn)
	require.NoError(t, err)
	assert.Equal(t, table.Snapshot{ID: akrn}, snap)
	assert.False(t, snap.Updated())
}

func TestSave_ReplaceRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rows := []row.Row{quote(3, "5100", 10), quote(4, "5150.5", 12)}

	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: rows, Timestamp: ts1}))

	snap, err := s.Load(ctx, akrn)
	require.NoError(t, err)
	assert.Equal(t, table.Snapshot{ID: akrn, Rows: rows, Timestamp: ts1}, snap)
}

func TestSave_Append(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(3, "5100", 10)}, Timestamp: ts1}))
	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeAppend, Rows: []row.Row{quote(4, "5150", 12), quote(5, "5200", 9)}, Timestamp: ts2}))

	snap, err := s.Load(ctx, akrn)
	require.NoError(t, err)
	assert.Equal(t, []row.Row{quote(3, "5100", 10), quote(4, "5150", 12), quote(5, "5200", 9)}, snap.Rows)
	assert.Equal(t, ts2, snap.Timestamp)
}

func TestSave_AppendNothingRefreshesTimestamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(3, "5100", 10)}, Timestamp: ts1}))
	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeAppend, Timestamp: ts2}))

	snap, err := s.Load(ctx, akrn)
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 1)
	assert.Equal(t, ts2, snap.Timestamp)
}

func TestSave_ReplaceDropsOldRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(3, "1", 1), quote(4, "2", 2)}, Timestamp: ts1}))
	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(9, "3", 3)}, Timestamp: ts2}))

	snap, err := s.Load(ctx, akrn)
	require.NoError(t, err)
	assert.Equal(t, []row.Row{quote(9, "3", 3)}, snap.Rows)
}

func TestSave_EmptyTableIsUpdated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Timestamp: ts1}))

	snap, err := s.Load(ctx, akrn)
	require.NoError(t, err)
	assert.True(t, snap.Updated())
	assert.NotNil(t, snap.Rows)
	assert.Empty(t, snap.Rows)
}

func TestSave_TablesAreIndependent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	gazp := table.ID{Group: "quotes", Name: "GAZP"}

	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(3, "1", 1)}, Timestamp: ts1}))
	require.NoError(t, s.Save(ctx, table.Change{ID: gazp, Mode: table.ModeReplace, Rows: []row.Row{quote(3, "2", 2)}, Timestamp: ts2}))
	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeAppend, Rows: []row.Row{quote(4, "1", 1)}, Timestamp: ts2}))

	snap, err := s.Load(ctx, gazp)
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 1)

	snap, err = s.Load(ctx, akrn)
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 2)
}

func TestSave_FailureIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(3, "1", 1)}, Timestamp: ts1}))

	// A row with a nil value cannot be encoded; nothing of the change may stick.
	bad := row.New(row.F("date", nil))
	err := s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(9, "9", 9), bad}, Timestamp: ts2})
	require.Error(t, err)

	snap, err := s.Load(ctx, akrn)
	require.NoError(t, err)
	assert.Equal(t, []row.Row{quote(3, "1", 1)}, snap.Rows)
	assert.Equal(t, ts1, snap.Timestamp)
}

func TestSave_Cancelled(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Timestamp: ts1})
	assert.Error(t, err)

	snap, err := s.Load(context.Background(), akrn)
	require.NoError(t, err)
	assert.False(t, snap.Updated())
}

func TestSave_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(3, "5100", 10)}, Timestamp: ts1}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.Load(ctx, akrn)
	require.NoError(t, err)
	assert.Equal(t, []row.Row{quote(3, "5100", 10)}, snap.Rows)
	assert.Equal(t, ts1, snap.Timestamp)
}

func TestList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []table.ID{
		{Group: "quotes", Name: "GAZP"},
		table.Singleton("securities"),
		akrn,
	} {
		require.NoError(t, s.Save(ctx, table.Change{ID: id, Mode: table.ModeReplace, Timestamp: ts1}))
	}

	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []table.ID{akrn, {Group: "quotes", Name: "GAZP"}, table.Singleton("securities")}, ids)
}

func TestViewJSON(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ViewJSON(ctx, akrn)
	assert.True(t, table.IsCode(err, table.CodeNeverUpdated))

	require.NoError(t, s.Save(ctx, table.Change{ID: akrn, Mode: table.ModeReplace, Rows: []row.Row{quote(3, "5100", 10)}, Timestamp: ts1}))

	data, err := s.ViewJSON(ctx, akrn)
	require.NoError(t, err)

	var rows []row.Row
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Equal(t, []row.Row{quote(3, "5100", 10)}, rows)
	assert.Contains(t, string(data), `"$numberDecimal": "5100"`)
}
