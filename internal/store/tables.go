package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/roach88/tablesync/internal/row"
	"github.com/roach88/tablesync/internal/table"
)

// Load returns the snapshot of id. A table that was never saved yields an
// empty snapshot, not an error.
func (s *Store) Load(ctx context.Context, id table.ID) (table.Snapshot, error) {
	snap := table.Snapshot{ID: id}

	var ts string
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp FROM tables WHERE grp = ? AND name = ?
	`, id.Group, id.Name).Scan(&ts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return snap, nil
	case err != nil:
		return table.Snapshot{}, fmt.Errorf("load %s: %w", id, err)
	}

	snap.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return table.Snapshot{}, fmt.Errorf("load %s: parse timestamp %q: %w", id, ts, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM table_rows
		WHERE grp = ? AND name = ?
		ORDER BY pos ASC
	`, id.Group, id.Name)
	if err != nil {
		return table.Snapshot{}, fmt.Errorf("load %s rows: %w", id, err)
	}
	defer rows.Close()

	snap.Rows = []row.Row{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return table.Snapshot{}, fmt.Errorf("load %s rows: scan: %w", id, err)
		}
		var r row.Row
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return table.Snapshot{}, fmt.Errorf("load %s row %d: %w", id, len(snap.Rows), err)
		}
		snap.Rows = append(snap.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return table.Snapshot{}, fmt.Errorf("load %s rows: iterate: %w", id, err)
	}

	return snap, nil
}

// Save applies change in one transaction. ModeReplace rewrites all rows;
// ModeAppend adds rows after the stored ones. The timestamp is set in both
// cases.
func (s *Store) Save(ctx context.Context, change table.Change) error {
	id := change.ID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tables (grp, name, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(grp, name) DO UPDATE SET timestamp = excluded.timestamp
	`, id.Group, id.Name, change.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save %s: upsert table: %w", id, err)
	}

	next := 0
	switch change.Mode {
	case table.ModeReplace:
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM table_rows WHERE grp = ? AND name = ?
		`, id.Group, id.Name); err != nil {
			return fmt.Errorf("save %s: delete rows: %w", id, err)
		}
	case table.ModeAppend:
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(pos) + 1, 0) FROM table_rows WHERE grp = ? AND name = ?
		`, id.Group, id.Name).Scan(&next); err != nil {
			return fmt.Errorf("save %s: next position: %w", id, err)
		}
	default:
		return fmt.Errorf("save %s: unknown mode %d", id, change.Mode)
	}

	if len(change.Rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO table_rows (grp, name, pos, data) VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("save %s: prepare insert: %w", id, err)
		}
		defer stmt.Close()

		for i, r := range change.Rows {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("save %s row %d: %w", id, i, err)
			}
			if _, err := stmt.ExecContext(ctx, id.Group, id.Name, next+i, string(data)); err != nil {
				return fmt.Errorf("save %s row %d: insert: %w", id, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save %s: commit: %w", id, err)
	}
	return nil
}

// List returns every stored table identity ordered by group and name.
func (s *Store) List(ctx context.Context) ([]table.ID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT grp, name FROM tables ORDER BY grp COLLATE BINARY ASC, name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	ids := []table.ID{}
	for rows.Next() {
		var id table.ID
		if err := rows.Scan(&id.Group, &id.Name); err != nil {
			return nil, fmt.Errorf("list tables: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: iterate: %w", err)
	}
	return ids, nil
}

// ViewJSON returns the stored rows of id as an indented JSON array.
func (s *Store) ViewJSON(ctx context.Context, id table.ID) ([]byte, error) {
	snap, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !snap.Updated() {
		return nil, table.NeverUpdated(id)
	}
	return json.MarshalIndent(snap.Rows, "", "  ")
}
