package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/tablesync/internal/checks"
	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/row"
)

// Table is one versioned dataset.
//
// Thread-safety: reads and Commit are guarded by an internal RWMutex.
// Prepare only reads. Callers serialize Prepare/Commit pairs per identity;
// Commit rejects a Pending prepared against an older version regardless.
type Table struct {
	id   ID
	kind Kind

	mu        sync.RWMutex
	rows      []row.Row
	timestamp time.Time
	version   uint64
}

func newTable(id ID, kind Kind) *Table {
	return &Table{id: id, kind: kind}
}

// ID returns the table identity.
func (t *Table) ID() ID {
	return t.id
}

// Kind returns the group behavior.
func (t *Table) Kind() Kind {
	return t.kind
}

// Restore installs a persisted snapshot. Only valid before the first commit.
func (t *Table) Restore(s Snapshot) error {
	if s.ID != t.id {
		return fmt.Errorf("restore %s from snapshot of %s", t.id, s.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.version != 0 {
		return fmt.Errorf("restore %s: table already committed", t.id)
	}
	if !s.Updated() {
		return nil
	}
	if err := checks.UniqueIncreasing(t.kind.Policy().Index, s.Rows); err != nil {
		return fmt.Errorf("restore %s: %w", t.id, err)
	}

	t.rows = row.CloneAll(s.Rows)
	if t.rows == nil {
		t.rows = []row.Row{}
	}
	t.timestamp = s.Timestamp
	return nil
}

// Timestamp returns the last successful refresh, if any.
func (t *Table) Timestamp() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timestamp, !t.timestamp.IsZero()
}

// Rows returns a copy of the committed rows. nil if never updated.
func (t *Table) Rows() []row.Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return row.CloneAll(t.rows)
}

// Snapshot returns the committed state.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{ID: t.id, Rows: row.CloneAll(t.rows), Timestamp: t.timestamp}
}

// NeedsUpdate reports whether the table was never refreshed or was last
// refreshed before threshold.
func (t *Table) NeedsUpdate(threshold time.Time) bool {
	ts, ok := t.Timestamp()
	return !ok || ts.Before(threshold)
}

// Pending is a validated update not yet committed.
type Pending struct {
	change Change
	base   uint64
	prev   []row.Row
	next   []row.Row
}

// Change returns the persisted effect of the update.
func (p *Pending) Change() Change {
	return p.change
}

// Prepare fetches candidate rows and validates them against the committed
// state. The table is not modified.
//
// Without stored rows, or when the group always reloads from scratch, the
// fetched rows replace the table. Otherwise the fetch is incremental: the
// rows overlapping stored history must reproduce it exactly and only the
// remainder is appended.
func (t *Table) Prepare(ctx context.Context, now time.Time) (*Pending, error) {
	t.mu.RLock()
	old, base := t.rows, t.version
	t.mu.RUnlock()

	policy := t.kind.Policy()
	if len(old) == 0 || policy.FromScratch {
		return t.prepareReload(ctx, policy, old, base, now)
	}
	return t.prepareIncremental(ctx, policy, old, base, now)
}

func (t *Table) prepareReload(ctx context.Context, policy Policy, old []row.Row, base uint64, now time.Time) (*Pending, error) {
	fetched, err := t.fetch(ctx, nil)
	if err != nil {
		return nil, err
	}
	if err := checks.UniqueIncreasing(policy.Index, fetched); err != nil {
		return nil, fmt.Errorf("%s: %w", t.id, err)
	}
	if fetched == nil {
		fetched = []row.Row{}
	}

	return &Pending{
		change: Change{ID: t.id, Mode: ModeReplace, Rows: fetched, Timestamp: now},
		base:   base,
		prev:   old,
		next:   fetched,
	}, nil
}

func (t *Table) prepareIncremental(ctx context.Context, policy Policy, old []row.Row, base uint64, now time.Time) (*Pending, error) {
	var since row.Value
	if policy.Validate == ValidateLast {
		v, ok := old[len(old)-1].Get(policy.Index)
		if !ok {
			return nil, fmt.Errorf("%s: stored row has no index column %q", t.id, policy.Index)
		}
		since = v
	}

	fetched, err := t.fetch(ctx, since)
	if err != nil {
		return nil, err
	}

	if err := checks.UniqueIncreasing(policy.Index, fetched); err != nil {
		return nil, fmt.Errorf("%s: %w", t.id, err)
	}
	var overlap int
	if policy.Validate == ValidateAll {
		overlap, err = checks.HistoryConsistent(old, fetched)
	} else {
		overlap, err = checks.PrefixConsistent(policy.Index, old, fetched)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.id, err)
	}

	suffix := fetched[overlap:]
	next := make([]row.Row, 0, len(old)+len(suffix))
	next = append(next, old...)
	next = append(next, suffix...)

	return &Pending{
		change: Change{ID: t.id, Mode: ModeAppend, Rows: suffix, Timestamp: now},
		base:   base,
		prev:   old,
		next:   next,
	}, nil
}

func (t *Table) fetch(ctx context.Context, since row.Value) ([]row.Row, error) {
	rows, err := t.kind.Fetch(ctx, t.id.Name, since)
	if err != nil {
		// Cancellation is not an upstream failure.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: fetch: %w", t.id, err)
		}
		return nil, &Error{Code: CodeUpstreamFetchFailed, ID: t.id, Message: "fetch", Err: err}
	}
	return rows, nil
}

// Commit installs a prepared update: rows and timestamp change together.
// It fails with CodeStaleCommit if another update committed since Prepare.
func (t *Table) Commit(p *Pending) error {
	if p.change.ID != t.id {
		return fmt.Errorf("commit %s to %s", p.change.ID, t.id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if p.base != t.version {
		return &Error{
			Code:    CodeStaleCommit,
			ID:      t.id,
			Message: fmt.Sprintf("prepared against version %d, table is at %d", p.base, t.version),
		}
	}

	t.rows = p.next
	t.timestamp = p.change.Timestamp
	t.version++
	return nil
}

// Events derives the events raised by the committed update p.
func (t *Table) Events(p *Pending, trigger event.Event, tradingDay time.Time) ([]event.Event, error) {
	t.mu.RLock()
	in := EventInput{
		ID:         t.id,
		Prev:       p.prev,
		Rows:       t.rows,
		Timestamp:  t.timestamp,
		Trigger:    trigger,
		TradingDay: tradingDay,
	}
	t.mu.RUnlock()

	return t.kind.Events(in)
}
