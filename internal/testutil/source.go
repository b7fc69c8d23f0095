package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/tablesync/internal/row"
)

// FetchCall records one call to StaticSource.Fetch.
type FetchCall struct {
	Name  string
	Since row.Value
}

// StaticSource is an in-memory upstream. It serves the rows configured per
// table name, filtered to index >= since the way the exchange API repeats the
// boundary row on incremental requests.
type StaticSource struct {
	index string

	mu    sync.Mutex
	rows  map[string][]row.Row
	errs  map[string]error
	calls []FetchCall

	// BeforeFetch, if set, runs at the start of every Fetch outside the lock.
	// Tests use it to block or count concurrent fetches.
	BeforeFetch func(ctx context.Context, name string) error
}

// NewStaticSource creates a source whose rows are keyed by the index column.
func NewStaticSource(index string) *StaticSource {
	return &StaticSource{
		index: index,
		rows:  make(map[string][]row.Row),
		errs:  make(map[string]error),
	}
}

// Set replaces the upstream rows for name.
func (s *StaticSource) Set(name string, rows ...row.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[name] = row.CloneAll(rows)
	delete(s.errs, name)
}

// Fail makes every subsequent fetch of name return err.
func (s *StaticSource) Fail(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[name] = err
}

// Fetch implements the upstream fetch contract.
func (s *StaticSource) Fetch(ctx context.Context, name string, since row.Value) ([]row.Row, error) {
	if s.BeforeFetch != nil {
		if err := s.BeforeFetch(ctx, name); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, FetchCall{Name: name, Since: since})
	if err := s.errs[name]; err != nil {
		return nil, err
	}

	var out []row.Row
	for _, r := range s.rows[name] {
		if since != nil {
			v, ok := r.Get(s.index)
			if !ok {
				return nil, fmt.Errorf("row %s has no %s", r, s.index)
			}
			c, err := row.Compare(v, since)
			if err != nil {
				return nil, err
			}
			if c < 0 {
				continue
			}
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// Calls returns the fetches made so far.
func (s *StaticSource) Calls() []FetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FetchCall(nil), s.calls...)
}
