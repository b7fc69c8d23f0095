package checks

import (
	"github.com/roach88/tablesync/internal/row"
)

// UniqueIncreasing verifies that the index column is present in every row
// and strictly increasing, which also rules out duplicates.
func UniqueIncreasing(index string, rows []row.Row) error {
	var prev row.Value
	for i, r := range rows {
		v, ok := r.Get(index)
		if !ok {
			return newError(CodeMissingIndex, i, "row %d has no index column %q: %s", i, index, r)
		}
		if i > 0 {
			c, err := row.Compare(prev, v)
			if err != nil {
				return newError(CodeNonIncreasingIndex, i, "index %q at row %d: %v", index, i, err)
			}
			switch {
			case c == 0:
				return newError(CodeNonUniqueIndex, i, "index %q is not unique: %s repeats at row %d",
					index, row.Format(v), i)
			case c > 0:
				return newError(CodeNonIncreasingIndex, i, "index %q is not increasing: %s follows %s at row %d",
					index, row.Format(v), row.Format(prev), i)
			}
		}
		prev = v
	}
	return nil
}

// PrefixConsistent verifies that the leading rows of next which overlap old
// (index not greater than the last old index) reproduce old's suffix exactly.
//
// Returns the overlap length, so the caller can append next[overlap:].
// An empty next is consistent with any old and yields zero overlap. A
// non-empty next that does not overlap old at all is rejected: the
// download is expected to repeat at least the boundary row.
func PrefixConsistent(index string, old, next []row.Row) (int, error) {
	if len(old) == 0 || len(next) == 0 {
		return 0, nil
	}

	lastOld := old[len(old)-1]
	last, ok := lastOld.Get(index)
	if !ok {
		return 0, newError(CodeMissingIndex, -1, "stored row has no index column %q: %s", index, lastOld)
	}

	overlap := 0
	for overlap < len(next) {
		v, ok := next[overlap].Get(index)
		if !ok {
			return 0, newError(CodeMissingIndex, overlap, "row %d has no index column %q: %s", overlap, index, next[overlap])
		}
		c, err := row.Compare(v, last)
		if err != nil {
			return 0, mismatch(overlap, lastOld, next[overlap])
		}
		if c > 0 {
			break
		}
		overlap++
	}

	if overlap == 0 {
		return 0, mismatch(0, lastOld, next[0])
	}
	if overlap > len(old) {
		return 0, mismatch(0, old[0], next[0])
	}

	base := len(old) - overlap
	for i := 0; i < overlap; i++ {
		if !row.Equal(old[base+i], next[i]) {
			return 0, mismatch(i, old[base+i], next[i])
		}
	}
	return overlap, nil
}

// HistoryConsistent verifies that a full re-download reproduces every stored
// row from its start, position by position. A download that lost its head
// rows is a mismatch even when the tail lines up.
//
// Returns len(old), so the caller can append next[len(old):].
func HistoryConsistent(old, next []row.Row) (int, error) {
	if err := NotShorter(old, next); err != nil {
		return 0, err
	}
	for i := range old {
		if !row.Equal(old[i], next[i]) {
			return 0, mismatch(i, old[i], next[i])
		}
	}
	return len(old), nil
}

// NotShorter verifies that a full re-download holds at least as many rows as
// the stored history.
func NotShorter(old, next []row.Row) error {
	if len(next) < len(old) {
		return newError(CodeHistoryTruncated, -1, "new %d rows shorter than old %d rows", len(next), len(old))
	}
	return nil
}

func mismatch(pos int, old, next row.Row) *Error {
	e := newError(CodeHistoryMismatch, pos, "new %s does not match old %s", next, old)
	e.Old = old
	e.New = next
	return e
}
