package checks

import (
	"errors"
	"fmt"

	"github.com/roach88/tablesync/internal/row"
)

// Code categorizes validation failures.
type Code string

const (
	// CodeNonUniqueIndex indicates two adjacent rows share an index value.
	CodeNonUniqueIndex Code = "NON_UNIQUE_INDEX"

	// CodeNonIncreasingIndex indicates an index value smaller than its predecessor.
	CodeNonIncreasingIndex Code = "NON_INCREASING_INDEX"

	// CodeMissingIndex indicates a row without the index column.
	CodeMissingIndex Code = "MISSING_INDEX"

	// CodeHistoryMismatch indicates overlapping history differs between downloads.
	CodeHistoryMismatch Code = "HISTORY_MISMATCH"

	// CodeHistoryTruncated indicates a full download shorter than stored history.
	CodeHistoryTruncated Code = "HISTORY_TRUNCATED"
)

// Error is a validation failure.
type Error struct {
	// Code identifies the failure kind.
	Code Code

	// Message is a human-readable description.
	Message string

	// Position is the offending index in the new sequence, or -1.
	Position int

	// Old and New hold the offending rows when a comparison failed.
	Old row.Row
	New row.Row
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether err is, or wraps, a validation error with the given code.
func Is(err error, code Code) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

func newError(code Code, pos int, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Position: pos,
	}
}
