package table

import (
	"errors"
	"fmt"

	"github.com/roach88/tablesync/internal/checks"
	"github.com/roach88/tablesync/internal/event"
)

// Code categorizes table errors. Validation failures use checks.Code.
type Code string

const (
	// CodeNeverUpdated indicates events were requested before any successful update.
	CodeNeverUpdated Code = "NEVER_UPDATED"

	// CodeUpstreamFetchFailed wraps a transport or parse error from the upstream.
	CodeUpstreamFetchFailed Code = "UPSTREAM_FETCH_FAILED"

	// CodeUnknownGroup indicates no Kind is registered for the group.
	CodeUnknownGroup Code = "UNKNOWN_GROUP"

	// CodeInvalidName indicates a singleton table addressed by another name.
	CodeInvalidName Code = "INVALID_NAME"

	// CodeStaleCommit indicates a pending update prepared against an older version.
	CodeStaleCommit Code = "STALE_COMMIT"
)

// Error is a table failure carrying the table identity.
type Error struct {
	Code    Code
	ID      ID
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.ID)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is, or wraps, a table error with the given code.
func IsCode(err error, code Code) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// NeverUpdated returns the error raised when a kind needs committed rows.
func NeverUpdated(id ID) error {
	return &Error{Code: CodeNeverUpdated, ID: id, Message: "table was never updated"}
}

// ErrorCode names the first categorized failure in err: a table or
// validation code, SUBSCRIPTION_CYCLE, STEP_QUOTA_EXCEEDED, or ERROR.
func ErrorCode(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return string(te.Code)
	}
	var ce *checks.Error
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	var cycle *event.CycleError
	if errors.As(err, &cycle) {
		return "SUBSCRIPTION_CYCLE"
	}
	if event.IsQuotaError(err) {
		return "STEP_QUOTA_EXCEEDED"
	}
	return "ERROR"
}
