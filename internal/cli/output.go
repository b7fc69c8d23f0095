package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/encoding/json"

	"github.com/roach88/tablesync/internal/table"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Update failed, table never updated, upstream down
	ExitCommandError = 2 // Command error (bad config, storage unavailable, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode names the failure for JSON output.
func ErrorCode(err error) string {
	return table.ErrorCode(err)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`    // "UPSTREAM_FETCH_FAILED", "HISTORY_MISMATCH", etc.
	Message string `json:"message"` // human-readable message
}

// Success outputs a successful result in the configured format. In text
// mode slices print one element per line.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	switch v := data.(type) {
	case []tableStatus:
		for _, s := range v {
			fmt.Fprintln(f.Writer, s)
		}
	case []graphEdge:
		for _, e := range v {
			fmt.Fprintln(f.Writer, e)
		}
	case json.RawMessage:
		fmt.Fprintln(f.Writer, string(v))
	default:
		fmt.Fprintln(f.Writer, data)
	}
	return nil
}

// Error outputs err in the configured format.
func (f *OutputFormatter) Error(err error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    ErrorCode(err),
				Message: err.Error(),
			},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", ErrorCode(err), err.Error())
	return nil
}
