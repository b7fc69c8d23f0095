package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/checks"
	"github.com/roach88/tablesync/internal/event"
	"github.com/roach88/tablesync/internal/table"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success([]tableStatus{{Table: "securities", Rows: 3, Timestamp: "2021-03-05T07:00:00Z"}})
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []tableStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []tableStatus{{Table: "securities", Rows: 3, Timestamp: "2021-03-05T07:00:00Z"}}, resp.Data)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success([]tableStatus{
		{Table: "quotes/AKRN", Rows: 2, Timestamp: "2021-03-05T07:00:00Z"},
		{Table: "quotes/SBER"},
	}))
	assert.Equal(t, "quotes/AKRN rows=2 updated=2021-03-05T07:00:00Z\nquotes/SBER rows=0 updated=never\n", buf.String())
}

func TestOutputFormatter_TextRaw(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(json.RawMessage(`[{"ticker": "SBER"}]`)))
	assert.Equal(t, "[{\"ticker\": \"SBER\"}]\n", buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Error(table.NeverUpdated(table.Singleton("securities")))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(table.CodeNeverUpdated), resp.Error.Code)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error(errors.New("boom")))
	assert.Equal(t, "Error [ERROR]: boom\n", buf.String())
}

func TestErrorCode(t *testing.T) {
	check := &checks.Error{Code: checks.CodeHistoryMismatch, Message: "differs"}
	assert.Equal(t, string(checks.CodeHistoryMismatch), ErrorCode(fmt.Errorf("quotes/SBER: %w", check)))
	assert.Equal(t, "SUBSCRIPTION_CYCLE", ErrorCode(&event.CycleError{Path: []string{"a", "a"}}))
	assert.Equal(t, "STEP_QUOTA_EXCEEDED", ErrorCode(&event.QuotaError{Flow: "f", Steps: 3, Limit: 2}))
	assert.Equal(t, "ERROR", ErrorCode(errors.New("x")))
}

func TestExitError(t *testing.T) {
	inner := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open storage", inner)

	assert.Equal(t, "failed to open storage: disk full", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("run: %w", err)))
	assert.Equal(t, ExitFailure, GetExitCode(inner))
	assert.Equal(t, "usage", NewExitError(ExitCommandError, "usage").Error())
}
