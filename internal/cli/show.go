package cli

import (
	"context"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/table"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [table]",
		Short: "Show stored tables",
		Long: `Without arguments, list every stored table with its row count and
update time. With a table name, print its stored rows as JSON.

Examples:
  tablesync show
  tablesync show quotes/SBER`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runShow(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, logger, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer func() {
		if err := closeStore(ctx); err != nil {
			logger.Error("error closing storage", "error", err)
		}
	}()

	if len(args) == 1 {
		data, err := st.ViewJSON(ctx, table.ParseID(args[0]))
		if err != nil {
			_ = formatter.Error(err)
			return WrapExitError(ExitFailure, "failed to show table", err)
		}
		return formatter.Success(json.RawMessage(data))
	}

	ids, err := st.List(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list tables", err)
	}
	statuses := make([]tableStatus, 0, len(ids))
	for _, id := range ids {
		snap, err := st.Load(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load table", err)
		}
		s := tableStatus{Table: id.String(), Rows: len(snap.Rows)}
		if snap.Updated() {
			s.Timestamp = snap.Timestamp.UTC().Format(time.RFC3339)
		}
		statuses = append(statuses, s)
	}
	return formatter.Success(statuses)
}
