package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/table"
	"github.com/roach88/tablesync/internal/tables"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	Force bool
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update [table...]",
		Short: "Update tables and their dependents once",
		Long: `Update the given tables, then every table their events reach.

Tables are named "group" for singletons and "group/name" otherwise. With no
arguments the trading calendar is updated, which cascades to the security
list and quote histories when a new trading day has ended.

A table that is still fresh is left alone unless --force is given.

Examples:
  tablesync update
  tablesync update quotes/SBER quotes/GAZP
  tablesync update --force securities --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "update even if the table is fresh")

	return cmd
}

func runUpdate(opts *UpdateOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	ids := []table.ID{table.Singleton(tables.GroupTradingDates)}
	if len(args) > 0 {
		ids = ids[:0]
		for _, arg := range args {
			ids = append(ids, table.ParseID(arg))
		}
	}

	switch {
	case opts.Force:
		for _, id := range ids {
			if err = a.svc.ForceUpdate(ctx, id); err != nil {
				break
			}
		}
	case len(ids) == 1:
		err = a.svc.Update(ctx, ids[0])
	default:
		err = a.svc.UpdateAll(ctx, ids)
	}
	if err != nil {
		_ = formatter.Error(err)
		return WrapExitError(ExitFailure, "update failed", err)
	}

	statuses, err := a.statuses(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read tables", err)
	}
	return formatter.Success(statuses)
}

// statuses reports every table the service has loaded.
func (a *app) statuses(ctx context.Context) ([]tableStatus, error) {
	ids := a.svc.Tables()
	out := make([]tableStatus, 0, len(ids))
	for _, id := range ids {
		t, err := a.svc.Table(ctx, id)
		if err != nil {
			return nil, err
		}
		snap := t.Snapshot()
		s := tableStatus{Table: id.String(), Rows: len(snap.Rows)}
		if snap.Updated() {
			s.Timestamp = snap.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, s)
	}
	return out, nil
}
