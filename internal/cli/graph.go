package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// graphEdge is one cascade step: group From raises Kind, handled by To.
type graphEdge struct {
	From string `json:"from"`
	Kind string `json:"kind"`
	To   string `json:"to"`
}

func (e graphEdge) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", e.From, e.Kind, e.To)
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the event subscription graph",
		Long: `Print which table group raises which event and which groups handle it.
The graph is checked for cycles when it is built.

Example:
  tablesync graph --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(rootOpts, cmd)
		},
	}
	return cmd
}

func runGraph(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, logger, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	registry, err := newRegistry(opts, cfg, logger, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build table registry", err)
	}
	graph, err := registry.Graph()
	if err != nil {
		_ = formatter.Error(err)
		return WrapExitError(ExitFailure, "invalid subscription graph", err)
	}

	edges := make([]graphEdge, 0)
	for _, e := range graph.Edges() {
		edges = append(edges, graphEdge{From: e.From, Kind: string(e.Kind), To: e.To})
	}
	return formatter.Success(edges)
}
