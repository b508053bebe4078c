package cli

import (
	"github.com/sampleapp-dev/sampleinfra/internal/cli/common"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
	"github.com/spf13/cobra"
)

var GraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the dependency graph in Graphviz format",
	Long:  `Prints the plan's dependency graph as DOT. Explicit ordering edges are drawn dashed.`,
	Example: `  infractl graph --account 123456789012 | dot -Tsvg > plan.svg`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := common.BuildPlan(cmd.Context())
		if err != nil {
			return err
		}
		return plan.WriteDOT(cmd.OutOrStdout(), res.Plan.Graph)
	},
}
