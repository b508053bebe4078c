package cli

import (
	"github.com/sampleapp-dev/sampleinfra/internal/cli/common"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
	"github.com/spf13/cobra"
)

var planOutputFormat string

var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the deployment plan",
	Long:  `Evaluates the configuration and prints every resource in deployment order together with the stack outputs. Nothing is provisioned.`,
	Args:  cobra.NoArgs,
	RunE:  runPlan,
}

func init() {
	PlanCmd.Flags().StringVarP(&planOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	format, err := plan.ParseFormat(planOutputFormat)
	if err != nil {
		return err
	}
	res, err := common.BuildPlan(cmd.Context())
	if err != nil {
		return err
	}
	return plan.Render(cmd.OutOrStdout(), res.Plan, format)
}
