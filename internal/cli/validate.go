package cli

import (
	"fmt"

	"github.com/sampleapp-dev/sampleinfra/internal/cli/common"
	"github.com/sampleapp-dev/sampleinfra/internal/orchestrator"
	"github.com/sampleapp-dev/sampleinfra/pkg/printer"
	"github.com/spf13/cobra"
)

var ValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without printing the plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := common.BuildPlan(cmd.Context())
		if err != nil {
			return err
		}
		if err := orchestrator.VerifyOrdering(res.Plan.Graph); err != nil {
			return err
		}
		printer.Success(cmd.OutOrStdout(), fmt.Sprintf("plan %s is valid: %d resources, %d outputs",
			res.Plan.Name, res.Plan.Graph.Len(), len(res.Plan.Outputs)))
		return nil
	},
}
