// Package cli assembles the infractl command tree.
package cli

import (
	icli "github.com/sampleapp-dev/sampleinfra/internal/cli"
	"github.com/sampleapp-dev/sampleinfra/internal/cli/common"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "infractl",
	Short: "Plan, check and simulate the sampleapp infrastructure",
	Long: `infractl evaluates the sampleapp infrastructure configuration (VPC, Aurora
Serverless v2 cluster, generated credentials and the App Runner service) and
prints, validates or simulates the resulting deployment plan.

Configuration is read from the environment and from .env files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	common.AddGlobalFlags(rootCmd)
	rootCmd.AddCommand(
		icli.PlanCmd,
		icli.GraphCmd,
		icli.ValidateCmd,
		icli.SimulateCmd,
		icli.DBCmd,
		icli.VersionCmd,
	)
}

// Root returns the root command. It does not print the error Execute
// returns; main reports it.
func Root() *cobra.Command {
	return rootCmd
}
