package cli

import (
	"fmt"

	"github.com/sampleapp-dev/sampleinfra/internal/version"
	"github.com/sampleapp-dev/sampleinfra/pkg/printer"
	"github.com/spf13/cobra"
)

type VersionOutput struct {
	version.Info
	Required             string `json:"required,omitempty"`
	UpdateRecommendation string `json:"update_recommendation,omitempty"`
}

var (
	jsonOutput      bool
	requiredVersion string
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Displays the version of infractl. With --require the command fails when this build is older than the given version.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output := VersionOutput{Info: version.Get(), Required: requiredVersion}

		var tooOld error
		if requiredVersion != "" {
			if !version.IsRelease(requiredVersion) {
				return fmt.Errorf("--require: %q is not a semantic version", requiredVersion)
			}
			if !version.AtLeast(output.Version, requiredVersion) {
				output.UpdateRecommendation = fmt.Sprintf("infractl %s is required; this build is %s. Consider updating.", requiredVersion, output.Version)
				tooOld = fmt.Errorf("infractl %s is older than the required %s", output.Version, requiredVersion)
			}
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printer.NewWithWriter(out, printer.OutputTypeJSON).PrintJSON(output); err != nil {
				return err
			}
			return tooOld
		}

		fmt.Fprintf(out, "infractl version %s\n", output.Version)
		fmt.Fprintf(out, "Git commit: %s\n", output.GitCommit)
		fmt.Fprintf(out, "Build date: %s\n", output.BuildDate)
		if output.UpdateRecommendation != "" {
			fmt.Fprintln(out, "\n-------------------------------")
			printer.Warning(out, output.UpdateRecommendation)
		}
		return tooOld
	},
}

func init() {
	VersionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information in JSON format")
	VersionCmd.Flags().StringVar(&requiredVersion, "require", "", "fail unless this build is at least the given version")
}
