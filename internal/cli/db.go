package cli

import (
	"fmt"
	"os"

	"github.com/sampleapp-dev/sampleinfra/internal/cli/common"
	"github.com/sampleapp-dev/sampleinfra/internal/dbcheck"
	"github.com/sampleapp-dev/sampleinfra/internal/secretfetch"
	"github.com/sampleapp-dev/sampleinfra/pkg/printer"
	"github.com/spf13/cobra"
)

var DBCmd = &cobra.Command{
	Use:   "db",
	Short: "Commands for the database cluster",
}

var (
	dbCheckSecretName   string
	dbCheckOutputFormat string
)

// newSecretsClient is replaced in tests.
var newSecretsClient = func(cmd *cobra.Command, region string) (secretfetch.Client, error) {
	return secretfetch.NewClient(cmd.Context(), region)
}

var DBCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Read the connection secret and ping the database",
	Long: `Fetches the database URL secret the same way the application does and opens a
connection with it. Run it from the bastion or anywhere with a route to the
isolated subnets.`,
	Args: cobra.NoArgs,
	RunE: runDBCheck,
}

func init() {
	DBCheckCmd.Flags().StringVar(&dbCheckSecretName, "secret-name", "", "name or ARN of the connection secret (default $DB_SECRET_NAME)")
	DBCheckCmd.Flags().StringVarP(&dbCheckOutputFormat, "output", "o", "table", "Output format (table, json)")
	DBCmd.AddCommand(DBCheckCmd)
}

func runDBCheck(cmd *cobra.Command, args []string) error {
	format, err := printer.ParseOutputType(dbCheckOutputFormat)
	if err != nil {
		return err
	}
	name := dbCheckSecretName
	if name == "" {
		name = os.Getenv(secretfetch.EnvSecretName)
	}
	region := common.Globals.Region
	if region == "" {
		region = os.Getenv(secretfetch.EnvRegion)
	}

	client, err := newSecretsClient(cmd, region)
	if err != nil {
		return fmt.Errorf("failed to create secrets client: %w", err)
	}
	res, err := dbcheck.Check(cmd.Context(), client, name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != printer.OutputTypeTable {
		return printer.NewWithWriter(out, format).Print(res)
	}
	t := printer.NewTablePrinter(out)
	t.SetHeaders("Host", "Port", "Database", "User", "Server", "Latency")
	t.AddRow(res.Host, fmt.Sprint(res.Port), res.Database, res.User, res.ServerVersion, res.Latency.String())
	if err := t.Render(); err != nil {
		return err
	}
	printer.Success(out, "database is reachable")
	return nil
}
