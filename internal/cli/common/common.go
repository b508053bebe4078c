// Package common holds the flags and loaders shared by the infractl
// commands.
package common

import (
	"context"
	"fmt"

	"github.com/sampleapp-dev/sampleinfra/internal/config"
	"github.com/sampleapp-dev/sampleinfra/internal/logging"
	"github.com/sampleapp-dev/sampleinfra/internal/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options are the persistent flags of the root command.
type Options struct {
	EnvFiles []string
	Account  string
	Region   string
	LogLevel string
}

// Globals is populated by the flags registered in AddGlobalFlags.
var Globals Options

// AddGlobalFlags registers the persistent flags every command shares.
func AddGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringSliceVar(&Globals.EnvFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")
	f.StringVar(&Globals.Account, "account", "", "AWS account id; overrides AWS_ACCOUNT_ID")
	f.StringVar(&Globals.Region, "region", "", "AWS region; overrides AWS_REGION")
	f.StringVar(&Globals.LogLevel, "log-level", "", "log level; overrides LOG_LEVEL")
}

// LoadConfig reads the configuration, applies flag overrides and configures
// logging from the result.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(Globals.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if Globals.Account != "" {
		cfg.Account = Globals.Account
	}
	if Globals.Region != "" {
		cfg.Region = Globals.Region
	}
	if Globals.LogLevel != "" {
		cfg.LogLevel = Globals.LogLevel
	}
	logging.SetLevel(cfg.LogLevel)
	logging.SetRedactionConfig(&cfg.Redaction)
	return cfg, nil
}

// BuildPlan loads the configuration and evaluates the plan.
func BuildPlan(ctx context.Context) (*orchestrator.Result, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	res, err := orchestrator.Build(cfg)
	if err != nil {
		logging.Log(ctx, logging.PlanLog, zapcore.WarnLevel, "plan rejected", zap.Error(err))
		return nil, fmt.Errorf("failed to build plan: %w", err)
	}
	logging.Log(ctx, logging.PlanLog, zapcore.InfoLevel, "plan built",
		zap.String("plan", res.Plan.Name), zap.String("account", cfg.Account),
		zap.String("region", cfg.Region), zap.Int("resources", res.Plan.Graph.Len()))
	return res, nil
}
