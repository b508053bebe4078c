// Command infra is the Pulumi program that deploys the sampleapp stack.
package main

import (
	"context"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	pconfig "github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
	"github.com/sampleapp-dev/sampleinfra/internal/config"
	"github.com/sampleapp-dev/sampleinfra/internal/logging"
	"github.com/sampleapp-dev/sampleinfra/internal/orchestrator"
	"github.com/sampleapp-dev/sampleinfra/internal/translation/awspulumi"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	pulumi.Run(deploy)
}

func deploy(ctx *pulumi.Context) error {
	runCtx := logging.SetRunID(context.Background(), logging.NewRunID())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.LogLevel)
	logging.SetRedactionConfig(&cfg.Redaction)

	// The stack's provider region wins over the environment.
	if region := pconfig.Get(ctx, "aws:region"); region != "" {
		cfg.Region = region
	}
	if cfg.Account == "" {
		id, err := aws.GetCallerIdentity(ctx, nil)
		if err != nil {
			return err
		}
		cfg.Account = id.AccountId
	}

	res, err := orchestrator.Build(cfg)
	if err != nil {
		return err
	}
	logging.Log(runCtx, logging.DeployLog, zapcore.InfoLevel, "plan built",
		zap.String("stack", ctx.Stack()), zap.String("account", cfg.Account),
		zap.String("region", cfg.Region), zap.Int("resources", res.Plan.Graph.Len()))

	stack, err := awspulumi.NewTranslator(awspulumi.WithTags(map[string]string{
		"Project": cfg.Project,
		"Stack":   ctx.Stack(),
	})).Translate(ctx, res.Plan)
	if err != nil {
		return err
	}
	for _, out := range res.Plan.Outputs {
		ctx.Export(out.Name, stack.Outputs[out.Name])
	}
	logging.Log(runCtx, logging.DeployLog, zapcore.InfoLevel, "resources registered",
		zap.Int("outputs", len(stack.Outputs)))
	return nil
}
