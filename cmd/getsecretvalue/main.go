// Command getsecretvalue prints the SecretString of the secret named by
// DB_SECRET_NAME. It runs at container start, before the application.
package main

import (
	"context"
	"os"

	"github.com/sampleapp-dev/sampleinfra/internal/logging"
	"github.com/sampleapp-dev/sampleinfra/internal/secretfetch"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()
	client, err := secretfetch.NewClient(ctx, os.Getenv(secretfetch.EnvRegion))
	if err != nil {
		logging.NewWriterLogger("getsecretvalue", os.Stderr).Error("failed to create secrets client", zap.Error(err))
		os.Exit(1)
	}
	os.Exit(secretfetch.Run(ctx, client, os.Getenv(secretfetch.EnvSecretName), os.Stdout, os.Stderr))
}
