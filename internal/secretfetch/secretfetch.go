// Package secretfetch reads one secret from AWS Secrets Manager and prints its
// string payload. It backs the container-start helper, which exports the
// database connection string to the hosting process without it ever being
// part of the service configuration.
package secretfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/sampleapp-dev/sampleinfra/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// EnvSecretName names the environment variable holding the secret name.
	EnvSecretName = "DB_SECRET_NAME"
	// EnvRegion is read before the SDK's own region resolution.
	EnvRegion = "AWS_DEFAULT_REGION"

	// DefaultTimeout bounds the single GetSecretValue call.
	DefaultTimeout = 10 * time.Second

	tracerName = "github.com/sampleapp-dev/sampleinfra/internal/secretfetch"
)

var (
	ErrSecretNameRequired = errors.New("secret name is required")
	ErrSecretNotFound     = errors.New("secret not found")
	ErrNoSecretString     = errors.New("secret has no string value")
)

// Client is the part of the Secrets Manager API the helper uses.
type Client interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewClient returns a Secrets Manager client with SDK retries disabled, so
// that a fetch is exactly one request.
func NewClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(1),
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// Fetch returns the SecretString of the named secret.
func Fetch(ctx context.Context, c Client, name string) (value string, err error) {
	if name == "" {
		return "", ErrSecretNameRequired
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "secretfetch.Fetch")
	span.SetAttributes(attribute.String("secret.name", name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	out, err := c.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		if code := ErrorCode(err); code != "" {
			span.SetAttributes(attribute.String("aws.error_code", code))
		}
		return "", fmt.Errorf("get secret value %s: %w", name, err)
	}
	if out == nil || out.SecretString == nil {
		return "", fmt.Errorf("%w: %s", ErrNoSecretString, name)
	}
	return aws.ToString(out.SecretString), nil
}

// ErrorCode returns the AWS error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// Run fetches name and writes the value followed by a newline to stdout. On
// failure nothing is written to stdout, a JSON error line goes to stderr and
// the exit code is 1.
func Run(ctx context.Context, c Client, name string, stdout, stderr io.Writer) int {
	logger := logging.NewWriterLogger("getsecretvalue", stderr)
	defer func() { _ = logger.Sync() }()

	value, err := Fetch(ctx, c, name)
	if err != nil {
		fields := []zap.Field{zap.String("secret_name", name), zap.Error(err)}
		if code := ErrorCode(err); code != "" {
			fields = append(fields, zap.String("error_code", code))
		}
		logging.Log(ctx, logger, zapcore.ErrorLevel, "failed to fetch secret", fields...)
		return 1
	}
	if _, err := fmt.Fprintln(stdout, value); err != nil {
		logging.Log(ctx, logger, zapcore.ErrorLevel, "failed to write secret",
			zap.String("secret_name", name), zap.Error(err))
		return 1
	}
	return 0
}
