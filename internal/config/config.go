package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sampleapp-dev/sampleinfra/internal/logging"
)

// Config is the complete set of plan inputs. Everything that varies between
// environments lives here and is passed explicitly into each component.
type Config struct {
	Project  string `env:"INFRA_PROJECT" envDefault:"sampleapp"`
	Region   string `env:"AWS_REGION" envDefault:"ap-northeast-1"`
	Account  string `env:"AWS_ACCOUNT_ID"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Network  NetworkConfig  `envPrefix:"NETWORK_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Compute  ComputeConfig  `envPrefix:"APP_"`
	Bastion  BastionConfig  `envPrefix:"BASTION_"`

	Redaction logging.RedactionConfig
}

// NetworkConfig describes the VPC and its subnet tiers. Tiers use the form
// name:kind:mask, e.g. "db:isolated:24".
type NetworkConfig struct {
	Name              string   `env:"NAME" envDefault:"sampleapp-vpc"`
	CIDR              string   `env:"CIDR" envDefault:"10.0.0.0/16"`
	MaxAZs            int      `env:"MAX_AZS" envDefault:"2"`
	AvailabilityZones []string `env:"AVAILABILITY_ZONES" envSeparator:","`
	Tiers             []string `env:"TIERS" envSeparator:"," envDefault:"public:public:24,app:private-egress:24,db:isolated:24"`
}

// DatabaseConfig describes the Aurora Serverless v2 cluster.
type DatabaseConfig struct {
	ClusterName          string  `env:"CLUSTER_NAME" envDefault:"sampleapp-aurora"`
	Engine               string  `env:"ENGINE" envDefault:"aurora-postgresql"`
	EngineVersion        string  `env:"ENGINE_VERSION" envDefault:"14.3"`
	Name                 string  `env:"NAME" envDefault:"sampledb"`
	Username             string  `env:"USERNAME" envDefault:"appuser"`
	Port                 int     `env:"PORT" envDefault:"5432"`
	Instances            int     `env:"INSTANCES" envDefault:"2"`
	MinCapacity          float64 `env:"MIN_CAPACITY" envDefault:"0.5"`
	MaxCapacity          float64 `env:"MAX_CAPACITY" envDefault:"5"`
	RemovalPolicy        string  `env:"REMOVAL_POLICY" envDefault:"destroy"`
	Tier                 string  `env:"SUBNET_TIER" envDefault:"db"`
	CredentialSecretName string  `env:"CREDENTIAL_SECRET_NAME" envDefault:"AuroraClusterSecret"`
	URLSecretName        string  `env:"URL_SECRET_NAME" envDefault:"DatabaseUrlSecret"`
	PasswordLength       int     `env:"PASSWORD_LENGTH" envDefault:"32"`
}

// ComputeConfig describes the App Runner service.
type ComputeConfig struct {
	ServiceName       string            `env:"SERVICE_NAME" envDefault:"sampleApp"`
	Image             string            `env:"IMAGE"`
	RepositoryName    string            `env:"REPOSITORY_NAME" envDefault:"sampleapp"`
	ImageTag          string            `env:"IMAGE_TAG" envDefault:"latest"`
	BuildContext      string            `env:"BUILD_CONTEXT" envDefault:"app"`
	Dockerfile        string            `env:"DOCKERFILE"`
	BuildTarget       string            `env:"BUILD_TARGET" envDefault:"production-build-stage"`
	Port              int               `env:"PORT" envDefault:"3000"`
	CPU               string            `env:"CPU" envDefault:"1024"`
	Memory            string            `env:"MEMORY" envDefault:"2048"`
	SecretEnvVar      string            `env:"SECRET_ENV_VAR" envDefault:"DB_SECRET_NAME"`
	Env               map[string]string `env:"ENV" envSeparator:"," envKeyValSeparator:"="`
	ConnectorName     string            `env:"CONNECTOR_NAME" envDefault:"sampleapp-vpc-connector"`
	ConnectorTier     string            `env:"CONNECTOR_TIER" envDefault:"app"`
	InstanceRoleName  string            `env:"INSTANCE_ROLE_NAME" envDefault:"SampleAppRunnerInstanceRole"`
	Tracing           bool              `env:"TRACING" envDefault:"true"`
	ObservabilityName string            `env:"OBSERVABILITY_NAME" envDefault:"SampleAppRunnerObservConfig"`
}

// BastionConfig describes the administrative access path to the database.
type BastionConfig struct {
	Enabled        bool   `env:"ENABLED" envDefault:"true"`
	InstanceType   string `env:"INSTANCE_TYPE" envDefault:"t3.micro"`
	Tier           string `env:"SUBNET_TIER" envDefault:"db"`
	IngressPorts   []int  `env:"INGRESS_PORTS" envSeparator:"," envDefault:"22,80"`
	DatabaseAccess bool   `env:"DATABASE_ACCESS" envDefault:"false"`
	PublicKey      string `env:"PUBLIC_KEY"`
	KeyName        string `env:"KEY_NAME" envDefault:"ec2-key-pair"`
	AMIParameter   string `env:"AMI_PARAMETER" envDefault:"/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64"`
}

// Load reads the given .env files (".env" when none are given; missing files
// are ignored) and then parses the process environment. Variables already
// set in the environment win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by an empty environment, with
// the given account filled in.
func Default(account string) *Config {
	var cfg Config
	// Defaults only; an error here would mean a malformed envDefault tag.
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	cfg.Account = account
	return &cfg
}
