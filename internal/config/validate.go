package config

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
)

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Problem)
}

var (
	accountRegex = regexp.MustCompile(`^[0-9]{12}$`)
	regionRegex  = regexp.MustCompile(`^[a-z]{2}(-gov)?-[a-z]+-[0-9]$`)
)

// Validate performs the static checks that do not need any component
// knowledge. Component constructors perform the deeper checks (tier layout,
// image reference, capacity steps). All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Problem: fmt.Sprintf(format, args...)})
	}

	if cfg.Project == "" {
		add("INFRA_PROJECT", "must not be empty")
	}
	if !regionRegex.MatchString(cfg.Region) {
		add("AWS_REGION", "%q is not a region name", cfg.Region)
	}
	if !accountRegex.MatchString(cfg.Account) {
		add("AWS_ACCOUNT_ID", "%q must be a 12 digit account id", cfg.Account)
	}

	if _, err := netip.ParsePrefix(cfg.Network.CIDR); err != nil {
		add("NETWORK_CIDR", "%v", err)
	}
	if cfg.Network.MaxAZs < 1 {
		add("NETWORK_MAX_AZS", "must be at least 1 (got %d)", cfg.Network.MaxAZs)
	}
	if n := len(cfg.Network.AvailabilityZones); n > 0 && n < cfg.Network.MaxAZs {
		add("NETWORK_AVAILABILITY_ZONES", "lists %d zones but NETWORK_MAX_AZS is %d", n, cfg.Network.MaxAZs)
	}
	if len(cfg.Network.Tiers) == 0 {
		add("NETWORK_TIERS", "at least one tier is required")
	}

	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		add("DB_PORT", "%d is not a TCP port", cfg.Database.Port)
	}
	if cfg.Database.Instances < 1 {
		add("DB_INSTANCES", "must be at least 1 (got %d)", cfg.Database.Instances)
	}
	if cfg.Database.Username == "" {
		add("DB_USERNAME", "must not be empty")
	}
	if cfg.Database.Name == "" {
		add("DB_NAME", "must not be empty")
	}
	if cfg.Database.URLSecretName == "" || cfg.Database.CredentialSecretName == "" {
		add("DB_URL_SECRET_NAME", "secret names must not be empty")
	}
	if cfg.Database.URLSecretName == cfg.Database.CredentialSecretName {
		add("DB_URL_SECRET_NAME", "must differ from DB_CREDENTIAL_SECRET_NAME")
	}
	if cfg.Database.PasswordLength < 16 || cfg.Database.PasswordLength > 128 {
		add("DB_PASSWORD_LENGTH", "must be between 16 and 128 (got %d)", cfg.Database.PasswordLength)
	}

	if cfg.Compute.Port < 1 || cfg.Compute.Port > 65535 {
		add("APP_PORT", "%d is not a TCP port", cfg.Compute.Port)
	}
	if cfg.Compute.SecretEnvVar == "" {
		add("APP_SECRET_ENV_VAR", "must not be empty")
	}
	if _, clash := cfg.Compute.Env[cfg.Compute.SecretEnvVar]; clash {
		add("APP_ENV", "must not set %s; it is reserved for the connection secret name", cfg.Compute.SecretEnvVar)
	}
	if cfg.Compute.Image == "" && cfg.Compute.RepositoryName == "" {
		add("APP_IMAGE", "either APP_IMAGE or APP_REPOSITORY_NAME must be set")
	}
	if cfg.Compute.Image == "" && cfg.Compute.BuildContext == "" {
		add("APP_BUILD_CONTEXT", "must be set when APP_IMAGE is empty; nothing else pushes to APP_REPOSITORY_NAME")
	}

	if cfg.Bastion.Enabled {
		if len(cfg.Bastion.IngressPorts) == 0 {
			add("BASTION_INGRESS_PORTS", "at least one port is required when the bastion is enabled")
		}
		for _, p := range cfg.Bastion.IngressPorts {
			if p < 1 || p > 65535 {
				add("BASTION_INGRESS_PORTS", "%d is not a TCP port", p)
			}
		}
		if cfg.Bastion.InstanceType == "" {
			add("BASTION_INSTANCE_TYPE", "must not be empty")
		}
	}

	return errors.Join(errs...)
}
