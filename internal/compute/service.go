// Package compute declares the App Runner service that runs the application
// image and reads the connection secret by name at start.
package compute

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sampleapp-dev/sampleinfra/internal/credentials"
	"github.com/sampleapp-dev/sampleinfra/internal/network"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
)

// Image repository types App Runner accepts.
const (
	RepositoryECR       = "ECR"
	RepositoryECRPublic = "ECR_PUBLIC"
)

// TraceVendor is the only tracing backend App Runner supports.
const TraceVendor = "AWSXRAY"

const (
	publicECRRegistry = "public.ecr.aws"
	reservedEnvPrefix = "AWSAPPRUNNER"
)

var (
	privateECRRegistry = regexp.MustCompile(`^[0-9]{12}\.dkr\.ecr\.[a-z0-9-]+\.amazonaws\.com$`)
	envNameRegex       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Image is where the service's container comes from. Either Reference is a
// fully qualified image, or Repository names an ECR repository that is
// declared with the service and Build is pushed into it at deploy time.
type Image struct {
	Reference      string `json:"reference,omitempty" yaml:"reference,omitempty"`
	Repository     string `json:"repository,omitempty" yaml:"repository,omitempty"`
	Tag            string `json:"tag,omitempty" yaml:"tag,omitempty"`
	RepositoryType string `json:"repositoryType" yaml:"repositoryType"`
	Build          *Build `json:"build,omitempty" yaml:"build,omitempty"`
}

// Build is the docker build that fills a managed repository.
type Build struct {
	Context    string `json:"context" yaml:"context"`
	Dockerfile string `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`
	Target     string `json:"target,omitempty" yaml:"target,omitempty"`
	Platform   string `json:"platform" yaml:"platform"`
}

// BuildPlatform is the only architecture App Runner runs.
const BuildPlatform = "linux/amd64"

// ManagedRepository reports whether the ECR repository is declared here.
func (i Image) ManagedRepository() bool { return i.Reference == "" }

// Connector is the VPC connector the service egresses through.
type Connector struct {
	Name          string `json:"name" yaml:"name"`
	Tier          string `json:"tier" yaml:"tier"`
	SecurityGroup string `json:"securityGroup" yaml:"securityGroup"`
}

// Observability is the tracing configuration.
type Observability struct {
	Name    string `json:"name" yaml:"name"`
	Vendor  string `json:"vendor" yaml:"vendor"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Service is the declaration stored in the plan. SecretEnv maps environment
// variable names to secret names; no secret value ever appears here.
type Service struct {
	Name          string            `json:"name" yaml:"name"`
	Image         Image             `json:"image" yaml:"image"`
	Port          int               `json:"port" yaml:"port"`
	CPU           string            `json:"cpu" yaml:"cpu"`
	Memory        string            `json:"memory" yaml:"memory"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	SecretEnv     map[string]string `json:"secretEnv" yaml:"secretEnv"`
	Connector     Connector         `json:"connector" yaml:"connector"`
	InstanceRole  Role              `json:"instanceRole" yaml:"instanceRole"`
	AccessRole    *Role             `json:"accessRole,omitempty" yaml:"accessRole,omitempty"`
	Observability Observability     `json:"observability" yaml:"observability"`
}

// Options are the inputs of New.
type Options struct {
	Name              string
	Image             string
	RepositoryName    string
	ImageTag          string
	BuildContext      string
	Dockerfile        string
	BuildTarget       string
	Port              int
	CPU               string
	Memory            string
	Env               map[string]string
	SecretEnvVar      string
	ConnectorName     string
	ConnectorTier     string
	InstanceRoleName  string
	Tracing           bool
	ObservabilityName string
}

// New builds the service declaration. The only secret it may read is secret,
// and only by name.
func New(env plan.Environment, topo *network.Topology, secret *credentials.SecretHandle, opts Options) (*Service, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, fmt.Errorf("compute service %s: a connection secret is required", opts.Name)
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("compute service name must not be empty")
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("compute service %s: %d is not a TCP port", opts.Name, opts.Port)
	}
	if opts.SecretEnvVar == "" {
		return nil, fmt.Errorf("compute service %s: the secret environment variable name is required", opts.Name)
	}

	img, err := resolveImage(opts)
	if err != nil {
		return nil, fmt.Errorf("compute service %s: %w", opts.Name, err)
	}

	tier, err := topo.RequireTier(opts.ConnectorTier, "compute connector")
	if err != nil {
		return nil, err
	}
	if tier.Kind != network.TierPrivateEgress {
		return nil, &network.ConfigError{Field: "tier", Reason: fmt.Sprintf("compute connector needs a private-egress tier, %s is %s", tier.Name, tier.Kind)}
	}
	if _, ok := topo.SecurityGroup(network.RoleCompute); !ok {
		return nil, &network.ConfigError{Field: "security group", Reason: "topology has no compute group"}
	}

	svc := &Service{
		Name:      opts.Name,
		Image:     img,
		Port:      opts.Port,
		CPU:       opts.CPU,
		Memory:    opts.Memory,
		Env:       copyEnv(opts.Env),
		SecretEnv: map[string]string{opts.SecretEnvVar: secret.Name()},
		Connector: Connector{
			Name:          opts.ConnectorName,
			Tier:          tier.Name,
			SecurityGroup: network.RoleCompute,
		},
		InstanceRole: Role{
			Name:            opts.InstanceRoleName,
			TrustedService:  TasksPrincipal,
			ManagedPolicies: []string{XRayWritePolicy},
			InlinePolicies:  []Policy{SecretReadPolicy(env.Region, env.Account, secret.Name())},
		},
		Observability: Observability{
			Name:    opts.ObservabilityName,
			Vendor:  TraceVendor,
			Enabled: opts.Tracing,
		},
	}
	if img.RepositoryType == RepositoryECR {
		svc.AccessRole = &Role{
			Name:            opts.InstanceRoleName + "EcrAccess",
			TrustedService:  BuildPrincipal,
			ManagedPolicies: []string{ECRAccessPolicy},
		}
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	return svc, nil
}

func resolveImage(opts Options) (Image, error) {
	if opts.Image == "" {
		if opts.RepositoryName == "" {
			return Image{}, fmt.Errorf("either an image reference or a repository name is required")
		}
		tag := opts.ImageTag
		if tag == "" {
			tag = "latest"
		}
		if _, err := name.NewTag(opts.RepositoryName + ":" + tag); err != nil {
			return Image{}, fmt.Errorf("invalid repository or tag: %w", err)
		}
		if opts.BuildContext == "" {
			return Image{}, fmt.Errorf("repository %s is declared here but has no build context to push from", opts.RepositoryName)
		}
		return Image{
			Repository:     opts.RepositoryName,
			Tag:            tag,
			RepositoryType: RepositoryECR,
			Build: &Build{
				Context:    opts.BuildContext,
				Dockerfile: opts.Dockerfile,
				Target:     opts.BuildTarget,
				Platform:   BuildPlatform,
			},
		}, nil
	}

	ref, err := name.ParseReference(opts.Image)
	if err != nil {
		return Image{}, fmt.Errorf("invalid image reference: %w", err)
	}
	registry := ref.Context().RegistryStr()
	switch {
	case privateECRRegistry.MatchString(registry):
		return Image{Reference: ref.Name(), RepositoryType: RepositoryECR}, nil
	case registry == publicECRRegistry:
		return Image{Reference: ref.Name(), RepositoryType: RepositoryECRPublic}, nil
	default:
		return Image{}, fmt.Errorf("registry %s is not supported; use a private ECR repository or public.ecr.aws", registry)
	}
}

// Environment is the variable map the container sees: plain variables plus
// secret names.
func (s *Service) Environment() map[string]string {
	out := copyEnv(s.Env)
	if out == nil {
		out = make(map[string]string, len(s.SecretEnv))
	}
	for k, v := range s.SecretEnv {
		out[k] = v
	}
	return out
}

// Validate checks that the environment carries secret names only.
func (s *Service) Validate() error {
	if len(s.SecretEnv) == 0 {
		return fmt.Errorf("compute service %s: no secret name in the environment", s.Name)
	}
	keys := make([]string, 0, len(s.Env)+len(s.SecretEnv))
	for k := range s.Env {
		keys = append(keys, k)
	}
	for k := range s.SecretEnv {
		if _, clash := s.Env[k]; clash {
			return fmt.Errorf("compute service %s: %s is reserved for a secret name", s.Name, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !envNameRegex.MatchString(k) {
			return fmt.Errorf("compute service %s: %q is not a valid variable name", s.Name, k)
		}
		if strings.HasPrefix(strings.ToUpper(k), reservedEnvPrefix) {
			return fmt.Errorf("compute service %s: %s uses the reserved %s prefix", s.Name, k, reservedEnvPrefix)
		}
	}
	for _, k := range keys {
		v, ok := s.Env[k]
		if !ok {
			v = s.SecretEnv[k]
		}
		if looksLikeConnectionString(v) {
			return fmt.Errorf("compute service %s: %s holds a connection string; pass the secret name instead", s.Name, k)
		}
	}
	return nil
}

func looksLikeConnectionString(v string) bool {
	u, err := url.Parse(v)
	if err != nil || u.User == nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql", "mysql", "mongodb", "redis":
		return true
	}
	_, hasPassword := u.User.Password()
	return hasPassword
}

func copyEnv(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
