// Package orchestrator composes the network, credential, database and compute
// declarations into one plan and pins the compute service behind the
// database with an explicit ordering edge.
package orchestrator

import (
	"errors"
	"fmt"

	"github.com/sampleapp-dev/sampleinfra/internal/compute"
	"github.com/sampleapp-dev/sampleinfra/internal/config"
	"github.com/sampleapp-dev/sampleinfra/internal/credentials"
	"github.com/sampleapp-dev/sampleinfra/internal/database"
	"github.com/sampleapp-dev/sampleinfra/internal/network"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
)

// ErrMissingOrderingEdge is returned when a compute service could be created
// before the database it reads from.
var ErrMissingOrderingEdge = errors.New("compute service has no explicit dependency on the database")

// Result is an evaluated plan together with the handles of its components.
type Result struct {
	Plan             *plan.Plan
	Network          *network.Handle
	Bastion          *network.Bastion
	Credential       *credentials.CredentialHandle
	Database         *database.Handle
	ConnectionSecret *credentials.SecretHandle
	Compute          *compute.Handle
}

// Build validates cfg and evaluates the plan in the order network, credential,
// database, connection secret, compute. Nothing is provisioned.
func Build(cfg *config.Config) (*Result, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	env := plan.Environment{Account: cfg.Account, Region: cfg.Region}
	p := plan.New(cfg.Project, env)
	res := &Result{Plan: p}

	if err := res.buildNetwork(cfg); err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	if err := res.buildDatabase(cfg); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := res.buildCompute(cfg); err != nil {
		return nil, fmt.Errorf("compute: %w", err)
	}

	// The service reads the connection secret at start, so it must not be
	// created or updated before the cluster and its derived secret exist.
	if err := p.Graph.DependOn(res.Compute.ID, res.Database.ID); err != nil {
		return nil, err
	}
	if err := VerifyOrdering(p.Graph); err != nil {
		return nil, err
	}
	if _, err := p.Graph.TopologicalOrder(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Result) buildNetwork(cfg *config.Config) error {
	tiers, err := network.ParseTiers(cfg.Network.Tiers)
	if err != nil {
		return err
	}
	opts := network.Options{
		Name:              cfg.Network.Name,
		CIDR:              cfg.Network.CIDR,
		AZCount:           cfg.Network.MaxAZs,
		AvailabilityZones: cfg.Network.AvailabilityZones,
		Tiers:             tiers,
		DatabasePort:      cfg.Database.Port,
	}
	if cfg.Bastion.Enabled {
		opts.Bastion = &network.BastionAccess{
			IngressPorts:   cfg.Bastion.IngressPorts,
			DatabaseAccess: cfg.Bastion.DatabaseAccess,
		}
	}
	topo, err := network.New(opts)
	if err != nil {
		return err
	}
	if r.Network, err = network.Declare(r.Plan, topo); err != nil {
		return err
	}
	if !cfg.Bastion.Enabled {
		return nil
	}

	b, err := network.NewBastion(topo, network.BastionOptions{
		InstanceType: cfg.Bastion.InstanceType,
		Tier:         cfg.Bastion.Tier,
		KeyName:      cfg.Bastion.KeyName,
		PublicKey:    cfg.Bastion.PublicKey,
		AMIParameter: cfg.Bastion.AMIParameter,
		Region:       cfg.Region,
	})
	if err != nil {
		return err
	}
	if _, err := network.DeclareBastion(r.Plan, r.Network, b); err != nil {
		return err
	}
	r.Bastion = b
	return nil
}

func (r *Result) buildDatabase(cfg *config.Config) error {
	policy := credentials.DefaultPasswordPolicy()
	policy.Length = cfg.Database.PasswordLength
	store, err := credentials.NewStore(r.Plan, policy)
	if err != nil {
		return err
	}
	if r.Credential, err = store.GenerateCredential(cfg.Database.CredentialSecretName, credentials.Template{
		credentials.UsernameKey: cfg.Database.Username,
	}); err != nil {
		return err
	}

	removal, err := database.ParseRemovalPolicy(cfg.Database.RemovalPolicy)
	if err != nil {
		return err
	}
	cluster, err := database.New(r.Network.Topology, r.Credential, database.Options{
		Name:          cfg.Database.ClusterName,
		EngineVersion: cfg.Database.EngineVersion,
		DatabaseName:  cfg.Database.Name,
		Port:          cfg.Database.Port,
		Instances:     cfg.Database.Instances,
		Capacity:      database.Capacity{Min: cfg.Database.MinCapacity, Max: cfg.Database.MaxCapacity},
		RemovalPolicy: removal,
		SubnetTier:    cfg.Database.Tier,
	})
	if err != nil {
		return err
	}
	if r.Database, err = database.Declare(r.Plan, r.Network, r.Credential, cluster); err != nil {
		return err
	}

	r.ConnectionSecret, err = store.DeriveConnectionSecret(cfg.Database.URLSecretName, r.Database)
	return err
}

func (r *Result) buildCompute(cfg *config.Config) error {
	svc, err := compute.New(r.Plan.Environment, r.Network.Topology, r.ConnectionSecret, compute.Options{
		Name:              cfg.Compute.ServiceName,
		Image:             cfg.Compute.Image,
		RepositoryName:    cfg.Compute.RepositoryName,
		ImageTag:          cfg.Compute.ImageTag,
		BuildContext:      cfg.Compute.BuildContext,
		Dockerfile:        cfg.Compute.Dockerfile,
		BuildTarget:       cfg.Compute.BuildTarget,
		Port:              cfg.Compute.Port,
		CPU:               cfg.Compute.CPU,
		Memory:            cfg.Compute.Memory,
		Env:               cfg.Compute.Env,
		SecretEnvVar:      cfg.Compute.SecretEnvVar,
		ConnectorName:     cfg.Compute.ConnectorName,
		ConnectorTier:     cfg.Compute.ConnectorTier,
		InstanceRoleName:  cfg.Compute.InstanceRoleName,
		Tracing:           cfg.Compute.Tracing,
		ObservabilityName: cfg.Compute.ObservabilityName,
	})
	if err != nil {
		return err
	}
	r.Compute, err = compute.Declare(r.Plan, r.Network, r.ConnectionSecret, svc)
	return err
}

// VerifyOrdering fails when any compute service lacks an explicit edge to
// every database cluster. A transitive path through the connection secret
// does not count.
func VerifyOrdering(g *plan.Graph) error {
	clusters := g.NodesOfKind(plan.KindDatabaseCluster)
	for _, svc := range g.NodesOfKind(plan.KindComputeService) {
		for _, db := range clusters {
			if !g.HasExplicitEdge(svc.ID, db.ID) {
				return fmt.Errorf("%w: %s -> %s", ErrMissingOrderingEdge, svc.ID, db.ID)
			}
		}
	}
	return nil
}
