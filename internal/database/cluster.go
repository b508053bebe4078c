// Package database declares the Aurora PostgreSQL Serverless v2 cluster.
package database

import (
	"fmt"
	"math"
	"strings"

	"github.com/sampleapp-dev/sampleinfra/internal/credentials"
	"github.com/sampleapp-dev/sampleinfra/internal/network"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
	"github.com/sampleapp-dev/sampleinfra/internal/version"
	"golang.org/x/mod/semver"
)

const (
	EngineAuroraPostgres = "aurora-postgresql"
	InstanceClass        = "db.serverless"

	// Serverless v2 bounds, in Aurora capacity units.
	MinCapacityUnits  = 0.5
	MaxCapacityUnits  = 128.0
	capacityIncrement = 0.5

	// minServerlessV2Version is the first aurora-postgresql release that
	// supports Serverless v2.
	minServerlessV2Version = "v13.6"
)

// NodeID is the cluster's plan node.
const NodeID plan.ID = "database/cluster"

// Attributes a provisioned cluster reports.
const (
	AttrHost           = "host"
	AttrPort           = "port"
	AttrDBName         = "dbname"
	AttrUsername       = "username"
	AttrPassword       = "password"
	AttrARN            = "arn"
	AttrReaderEndpoint = "readerEndpoint"
)

// RemovalPolicy says what happens to the cluster on teardown.
type RemovalPolicy string

const (
	RemovalDestroy  RemovalPolicy = "destroy"
	RemovalSnapshot RemovalPolicy = "snapshot"
	RemovalRetain   RemovalPolicy = "retain"
)

// ParseRemovalPolicy validates a configured removal policy.
func ParseRemovalPolicy(s string) (RemovalPolicy, error) {
	switch p := RemovalPolicy(strings.ToLower(s)); p {
	case RemovalDestroy, RemovalSnapshot, RemovalRetain:
		return p, nil
	}
	return "", fmt.Errorf("unknown removal policy %q (want destroy, snapshot or retain)", s)
}

// Capacity is the static scaling range.
type Capacity struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Validate enforces the Serverless v2 range and half-unit steps.
func (c Capacity) Validate() error {
	if c.Min < MinCapacityUnits {
		return fmt.Errorf("minimum capacity %g is below %g", c.Min, MinCapacityUnits)
	}
	if c.Max > MaxCapacityUnits {
		return fmt.Errorf("maximum capacity %g is above %g", c.Max, MaxCapacityUnits)
	}
	if c.Min > c.Max {
		return fmt.Errorf("minimum capacity %g exceeds maximum %g", c.Min, c.Max)
	}
	for _, v := range []float64{c.Min, c.Max} {
		if math.Mod(v, capacityIncrement) != 0 {
			return fmt.Errorf("capacity %g is not a multiple of %g", v, capacityIncrement)
		}
	}
	return nil
}

// Cluster is the declaration stored in the plan.
type Cluster struct {
	Name                 string        `json:"name" yaml:"name"`
	Engine               string        `json:"engine" yaml:"engine"`
	EngineVersion        string        `json:"engineVersion" yaml:"engineVersion"`
	ParameterGroupFamily string        `json:"parameterGroupFamily" yaml:"parameterGroupFamily"`
	DatabaseName         string        `json:"databaseName" yaml:"databaseName"`
	Port                 int           `json:"port" yaml:"port"`
	InstanceClass        string        `json:"instanceClass" yaml:"instanceClass"`
	Instances            int           `json:"instances" yaml:"instances"`
	Capacity             Capacity      `json:"capacity" yaml:"capacity"`
	RemovalPolicy        RemovalPolicy `json:"removalPolicy" yaml:"removalPolicy"`
	SubnetTier           string        `json:"subnetTier" yaml:"subnetTier"`
	SecurityGroup        string        `json:"securityGroup" yaml:"securityGroup"`
	CredentialSecret     string        `json:"credentialSecret" yaml:"credentialSecret"`
	Username             string        `json:"username" yaml:"username"`
}

// Options are the inputs of New.
type Options struct {
	Name          string
	EngineVersion string
	DatabaseName  string
	Port          int
	Instances     int
	Capacity      Capacity
	RemovalPolicy RemovalPolicy
	SubnetTier    string
}

// New validates the options against the network and credential it will use.
func New(topo *network.Topology, cred *credentials.CredentialHandle, opts Options) (*Cluster, error) {
	if cred == nil {
		return nil, fmt.Errorf("database cluster %s: a credential is required", opts.Name)
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("database cluster name must not be empty")
	}
	family, err := parameterGroupFamily(opts.EngineVersion)
	if err != nil {
		return nil, err
	}
	if err := opts.Capacity.Validate(); err != nil {
		return nil, fmt.Errorf("database cluster %s: %w", opts.Name, err)
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("database cluster %s: %d is not a TCP port", opts.Name, opts.Port)
	}
	if opts.Instances < 1 {
		return nil, fmt.Errorf("database cluster %s: at least one instance is required", opts.Name)
	}
	if _, err := ParseRemovalPolicy(string(opts.RemovalPolicy)); err != nil {
		return nil, err
	}

	tier, err := topo.RequireTier(opts.SubnetTier, "database cluster")
	if err != nil {
		return nil, err
	}
	if tier.Kind != network.TierIsolated {
		return nil, &network.ConfigError{Field: "tier", Reason: fmt.Sprintf("database cluster must be placed in an isolated tier, %s is %s", tier.Name, tier.Kind)}
	}
	if err := checkIngress(topo, opts.Port); err != nil {
		return nil, err
	}

	return &Cluster{
		Name:                 opts.Name,
		Engine:               EngineAuroraPostgres,
		EngineVersion:        opts.EngineVersion,
		ParameterGroupFamily: family,
		DatabaseName:         opts.DatabaseName,
		Port:                 opts.Port,
		InstanceClass:        InstanceClass,
		Instances:            opts.Instances,
		Capacity:             opts.Capacity,
		RemovalPolicy:        opts.RemovalPolicy,
		SubnetTier:           tier.Name,
		SecurityGroup:        network.RoleDatabase,
		CredentialSecret:     cred.Name(),
		Username:             cred.Username(),
	}, nil
}

func parameterGroupFamily(engineVersion string) (string, error) {
	v := version.EnsureVPrefix(engineVersion)
	if !semver.IsValid(v) {
		return "", fmt.Errorf("engine version %q is not a version number", engineVersion)
	}
	if !version.AtLeast(v, minServerlessV2Version) {
		return "", fmt.Errorf("engine version %s does not support Serverless v2 (need %s or later)", engineVersion, strings.TrimPrefix(minServerlessV2Version, "v"))
	}
	return EngineAuroraPostgres + strings.TrimPrefix(semver.Major(v), "v"), nil
}

// checkIngress requires the compute rule on port and refuses CIDR peers or
// other ports on the database group.
func checkIngress(topo *network.Topology, port int) error {
	sg, ok := topo.SecurityGroup(network.RoleDatabase)
	if !ok {
		return &network.ConfigError{Field: "security group", Reason: "topology has no database group"}
	}
	if !sg.AllowsFrom(network.FromGroup(network.RoleCompute), port) {
		return &network.ConfigError{Field: "security group", Reason: fmt.Sprintf("database group does not admit compute on %d", port)}
	}
	for _, r := range sg.Ingress {
		if r.Peer.CIDR != "" || r.Port != port {
			return &network.ConfigError{Field: "security group", Reason: fmt.Sprintf("database group admits %s on %d", r.Peer, r.Port)}
		}
	}
	return nil
}

// Handle is the declared cluster. It is the connection source for exactly
// one derived secret.
type Handle struct {
	ID         plan.ID
	Cluster    *Cluster
	credential *credentials.CredentialHandle
}

var _ credentials.ConnectionSource = (*Handle)(nil)

// Declare adds the cluster node, referencing the network and credential.
func Declare(p *plan.Plan, net *network.Handle, cred *credentials.CredentialHandle, c *Cluster) (*Handle, error) {
	if _, err := p.Graph.Add(NodeID, plan.KindDatabaseCluster, c, net.ID, cred.ID); err != nil {
		return nil, err
	}
	return &Handle{ID: NodeID, Cluster: c, credential: cred}, nil
}

func (h *Handle) NodeID() plan.ID { return h.ID }

func (h *Handle) Credential() *credentials.CredentialHandle { return h.credential }

// ConnectionRefs points at the attributes the cluster reports once available.
func (h *Handle) ConnectionRefs() credentials.ConnectionRefs {
	ref := func(attr string) plan.Ref { return plan.Ref{Node: h.ID, Attr: attr} }
	return credentials.ConnectionRefs{
		Host:     ref(AttrHost),
		Port:     ref(AttrPort),
		DBName:   ref(AttrDBName),
		Username: ref(AttrUsername),
		Password: ref(AttrPassword),
	}
}
