package network

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// SSMManagedInstancePolicy lets Session Manager reach the bastion.
const SSMManagedInstancePolicy = "AmazonSSMManagedInstanceCore"

// KeyPairParameterPrefix is where a generated private key is stored.
const KeyPairParameterPrefix = "/ec2/keypair/"

// ssmEndpointServices are the interface endpoints Session Manager needs from
// a subnet with no route out of the VPC.
var ssmEndpointServices = []string{"ssm", "ssmmessages", "ec2messages"}

// Endpoint is an interface VPC endpoint.
type Endpoint struct {
	Service           string `json:"service" yaml:"service"`
	ServiceName       string `json:"serviceName" yaml:"serviceName"`
	Tier              string `json:"tier" yaml:"tier"`
	SecurityGroup     string `json:"securityGroup" yaml:"securityGroup"`
	PrivateDNSEnabled bool   `json:"privateDnsEnabled" yaml:"privateDnsEnabled"`
}

// Bastion is the administrative host used to reach the database tier.
type Bastion struct {
	Name            string     `json:"name" yaml:"name"`
	InstanceType    string     `json:"instanceType" yaml:"instanceType"`
	Tier            string     `json:"tier" yaml:"tier"`
	SecurityGroup   string     `json:"securityGroup" yaml:"securityGroup"`
	AMIParameter    string     `json:"amiParameter" yaml:"amiParameter"`
	KeyName         string     `json:"keyName" yaml:"keyName"`
	PublicKey       string     `json:"publicKey,omitempty" yaml:"publicKey,omitempty"`
	GenerateKey     bool       `json:"generateKey" yaml:"generateKey"`
	ManagedPolicies []string   `json:"managedPolicies" yaml:"managedPolicies"`
	Endpoints       []Endpoint `json:"endpoints" yaml:"endpoints"`
}

// BastionOptions are the inputs of NewBastion.
type BastionOptions struct {
	Name         string
	InstanceType string
	Tier         string
	KeyName      string
	// PublicKey is an authorized_keys line; when empty a key pair is
	// generated and its private half stored under KeyPairParameterPrefix.
	PublicKey    string
	AMIParameter string
	Region       string
}

// NewBastion places a bastion in the given topology. The topology must have
// been built with BastionAccess so the bastion and endpoint groups exist.
func NewBastion(t *Topology, opts BastionOptions) (*Bastion, error) {
	if _, ok := t.SecurityGroup(RoleBastion); !ok {
		return nil, &ConfigError{Field: "bastion", Reason: "topology was built without bastion access"}
	}
	if opts.InstanceType == "" {
		return nil, &ConfigError{Field: "bastion", Reason: "instance type must not be empty"}
	}
	if opts.Region == "" {
		return nil, &ConfigError{Field: "bastion", Reason: "region is required for endpoint service names"}
	}
	if _, err := t.RequireTier(opts.Tier, "bastion"); err != nil {
		return nil, err
	}

	b := &Bastion{
		Name:            opts.Name,
		InstanceType:    opts.InstanceType,
		Tier:            opts.Tier,
		SecurityGroup:   RoleBastion,
		AMIParameter:    opts.AMIParameter,
		KeyName:         opts.KeyName,
		ManagedPolicies: []string{SSMManagedInstancePolicy},
	}
	if b.Name == "" {
		b.Name = t.Name + "-bastion"
	}

	if key := strings.TrimSpace(opts.PublicKey); key != "" {
		if err := ValidatePublicKey(key); err != nil {
			return nil, err
		}
		b.PublicKey = key
	} else {
		b.GenerateKey = true
	}

	for _, svc := range ssmEndpointServices {
		b.Endpoints = append(b.Endpoints, Endpoint{
			Service:           svc,
			ServiceName:       fmt.Sprintf("com.amazonaws.%s.%s", opts.Region, svc),
			Tier:              opts.Tier,
			SecurityGroup:     RoleEndpoint,
			PrivateDNSEnabled: true,
		})
	}
	return b, nil
}

// ValidatePublicKey checks an authorized_keys formatted public key.
func ValidatePublicKey(key string) error {
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key))
	if err != nil {
		return &ConfigError{Field: "bastion public key", Reason: err.Error()}
	}
	switch pk.Type() {
	case ssh.KeyAlgoRSA, ssh.KeyAlgoED25519:
		return nil
	default:
		return &ConfigError{Field: "bastion public key", Reason: fmt.Sprintf("EC2 key pairs accept rsa or ed25519 keys, not %s", pk.Type())}
	}
}
