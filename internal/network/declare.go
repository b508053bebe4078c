package network

import (
	"fmt"

	"github.com/sampleapp-dev/sampleinfra/internal/plan"
)

// Node IDs.
const (
	NodeID        plan.ID = "network"
	BastionNodeID plan.ID = "network/bastion"
)

// Attributes a provisioned network reports.
const (
	AttrVPCID = "vpcId"
	// AttrSubnetsPrefix + tier name holds a comma separated subnet ID list.
	AttrSubnetsPrefix = "subnets."
	// AttrSecurityGroupPrefix + role holds the group ID.
	AttrSecurityGroupPrefix = "securityGroup."

	AttrInstanceID = "instanceId"
	AttrKeyPairID  = "keyPairId"
	AttrPrivateIP  = "privateIp"
)

// SSHKeyCommandOutput is the name of the key retrieval output.
const SSHKeyCommandOutput = "GetSSHKeyCommand"

// Handle is what downstream components see of the network: references to
// attributes, never the topology's provisioned resources themselves.
type Handle struct {
	ID       plan.ID
	Topology *Topology
}

// Declare adds the network node to the plan.
func Declare(p *plan.Plan, t *Topology) (*Handle, error) {
	if _, err := p.Graph.Add(NodeID, plan.KindNetwork, t); err != nil {
		return nil, err
	}
	return &Handle{ID: NodeID, Topology: t}, nil
}

// VPCID references the VPC ID.
func (h *Handle) VPCID() plan.Ref {
	return plan.Ref{Node: h.ID, Attr: AttrVPCID}
}

// Subnets references the subnet IDs of a tier.
func (h *Handle) Subnets(tier string) (plan.Ref, error) {
	if _, ok := h.Topology.Tier(tier); !ok {
		return plan.Ref{}, &ConfigError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	}
	return plan.Ref{Node: h.ID, Attr: AttrSubnetsPrefix + tier}, nil
}

// SecurityGroup references the ID of the group with the given role.
func (h *Handle) SecurityGroup(role string) (plan.Ref, error) {
	if _, ok := h.Topology.SecurityGroup(role); !ok {
		return plan.Ref{}, &ConfigError{Field: "security group", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	return plan.Ref{Node: h.ID, Attr: AttrSecurityGroupPrefix + role}, nil
}

// DeclareBastion adds the bastion node and, when a key pair is generated, the
// output that prints the command to fetch its private key.
func DeclareBastion(p *plan.Plan, h *Handle, b *Bastion) (plan.ID, error) {
	if _, err := p.Graph.Add(BastionNodeID, plan.KindBastion, b, h.ID); err != nil {
		return "", err
	}
	if !b.GenerateKey {
		return BastionNodeID, nil
	}
	out := plan.Output{
		Name:        SSHKeyCommandOutput,
		Description: "Retrieves the bastion's generated private key",
		Format: "aws ssm get-parameter --name " + KeyPairParameterPrefix + "%s --region " +
			p.Environment.Region + " --with-decryption --query Parameter.Value --output text",
		Refs: []plan.Ref{{Node: BastionNodeID, Attr: AttrKeyPairID}},
	}
	if err := p.AddOutput(out); err != nil {
		return "", err
	}
	return BastionNodeID, nil
}
