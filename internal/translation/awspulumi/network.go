package awspulumi

import (
	"fmt"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ssm"
	"github.com/pulumi/pulumi-tls/sdk/v5/go/tls"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/sampleapp-dev/sampleinfra/internal/network"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
)

const anyProtocol = "-1"

type networkResources struct {
	vpc     *ec2.Vpc
	subnets map[string][]*ec2.Subnet
	groups  map[string]*ec2.SecurityGroup
}

func (nr *networkResources) subnetIDs(tier string) pulumi.StringArray {
	var ids pulumi.StringArray
	for _, s := range nr.subnets[tier] {
		ids = append(ids, s.ID().ToStringOutput())
	}
	return ids
}

func (nr *networkResources) group(role string) (*ec2.SecurityGroup, error) {
	sg, ok := nr.groups[role]
	if !ok {
		return nil, fmt.Errorf("no security group for role %q", role)
	}
	return sg, nil
}

// networkOf finds the network a node references.
func (r *run) networkOf(n *plan.Node) (*networkResources, error) {
	for _, id := range n.References() {
		if nr, ok := r.networks[id]; ok {
			return nr, nil
		}
	}
	return nil, fmt.Errorf("%w: network for %s", plan.ErrUnresolved, n.ID)
}

func (r *run) zones(t *network.Topology) ([]string, error) {
	if len(t.AvailabilityZones) > 0 {
		return t.AvailabilityZones, nil
	}
	res, err := aws.GetAvailabilityZones(r.ctx, &aws.GetAvailabilityZonesArgs{
		State: pulumi.StringRef("available"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up availability zones: %w", err)
	}
	if len(res.Names) < t.AZCount {
		return nil, fmt.Errorf("region has %d availability zones, %d requested", len(res.Names), t.AZCount)
	}
	return res.Names[:t.AZCount], nil
}

func (r *run) translateNetwork(n *plan.Node, t *network.Topology) error {
	zones, err := r.zones(t)
	if err != nil {
		return err
	}

	vpc, err := ec2.NewVpc(r.ctx, logicalName(t.Name), &ec2.VpcArgs{
		CidrBlock:          pulumi.String(t.CIDR),
		EnableDnsHostnames: pulumi.Bool(true),
		EnableDnsSupport:   pulumi.Bool(true),
		Tags:               r.tagged(t.Name),
	})
	if err != nil {
		return err
	}
	nr := &networkResources{
		vpc:     vpc,
		subnets: make(map[string][]*ec2.Subnet),
		groups:  make(map[string]*ec2.SecurityGroup),
	}
	created := []pulumi.Resource{vpc}

	byName := make(map[string]*ec2.Subnet, len(t.Subnets))
	for _, s := range t.Subnets {
		zone := s.AvailabilityZone
		if zone == "" {
			zone = zones[s.AZIndex]
		}
		subnet, err := ec2.NewSubnet(r.ctx, logicalName(s.Name), &ec2.SubnetArgs{
			VpcId:               vpc.ID(),
			CidrBlock:           pulumi.String(s.CIDR),
			AvailabilityZone:    pulumi.String(zone),
			MapPublicIpOnLaunch: pulumi.Bool(s.Kind == network.TierPublic),
			Tags:                r.tagged(s.Name),
		})
		if err != nil {
			return err
		}
		byName[s.Name] = subnet
		nr.subnets[s.Tier] = append(nr.subnets[s.Tier], subnet)
		created = append(created, subnet)
	}

	var igw *ec2.InternetGateway
	if t.InternetGateway {
		igw, err = ec2.NewInternetGateway(r.ctx, logicalName(t.Name, "igw"), &ec2.InternetGatewayArgs{
			VpcId: vpc.ID(),
			Tags:  r.tagged(t.Name + "-igw"),
		})
		if err != nil {
			return err
		}
		created = append(created, igw)
	}

	var nat *ec2.NatGateway
	for _, ng := range t.NATGateways {
		eip, err := ec2.NewEip(r.ctx, logicalName(ng.Name, "eip"), &ec2.EipArgs{
			Domain: pulumi.String("vpc"),
			Tags:   r.tagged(ng.Name),
		}, pulumi.DependsOn([]pulumi.Resource{igw}))
		if err != nil {
			return err
		}
		nat, err = ec2.NewNatGateway(r.ctx, logicalName(ng.Name), &ec2.NatGatewayArgs{
			AllocationId: eip.ID(),
			SubnetId:     byName[ng.Subnet].ID(),
			Tags:         r.tagged(ng.Name),
		})
		if err != nil {
			return err
		}
		created = append(created, eip, nat)
	}

	for _, s := range t.Subnets {
		var routes ec2.RouteTableRouteArray
		switch s.Kind {
		case network.TierPublic:
			routes = append(routes, &ec2.RouteTableRouteArgs{
				CidrBlock: pulumi.String(network.AnyIPv4),
				GatewayId: igw.ID(),
			})
		case network.TierPrivateEgress:
			routes = append(routes, &ec2.RouteTableRouteArgs{
				CidrBlock:    pulumi.String(network.AnyIPv4),
				NatGatewayId: nat.ID(),
			})
		}
		rt, err := ec2.NewRouteTable(r.ctx, logicalName(s.RouteTable), &ec2.RouteTableArgs{
			VpcId:  vpc.ID(),
			Routes: routes,
			Tags:   r.tagged(s.RouteTable),
		})
		if err != nil {
			return err
		}
		assoc, err := ec2.NewRouteTableAssociation(r.ctx, logicalName(s.RouteTable, "assoc"), &ec2.RouteTableAssociationArgs{
			SubnetId:     byName[s.Name].ID(),
			RouteTableId: rt.ID(),
		})
		if err != nil {
			return err
		}
		created = append(created, rt, assoc)
	}

	sgs, err := r.securityGroups(t, vpc, nr)
	if err != nil {
		return err
	}
	created = append(created, sgs...)

	attrs := map[string]pulumi.StringOutput{
		network.AttrVPCID: vpc.ID().ToStringOutput(),
	}
	for _, tier := range t.Tiers {
		attrs[network.AttrSubnetsPrefix+tier.Name] = nr.subnetIDs(tier.Name).ToStringArrayOutput().
			ApplyT(func(ids []string) string { return strings.Join(ids, ",") }).(pulumi.StringOutput)
	}
	for role, sg := range nr.groups {
		attrs[network.AttrSecurityGroupPrefix+role] = sg.ID().ToStringOutput()
	}
	r.networks[n.ID] = nr
	r.record(n.ID, attrs, created...)
	return nil
}

// securityGroups creates every group first and the ingress rules after, so a
// rule can name any group as its peer.
func (r *run) securityGroups(t *network.Topology, vpc *ec2.Vpc, nr *networkResources) ([]pulumi.Resource, error) {
	var created []pulumi.Resource
	for _, g := range t.SecurityGroups {
		args := &ec2.SecurityGroupArgs{
			VpcId:       vpc.ID(),
			Name:        pulumi.String(g.Name),
			Description: pulumi.String(g.Description),
			Tags:        r.tagged(g.Name),
		}
		if g.AllowAllOutbound {
			args.Egress = ec2.SecurityGroupEgressArray{&ec2.SecurityGroupEgressArgs{
				Protocol:   pulumi.String(anyProtocol),
				FromPort:   pulumi.Int(0),
				ToPort:     pulumi.Int(0),
				CidrBlocks: pulumi.StringArray{pulumi.String(network.AnyIPv4)},
			}}
		}
		sg, err := ec2.NewSecurityGroup(r.ctx, logicalName(g.Name), args)
		if err != nil {
			return nil, err
		}
		nr.groups[g.Role] = sg
		created = append(created, sg)
	}

	for _, g := range t.SecurityGroups {
		for i, rule := range g.Ingress {
			args := &ec2.SecurityGroupRuleArgs{
				Type:            pulumi.String("ingress"),
				SecurityGroupId: nr.groups[g.Role].ID(),
				Protocol:        pulumi.String(rule.Protocol),
				FromPort:        pulumi.Int(rule.Port),
				ToPort:          pulumi.Int(rule.Port),
				Description:     pulumi.String(rule.Description),
			}
			if rule.Peer.SecurityGroup != "" {
				peer, err := nr.group(rule.Peer.SecurityGroup)
				if err != nil {
					return nil, err
				}
				args.SourceSecurityGroupId = peer.ID()
			} else {
				args.CidrBlocks = pulumi.StringArray{pulumi.String(rule.Peer.CIDR)}
			}
			sgr, err := ec2.NewSecurityGroupRule(r.ctx, logicalName(g.Name, "ingress", fmt.Sprint(i)), args)
			if err != nil {
				return nil, err
			}
			created = append(created, sgr)
		}
	}
	return created, nil
}

func (r *run) translateBastion(n *plan.Node, b *network.Bastion) error {
	nr, err := r.networkOf(n)
	if err != nil {
		return err
	}
	subnets := nr.subnets[b.Tier]
	if len(subnets) == 0 {
		return fmt.Errorf("bastion tier %s has no subnets", b.Tier)
	}
	sg, err := nr.group(b.SecurityGroup)
	if err != nil {
		return err
	}
	if b.AMIParameter == "" {
		return fmt.Errorf("bastion %s has no AMI parameter", b.Name)
	}
	ami, err := ssm.LookupParameter(r.ctx, &ssm.LookupParameterArgs{Name: b.AMIParameter})
	if err != nil {
		return fmt.Errorf("failed to resolve bastion AMI: %w", err)
	}

	var created []pulumi.Resource
	for _, ep := range b.Endpoints {
		epGroup, err := nr.group(ep.SecurityGroup)
		if err != nil {
			return err
		}
		vpce, err := ec2.NewVpcEndpoint(r.ctx, logicalName(b.Name, ep.Service, "endpoint"), &ec2.VpcEndpointArgs{
			VpcId:             nr.vpc.ID(),
			ServiceName:       pulumi.String(ep.ServiceName),
			VpcEndpointType:   pulumi.String("Interface"),
			SubnetIds:         nr.subnetIDs(ep.Tier),
			SecurityGroupIds:  pulumi.StringArray{epGroup.ID()},
			PrivateDnsEnabled: pulumi.Bool(ep.PrivateDNSEnabled),
			Tags:              r.tagged(b.Name + "-" + ep.Service),
		})
		if err != nil {
			return err
		}
		created = append(created, vpce)
	}

	instanceRole, err := newRole(r.ctx, logicalName(b.Name, "role"), roleSpec{
		name:            b.Name + "-role",
		trustedService:  "ec2.amazonaws.com",
		managedPolicies: b.ManagedPolicies,
		tags:            r.tagged(b.Name),
	})
	if err != nil {
		return err
	}
	created = append(created, instanceRole.resources...)
	profile, err := iam.NewInstanceProfile(r.ctx, logicalName(b.Name, "profile"), &iam.InstanceProfileArgs{
		Role: instanceRole.role.Name,
	})
	if err != nil {
		return err
	}

	publicKey := pulumi.String(b.PublicKey).ToStringOutput()
	var key *tls.PrivateKey
	if b.GenerateKey {
		key, err = tls.NewPrivateKey(r.ctx, logicalName(b.Name, "key"), &tls.PrivateKeyArgs{
			Algorithm: pulumi.String("ED25519"),
		})
		if err != nil {
			return err
		}
		publicKey = key.PublicKeyOpenssh
	}
	keyPair, err := ec2.NewKeyPair(r.ctx, logicalName(b.KeyName), &ec2.KeyPairArgs{
		KeyName:   pulumi.String(b.KeyName),
		PublicKey: publicKey,
		Tags:      r.tagged(b.KeyName),
	})
	if err != nil {
		return err
	}
	if key != nil {
		param, err := ssm.NewParameter(r.ctx, logicalName(b.KeyName, "private-key"), &ssm.ParameterArgs{
			Name: keyPair.KeyPairId.ApplyT(func(id string) string {
				return network.KeyPairParameterPrefix + id
			}).(pulumi.StringOutput),
			Type:  pulumi.String("SecureString"),
			Value: pulumi.ToSecret(key.PrivateKeyOpenssh).(pulumi.StringOutput),
			Tags:  r.tagged(b.KeyName),
		})
		if err != nil {
			return err
		}
		created = append(created, key, param)
	}

	instance, err := ec2.NewInstance(r.ctx, logicalName(b.Name), &ec2.InstanceArgs{
		Ami:                 pulumi.String(ami.Value),
		InstanceType:        pulumi.String(b.InstanceType),
		SubnetId:            subnets[0].ID(),
		VpcSecurityGroupIds: pulumi.StringArray{sg.ID()},
		IamInstanceProfile:  profile.Name,
		KeyName:             keyPair.KeyName,
		Tags:                r.tagged(b.Name),
	})
	if err != nil {
		return err
	}
	created = append(created, profile, keyPair, instance)

	r.record(n.ID, map[string]pulumi.StringOutput{
		network.AttrInstanceID: instance.ID().ToStringOutput(),
		network.AttrKeyPairID:  keyPair.KeyPairId,
		network.AttrPrivateIP:  instance.PrivateIp,
	}, created...)
	return nil
}
