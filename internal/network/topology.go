package network

import (
	"fmt"
	"net"
	"strings"

	"github.com/apparentlymart/go-cidr/cidr"
)

// Default security group names.
const (
	DefaultComputeGroupName  = "apprunner-sg"
	DefaultDatabaseGroupName = "database-sg"
	DefaultBastionGroupName  = "bastion-sg"
	DefaultEndpointGroupName = "ssm-endpoint-sg"
)

// AWS accepts VPC blocks between /16 and /28 and subnets no smaller than /28.
const (
	minVPCPrefix   = 16
	maxSubnetMask  = 28
	egressNATCount = 1
)

// Options are the inputs of New.
type Options struct {
	Name string
	CIDR string
	// AZCount is how many availability zones to span.
	AZCount int
	// AvailabilityZones optionally pins zone names; when empty the names are
	// resolved at deploy time and subnets carry only their zone index.
	AvailabilityZones []string
	Tiers             []Tier
	DatabasePort      int
	// Bastion adds the bastion and endpoint groups when non-nil.
	Bastion *BastionAccess
}

// BastionAccess describes the security groups the bastion needs.
type BastionAccess struct {
	IngressPorts   []int
	DatabaseAccess bool
}

// Subnet is one subnet of one tier in one availability zone.
type Subnet struct {
	Name             string   `json:"name" yaml:"name"`
	Tier             string   `json:"tier" yaml:"tier"`
	Kind             TierKind `json:"kind" yaml:"kind"`
	AZIndex          int      `json:"azIndex" yaml:"azIndex"`
	AvailabilityZone string   `json:"availabilityZone,omitempty" yaml:"availabilityZone,omitempty"`
	CIDR             string   `json:"cidr" yaml:"cidr"`
	RouteTable       string   `json:"routeTable" yaml:"routeTable"`
}

// Zone is the zone name, or a placeholder when it is resolved at deploy time.
func (s Subnet) Zone() string {
	if s.AvailabilityZone != "" {
		return s.AvailabilityZone
	}
	return fmt.Sprintf("az-%d", s.AZIndex+1)
}

// Route target kinds.
const (
	RouteInternetGateway = "internet-gateway"
	RouteNATGateway      = "nat-gateway"
)

// RouteTable is a per-subnet route table. DefaultRoute is empty for
// isolated subnets.
type RouteTable struct {
	Name         string `json:"name" yaml:"name"`
	DefaultRoute string `json:"defaultRoute,omitempty" yaml:"defaultRoute,omitempty"`
}

// NATGateway is the shared egress path for private-egress tiers.
type NATGateway struct {
	Name   string `json:"name" yaml:"name"`
	Subnet string `json:"subnet" yaml:"subnet"`
}

// Topology is the evaluated network: address layout, routing and security
// groups.
type Topology struct {
	Name              string           `json:"name" yaml:"name"`
	CIDR              string           `json:"cidr" yaml:"cidr"`
	AZCount           int              `json:"azCount" yaml:"azCount"`
	AvailabilityZones []string         `json:"availabilityZones,omitempty" yaml:"availabilityZones,omitempty"`
	Tiers             []Tier           `json:"tiers" yaml:"tiers"`
	Subnets           []Subnet         `json:"subnets" yaml:"subnets"`
	RouteTables       []RouteTable     `json:"routeTables" yaml:"routeTables"`
	InternetGateway   bool             `json:"internetGateway" yaml:"internetGateway"`
	NATGateways       []NATGateway     `json:"natGateways,omitempty" yaml:"natGateways,omitempty"`
	SecurityGroups    []*SecurityGroup `json:"securityGroups" yaml:"securityGroups"`
}

// New evaluates the topology. Subnets are carved from the VPC block in tier
// order then zone order, each aligned to its own mask.
func New(opts Options) (*Topology, error) {
	if opts.Name == "" {
		return nil, &ConfigError{Field: "name", Reason: "must not be empty"}
	}
	_, base, err := net.ParseCIDR(opts.CIDR)
	if err != nil {
		return nil, &ConfigError{Field: "cidr", Reason: err.Error()}
	}
	if base.IP.To4() == nil {
		return nil, &ConfigError{Field: "cidr", Reason: "only IPv4 VPC blocks are supported"}
	}
	basePrefix, _ := base.Mask.Size()
	if basePrefix < minVPCPrefix || basePrefix > maxSubnetMask {
		return nil, &ConfigError{Field: "cidr", Reason: fmt.Sprintf("/%d is outside /%d-/%d", basePrefix, minVPCPrefix, maxSubnetMask)}
	}
	if opts.AZCount < 1 {
		return nil, &ConfigError{Field: "azCount", Reason: fmt.Sprintf("must be at least 1 (got %d)", opts.AZCount)}
	}
	if n := len(opts.AvailabilityZones); n > 0 && n < opts.AZCount {
		return nil, &ConfigError{Field: "availabilityZones", Reason: fmt.Sprintf("%d zones listed for %d requested", n, opts.AZCount)}
	}
	if len(opts.Tiers) == 0 {
		return nil, &ConfigError{Field: "tiers", Reason: "at least one tier is required"}
	}

	t := &Topology{
		Name:    opts.Name,
		CIDR:    base.String(),
		AZCount: opts.AZCount,
		Tiers:   opts.Tiers,
	}
	if len(opts.AvailabilityZones) > 0 {
		t.AvailabilityZones = append([]string(nil), opts.AvailabilityZones[:opts.AZCount]...)
	}

	if err := t.carve(base, basePrefix); err != nil {
		return nil, err
	}
	if err := t.route(); err != nil {
		return nil, err
	}
	if err := t.secure(opts); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topology) carve(base *net.IPNet, basePrefix int) error {
	var prev *net.IPNet
	for _, tier := range t.Tiers {
		if tier.Mask < basePrefix || tier.Mask > maxSubnetMask {
			return &ConfigError{Field: "tier", Reason: fmt.Sprintf("tier %s mask /%d must be within /%d-/%d", tier.Name, tier.Mask, basePrefix, maxSubnetMask)}
		}
		for az := 0; az < t.AZCount; az++ {
			next, err := nextSubnet(base, basePrefix, prev, tier.Mask)
			if err != nil {
				return &ConfigError{Field: "tier", Reason: fmt.Sprintf("tier %s: %s does not fit %d subnets per tier across %d tiers", tier.Name, t.CIDR, t.AZCount, len(t.Tiers))}
			}
			prev = next
			name := fmt.Sprintf("%s-%s-%d", t.Name, tier.Name, az+1)
			s := Subnet{
				Name:       name,
				Tier:       tier.Name,
				Kind:       tier.Kind,
				AZIndex:    az,
				CIDR:       next.String(),
				RouteTable: name + "-rt",
			}
			if len(t.AvailabilityZones) > 0 {
				s.AvailabilityZone = t.AvailabilityZones[az]
			}
			t.Subnets = append(t.Subnets, s)
		}
	}
	return nil
}

func nextSubnet(base *net.IPNet, basePrefix int, prev *net.IPNet, mask int) (*net.IPNet, error) {
	var next *net.IPNet
	if prev == nil {
		n, err := cidr.Subnet(base, mask-basePrefix, 0)
		if err != nil {
			return nil, err
		}
		next = n
	} else {
		n, rollover := cidr.NextSubnet(prev, mask)
		if rollover {
			return nil, fmt.Errorf("address space exhausted")
		}
		next = n
	}
	first, last := cidr.AddressRange(next)
	if !base.Contains(first) || !base.Contains(last) {
		return nil, fmt.Errorf("address space exhausted")
	}
	return next, nil
}

func (t *Topology) route() error {
	var hasEgress bool
	for _, tier := range t.Tiers {
		if tier.Kind == TierPrivateEgress {
			hasEgress = true
		}
	}
	publics := t.SubnetsOfKind(TierPublic)
	if hasEgress && len(publics) == 0 {
		return &ConfigError{Field: "tiers", Reason: "a private-egress tier needs a public tier to host the NAT gateway"}
	}
	t.InternetGateway = len(publics) > 0
	if hasEgress {
		for i := 0; i < egressNATCount; i++ {
			t.NATGateways = append(t.NATGateways, NATGateway{
				Name:   fmt.Sprintf("%s-nat-%d", t.Name, i+1),
				Subnet: publics[i].Name,
			})
		}
	}
	for _, s := range t.Subnets {
		rt := RouteTable{Name: s.RouteTable}
		switch s.Kind {
		case TierPublic:
			rt.DefaultRoute = RouteInternetGateway
		case TierPrivateEgress:
			rt.DefaultRoute = RouteNATGateway
		}
		t.RouteTables = append(t.RouteTables, rt)
	}
	return nil
}

func (t *Topology) secure(opts Options) error {
	compute := &SecurityGroup{
		Role:             RoleCompute,
		Name:             DefaultComputeGroupName,
		Description:      "Security group for the App Runner VPC connector",
		AllowAllOutbound: true,
	}
	database := &SecurityGroup{
		Role:             RoleDatabase,
		Name:             DefaultDatabaseGroupName,
		Description:      "Security group for the Aurora cluster",
		AllowAllOutbound: true,
	}
	if err := database.AllowFrom(FromGroup(RoleCompute), opts.DatabasePort, "Allow App Runner access to the database"); err != nil {
		return err
	}
	t.SecurityGroups = []*SecurityGroup{compute, database}

	if opts.Bastion == nil {
		return nil
	}
	bastion := &SecurityGroup{
		Role:             RoleBastion,
		Name:             DefaultBastionGroupName,
		Description:      "Security group for the bastion host",
		AllowAllOutbound: true,
	}
	for _, port := range opts.Bastion.IngressPorts {
		if err := bastion.AllowFrom(FromCIDR(AnyIPv4), port, portDescription(port)); err != nil {
			return err
		}
	}
	endpoint := &SecurityGroup{
		Role:             RoleEndpoint,
		Name:             DefaultEndpointGroupName,
		Description:      "Security group for the Systems Manager interface endpoints",
		AllowAllOutbound: true,
	}
	if err := endpoint.AllowFrom(FromGroup(RoleBastion), 443, "Allow the bastion to reach Systems Manager"); err != nil {
		return err
	}
	if opts.Bastion.DatabaseAccess {
		if err := database.AllowFrom(FromGroup(RoleBastion), opts.DatabasePort, "Allow bastion access to the database"); err != nil {
			return err
		}
	}
	t.SecurityGroups = append(t.SecurityGroups, bastion, endpoint)
	return nil
}

func portDescription(port int) string {
	switch port {
	case 22:
		return "Allow SSH Access"
	case 80:
		return "Allow HTTP Access"
	case 443:
		return "Allow HTTPS Access"
	}
	return fmt.Sprintf("Allow TCP %d", port)
}

// SubnetsForTier returns the subnets of the named tier in zone order.
func (t *Topology) SubnetsForTier(name string) []Subnet {
	var out []Subnet
	for _, s := range t.Subnets {
		if s.Tier == name {
			out = append(out, s)
		}
	}
	return out
}

// SubnetsOfKind returns every subnet of the given kind.
func (t *Topology) SubnetsOfKind(kind TierKind) []Subnet {
	var out []Subnet
	for _, s := range t.Subnets {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Tier looks up a tier by name.
func (t *Topology) Tier(name string) (Tier, bool) {
	for _, tier := range t.Tiers {
		if tier.Name == name {
			return tier, true
		}
	}
	return Tier{}, false
}

// SecurityGroup looks up a group by role.
func (t *Topology) SecurityGroup(role string) (*SecurityGroup, bool) {
	for _, sg := range t.SecurityGroups {
		if sg.Role == role {
			return sg, true
		}
	}
	return nil, false
}

// RequireTier returns the named tier, or a ConfigError naming who asked for it.
func (t *Topology) RequireTier(name, usedBy string) (Tier, error) {
	tier, ok := t.Tier(name)
	if !ok {
		names := make([]string, 0, len(t.Tiers))
		for _, tt := range t.Tiers {
			names = append(names, tt.Name)
		}
		return Tier{}, &ConfigError{Field: "tier", Reason: fmt.Sprintf("%s references unknown tier %q (have %s)", usedBy, name, strings.Join(names, ", "))}
	}
	return tier, nil
}
