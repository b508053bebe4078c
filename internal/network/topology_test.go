package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/sampleapp-dev/sampleinfra/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func defaultTiers(t *testing.T) []Tier {
	t.Helper()
	tiers, err := ParseTiers([]string{"public:public:24", "app:private-egress:24", "db:isolated:24"})
	require.NoError(t, err)
	return tiers
}

func defaultOptions(t *testing.T) Options {
	return Options{
		Name:         "sampleapp-vpc",
		CIDR:         "10.0.0.0/16",
		AZCount:      2,
		Tiers:        defaultTiers(t),
		DatabasePort: 5432,
	}
}

func TestNew_DefaultLayout(t *testing.T) {
	topo, err := New(defaultOptions(t))
	require.NoError(t, err)

	var cidrs []string
	for _, s := range topo.Subnets {
		cidrs = append(cidrs, s.CIDR)
	}
	assert.Equal(t, []string{
		"10.0.0.0/24", "10.0.1.0/24",
		"10.0.2.0/24", "10.0.3.0/24",
		"10.0.4.0/24", "10.0.5.0/24",
	}, cidrs)

	assert.True(t, topo.InternetGateway)
	require.Len(t, topo.NATGateways, 1)
	assert.Equal(t, "sampleapp-vpc-public-1", topo.NATGateways[0].Subnet)

	routes := map[string]string{}
	for _, rt := range topo.RouteTables {
		routes[rt.Name] = rt.DefaultRoute
	}
	assert.Equal(t, RouteInternetGateway, routes["sampleapp-vpc-public-2-rt"])
	assert.Equal(t, RouteNATGateway, routes["sampleapp-vpc-app-1-rt"])
	assert.Empty(t, routes["sampleapp-vpc-db-2-rt"])

	assert.Equal(t, "az-2", topo.SubnetsForTier("db")[1].Zone())
}

func TestNew_OneSubnetPerTierPerZone(t *testing.T) {
	tests := []struct {
		name     string
		cidr     string
		azs      int
		tiers    []string
		wantNATs int
	}{
		{"three tiers two zones", "10.0.0.0/16", 2, []string{"public:public:24", "app:private-egress:24", "db:isolated:24"}, 1},
		{"three zones", "10.1.0.0/16", 3, []string{"public:public:24", "app:private-egress:22", "db:isolated:26"}, 1},
		{"isolated only", "10.2.0.0/20", 2, []string{"db:isolated:24"}, 0},
		{"public and isolated", "172.16.0.0/16", 1, []string{"web:public:28", "db:isolated:28"}, 0},
		{"two egress tiers share one nat", "10.3.0.0/16", 2, []string{"public:public:24", "a:private-egress:24", "b:private-egress:24"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiers, err := ParseTiers(tt.tiers)
			require.NoError(t, err)
			topo, err := New(Options{Name: "vpc", CIDR: tt.cidr, AZCount: tt.azs, Tiers: tiers, DatabasePort: 5432})
			require.NoError(t, err)

			assert.Len(t, topo.Subnets, len(tiers)*tt.azs)
			for _, tier := range tiers {
				zones := map[int]bool{}
				for _, s := range topo.SubnetsForTier(tier.Name) {
					zones[s.AZIndex] = true
				}
				assert.Len(t, zones, tt.azs, "tier %s", tier.Name)
			}
			assert.Len(t, topo.NATGateways, tt.wantNATs)
			assertNoOverlap(t, topo)
		})
	}
}

func assertNoOverlap(t *testing.T, topo *Topology) {
	t.Helper()
	seen := map[string]bool{}
	for _, s := range topo.Subnets {
		assert.False(t, seen[s.CIDR], "duplicate subnet %s", s.CIDR)
		seen[s.CIDR] = true
	}
}

func TestNew_MixedMasksStayAligned(t *testing.T) {
	tiers, err := ParseTiers([]string{"small:isolated:26", "big:isolated:24", "tail:isolated:26"})
	require.NoError(t, err)
	topo, err := New(Options{Name: "vpc", CIDR: "10.0.0.0/16", AZCount: 1, Tiers: tiers, DatabasePort: 5432})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.0/26", topo.Subnets[0].CIDR)
	assert.Equal(t, "10.0.1.0/24", topo.Subnets[1].CIDR)
	assert.Equal(t, "10.0.2.0/26", topo.Subnets[2].CIDR)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		cidr  string
		azs   int
		tiers []string
		want  string
	}{
		{"range too small", "10.0.0.0/24", 2, []string{"public:public:24", "app:private-egress:24", "db:isolated:24"}, "does not fit"},
		{"mask shorter than range", "10.0.0.0/16", 2, []string{"db:isolated:12"}, "must be within"},
		{"mask too small for aws", "10.0.0.0/16", 2, []string{"db:isolated:29"}, "must be within"},
		{"egress without public", "10.0.0.0/16", 2, []string{"app:private-egress:24"}, "needs a public tier"},
		{"malformed cidr", "10.0.0/16", 2, []string{"db:isolated:24"}, "cidr"},
		{"vpc too large", "10.0.0.0/8", 2, []string{"db:isolated:24"}, "outside"},
		{"no zones", "10.0.0.0/16", 0, []string{"db:isolated:24"}, "azCount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiers, err := ParseTiers(tt.tiers)
			require.NoError(t, err)
			_, err = New(Options{Name: "vpc", CIDR: tt.cidr, AZCount: tt.azs, Tiers: tiers, DatabasePort: 5432})
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %T", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseTiers(t *testing.T) {
	_, err := ParseTiers([]string{"db:isolated:24", "db:public:24"})
	require.ErrorContains(t, err, "duplicate tier")

	_, err = ParseTiers([]string{"db:dmz:24"})
	require.ErrorContains(t, err, "unknown kind")

	_, err = ParseTiers([]string{"db:isolated"})
	require.ErrorContains(t, err, "name:kind:mask")

	tiers, err := ParseTiers([]string{" web:public:25 "})
	require.NoError(t, err)
	assert.Equal(t, []Tier{{Name: "web", Kind: TierPublic, Mask: 25}}, tiers)
}

func TestSecurityGroups_DatabaseOnlyAcceptsCompute(t *testing.T) {
	for _, withBastion := range []bool{false, true} {
		opts := defaultOptions(t)
		if withBastion {
			opts.Bastion = &BastionAccess{IngressPorts: []int{22, 80}}
		}
		topo, err := New(opts)
		require.NoError(t, err)

		db, ok := topo.SecurityGroup(RoleDatabase)
		require.True(t, ok)
		require.Len(t, db.Ingress, 1)
		assert.Equal(t, Rule{
			Protocol:    "tcp",
			Port:        5432,
			Peer:        FromGroup(RoleCompute),
			Description: "Allow App Runner access to the database",
		}, db.Ingress[0])

		compute, ok := topo.SecurityGroup(RoleCompute)
		require.True(t, ok)
		assert.Empty(t, compute.Ingress)
		assert.True(t, compute.AllowAllOutbound)
	}
}

func TestSecurityGroups_BastionAccessPath(t *testing.T) {
	opts := defaultOptions(t)
	opts.Bastion = &BastionAccess{IngressPorts: []int{22, 80}, DatabaseAccess: true}
	topo, err := New(opts)
	require.NoError(t, err)

	bastion, ok := topo.SecurityGroup(RoleBastion)
	require.True(t, ok)
	require.Len(t, bastion.Ingress, 2)
	for _, r := range bastion.Ingress {
		assert.Equal(t, FromCIDR(AnyIPv4), r.Peer)
	}
	assert.True(t, bastion.AllowsFrom(FromCIDR(AnyIPv4), 22))
	assert.True(t, bastion.AllowsFrom(FromCIDR(AnyIPv4), 80))
	assert.False(t, bastion.AllowsFrom(FromCIDR(AnyIPv4), 443))

	endpoint, ok := topo.SecurityGroup(RoleEndpoint)
	require.True(t, ok)
	require.Len(t, endpoint.Ingress, 1)
	assert.True(t, endpoint.AllowsFrom(FromGroup(RoleBastion), 443))

	db, _ := topo.SecurityGroup(RoleDatabase)
	assert.True(t, db.AllowsFrom(FromGroup(RoleBastion), 5432))
}

func TestAllowFrom_RejectsWiderRules(t *testing.T) {
	sg := &SecurityGroup{Role: RoleDatabase}

	require.Error(t, sg.AllowFrom(FromGroup(RoleCompute), 0, ""))
	require.Error(t, sg.AllowFrom(Peer{SecurityGroup: RoleCompute, CIDR: AnyIPv4}, 5432, ""))
	require.Error(t, sg.AllowFrom(Peer{}, 5432, ""))
	require.Error(t, sg.AllowFrom(FromCIDR("not-a-cidr"), 5432, ""))
	require.Error(t, sg.AllowFrom(FromGroup(RoleDatabase), 5432, ""))

	require.NoError(t, sg.AllowFrom(FromGroup(RoleCompute), 5432, ""))
	require.ErrorContains(t, sg.AllowFrom(FromGroup(RoleCompute), 5432, ""), "already exists")
	assert.Len(t, sg.Ingress, 1)
}

func testPublicKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
}

func TestNewBastion(t *testing.T) {
	opts := defaultOptions(t)
	opts.Bastion = &BastionAccess{IngressPorts: []int{22, 80}}
	topo, err := New(opts)
	require.NoError(t, err)

	b, err := NewBastion(topo, BastionOptions{InstanceType: "t3.micro", Tier: "db", KeyName: "ec2-key-pair", Region: "ap-northeast-1"})
	require.NoError(t, err)
	assert.True(t, b.GenerateKey)
	assert.Equal(t, "sampleapp-vpc-bastion", b.Name)
	assert.Equal(t, []string{SSMManagedInstancePolicy}, b.ManagedPolicies)
	require.Len(t, b.Endpoints, 3)
	assert.Equal(t, "com.amazonaws.ap-northeast-1.ssmmessages", b.Endpoints[1].ServiceName)
	for _, ep := range b.Endpoints {
		assert.Equal(t, "db", ep.Tier)
		assert.Equal(t, RoleEndpoint, ep.SecurityGroup)
	}

	key := testPublicKey(t)
	b, err = NewBastion(topo, BastionOptions{InstanceType: "t3.micro", Tier: "db", PublicKey: key, Region: "ap-northeast-1"})
	require.NoError(t, err)
	assert.False(t, b.GenerateKey)
	assert.Equal(t, key, b.PublicKey)

	_, err = NewBastion(topo, BastionOptions{InstanceType: "t3.micro", Tier: "db", PublicKey: "ssh-ed25519 garbage", Region: "ap-northeast-1"})
	require.ErrorContains(t, err, "bastion public key")

	_, err = NewBastion(topo, BastionOptions{InstanceType: "t3.micro", Tier: "mgmt", Region: "ap-northeast-1"})
	require.ErrorContains(t, err, `unknown tier "mgmt"`)
}

func TestNewBastion_RequiresBastionAccess(t *testing.T) {
	topo, err := New(defaultOptions(t))
	require.NoError(t, err)
	_, err = NewBastion(topo, BastionOptions{InstanceType: "t3.micro", Tier: "db", Region: "ap-northeast-1"})
	require.ErrorContains(t, err, "without bastion access")
}

func TestDeclare(t *testing.T) {
	opts := defaultOptions(t)
	opts.Bastion = &BastionAccess{IngressPorts: []int{22}}
	topo, err := New(opts)
	require.NoError(t, err)

	p := plan.New("test", plan.Environment{Account: "123456789012", Region: "ap-northeast-1"})
	h, err := Declare(p, topo)
	require.NoError(t, err)

	ref, err := h.SecurityGroup(RoleCompute)
	require.NoError(t, err)
	assert.Equal(t, "${network.securityGroup.compute}", ref.String())

	_, err = h.SecurityGroup("admin")
	require.Error(t, err)
	_, err = h.Subnets("dmz")
	require.Error(t, err)

	b, err := NewBastion(topo, BastionOptions{InstanceType: "t3.micro", Tier: "db", Region: "ap-northeast-1"})
	require.NoError(t, err)
	id, err := DeclareBastion(p, h, b)
	require.NoError(t, err)
	assert.True(t, p.Graph.HasEdge(id, NodeID))

	out, ok := p.Output(SSHKeyCommandOutput)
	require.True(t, ok)
	assert.Equal(t,
		"aws ssm get-parameter --name /ec2/keypair/${network/bastion.keyPairId} --region ap-northeast-1 --with-decryption --query Parameter.Value --output text",
		out.Pending())
}
