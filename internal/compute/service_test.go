package compute

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sampleapp-dev/sampleinfra/internal/credentials"
	"github.com/sampleapp-dev/sampleinfra/internal/network"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEnv = plan.Environment{Account: "123456789012", Region: "ap-northeast-1"}

func testTopology(t *testing.T) *network.Topology {
	t.Helper()
	tiers, err := network.ParseTiers([]string{"public:public:24", "app:private-egress:24", "db:isolated:24"})
	require.NoError(t, err)
	topo, err := network.New(network.Options{Name: "vpc", CIDR: "10.0.0.0/16", AZCount: 2, Tiers: tiers, DatabasePort: 5432})
	require.NoError(t, err)
	return topo
}

func testSecret() *credentials.SecretHandle {
	return &credentials.SecretHandle{
		ID:     "secret/DatabaseUrlSecret",
		Secret: &credentials.ConnectionSecret{Name: "DatabaseUrlSecret"},
	}
}

func testOptions() Options {
	return Options{
		Name:              "sampleApp",
		RepositoryName:    "sampleapp",
		ImageTag:          "latest",
		BuildContext:      "app",
		BuildTarget:       "production-build-stage",
		Port:              3000,
		CPU:               "1024",
		Memory:            "2048",
		SecretEnvVar:      "DB_SECRET_NAME",
		ConnectorName:     "sampleapp-vpc-connector",
		ConnectorTier:     "app",
		InstanceRoleName:  "SampleAppRunnerInstanceRole",
		Tracing:           true,
		ObservabilityName: "SampleAppRunnerObservConfig",
	}
}

func TestNew_Defaults(t *testing.T) {
	svc, err := New(testEnv, testTopology(t), testSecret(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"DB_SECRET_NAME": "DatabaseUrlSecret"}, svc.Environment())
	assert.Equal(t, Connector{Name: "sampleapp-vpc-connector", Tier: "app", SecurityGroup: network.RoleCompute}, svc.Connector)
	assert.Equal(t, Observability{Name: "SampleAppRunnerObservConfig", Vendor: "AWSXRAY", Enabled: true}, svc.Observability)
	assert.True(t, svc.Image.ManagedRepository())
	assert.Equal(t, RepositoryECR, svc.Image.RepositoryType)
	assert.Equal(t, &Build{Context: "app", Target: "production-build-stage", Platform: "linux/amd64"}, svc.Image.Build)
	require.NotNil(t, svc.AccessRole)
	assert.Equal(t, BuildPrincipal, svc.AccessRole.TrustedService)
}

func TestNew_InstanceRoleIsLeastPrivilege(t *testing.T) {
	svc, err := New(testEnv, testTopology(t), testSecret(), testOptions())
	require.NoError(t, err)

	role := svc.InstanceRole
	assert.Equal(t, TasksPrincipal, role.TrustedService)
	assert.Equal(t, []string{XRayWritePolicy}, role.ManagedPolicies)
	require.Len(t, role.InlinePolicies, 1)

	policy := role.InlinePolicies[0]
	require.Len(t, policy.Statements, 1)
	stmt := policy.Statements[0]
	assert.Equal(t, []string{"arn:aws:secretsmanager:ap-northeast-1:123456789012:secret:DatabaseUrlSecret-*"}, stmt.Resource)
	for _, action := range stmt.Action {
		assert.True(t, strings.HasPrefix(action, "secretsmanager:"))
		assert.NotContains(t, action, "*")
		assert.NotContains(t, action, "Put")
	}

	doc, err := policy.Document()
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	assert.Equal(t, "2012-10-17", parsed["Version"])

	trust, err := role.AssumeRolePolicy()
	require.NoError(t, err)
	assert.Contains(t, trust, TasksPrincipal)
}

func TestNew_EnvironmentNeverHoldsSecretValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"connection string", map[string]string{"DATABASE_URL": "postgresql://appuser:pw@db:5432/sampledb"}, "connection string"},
		{"credentials in url", map[string]string{"UPSTREAM": "https://user:pw@example.com"}, "connection string"},
		{"secret variable shadowed", map[string]string{"DB_SECRET_NAME": "DatabaseUrlSecret"}, "reserved for a secret name"},
		{"reserved prefix", map[string]string{"AWSAPPRUNNER_X": "1"}, "reserved"},
		{"bad name", map[string]string{"1BAD": "1"}, "not a valid variable name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.Env = tt.env
			_, err := New(testEnv, testTopology(t), testSecret(), opts)
			require.ErrorContains(t, err, tt.want)
		})
	}

	opts := testOptions()
	opts.Env = map[string]string{"NODE_ENV": "production", "DOCS_URL": "https://example.com/docs"}
	svc, err := New(testEnv, testTopology(t), testSecret(), opts)
	require.NoError(t, err)
	assert.Len(t, svc.Environment(), 3)
}

func TestNew_Images(t *testing.T) {
	tests := []struct {
		name     string
		image    string
		wantType string
		wantErr  string
	}{
		{"private ecr", "123456789012.dkr.ecr.ap-northeast-1.amazonaws.com/sampleapp:v1", RepositoryECR, ""},
		{"public ecr", "public.ecr.aws/nginx/nginx:1.27", RepositoryECRPublic, ""},
		{"docker hub", "nginx:latest", "", "not supported"},
		{"malformed", "UPPER/Case::", "", "invalid image reference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.Image = tt.image
			svc, err := New(testEnv, testTopology(t), testSecret(), opts)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, svc.Image.RepositoryType)
			assert.False(t, svc.Image.ManagedRepository())
			assert.Equal(t, tt.wantType == RepositoryECR, svc.AccessRole != nil)
		})
	}
}

func TestNew_ConnectorNeverInIsolatedTier(t *testing.T) {
	opts := testOptions()
	opts.ConnectorTier = "db"
	_, err := New(testEnv, testTopology(t), testSecret(), opts)
	require.ErrorContains(t, err, "private-egress")

	opts.ConnectorTier = "public"
	_, err = New(testEnv, testTopology(t), testSecret(), opts)
	require.ErrorContains(t, err, "private-egress")
}

func TestNew_RequiresSecretAndEnvironment(t *testing.T) {
	_, err := New(testEnv, testTopology(t), nil, testOptions())
	require.ErrorContains(t, err, "connection secret is required")

	_, err = New(plan.Environment{Region: "ap-northeast-1"}, testTopology(t), testSecret(), testOptions())
	require.ErrorContains(t, err, "account")
}

func TestDeclare(t *testing.T) {
	topo := testTopology(t)
	p := plan.New("test", testEnv)
	net, err := network.Declare(p, topo)
	require.NoError(t, err)
	secret := testSecret()
	_, err = p.Graph.Add(secret.ID, plan.KindConnectionSecret, secret.Secret)
	require.NoError(t, err)

	svc, err := New(testEnv, topo, secret, testOptions())
	require.NoError(t, err)
	h, err := Declare(p, net, secret, svc)
	require.NoError(t, err)

	assert.True(t, p.Graph.HasEdge(h.ID, secret.ID))
	assert.True(t, p.Graph.HasEdge(h.ID, network.NodeID))
	_, ok := p.Output(ServiceURLOutput)
	assert.True(t, ok)
	_, ok = p.Output(ServiceARNOutput)
	assert.True(t, ok)
}

func TestNew_ManagedRepositoryNeedsBuildContext(t *testing.T) {
	opts := testOptions()
	opts.BuildContext = ""
	_, err := New(testEnv, testTopology(t), testSecret(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no build context")

	opts.Image = "123456789012.dkr.ecr.ap-northeast-1.amazonaws.com/sampleapp:v1"
	svc, err := New(testEnv, testTopology(t), testSecret(), opts)
	require.NoError(t, err)
	assert.Nil(t, svc.Image.Build)
}
