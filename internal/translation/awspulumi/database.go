package awspulumi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/rds"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/secretsmanager"
	"github.com/pulumi/pulumi-random/sdk/v4/go/random"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/sampleapp-dev/sampleinfra/internal/credentials"
	"github.com/sampleapp-dev/sampleinfra/internal/database"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
)

// specialCharacters lists the non-alphanumeric characters a policy allows.
func specialCharacters(p credentials.PasswordPolicy) string {
	var b strings.Builder
	for _, c := range p.Effective().Alphabet() {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

func (r *run) translateCredential(n *plan.Node, c *credentials.Credential) error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	args := &random.RandomPasswordArgs{
		Length:  pulumi.Int(c.Policy.Effective().Length),
		Special: pulumi.Bool(false),
	}
	if special := specialCharacters(c.Policy); special != "" {
		args.Special = pulumi.Bool(true)
		args.OverrideSpecial = pulumi.String(special)
	}
	password, err := random.NewRandomPassword(r.ctx, logicalName(c.Name, "password"), args)
	if err != nil {
		return err
	}

	secret, err := secretsmanager.NewSecret(r.ctx, logicalName(c.Name), &secretsmanager.SecretArgs{
		Name:        pulumi.String(c.Name),
		Description: pulumi.String("Generated database credential"),
		Tags:        r.tagged(c.Name),
	})
	if err != nil {
		return err
	}
	value := password.Result.ApplyT(func(pw string) (string, error) {
		return c.SecretString(pw)
	}).(pulumi.StringOutput)
	version, err := secretsmanager.NewSecretVersion(r.ctx, logicalName(c.Name, "version"), &secretsmanager.SecretVersionArgs{
		SecretId:     secret.ID(),
		SecretString: pulumi.ToSecret(value).(pulumi.StringOutput),
	})
	if err != nil {
		return err
	}

	r.record(n.ID, map[string]pulumi.StringOutput{
		credentials.AttrName:     secret.Name,
		credentials.AttrARN:      secret.Arn,
		credentials.AttrUsername: pulumi.String(c.Template[credentials.UsernameKey]).ToStringOutput(),
		credentials.AttrPassword: pulumi.ToSecret(password.Result).(pulumi.StringOutput),
	}, password, secret, version)
	return nil
}

// credentialPassword finds the password of the credential a node references.
func (r *run) credentialPassword(n *plan.Node) (pulumi.StringOutput, error) {
	for _, id := range n.References() {
		nn, ok := r.plan.Graph.Node(id)
		if !ok || nn.Kind != plan.KindCredential {
			continue
		}
		return r.ref(plan.Ref{Node: id, Attr: credentials.AttrPassword})
	}
	return pulumi.StringOutput{}, fmt.Errorf("%w: credential for %s", plan.ErrUnresolved, n.ID)
}

func removalOptions(c *database.Cluster, args *rds.ClusterArgs) []pulumi.ResourceOption {
	snapshot := pulumi.String(c.Name + "-final-snapshot")
	switch c.RemovalPolicy {
	case database.RemovalRetain:
		args.SkipFinalSnapshot = pulumi.Bool(false)
		args.FinalSnapshotIdentifier = snapshot
		args.DeletionProtection = pulumi.Bool(true)
		return []pulumi.ResourceOption{pulumi.RetainOnDelete(true)}
	case database.RemovalSnapshot:
		args.SkipFinalSnapshot = pulumi.Bool(false)
		args.FinalSnapshotIdentifier = snapshot
		args.DeletionProtection = pulumi.Bool(false)
	default:
		args.SkipFinalSnapshot = pulumi.Bool(true)
		args.DeletionProtection = pulumi.Bool(false)
	}
	return nil
}

func (r *run) translateCluster(n *plan.Node, c *database.Cluster) error {
	nr, err := r.networkOf(n)
	if err != nil {
		return err
	}
	sg, err := nr.group(c.SecurityGroup)
	if err != nil {
		return err
	}
	password, err := r.credentialPassword(n)
	if err != nil {
		return err
	}

	subnetGroup, err := rds.NewSubnetGroup(r.ctx, logicalName(c.Name, "subnets"), &rds.SubnetGroupArgs{
		Name:        pulumi.String(strings.ToLower(c.Name + "-subnets")),
		Description: pulumi.String("Subnets of " + c.Name),
		SubnetIds:   nr.subnetIDs(c.SubnetTier),
		Tags:        r.tagged(c.Name),
	})
	if err != nil {
		return err
	}
	params, err := rds.NewClusterParameterGroup(r.ctx, logicalName(c.Name, "params"), &rds.ClusterParameterGroupArgs{
		Family:      pulumi.String(c.ParameterGroupFamily),
		Description: pulumi.String("Parameters of " + c.Name),
		Tags:        r.tagged(c.Name),
	})
	if err != nil {
		return err
	}

	args := &rds.ClusterArgs{
		ClusterIdentifier:           pulumi.String(strings.ToLower(c.Name)),
		Engine:                      pulumi.String(c.Engine),
		EngineMode:                  pulumi.String("provisioned"),
		EngineVersion:               pulumi.String(c.EngineVersion),
		DatabaseName:                pulumi.String(c.DatabaseName),
		MasterUsername:              pulumi.String(c.Username),
		MasterPassword:              password,
		Port:                        pulumi.Int(c.Port),
		DbSubnetGroupName:           subnetGroup.Name,
		DbClusterParameterGroupName: params.Name,
		VpcSecurityGroupIds:         pulumi.StringArray{sg.ID()},
		StorageEncrypted:            pulumi.Bool(true),
		Serverlessv2ScalingConfiguration: &rds.ClusterServerlessv2ScalingConfigurationArgs{
			MinCapacity: pulumi.Float64(c.Capacity.Min),
			MaxCapacity: pulumi.Float64(c.Capacity.Max),
		},
		Tags: r.tagged(c.Name),
	}
	opts := append([]pulumi.ResourceOption{r.dependsOn(n)}, removalOptions(c, args)...)
	cluster, err := rds.NewCluster(r.ctx, logicalName(c.Name), args, opts...)
	if err != nil {
		return err
	}
	created := []pulumi.Resource{subnetGroup, params, cluster}

	for i := 0; i < c.Instances; i++ {
		role := "writer"
		if i > 0 {
			role = fmt.Sprintf("reader-%d", i)
		}
		inst, err := rds.NewClusterInstance(r.ctx, logicalName(c.Name, role), &rds.ClusterInstanceArgs{
			ClusterIdentifier: cluster.ID(),
			InstanceClass:     pulumi.String(c.InstanceClass),
			Engine:            cluster.Engine,
			EngineVersion:     cluster.EngineVersion,
			Tags:              r.tagged(c.Name + "-" + role),
		})
		if err != nil {
			return err
		}
		created = append(created, inst)
	}

	r.record(n.ID, map[string]pulumi.StringOutput{
		database.AttrHost:           cluster.Endpoint,
		database.AttrReaderEndpoint: cluster.ReaderEndpoint,
		database.AttrPort:           cluster.Port.ApplyT(strconv.Itoa).(pulumi.StringOutput),
		database.AttrDBName:         cluster.DatabaseName,
		database.AttrUsername:       cluster.MasterUsername,
		database.AttrPassword:       password,
		database.AttrARN:            cluster.Arn,
	}, created...)
	return nil
}

func (r *run) translateConnectionSecret(n *plan.Node, s *credentials.ConnectionSecret) error {
	var inputs []interface{}
	for _, ref := range []plan.Ref{s.Refs.Host, s.Refs.Port, s.Refs.DBName, s.Refs.Username, s.Refs.Password} {
		o, err := r.ref(ref)
		if err != nil {
			return err
		}
		inputs = append(inputs, o)
	}
	value := pulumi.All(inputs...).ApplyT(func(args []interface{}) (string, error) {
		port, err := strconv.Atoi(args[1].(string))
		if err != nil {
			return "", fmt.Errorf("port of %s: %w", s.Source, err)
		}
		return credentials.ConnectionString(credentials.ConnectionAttributes{
			Host:     args[0].(string),
			Port:     port,
			DBName:   args[2].(string),
			Username: args[3].(string),
			Password: args[4].(string),
		})
	}).(pulumi.StringOutput)

	secret, err := secretsmanager.NewSecret(r.ctx, logicalName(s.Name), &secretsmanager.SecretArgs{
		Name:        pulumi.String(s.Name),
		Description: pulumi.String(s.Description),
		Tags:        r.tagged(s.Name),
	})
	if err != nil {
		return err
	}
	version, err := secretsmanager.NewSecretVersion(r.ctx, logicalName(s.Name, "version"), &secretsmanager.SecretVersionArgs{
		SecretId:     secret.ID(),
		SecretString: pulumi.ToSecret(value).(pulumi.StringOutput),
	}, r.dependsOn(n))
	if err != nil {
		return err
	}

	r.record(n.ID, map[string]pulumi.StringOutput{
		credentials.AttrName: secret.Name,
		credentials.AttrARN:  secret.Arn,
	}, secret, version)
	return nil
}
