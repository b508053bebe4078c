package awspulumi

import (
	"fmt"
	"strconv"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/apprunner"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecr"
	"github.com/pulumi/pulumi-docker/sdk/v4/go/docker"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/sampleapp-dev/sampleinfra/internal/compute"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
)

func (r *run) image(s *compute.Service) (pulumi.StringOutput, []pulumi.Resource, error) {
	if !s.Image.ManagedRepository() {
		return pulumi.String(s.Image.Reference).ToStringOutput(), nil, nil
	}
	if s.Image.Build == nil {
		return pulumi.StringOutput{}, nil, fmt.Errorf("repository %s has no image build", s.Image.Repository)
	}
	repo, err := ecr.NewRepository(r.ctx, logicalName(s.Image.Repository), &ecr.RepositoryArgs{
		Name:               pulumi.String(s.Image.Repository),
		ImageTagMutability: pulumi.String("MUTABLE"),
		ForceDelete:        pulumi.Bool(true),
		ImageScanningConfiguration: &ecr.RepositoryImageScanningConfigurationArgs{
			ScanOnPush: pulumi.Bool(true),
		},
		Tags: r.tagged(s.Image.Repository),
	})
	if err != nil {
		return pulumi.StringOutput{}, nil, err
	}

	tag := s.Image.Tag
	ref := repo.RepositoryUrl.ApplyT(func(url string) string {
		return url + ":" + tag
	}).(pulumi.StringOutput)
	token := ecr.GetAuthorizationTokenOutput(r.ctx, ecr.GetAuthorizationTokenOutputArgs{
		RegistryId: repo.RegistryId,
	})
	build := &docker.DockerBuildArgs{
		Context:  pulumi.String(s.Image.Build.Context),
		Platform: pulumi.String(s.Image.Build.Platform),
	}
	if s.Image.Build.Dockerfile != "" {
		build.Dockerfile = pulumi.String(s.Image.Build.Dockerfile)
	}
	if s.Image.Build.Target != "" {
		build.Target = pulumi.String(s.Image.Build.Target)
	}
	img, err := docker.NewImage(r.ctx, logicalName(s.Image.Repository)+"-image", &docker.ImageArgs{
		ImageName: ref,
		Build:     build,
		Registry: &docker.RegistryArgs{
			Server:   token.ProxyEndpoint(),
			Username: token.UserName(),
			Password: token.Password(),
		},
	}, pulumi.DependsOn([]pulumi.Resource{repo}))
	if err != nil {
		return pulumi.StringOutput{}, nil, err
	}
	// The digest changes with every push, so App Runner redeploys on a new build.
	return img.RepoDigest, []pulumi.Resource{repo, img}, nil
}

func (r *run) translateService(n *plan.Node, s *compute.Service) error {
	if err := s.Validate(); err != nil {
		return err
	}
	nr, err := r.networkOf(n)
	if err != nil {
		return err
	}
	sg, err := nr.group(s.Connector.SecurityGroup)
	if err != nil {
		return err
	}
	subnets := nr.subnetIDs(s.Connector.Tier)
	if len(subnets) == 0 {
		return fmt.Errorf("connector tier %s has no subnets", s.Connector.Tier)
	}

	image, created, err := r.image(s)
	if err != nil {
		return err
	}

	instanceRole, err := newRole(r.ctx, logicalName(s.InstanceRole.Name), roleSpecFor(s.InstanceRole, r.tagged(s.InstanceRole.Name)))
	if err != nil {
		return err
	}
	created = append(created, instanceRole.resources...)

	source := &apprunner.ServiceSourceConfigurationArgs{
		AutoDeploymentsEnabled: pulumi.Bool(false),
		ImageRepository: &apprunner.ServiceSourceConfigurationImageRepositoryArgs{
			ImageIdentifier:     image,
			ImageRepositoryType: pulumi.String(s.Image.RepositoryType),
			ImageConfiguration: &apprunner.ServiceSourceConfigurationImageRepositoryImageConfigurationArgs{
				Port:                        pulumi.String(strconv.Itoa(s.Port)),
				RuntimeEnvironmentVariables: pulumi.ToStringMap(s.Environment()),
			},
		},
	}
	if s.AccessRole != nil {
		accessRole, err := newRole(r.ctx, logicalName(s.AccessRole.Name), roleSpecFor(*s.AccessRole, r.tagged(s.AccessRole.Name)))
		if err != nil {
			return err
		}
		created = append(created, accessRole.resources...)
		source.AuthenticationConfiguration = &apprunner.ServiceSourceConfigurationAuthenticationConfigurationArgs{
			AccessRoleArn: accessRole.role.Arn,
		}
	}

	connector, err := apprunner.NewVpcConnector(r.ctx, logicalName(s.Connector.Name), &apprunner.VpcConnectorArgs{
		VpcConnectorName: pulumi.String(s.Connector.Name),
		Subnets:          subnets,
		SecurityGroups:   pulumi.StringArray{sg.ID()},
		Tags:             r.tagged(s.Connector.Name),
	})
	if err != nil {
		return err
	}
	created = append(created, connector)

	args := &apprunner.ServiceArgs{
		ServiceName:         pulumi.String(s.Name),
		SourceConfiguration: source,
		InstanceConfiguration: &apprunner.ServiceInstanceConfigurationArgs{
			Cpu:             pulumi.String(s.CPU),
			Memory:          pulumi.String(s.Memory),
			InstanceRoleArn: instanceRole.role.Arn,
		},
		NetworkConfiguration: &apprunner.ServiceNetworkConfigurationArgs{
			EgressConfiguration: &apprunner.ServiceNetworkConfigurationEgressConfigurationArgs{
				EgressType:      pulumi.String("VPC"),
				VpcConnectorArn: connector.Arn,
			},
		},
		Tags: r.tagged(s.Name),
	}
	if s.Observability.Enabled {
		obs, err := apprunner.NewObservabilityConfiguration(r.ctx, logicalName(s.Observability.Name), &apprunner.ObservabilityConfigurationArgs{
			ObservabilityConfigurationName: pulumi.String(s.Observability.Name),
			TraceConfiguration: &apprunner.ObservabilityConfigurationTraceConfigurationArgs{
				Vendor: pulumi.String(s.Observability.Vendor),
			},
			Tags: r.tagged(s.Observability.Name),
		})
		if err != nil {
			return err
		}
		created = append(created, obs)
		args.ObservabilityConfiguration = &apprunner.ServiceObservabilityConfigurationArgs{
			ObservabilityEnabled:          pulumi.Bool(true),
			ObservabilityConfigurationArn: obs.Arn,
		}
	}

	svc, err := apprunner.NewService(r.ctx, logicalName(s.Name), args, r.dependsOn(n))
	if err != nil {
		return err
	}
	created = append(created, svc)

	r.record(n.ID, map[string]pulumi.StringOutput{
		compute.AttrURL:       svc.ServiceUrl,
		compute.AttrARN:       svc.Arn,
		compute.AttrServiceID: svc.ServiceId,
	}, created...)
	return nil
}
