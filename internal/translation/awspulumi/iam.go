package awspulumi

import (
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/sampleapp-dev/sampleinfra/internal/compute"
)

// servicePolicies live under the service-role path.
var servicePolicies = map[string]bool{
	compute.ECRAccessPolicy: true,
}

func managedPolicyARN(name string) string {
	if servicePolicies[name] {
		return "arn:aws:iam::aws:policy/service-role/" + name
	}
	return "arn:aws:iam::aws:policy/" + name
}

type roleSpec struct {
	name            string
	trustedService  string
	managedPolicies []string
	inline          []compute.Policy
	tags            pulumi.StringMap
}

type roleResources struct {
	role      *iam.Role
	resources []pulumi.Resource
}

func newRole(ctx *pulumi.Context, logical string, spec roleSpec) (*roleResources, error) {
	trust, err := compute.Role{TrustedService: spec.trustedService}.AssumeRolePolicy()
	if err != nil {
		return nil, err
	}
	role, err := iam.NewRole(ctx, logical, &iam.RoleArgs{
		Name:             pulumi.String(spec.name),
		AssumeRolePolicy: pulumi.String(trust),
		Tags:             spec.tags,
	})
	if err != nil {
		return nil, err
	}
	out := &roleResources{role: role, resources: []pulumi.Resource{role}}

	for _, policy := range spec.managedPolicies {
		att, err := iam.NewRolePolicyAttachment(ctx, logicalName(logical, policy), &iam.RolePolicyAttachmentArgs{
			Role:      role.Name,
			PolicyArn: pulumi.String(managedPolicyARN(policy)),
		})
		if err != nil {
			return nil, err
		}
		out.resources = append(out.resources, att)
	}
	for _, policy := range spec.inline {
		doc, err := policy.Document()
		if err != nil {
			return nil, err
		}
		rp, err := iam.NewRolePolicy(ctx, logicalName(logical, policy.Name), &iam.RolePolicyArgs{
			Name:   pulumi.String(policy.Name),
			Role:   role.ID(),
			Policy: pulumi.String(doc),
		})
		if err != nil {
			return nil, err
		}
		out.resources = append(out.resources, rp)
	}
	return out, nil
}

func roleSpecFor(r compute.Role, tags pulumi.StringMap) roleSpec {
	return roleSpec{
		name:            r.Name,
		trustedService:  r.TrustedService,
		managedPolicies: r.ManagedPolicies,
		inline:          r.InlinePolicies,
		tags:            tags,
	}
}
