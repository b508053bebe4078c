// Package awspulumi turns an evaluated plan into pulumi-aws resources. Plan
// references become Pulumi outputs and explicit plan edges become
// pulumi.DependsOn options, so Pulumi's engine provisions the stack in the
// order the plan was verified for.
package awspulumi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/sampleapp-dev/sampleinfra/internal/compute"
	"github.com/sampleapp-dev/sampleinfra/internal/credentials"
	"github.com/sampleapp-dev/sampleinfra/internal/database"
	"github.com/sampleapp-dev/sampleinfra/internal/network"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
	"github.com/stoewer/go-strcase"
)

// ErrUnknownAttribute is returned when a reference names an attribute the
// referenced node never produced.
var ErrUnknownAttribute = errors.New("unknown attribute")

// Stack is the result of a translation.
type Stack struct {
	// Outputs holds one Pulumi output per plan output.
	Outputs map[string]pulumi.StringOutput
	// Resources lists the resources created for each plan node.
	Resources map[plan.ID][]pulumi.Resource
}

// Translator creates the Pulumi resources of a plan.
type Translator interface {
	Translate(ctx *pulumi.Context, p *plan.Plan) (*Stack, error)
}

// Option configures the translator.
type Option func(*awsTranslator)

// WithTags adds tags to every taggable resource.
func WithTags(tags map[string]string) Option {
	return func(t *awsTranslator) {
		for k, v := range tags {
			t.tags[k] = v
		}
	}
}

type awsTranslator struct {
	tags map[string]string
}

// NewTranslator returns a Translator for AWS.
func NewTranslator(opts ...Option) Translator {
	t := &awsTranslator{tags: map[string]string{"ManagedBy": "sampleinfra"}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// run is the state of one translation.
type run struct {
	ctx       *pulumi.Context
	plan      *plan.Plan
	tags      pulumi.StringMap
	attrs     map[plan.ID]map[string]pulumi.StringOutput
	resources map[plan.ID][]pulumi.Resource
	networks  map[plan.ID]*networkResources
}

func (t *awsTranslator) Translate(ctx *pulumi.Context, p *plan.Plan) (*Stack, error) {
	if err := p.Environment.Validate(); err != nil {
		return nil, err
	}
	order, err := p.Graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	tags := pulumi.StringMap{"Project": pulumi.String(p.Name)}
	for k, v := range t.tags {
		tags[k] = pulumi.String(v)
	}
	r := &run{
		ctx:       ctx,
		plan:      p,
		tags:      tags,
		attrs:     make(map[plan.ID]map[string]pulumi.StringOutput),
		resources: make(map[plan.ID][]pulumi.Resource),
		networks:  make(map[plan.ID]*networkResources),
	}

	for _, n := range order {
		if err := r.translateNode(n); err != nil {
			return nil, fmt.Errorf("failed to translate %s: %w", n.ID, err)
		}
	}

	stack := &Stack{
		Outputs:   make(map[string]pulumi.StringOutput, len(p.Outputs)),
		Resources: r.resources,
	}
	for _, out := range p.Outputs {
		o, err := r.output(out)
		if err != nil {
			return nil, fmt.Errorf("failed to translate output %s: %w", out.Name, err)
		}
		stack.Outputs[out.Name] = o
	}
	return stack, nil
}

func (r *run) translateNode(n *plan.Node) error {
	var err error
	switch spec := n.Spec.(type) {
	case *network.Topology:
		err = r.translateNetwork(n, spec)
	case *network.Bastion:
		err = r.translateBastion(n, spec)
	case *credentials.Credential:
		err = r.translateCredential(n, spec)
	case *database.Cluster:
		err = r.translateCluster(n, spec)
	case *credentials.ConnectionSecret:
		err = r.translateConnectionSecret(n, spec)
	case *compute.Service:
		err = r.translateService(n, spec)
	default:
		err = fmt.Errorf("no translation for %s (%T)", n.Kind, n.Spec)
	}
	return err
}

// dependsOn returns the resources of every node n depends on, whether by
// reference or by an explicit edge.
func (r *run) dependsOn(n *plan.Node) pulumi.ResourceOption {
	var deps []pulumi.Resource
	for _, id := range n.Dependencies() {
		deps = append(deps, r.resources[id]...)
	}
	return pulumi.DependsOn(deps)
}

func (r *run) ref(ref plan.Ref) (pulumi.StringOutput, error) {
	attrs, ok := r.attrs[ref.Node]
	if !ok {
		return pulumi.StringOutput{}, fmt.Errorf("%w: %s", plan.ErrUnresolved, ref)
	}
	o, ok := attrs[ref.Attr]
	if !ok {
		return pulumi.StringOutput{}, fmt.Errorf("%w: %s", ErrUnknownAttribute, ref)
	}
	return o, nil
}

func (r *run) output(out plan.Output) (pulumi.StringOutput, error) {
	inputs := make([]interface{}, 0, len(out.Refs))
	for _, ref := range out.Refs {
		o, err := r.ref(ref)
		if err != nil {
			return pulumi.StringOutput{}, err
		}
		inputs = append(inputs, o)
	}
	format := out.Format
	return pulumi.All(inputs...).ApplyT(func(args []interface{}) string {
		return fmt.Sprintf(format, args...)
	}).(pulumi.StringOutput), nil
}

func (r *run) record(id plan.ID, attrs map[string]pulumi.StringOutput, res ...pulumi.Resource) {
	r.attrs[id] = attrs
	r.resources[id] = append(r.resources[id], res...)
}

func (r *run) tagged(name string) pulumi.StringMap {
	tags := pulumi.StringMap{"Name": pulumi.String(name)}
	for k, v := range r.tags {
		tags[k] = v
	}
	return tags
}

// logicalName builds a stable Pulumi resource name from its parts.
func logicalName(parts ...string) string {
	for i, p := range parts {
		parts[i] = strcase.KebabCase(p)
	}
	return strings.Join(parts, "-")
}
