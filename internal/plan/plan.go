package plan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolved is returned when a reference has no value yet.
var ErrUnresolved = errors.New("attribute is not resolved")

// Environment is the target account and region. It is passed explicitly to
// every component instead of being read from ambient state.
type Environment struct {
	Account string `json:"account" yaml:"account"`
	Region  string `json:"region" yaml:"region"`
}

// Validate checks that both fields are present.
func (e Environment) Validate() error {
	if e.Region == "" {
		return fmt.Errorf("environment region must be set")
	}
	if e.Account == "" {
		return fmt.Errorf("environment account must be set")
	}
	return nil
}

// Ref points at an attribute another node will only know once it has been
// provisioned, e.g. Ref{Node: "database/cluster", Attr: "host"}.
type Ref struct {
	Node ID     `json:"node" yaml:"node"`
	Attr string `json:"attr" yaml:"attr"`
}

func (r Ref) String() string {
	return fmt.Sprintf("${%s.%s}", r.Node, r.Attr)
}

// Attributes are the values a provisioned node reports back.
type Attributes map[string]string

// Resolver looks up the attributes of provisioned nodes.
type Resolver interface {
	Attributes(id ID) (Attributes, bool)
}

// Resolve returns the value behind a reference or ErrUnresolved.
func Resolve(r Resolver, ref Ref) (string, error) {
	attrs, ok := r.Attributes(ref.Node)
	if !ok {
		return "", fmt.Errorf("%w: %s (node not provisioned)", ErrUnresolved, ref)
	}
	v, ok := attrs[ref.Attr]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrUnresolved, ref)
	}
	return v, nil
}

// Output is a named plan output assembled from node attributes. Format uses
// one %s verb per entry in Refs.
type Output struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Format      string `json:"format" yaml:"format"`
	Refs        []Ref  `json:"refs" yaml:"refs"`
}

// Pending renders the output with unresolved placeholders.
func (o Output) Pending() string {
	args := make([]any, len(o.Refs))
	for i, ref := range o.Refs {
		args[i] = ref.String()
	}
	return fmt.Sprintf(o.Format, args...)
}

// Resolve renders the output from provisioned attributes.
func (o Output) Resolve(r Resolver) (string, error) {
	args := make([]any, len(o.Refs))
	for i, ref := range o.Refs {
		v, err := Resolve(r, ref)
		if err != nil {
			return "", fmt.Errorf("output %s: %w", o.Name, err)
		}
		args[i] = v
	}
	return fmt.Sprintf(o.Format, args...), nil
}

// Plan is the evaluated, not yet deployed, set of declarations.
type Plan struct {
	Name        string
	Environment Environment
	Graph       *Graph
	Outputs     []Output
}

// New returns an empty plan for the given environment.
func New(name string, env Environment) *Plan {
	return &Plan{
		Name:        name,
		Environment: env,
		Graph:       NewGraph(),
	}
}

// AddOutput registers an output. Every referenced node must be declared.
func (p *Plan) AddOutput(out Output) error {
	if out.Name == "" {
		return fmt.Errorf("output name must not be empty")
	}
	if strings.Count(out.Format, "%s") != len(out.Refs) {
		return fmt.Errorf("output %s: format expects %d values, got %d refs",
			out.Name, strings.Count(out.Format, "%s"), len(out.Refs))
	}
	for _, existing := range p.Outputs {
		if existing.Name == out.Name {
			return fmt.Errorf("duplicate output %s", out.Name)
		}
	}
	for _, ref := range out.Refs {
		if _, ok := p.Graph.Node(ref.Node); !ok {
			return fmt.Errorf("output %s: %w: %s", out.Name, ErrUnknownNode, ref.Node)
		}
	}
	p.Outputs = append(p.Outputs, out)
	return nil
}

// Output looks an output up by name.
func (p *Plan) Output(name string) (Output, bool) {
	for _, out := range p.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return Output{}, false
}
