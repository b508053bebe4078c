package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sampleapp-dev/sampleinfra/pkg/printer"
	"go.yaml.in/yaml/v3"
)

// Format selects how a plan is rendered.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatYAML, FormatJSON, FormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want yaml, json or table)", s)
	}
}

// Document is the serializable view of a plan.
type Document struct {
	Name        string             `json:"name" yaml:"name"`
	Environment Environment        `json:"environment" yaml:"environment"`
	Resources   []ResourceDocument `json:"resources" yaml:"resources"`
	Outputs     []OutputDocument   `json:"outputs" yaml:"outputs"`
}

type ResourceDocument struct {
	ID         ID   `json:"id" yaml:"id"`
	Kind       Kind `json:"kind" yaml:"kind"`
	References []ID `json:"references,omitempty" yaml:"references,omitempty"`
	DependsOn  []ID `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Spec       any  `json:"spec" yaml:"spec"`
}

type OutputDocument struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Value       string `json:"value" yaml:"value"`
}

// NewDocument builds the document in topological order so the rendered plan
// reads in the order it would be deployed.
func NewDocument(p *Plan) (*Document, error) {
	order, err := p.Graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	doc := &Document{Name: p.Name, Environment: p.Environment}
	for _, n := range order {
		doc.Resources = append(doc.Resources, ResourceDocument{
			ID:         n.ID,
			Kind:       n.Kind,
			References: n.References(),
			DependsOn:  n.DependsOn(),
			Spec:       n.Spec,
		})
	}
	for _, out := range p.Outputs {
		doc.Outputs = append(doc.Outputs, OutputDocument{
			Name:        out.Name,
			Description: out.Description,
			Value:       out.Pending(),
		})
	}
	return doc, nil
}

// Render writes the plan in the requested format.
func Render(w io.Writer, p *Plan, format Format) error {
	doc, err := NewDocument(p)
	if err != nil {
		return fmt.Errorf("failed to order plan: %w", err)
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to marshal plan yaml: %w", err)
		}
		return enc.Close()
	case FormatTable:
		return renderTable(w, doc)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// maxTableValue bounds output values in table form; json and yaml carry the
// full text.
const maxTableValue = 72

func renderTable(w io.Writer, doc *Document) error {
	printer.Heading(w, fmt.Sprintf("%s (%s, %s)", doc.Name, doc.Environment.Account, doc.Environment.Region))
	t := printer.NewTablePrinter(w)
	t.SetHeaders("#", "ID", "Kind", "Depends on")
	for i, r := range doc.Resources {
		deps := make([]string, 0, len(r.References)+len(r.DependsOn))
		for _, id := range r.References {
			deps = append(deps, string(id))
		}
		for _, id := range r.DependsOn {
			deps = append(deps, string(id)+" (explicit)")
		}
		sort.Strings(deps)
		t.AddRow(strconv.Itoa(i+1), string(r.ID), string(r.Kind), strings.Join(deps, ", "))
	}
	if err := t.Render(); err != nil {
		return err
	}
	if len(doc.Outputs) == 0 {
		return nil
	}
	outputs := printer.NewTablePrinter(w)
	outputs.SetHeaders("Output", "Value")
	for _, o := range doc.Outputs {
		outputs.AddRow(o.Name, printer.TruncateString(o.Value, maxTableValue))
	}
	return outputs.Render()
}

// WriteDOT writes the graph in Graphviz format. Explicit edges are dashed.
func WriteDOT(w io.Writer, g *Graph) error {
	var b strings.Builder
	b.WriteString("digraph plan {\n  rankdir=LR;\n")
	for _, n := range g.Nodes() {
		fmt.Fprintf(&b, "  %q [label=%q];\n", n.ID, fmt.Sprintf("%s\n(%s)", n.ID, n.Kind))
	}
	for _, e := range g.Edges() {
		if e.Explicit {
			fmt.Fprintf(&b, "  %q -> %q [style=dashed, label=\"dependsOn\"];\n", e.From, e.To)
			continue
		}
		fmt.Fprintf(&b, "  %q -> %q;\n", e.From, e.To)
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
