// Package plan holds the declarative provisioning plan: a directed acyclic
// graph of resource declarations with explicit and reference edges, plus the
// outputs an operator reads back after deployment.
package plan

import (
	"errors"
	"fmt"
	"sort"
)

// ID uniquely names a declaration inside a plan, e.g. "database/cluster".
type ID string

// Kind classifies a declaration so engines can pick a provisioner for it.
type Kind string

const (
	KindNetwork          Kind = "network"
	KindBastion          Kind = "bastion"
	KindCredential       Kind = "credential"
	KindDatabaseCluster  Kind = "database-cluster"
	KindConnectionSecret Kind = "connection-secret"
	KindComputeService   Kind = "compute-service"
)

var (
	// ErrCycle is returned when the graph cannot be ordered.
	ErrCycle = errors.New("dependency cycle detected")
	// ErrDuplicateNode is returned when an ID is declared twice.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrUnknownNode is returned when an edge points at an undeclared node.
	ErrUnknownNode = errors.New("unknown node")
)

// Node is a single declaration. Spec carries the component-specific
// declaration (for example *network.Topology).
type Node struct {
	ID   ID
	Kind Kind
	Spec any

	// refs are implicit edges: this node consumes attributes of these nodes.
	refs []ID
	// dependsOn are explicit ordering edges declared by the composer.
	dependsOn []ID
}

// References returns the nodes whose attributes this node consumes.
func (n *Node) References() []ID {
	return append([]ID(nil), n.refs...)
}

// DependsOn returns the explicit ordering edges of this node.
func (n *Node) DependsOn() []ID {
	return append([]ID(nil), n.dependsOn...)
}

// Dependencies returns every node that must exist before this one,
// reference edges first, without duplicates.
func (n *Node) Dependencies() []ID {
	seen := make(map[ID]bool, len(n.refs)+len(n.dependsOn))
	var out []ID
	for _, id := range append(append([]ID(nil), n.refs...), n.dependsOn...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Edge is a "from depends on to" relation.
type Edge struct {
	From     ID   `json:"from" yaml:"from"`
	To       ID   `json:"to" yaml:"to"`
	Explicit bool `json:"explicit" yaml:"explicit"`
}

// Graph is an insertion-ordered DAG of declarations. It is built once during
// plan evaluation and is not safe for concurrent mutation.
type Graph struct {
	nodes map[ID]*Node
	order []ID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[ID]*Node)}
}

// Add declares a node. Every referenced node must already be declared, which
// keeps reference edges acyclic by construction.
func (g *Graph) Add(id ID, kind Kind, spec any, refs ...ID) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("node id must not be empty")
	}
	if _, exists := g.nodes[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	for _, ref := range refs {
		if _, ok := g.nodes[ref]; !ok {
			return nil, fmt.Errorf("%w: %s referenced by %s", ErrUnknownNode, ref, id)
		}
	}
	node := &Node{ID: id, Kind: kind, Spec: spec, refs: dedupe(refs)}
	g.nodes[id] = node
	g.order = append(g.order, id)
	return node, nil
}

// DependOn declares an explicit edge: from must not be created or updated
// until to exists.
func (g *Graph) DependOn(from, to ID) error {
	node, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}
	if from == to {
		return fmt.Errorf("%w: %s depends on itself", ErrCycle, from)
	}
	for _, existing := range node.dependsOn {
		if existing == to {
			return nil
		}
	}
	node.dependsOn = append(node.dependsOn, to)
	return nil
}

// RemoveDependency drops an explicit edge. Reference edges cannot be removed.
func (g *Graph) RemoveDependency(from, to ID) {
	node, ok := g.nodes[from]
	if !ok {
		return
	}
	kept := node.dependsOn[:0]
	for _, id := range node.dependsOn {
		if id != to {
			kept = append(kept, id)
		}
	}
	node.dependsOn = kept
}

// Node looks a declaration up by ID.
func (g *Graph) Node(id ID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all declarations in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodesOfKind returns the declarations of one kind in insertion order.
func (g *Graph) NodesOfKind(kind Kind) []*Node {
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of declarations.
func (g *Graph) Len() int {
	return len(g.order)
}

// Edges lists every edge, reference edges before explicit ones per node.
// An explicit edge that duplicates a reference edge is reported once, as
// explicit.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, id := range g.order {
		n := g.nodes[id]
		explicit := make(map[ID]bool, len(n.dependsOn))
		for _, to := range n.dependsOn {
			explicit[to] = true
		}
		for _, to := range n.refs {
			if !explicit[to] {
				edges = append(edges, Edge{From: id, To: to})
			}
		}
		for _, to := range n.dependsOn {
			edges = append(edges, Edge{From: id, To: to, Explicit: true})
		}
	}
	return edges
}

// HasEdge reports whether from directly depends on to, by reference or
// explicitly.
func (g *Graph) HasEdge(from, to ID) bool {
	n, ok := g.nodes[from]
	if !ok {
		return false
	}
	for _, id := range n.Dependencies() {
		if id == to {
			return true
		}
	}
	return false
}

// HasExplicitEdge reports whether from carries an explicit edge to to.
func (g *Graph) HasExplicitEdge(from, to ID) bool {
	n, ok := g.nodes[from]
	if !ok {
		return false
	}
	for _, id := range n.dependsOn {
		if id == to {
			return true
		}
	}
	return false
}

// DependsOnTransitively reports whether to is reachable from from.
func (g *Graph) DependsOnTransitively(from, to ID) bool {
	visited := make(map[ID]bool)
	stack := []ID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes[cur]
		if !ok || visited[cur] {
			continue
		}
		visited[cur] = true
		for _, dep := range n.Dependencies() {
			if dep == to {
				return true
			}
			stack = append(stack, dep)
		}
	}
	return false
}

// TopologicalOrder returns the nodes so that every node follows all of its
// dependencies. Ties are broken by insertion order so the result is stable.
func (g *Graph) TopologicalOrder() ([]*Node, error) {
	position := make(map[ID]int, len(g.order))
	for i, id := range g.order {
		position[id] = i
	}

	indegree := make(map[ID]int, len(g.order))
	dependents := make(map[ID][]ID, len(g.order))
	for _, id := range g.order {
		deps := g.nodes[id].Dependencies()
		indegree[id] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []ID
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]*Node, 0, len(g.order))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool {
			return position[ready[i]] < position[ready[j]]
		})
		id := ready[0]
		ready = ready[1:]
		out = append(out, g.nodes[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(out) != len(g.order) {
		var stuck []string
		for _, id := range g.order {
			if indegree[id] > 0 {
				stuck = append(stuck, string(id))
			}
		}
		return nil, fmt.Errorf("%w among %v", ErrCycle, stuck)
	}
	return out, nil
}

// ReverseOrder returns the teardown order: dependents before dependencies.
func (g *Graph) ReverseOrder() ([]*Node, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

func dedupe(ids []ID) []ID {
	seen := make(map[ID]bool, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
