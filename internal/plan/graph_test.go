package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(nodes []*Node) []ID {
	out := make([]ID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func sampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	_, err := g.Add("network", KindNetwork, nil)
	require.NoError(t, err)
	_, err = g.Add("credential", KindCredential, nil)
	require.NoError(t, err)
	_, err = g.Add("cluster", KindDatabaseCluster, nil, "network", "credential")
	require.NoError(t, err)
	_, err = g.Add("url", KindConnectionSecret, nil, "cluster")
	require.NoError(t, err)
	_, err = g.Add("service", KindComputeService, nil, "network", "url")
	require.NoError(t, err)
	require.NoError(t, g.DependOn("service", "cluster"))
	return g
}

func TestGraph_Add(t *testing.T) {
	g := NewGraph()
	_, err := g.Add("a", KindNetwork, nil)
	require.NoError(t, err)

	_, err = g.Add("a", KindNetwork, nil)
	require.True(t, errors.Is(err, ErrDuplicateNode))

	_, err = g.Add("b", KindCredential, nil, "missing")
	require.True(t, errors.Is(err, ErrUnknownNode))

	_, err = g.Add("", KindCredential, nil)
	require.Error(t, err)

	n, err := g.Add("c", KindCredential, nil, "a", "a")
	require.NoError(t, err)
	assert.Equal(t, []ID{"a"}, n.References())
	assert.Equal(t, 2, g.Len())
}

func TestGraph_TopologicalOrder(t *testing.T) {
	g := sampleGraph(t)
	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []ID{"network", "credential", "cluster", "url", "service"}, ids(order))

	position := map[ID]int{}
	for i, n := range order {
		position[n.ID] = i
	}
	for _, n := range order {
		for _, dep := range n.Dependencies() {
			assert.Less(t, position[dep], position[n.ID], "%s must follow %s", n.ID, dep)
		}
	}

	reverse, err := g.ReverseOrder()
	require.NoError(t, err)
	assert.Equal(t, []ID{"service", "url", "cluster", "credential", "network"}, ids(reverse))
}

func TestGraph_ExplicitEdgeReordersIndependentNodes(t *testing.T) {
	g := NewGraph()
	_, err := g.Add("service", KindComputeService, nil)
	require.NoError(t, err)
	_, err = g.Add("cluster", KindDatabaseCluster, nil)
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []ID{"service", "cluster"}, ids(order))

	require.NoError(t, g.DependOn("service", "cluster"))
	order, err = g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []ID{"cluster", "service"}, ids(order))
}

func TestGraph_Cycle(t *testing.T) {
	g := NewGraph()
	_, err := g.Add("a", KindNetwork, nil)
	require.NoError(t, err)
	_, err = g.Add("b", KindCredential, nil, "a")
	require.NoError(t, err)
	require.NoError(t, g.DependOn("a", "b"))

	_, err = g.TopologicalOrder()
	require.True(t, errors.Is(err, ErrCycle))
	assert.Contains(t, err.Error(), "a")

	require.True(t, errors.Is(g.DependOn("a", "a"), ErrCycle))
}

func TestGraph_EdgeInspection(t *testing.T) {
	g := sampleGraph(t)

	assert.True(t, g.HasEdge("service", "cluster"))
	assert.True(t, g.HasExplicitEdge("service", "cluster"))
	assert.True(t, g.HasEdge("service", "url"))
	assert.False(t, g.HasExplicitEdge("service", "url"))
	assert.False(t, g.HasEdge("cluster", "service"))
	assert.True(t, g.DependsOnTransitively("service", "credential"))
	assert.False(t, g.DependsOnTransitively("network", "service"))

	var explicit []Edge
	for _, e := range g.Edges() {
		if e.Explicit {
			explicit = append(explicit, e)
		}
	}
	assert.Equal(t, []Edge{{From: "service", To: "cluster", Explicit: true}}, explicit)

	g.RemoveDependency("service", "cluster")
	assert.False(t, g.HasExplicitEdge("service", "cluster"))
	assert.False(t, g.HasEdge("service", "cluster"))
	// Still reachable through the connection secret.
	assert.True(t, g.DependsOnTransitively("service", "cluster"))
}

func TestGraph_DependOnUnknown(t *testing.T) {
	g := sampleGraph(t)
	require.True(t, errors.Is(g.DependOn("service", "nope"), ErrUnknownNode))
	require.True(t, errors.Is(g.DependOn("nope", "service"), ErrUnknownNode))
	require.NoError(t, g.DependOn("service", "cluster"))
	assert.Len(t, g.nodes["service"].DependsOn(), 1)
}

func TestGraph_NodesOfKind(t *testing.T) {
	g := sampleGraph(t)
	assert.Equal(t, []ID{"service"}, ids(g.NodesOfKind(KindComputeService)))
	assert.Empty(t, g.NodesOfKind(KindBastion))
}
