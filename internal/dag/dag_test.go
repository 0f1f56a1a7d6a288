package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// build adds nodes in order, then one edge per pair (producer, consumer).
func build(t *testing.T, nodes []string, edges ...[2]string) *Graph {
	t.Helper()
	g := New()
	for _, id := range nodes {
		g.AddNode(id)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func TestAddNode(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Empty(t, g.Nodes())

	g.AddNode("blur_x")
	g.AddNode("blur_x")
	g.AddNode("blur_y")
	assert.Equal(t, []string{"blur_x", "blur_y"}, g.Nodes(), "adding a node twice keeps one copy")
	n := g.nodes["blur_x"]
	require.NotNil(t, n)
	assert.Equal(t, 0, n.seq)
	assert.Equal(t, 1, g.nodes["blur_y"].seq)
}

func TestAddEdge(t *testing.T) {
	t.Run("links both directions", func(t *testing.T) {
		g := build(t, []string{"in", "blur_x"}, [2]string{"in", "blur_x"})
		producer, consumer := g.nodes["in"], g.nodes["blur_x"]
		assert.Equal(t, consumer, producer.dependents["blur_x"])
		assert.Equal(t, producer, consumer.deps["in"])
	})

	t.Run("rejects unknown and self edges", func(t *testing.T) {
		g := build(t, []string{"f"})
		assert.ErrorContains(t, g.AddEdge("g", "f"), "source node not found")
		err := g.AddEdge("f", "g")
		assert.ErrorContains(t, err, "destination node not found")
		assert.ErrorIs(t, err, ErrNodeNotFound)
		assert.ErrorContains(t, g.AddEdge("f", "f"), "self-referential edge")
	})
}

func TestDetectCycles(t *testing.T) {
	cases := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  string
	}{
		{name: "empty"},
		{name: "no edges", nodes: []string{"a", "b", "c"}},
		{
			name:  "diamond",
			nodes: []string{"in", "gx", "gy", "mag"},
			edges: [][2]string{{"in", "gx"}, {"in", "gy"}, {"gx", "mag"}, {"gy", "mag"}, {"in", "mag"}},
		},
		{
			name:  "two stage loop",
			nodes: []string{"a", "b"},
			edges: [][2]string{{"a", "b"}, {"b", "a"}},
			want:  "a -> b -> a",
		},
		{
			name:  "long loop",
			nodes: []string{"a", "b", "c", "d"},
			edges: [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "a"}},
			want:  "cycle detected",
		},
		{
			name:  "loop in a disjoint component",
			nodes: []string{"a", "b", "x", "y", "z"},
			edges: [][2]string{{"a", "b"}, {"x", "y"}, {"y", "z"}, {"z", "y"}},
			want:  "cycle detected",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := build(t, tc.nodes, tc.edges...)
			err := g.DetectCycles()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrCycle)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDependenciesOrder(t *testing.T) {
	g := New()
	for _, id := range []string{"out", "c", "a", "b"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("b", "out"))
	require.NoError(t, g.AddEdge("a", "out"))
	require.NoError(t, g.AddEdge("c", "out"))

	deps, err := g.Dependencies("out")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, deps)

	users, err := g.Dependents("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"out"}, users)

	_, err = g.Dependencies("dne")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.True(t, g.Has("c"))
	assert.Equal(t, []string{"out", "c", "a", "b"}, g.Nodes())
}

func TestTopoSort(t *testing.T) {
	t.Run("dependencies come first", func(t *testing.T) {
		g := New()
		for _, id := range []string{"blur_y", "blur_x", "input"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("input", "blur_x"))
		require.NoError(t, g.AddEdge("blur_x", "blur_y"))

		order, err := g.TopoSort()
		require.NoError(t, err)
		assert.Equal(t, []string{"input", "blur_x", "blur_y"}, order)
	})

	t.Run("ties follow insertion order", func(t *testing.T) {
		g := New()
		for _, id := range []string{"d", "c", "b", "a"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "d"))

		order, err := g.TopoSort()
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a", "d"}, order)
	})

	t.Run("cycle is rejected", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))

		_, err := g.TopoSort()
		assert.ErrorIs(t, err, ErrCycle)
	})
}
