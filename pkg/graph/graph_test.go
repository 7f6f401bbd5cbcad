package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/decivue/core/pkg/contracts"
)

func edges(pairs ...[2]string) []contracts.DependencyEdge {
	out := make([]contracts.DependencyEdge, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, contracts.DependencyEdge{
			OrganizationID: "org-1",
			SourceID:       p[0],
			TargetID:       p[1],
		})
	}
	return out
}

func TestCheckAcyclic(t *testing.T) {
	cases := []struct {
		name      string
		existing  []contracts.DependencyEdge
		source    string
		target    string
		wantCycle bool
	}{
		{
			name:   "empty graph accepts any edge",
			source: "a", target: "b",
		},
		{
			name:     "extends a chain",
			existing: edges([2]string{"a", "b"}, [2]string{"b", "c"}),
			source:   "c", target: "d",
		},
		{
			name:     "direct back edge",
			existing: edges([2]string{"a", "b"}),
			source:   "b", target: "a",
			wantCycle: true,
		},
		{
			name:     "transitive back edge",
			existing: edges([2]string{"a", "b"}, [2]string{"b", "c"}),
			source:   "c", target: "a",
			wantCycle: true,
		},
		{
			name:   "self edge",
			source: "a", target: "a",
			wantCycle: true,
		},
		{
			name: "diamond stays acyclic",
			existing: edges(
				[2]string{"a", "b"},
				[2]string{"a", "c"},
				[2]string{"b", "d"},
			),
			source: "c", target: "d",
		},
		{
			name: "long loop",
			existing: edges(
				[2]string{"a", "b"},
				[2]string{"b", "c"},
				[2]string{"c", "d"},
				[2]string{"d", "e"},
			),
			source: "e", target: "a",
			wantCycle: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New(tc.existing)
			err := g.CheckAcyclic(tc.source, tc.target)
			if tc.wantCycle {
				require.ErrorIs(t, err, ErrCyclicDependency)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAdjacency(t *testing.T) {
	g := New(edges(
		[2]string{"a", "c"},
		[2]string{"a", "b"},
		[2]string{"d", "b"},
	))

	require.Equal(t, []string{"b", "c"}, g.Dependencies("a"))
	require.Equal(t, []string{"a", "d"}, g.Dependents("b"))
	require.Empty(t, g.Dependencies("b"))
	require.Empty(t, g.Dependents("a"))
}

func TestCheckAcyclicDoesNotMutate(t *testing.T) {
	g := New(edges([2]string{"a", "b"}))

	require.NoError(t, g.CheckAcyclic("b", "c"))
	// The simulated edge must not leak into the snapshot.
	require.Empty(t, g.Dependencies("b"))
	require.NoError(t, g.CheckAcyclic("b", "c"))
}
