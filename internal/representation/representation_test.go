package representation

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestConfiguration_IDEqualForEquivalentConfigurations(t *testing.T) {
	a := Configuration{ProjectID: "p1", Kind: "tree", Expanded: []string{"b", "a", "a"}}
	b := Configuration{ProjectID: "p1", Kind: "Tree", Expanded: []string{"a", "b"}}
	require.Equal(t, a.ID(), b.ID())
}

func TestConfiguration_IDDiffers(t *testing.T) {
	base := Configuration{ProjectID: "p1", Kind: KindDiagram, TargetObjectID: "o1"}
	tests := []struct {
		name  string
		other Configuration
	}{
		{"project", Configuration{ProjectID: "p2", Kind: KindDiagram, TargetObjectID: "o1"}},
		{"kind", Configuration{ProjectID: "p1", Kind: KindForm, TargetObjectID: "o1"}},
		{"target", Configuration{ProjectID: "p1", Kind: KindDiagram, TargetObjectID: "o2"}},
		{"expanded", Configuration{ProjectID: "p1", Kind: KindDiagram, TargetObjectID: "o1", Expanded: []string{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotEqual(t, base.ID(), tt.other.ID())
		})
	}
}

func TestConfiguration_IDSeparatesExpandedEntries(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
	}{
		{"comma inside an id", []string{"a,b"}, []string{"a", "b"}},
		{"comma-joined pair", []string{"a,b", "c"}, []string{"a", "b,c"}},
		{"description boundary", nil, []string{"d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Configuration{ProjectID: "p1", Kind: KindTree, Expanded: tt.a}
			b := Configuration{ProjectID: "p1", Kind: KindTree, Expanded: tt.b}
			if tt.a == nil {
				a.DescriptionID = "d"
			}
			require.NotEqual(t, a.ID(), b.ID())
		})
	}
}

func TestConfiguration_IDIgnoresExpandedOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ids := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,4}`)).Draw(rt, "expanded")
		shuffled := rapid.Permutation(ids).Draw(rt, "shuffled")

		a := Configuration{ProjectID: "p", Kind: KindTree, Expanded: ids}
		b := Configuration{ProjectID: "p", Kind: KindTree, Expanded: shuffled}
		if a.ID() != b.ID() {
			rt.Fatalf("ids differ for %v and %v", ids, shuffled)
		}
	})
}

func TestConfiguration_NormalizeDoesNotAlias(t *testing.T) {
	expanded := []string{"b", "a"}
	c := Configuration{ProjectID: "p", Kind: KindTree, Expanded: expanded}
	_ = c.Normalize()
	require.Equal(t, []string{"b", "a"}, expanded)
}
