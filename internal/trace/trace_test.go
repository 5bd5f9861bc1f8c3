package trace

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNextSequenceIsGaplessPerParent(t *testing.T) {
	tree := NewTree(&Execution{ID: "exec-1"})

	seqs := make([]int, 5)
	for i := range seqs {
		seqs[i] = tree.NextSequence("parent-1")
	}
	for i, s := range seqs {
		require.Equal(t, i, s)
	}

	// A different parent gets its own independent sequence space.
	require.Equal(t, 0, tree.NextSequence("parent-2"))
}

func TestChildrenSortedBySequence(t *testing.T) {
	tree := NewTree(&Execution{ID: "exec-1"})
	tree.AddNode(&Node{ID: "c", ParentNodeID: "root", Sequence: 2})
	tree.AddNode(&Node{ID: "a", ParentNodeID: "root", Sequence: 0})
	tree.AddNode(&Node{ID: "b", ParentNodeID: "root", Sequence: 1})

	children := tree.Children("root")
	got := []string{children[0].ID, children[1].ID, children[2].ID}
	want := []string{"a", "b", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestAddUsageAccumulates(t *testing.T) {
	exec := &Execution{ID: "exec-1"}
	tree := NewTree(exec)

	tree.AddUsage(10, 20, 0.001)
	tree.AddUsage(5, 5, 0.0005)

	got := tree.Execution()
	require.Equal(t, 15, got.TotalInputTokens)
	require.Equal(t, 25, got.TotalOutputTokens)
	require.InDelta(t, 0.0015, got.TotalCostUSD, 1e-9)
}

func TestDeepCopyMemoryIsIndependent(t *testing.T) {
	orig := map[string]any{"a": map[string]any{"b": []any{1, 2}}}
	copy := DeepCopyMemory(orig)

	nested := copy["a"].(map[string]any)
	nested["b"] = []any{99}

	origNested := orig["a"].(map[string]any)
	origSlice := origNested["b"].([]any)
	require.Equal(t, 2, len(origSlice))
}
