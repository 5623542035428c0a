package merkle_test

import (
	"testing"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/merkle"
)

type leaf string

func (l leaf) Hash() string { return string(l) }

func TestNewTree_EmptyIsError(t *testing.T) {
	if _, err := merkle.NewTree([]leaf{}); err != merkle.ErrEmptyTree {
		t.Fatalf("got %v, want ErrEmptyTree", err)
	}
}

func TestNewTree_RoundTrip(t *testing.T) {
	values := []leaf{"a", "b", "c"}

	tree, err := merkle.NewTree(values)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	root := tree.RootHex()

	again, err := merkle.NewTree(values)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	if again.RootHex() != root {
		t.Fatalf("recomputed root %q != original root %q", again.RootHex(), root)
	}

	leaves := make([]string, len(values))
	for i, v := range values {
		leaves[i] = v.Hash()
	}
	fromLeaves, err := merkle.RootFromLeaves(leaves)
	if err != nil {
		t.Fatalf("RootFromLeaves: %v", err)
	}
	if fromLeaves != root {
		t.Fatalf("RootFromLeaves = %q, want %q", fromLeaves, root)
	}
}

func TestNewTree_OddCountDuplicatesLast(t *testing.T) {
	odd, err := merkle.NewTree([]leaf{"a", "b", "c"})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	dup, err := merkle.NewTree([]leaf{"a", "b", "c", "c"})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	if odd.RootHex() != dup.RootHex() {
		t.Fatalf("odd-count tree root should equal explicit-duplicate tree root")
	}
}

func TestNewTree_ChangingATransactionChangesTheRoot(t *testing.T) {
	base, _ := merkle.NewTree([]leaf{"a", "b", "c"})
	changed, _ := merkle.NewTree([]leaf{"a", "x", "c"})

	if base.RootHex() == changed.RootHex() {
		t.Fatalf("expected differing roots for differing leaves")
	}
}

func TestNewTree_SingleLeaf(t *testing.T) {
	tree, err := merkle.NewTree([]leaf{"solo"})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if tree.RootHex() != "solo" {
		t.Fatalf("single-leaf root should equal the leaf hash, got %q", tree.RootHex())
	}
}
