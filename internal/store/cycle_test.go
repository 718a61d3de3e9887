package store

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTree backs the cycle walk with an in-memory parent map.
type fakeTree map[string]string

func (f fakeTree) lookup(_ context.Context, id string) (string, bool, error) {
	parent, ok := f[id]
	return parent, ok, nil
}

func TestWalkWouldCycleDirectDescendant(t *testing.T) {
	// a -> b -> c; moving a under c would make a its own ancestor
	tree := fakeTree{"a": "", "b": "a", "c": "b"}

	cyclic, err := walkWouldCycle(context.Background(), tree.lookup, "a", "c")
	require.NoError(t, err)
	assert.True(t, cyclic)

	cyclic, err = walkWouldCycle(context.Background(), tree.lookup, "c", "a")
	require.NoError(t, err)
	assert.False(t, cyclic)
}

func TestWalkWouldCycleSelfParent(t *testing.T) {
	tree := fakeTree{"a": ""}
	cyclic, err := walkWouldCycle(context.Background(), tree.lookup, "a", "a")
	require.NoError(t, err)
	assert.True(t, cyclic)
}

func TestWalkWouldCycleSiblingMove(t *testing.T) {
	tree := fakeTree{"root": "", "a": "root", "b": "root"}
	cyclic, err := walkWouldCycle(context.Background(), tree.lookup, "a", "b")
	require.NoError(t, err)
	assert.False(t, cyclic)
}

func TestWalkWouldCycleDanglingParentTerminates(t *testing.T) {
	// b points at a parent that no longer exists; the walk must stop
	// instead of erroring out.
	tree := fakeTree{"b": "ghost"}
	cyclic, err := walkWouldCycle(context.Background(), tree.lookup, "x", "b")
	require.NoError(t, err)
	assert.False(t, cyclic)
}

func TestWalkWouldCycleCorruptedLoopIsCut(t *testing.T) {
	// pre-existing corruption: a <-> b. The visited set must stop the
	// walk and report the move as unsafe.
	tree := fakeTree{"a": "b", "b": "a"}
	cyclic, err := walkWouldCycle(context.Background(), tree.lookup, "x", "a")
	require.NoError(t, err)
	assert.True(t, cyclic)
}

// hasCycle walks up from every node; any loop means the tree is broken.
func hasCycle(tree fakeTree) bool {
	for start := range tree {
		visited := map[string]bool{}
		current := start
		for current != "" {
			if visited[current] {
				return true
			}
			visited[current] = true
			current = tree[current]
		}
	}
	return false
}

// Property: randomized sequences of create and guarded move operations
// never produce a cycle, and a rejected move changes nothing.
func TestGuardedMovesNeverProduceCycle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for trial := 0; trial < 50; trial++ {
		tree := fakeTree{"n0": ""}
		ids := []string{"n0"}

		for op := 0; op < 200; op++ {
			if rng.Intn(2) == 0 {
				// create under a random parent
				id := fmt.Sprintf("n%d", len(ids))
				tree[id] = ids[rng.Intn(len(ids))]
				ids = append(ids, id)
				continue
			}
			// move a random node under a random parent, guarded
			moving := ids[rng.Intn(len(ids))]
			parent := ids[rng.Intn(len(ids))]
			if moving == "n0" {
				continue
			}
			before := tree[moving]
			cyclic, err := walkWouldCycle(ctx, tree.lookup, moving, parent)
			require.NoError(t, err)
			if cyclic {
				// rejected: the tree must be untouched
				assert.Equal(t, before, tree[moving])
				continue
			}
			tree[moving] = parent
		}

		require.False(t, hasCycle(tree), "trial %d produced a cycle", trial)
	}
}
