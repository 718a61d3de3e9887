package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGestureBands(t *testing.T) {
	tests := []struct {
		name string
		hint float64
		nest bool
	}{
		{"top edge reorders", 0.1, false},
		{"lower band boundary nests", 0.25, true},
		{"center nests", 0.5, true},
		{"upper band boundary nests", 0.75, true},
		{"bottom edge reorders", 0.9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := MoveGesture{GeometryHint: tt.hint}
			assert.Equal(t, tt.nest, g.Nest())
		})
	}
}

func TestInsertBeforeOrder(t *testing.T) {
	// dropping on the upper edge takes the reference's slot
	assert.Equal(t, int64(1), insertBeforeOrder(1, 0.1))
	// dropping on the lower edge takes the slot just past it
	assert.Equal(t, int64(2), insertBeforeOrder(1, 0.9))
}

// simulateShift mirrors the transactional reorder: siblings at or past
// the destination shift up by one, then the mover takes the slot.
func simulateShift(orderKeys map[string]int64, moving string, destination int64) {
	for id, key := range orderKeys {
		if id != moving && key >= destination {
			orderKeys[id] = key + 1
		}
	}
	orderKeys[moving] = destination
}

func TestReorderProducesUniqueTotalOrder(t *testing.T) {
	// siblings [a:0 b:1 c:2 d:3]; moving d before b must place it
	// directly ahead of b with all keys still unique.
	siblings := map[string]int64{"a": 0, "b": 1, "c": 2, "d": 3}
	simulateShift(siblings, "d", insertBeforeOrder(1, 0.1))

	assert.Equal(t, int64(0), siblings["a"])
	assert.Equal(t, int64(1), siblings["d"])
	assert.Equal(t, int64(2), siblings["b"])
	assert.Equal(t, int64(3), siblings["c"])

	seen := map[int64]bool{}
	for _, key := range siblings {
		assert.False(t, seen[key], "orderKey %d duplicated", key)
		seen[key] = true
	}
}

func TestReorderAppendAfterLast(t *testing.T) {
	siblings := map[string]int64{"a": 0, "b": 1, "c": 2}
	// dropping below the last sibling targets the slot past its key
	simulateShift(siblings, "a", insertBeforeOrder(2, 0.9))

	assert.Equal(t, int64(3), siblings["a"])
	assert.Equal(t, int64(1), siblings["b"])
	assert.Equal(t, int64(2), siblings["c"])
}
