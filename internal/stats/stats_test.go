package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrAndSwapMovesCurrentToShadow(t *testing.T) {
	c := NewCounters()
	c.Incr("total_requests", 5)
	c.Incr("total_requests", 2)

	c.Swap()
	c.BeginAggregate()
	snap := c.Aggregate()
	c.EndAggregate()

	require.Contains(t, snap, "total_requests")
	assert.Equal(t, int64(7), snap["total_requests"])
}

func TestSwapNoopWhenNothingUpdated(t *testing.T) {
	c := NewCounters()
	c.current["stale"] = 99 // simulate a value present without the updated flag set
	c.Swap()
	assert.Empty(t, c.shadow) // Swap should not have moved it
}

func TestSwapNoopWhileAggregating(t *testing.T) {
	c := NewCounters()
	c.Incr("x", 1)
	c.BeginAggregate()
	c.Swap() // should be refused: aggregate flag held
	c.EndAggregate()

	assert.Empty(t, c.shadow)
	assert.Equal(t, int64(1), c.current["x"])
}

func TestAggregateAccumulatesAcrossMultipleSwaps(t *testing.T) {
	c := NewCounters()
	c.Incr("hits", 3)
	c.Swap()
	c.BeginAggregate()
	snap1 := c.Aggregate()
	c.EndAggregate()
	assert.Equal(t, int64(3), snap1["hits"])

	c.Incr("hits", 4)
	c.Swap()
	c.BeginAggregate()
	snap2 := c.Aggregate()
	c.EndAggregate()
	assert.Equal(t, int64(7), snap2["hits"]) // sum carries across Aggregate calls
}

func TestSwapClearsCurrentAfterExchange(t *testing.T) {
	c := NewCounters()
	c.Incr("a", 1)
	c.Swap()
	assert.Empty(t, c.current)
	assert.Equal(t, int64(1), c.shadow["a"])
}
