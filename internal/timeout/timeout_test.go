package timeout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukluk/rendang/internal/msg"
)

func TestMinEmptyIndex(t *testing.T) {
	idx := NewIndex()
	m, deadline := idx.Min()
	assert.Nil(t, m)
	assert.Equal(t, int64(0), deadline)
}

func TestInsertOrdersByDeadline(t *testing.T) {
	idx := NewIndex()
	a := &msg.Msg{}
	b := &msg.Msg{}
	c := &msg.Msg{}
	idx.Insert(a, 300)
	idx.Insert(b, 100)
	idx.Insert(c, 200)

	m, deadline := idx.Min()
	assert.Same(t, b, m)
	assert.Equal(t, int64(100), deadline)
}

func TestDeleteRemovesArbitraryEntry(t *testing.T) {
	idx := NewIndex()
	a := &msg.Msg{}
	b := &msg.Msg{}
	idx.Insert(a, 100)
	idx.Insert(b, 200)

	idx.Delete(a)
	assert.Equal(t, 1, idx.Len())
	m, deadline := idx.Min()
	assert.Same(t, b, m)
	assert.Equal(t, int64(200), deadline)
	assert.Equal(t, int64(0), a.TmoDeadline)
}

func TestDeleteNotScheduledIsNoop(t *testing.T) {
	idx := NewIndex()
	a := &msg.Msg{}
	idx.Delete(a) // never inserted
	assert.Equal(t, 0, idx.Len())
}

func TestInsertReplacesExistingSchedule(t *testing.T) {
	idx := NewIndex()
	a := &msg.Msg{}
	idx.Insert(a, 500)
	idx.Insert(a, 50) // reschedule
	require.Equal(t, 1, idx.Len())
	m, deadline := idx.Min()
	assert.Same(t, a, m)
	assert.Equal(t, int64(50), deadline)
}

func TestPopExpiredReturnsInDeadlineOrderAndLeavesLaterEntries(t *testing.T) {
	idx := NewIndex()
	a := &msg.Msg{}
	b := &msg.Msg{}
	c := &msg.Msg{}
	idx.Insert(a, 100)
	idx.Insert(b, 50)
	idx.Insert(c, 1000)

	expired := idx.PopExpired(100)
	require.Len(t, expired, 2)
	assert.Same(t, b, expired[0])
	assert.Same(t, a, expired[1])
	assert.Equal(t, 1, idx.Len())

	m, deadline := idx.Min()
	assert.Same(t, c, m)
	assert.Equal(t, int64(1000), deadline)
}

func TestPopExpiredNoneDue(t *testing.T) {
	idx := NewIndex()
	a := &msg.Msg{}
	idx.Insert(a, 1000)
	expired := idx.PopExpired(500)
	assert.Empty(t, expired)
	assert.Equal(t, 1, idx.Len())
}
