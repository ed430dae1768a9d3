package msg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukluk/rendang/internal/mbuf"
)

func TestAppendGrowsChainAcrossChunks(t *testing.T) {
	pool := mbuf.NewPool(512)
	m := New(nil, true, false, pool)
	m.Append(bytes.Repeat([]byte("a"), 520))

	assert.Equal(t, 520, m.Remaining())
	assert.NotNil(t, m.Head.Next())
}

func TestEmptyReportsNoPayload(t *testing.T) {
	pool := mbuf.NewPool(4)
	m := New(nil, true, false, pool)
	assert.True(t, Empty(m))
	m.Append([]byte("x"))
	assert.False(t, Empty(m))
}

func TestPairLinksBothDirections(t *testing.T) {
	pool := mbuf.NewPool(16)
	req := New(nil, true, false, pool)
	rsp := New(nil, false, false, pool)
	Pair(req, rsp)
	assert.Same(t, rsp, req.Peer)
	assert.Same(t, req, rsp.Peer)
}

func TestAdoptChainFindsTail(t *testing.T) {
	pool := mbuf.NewPool(512)
	src := New(nil, true, false, pool)
	src.Append(bytes.Repeat([]byte("a"), 520))
	require.NotNil(t, src.Head.Next())

	dst := New(nil, true, false, pool)
	dst.AdoptChain(src.Head)
	assert.Same(t, src.Head.Next(), dst.tail)
	assert.Equal(t, 520, dst.Remaining())
}

func TestIovecsSkipsFullyConsumedChunks(t *testing.T) {
	pool := mbuf.NewPool(512)
	m := New(nil, false, false, pool)
	m.Append(append(bytes.Repeat([]byte("a"), 512), "efgh"...))
	m.Consume(512)

	iovecs := m.Iovecs()
	require.Len(t, iovecs, 1)
	assert.Equal(t, "efgh", string(iovecs[0]))
}

func TestPrependFormatGluesEnvelopeOntoExistingChain(t *testing.T) {
	pool := mbuf.NewPool(64)
	m := New(nil, true, false, pool)
	m.Append([]byte("key1 key2\r\n"))
	m.PrependFormat([]byte("get "))

	assert.Equal(t, "get key1 key2\r\n", string(mustFlatten(m)))
}

func TestAllFragsDone(t *testing.T) {
	pool := mbuf.NewPool(16)
	owner := New(nil, true, false, pool)
	owner.NFrag = 2
	assert.False(t, owner.AllFragsDone())
	owner.NFragDone = 1
	assert.False(t, owner.AllFragsDone())
	owner.NFragDone = 2
	assert.True(t, owner.AllFragsDone())
}

func TestNextIDMonotonic(t *testing.T) {
	a := NextID()
	b := NextID()
	assert.Less(t, a, b)
}

// mustFlatten concatenates a chain's unread bytes for assertions that don't
// want to import proto (which would create a cycle back into msg).
func mustFlatten(m *Msg) []byte {
	var out []byte
	for c := m.Head; c != nil; c = c.Next() {
		out = append(out, c.Unread()...)
	}
	return out
}
