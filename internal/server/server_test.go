package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukluk/rendang/internal/mbuf"
	"github.com/lukluk/rendang/internal/rconn"
	"github.com/lukluk/rendang/internal/reactor"
)

// noopReactor satisfies rconn.Reactor without touching any real epoll fd;
// tests here only exercise Server's connection-list bookkeeping.
type noopReactor struct{}

func (noopReactor) EnableWrite(reactor.Handler) error  { return nil }
func (noopReactor) DisableWrite(reactor.Handler) error { return nil }
func (noopReactor) Del(reactor.Handler) error          { return nil }

func newConn(fd int) *rconn.Conn {
	return rconn.New(fd, rconn.Server, false, mbuf.NewPool(256), noopReactor{})
}

func TestPickConnReturnsNilBelowCapacity(t *testing.T) {
	s := &Server{Name: "a", Addr: "127.0.0.1:1"}
	c := newConn(1)
	s.AddConn(c)
	assert.Nil(t, s.PickConn(2)) // only 1 conn open, cap is 2: room to dial another
}

func TestPickConnReusesAtCapacityRoundRobin(t *testing.T) {
	s := &Server{Name: "a", Addr: "127.0.0.1:1"}
	c1 := newConn(1)
	c2 := newConn(2)
	s.AddConn(c1)
	s.AddConn(c2)

	got := s.PickConn(2)
	require.NotNil(t, got)
	assert.Same(t, c1, got) // front of the FIFO

	got2 := s.PickConn(2)
	assert.Same(t, c2, got2) // c1 was moved to the back on reuse
}

func TestPickConnEmptyReturnsNil(t *testing.T) {
	s := &Server{Name: "a", Addr: "127.0.0.1:1"}
	assert.Nil(t, s.PickConn(4))
}

func TestRemoveConnDropsFromList(t *testing.T) {
	s := &Server{Name: "a", Addr: "127.0.0.1:1"}
	c := newConn(1)
	e := s.AddConn(c)
	require.Equal(t, 1, s.Conns.Len())
	s.RemoveConn(e)
	assert.Equal(t, 0, s.Conns.Len())
}

func TestRecordFailureAndSuccess(t *testing.T) {
	s := &Server{Name: "a"}
	s.RecordFailure()
	s.RecordFailure()
	assert.Equal(t, 2, s.FailureCount)

	s.NextRetry = 12345
	s.RecordSuccess()
	assert.Equal(t, 0, s.FailureCount)
	assert.Equal(t, int64(0), s.NextRetry)
}

func TestStringRendersNameAddrWeight(t *testing.T) {
	s := &Server{Name: "cache1", Addr: "10.0.0.1:11211", Weight: 3}
	assert.Equal(t, "cache1 (10.0.0.1:11211 w=3)", s.String())
}
