// Package server implements the backend server and server-pool model
// described in spec.md §3/§4.8/§4.9: per-backend connection reuse,
// continuum-based routing, and auto-ejection on consecutive failures.
package server

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/lukluk/rendang/internal/rconn"
)

// ErrNoBackend is returned when a pool has no live server to route to.
var ErrNoBackend = errors.New("server: no live backend")

// Server is one backend endpoint identified by name:port:weight.
type Server struct {
	Name   string
	Addr   string
	Weight uint32

	// Conns is the FIFO of open connections to this backend, reused
	// LRU-style: the front is popped and pushed back to the tail on
	// reuse, round-robining client traffic across them.
	Conns list.List

	FailureCount int
	NextRetry    int64 // unix ms; 0 = not ejected

	Pool *Pool
}

// String renders "name (addr w=weight)" for logging.
func (s *Server) String() string {
	return fmt.Sprintf("%s (%s w=%d)", s.Name, s.Addr, s.Weight)
}

// PickConn returns an existing connection to reuse once maxConns (the
// pool's ServerConnections) are already open, moving it to the back of the
// list so reuse round-robins; with fewer open, or none, it returns nil so
// the caller dials a new one.
func (s *Server) PickConn(maxConns int) *rconn.Conn {
	if s.Conns.Len() == 0 {
		return nil
	}
	if s.Conns.Len() >= maxConns {
		front := s.Conns.Front()
		c := front.Value.(*rconn.Conn)
		s.Conns.MoveToBack(front)
		return c
	}
	return nil
}

// AddConn registers a freshly dialed connection to this server.
func (s *Server) AddConn(c *rconn.Conn) *list.Element {
	return s.Conns.PushBack(c)
}

// RemoveConn drops a closed connection from this server's list.
func (s *Server) RemoveConn(e *list.Element) {
	s.Conns.Remove(e)
}

// RecordSuccess resets the failure counter and retry clock after a
// successful response, per spec.md §4.9.
func (s *Server) RecordSuccess() {
	s.FailureCount = 0
	s.NextRetry = 0
}

// RecordFailure increments the consecutive failure counter. The caller
// (pool) decides whether this crosses the ejection threshold.
func (s *Server) RecordFailure() { s.FailureCount++ }
