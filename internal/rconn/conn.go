// Package rconn implements the per-socket connection object described in
// spec.md §4.3: message queues, the single partially-received/partially-
// sent message slots, and the readiness flags the reactor drives.
package rconn

import (
	"container/list"
	"sync/atomic"

	"github.com/lukluk/rendang/internal/mbuf"
	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/reactor"
)

// Kind tags what a connection is for.
type Kind int

const (
	Client Kind = iota
	Server
	Listener
)

// Reactor is the subset of reactor.Base a connection needs to toggle its
// own write interest and deregister itself.
type Reactor interface {
	EnableWrite(h reactor.Handler) error
	DisableWrite(h reactor.Handler) error
	Del(h reactor.Handler) error
}

var idSeq uint64

// Conn is a client, server, or listener socket plus its message queues.
type Conn struct {
	id    uint64
	fd    int
	kind  Kind
	redis bool

	pool *mbuf.Pool
	rx   Reactor

	// Inbound is populated only for server connections: requests queued
	// toward the backend, FIFO send order.
	Inbound list.List
	// Outstanding holds messages awaiting a paired reply. For a client
	// it is arrival order; for a server it is on-wire-send order.
	Outstanding list.List

	rmsg *msg.Msg // partially received message
	smsg *msg.Msg // partially sent message

	RecvActive, RecvReady bool
	SendActive, SendReady bool
	EOF                   bool
	Closed                bool

	// Connecting is true from Dial until the first writable event
	// confirms (or refutes) a non-blocking connect; only meaningful for
	// Kind == Server.
	Connecting bool

	// Dispatch callbacks bound at creation time, per spec.md §4.3: a
	// client binds request-parsing recv and response-emitting send; a
	// server binds response-parsing recv and request-emitting send; a
	// listener binds accept-recv only.
	OnRecv  func(c *Conn)
	OnSend  func(c *Conn)
	OnClose func(c *Conn, reason error)

	// Owner is an opaque back-reference (e.g. *server.Server for a
	// server connection, *server.Pool for a client/listener), read by
	// the pipeline through a type assertion; rconn itself never
	// interprets it.
	Owner interface{}
}

// New returns a zeroed connection bound to fd, with dispatch callbacks
// left for the caller to assign.
func New(fd int, kind Kind, isRedis bool, pool *mbuf.Pool, rx Reactor) *Conn {
	return &Conn{
		id:    atomic.AddUint64(&idSeq, 1),
		fd:    fd,
		kind:  kind,
		redis: isRedis,
		pool:  pool,
		rx:    rx,
	}
}

// ConnID returns the connection's process-local id, used in log fields and
// as a map key by the pipeline.
func (c *Conn) ConnID() uint64 { return c.id }

// FD implements reactor.Handler.
func (c *Conn) FD() int { return c.fd }

// Kind reports what this connection is for.
func (c *Conn) Kind() Kind { return c.kind }

// IsRedis reports the protocol this connection's listener was bound for.
func (c *Conn) IsRedis() bool { return c.redis }

// RMsg returns the current partially-received message, or nil.
func (c *Conn) RMsg() *msg.Msg { return c.rmsg }

// SetRMsg sets the current partially-received message.
func (c *Conn) SetRMsg(m *msg.Msg) { c.rmsg = m }

// SMsg returns the current partially-sent message, or nil.
func (c *Conn) SMsg() *msg.Msg { return c.smsg }

// SetSMsg sets the current partially-sent message.
func (c *Conn) SetSMsg(m *msg.Msg) { c.smsg = m }

// Active reports whether the connection has any in-flight state: a
// partial message, or a non-empty queue. A server connection is safe to
// close only when this is false.
func (c *Conn) Active() bool {
	return c.rmsg != nil || c.smsg != nil || c.Inbound.Len() > 0 || c.Outstanding.Len() > 0
}

// EnableWrite arms write-readiness notification via the owning reactor.
// The reactor call is made even when write interest is already armed, so
// a socket that is already writable is reported again on the next wait.
func (c *Conn) EnableWrite() error {
	c.SendActive = true
	return c.rx.EnableWrite(c)
}

// DisableWrite disarms write-readiness notification.
func (c *Conn) DisableWrite() error {
	if !c.SendActive {
		return nil
	}
	c.SendActive = false
	return c.rx.DisableWrite(c)
}

// OnEvents implements reactor.Handler: it normalizes an edge-triggered
// wake into recv/send dispatch, looping each until EAGAIN (RecvReady/
// SendReady flip false), matching spec.md §4.4.
func (c *Conn) OnEvents(mask reactor.Mask) {
	if c.Closed {
		return
	}
	if mask&reactor.ErrMask != 0 {
		if c.OnClose != nil {
			c.OnClose(c, errConnError)
		}
		return
	}
	if mask&reactor.Readable != 0 {
		c.RecvReady = true
	}
	if mask&reactor.Writable != 0 {
		c.SendReady = true
	}
	if c.RecvReady && c.OnRecv != nil {
		c.OnRecv(c)
	}
	if c.Closed {
		return
	}
	if c.SendReady && c.OnSend != nil {
		c.OnSend(c)
	}
}

// Pool exposes the connection's mbuf pool to callback implementations.
func (c *Conn) Pool() *mbuf.Pool { return c.pool }

var errConnError = connError{}

type connError struct{}

func (connError) Error() string { return "connection error" }
