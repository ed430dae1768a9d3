package pipeline

import (
	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
	"github.com/lukluk/rendang/internal/proto/memcache"
	"github.com/lukluk/rendang/internal/proto/resp"
	"github.com/lukluk/rendang/internal/rconn"
	"github.com/lukluk/rendang/internal/server"
)

// clientRecv reads and parses as many pipelined requests as the socket
// has ready, per spec.md §4.4/§4.10.
func (p *Proxy) clientRecv(c *rconn.Conn) {
	pool := c.Owner.(*server.Pool)
	buf := make([]byte, p.mbufPool.DataSize())
	for c.RecvReady {
		n, err := c.Recv(buf)
		if err != nil {
			p.closeConn(c, err)
			return
		}
		if n == 0 {
			return
		}
		m := c.RMsg()
		if m == nil {
			m = msg.New(c, true, pool.Redis, p.mbufPool)
			c.SetRMsg(m)
		}
		m.Append(buf[:n])
		if !p.drainClientRequests(c, pool) {
			return
		}
	}
}

// drainClientRequests pulls every complete request out of the client's
// partial-receive message and dispatches it, leaving any trailing
// pipelined bytes in a fresh partial message. It returns false if the
// connection was closed due to a parse error.
func (p *Proxy) drainClientRequests(c *rconn.Conn, pool *server.Pool) bool {
	for {
		m := c.RMsg()
		if m == nil || msg.Empty(m) {
			return true
		}
		var res proto.Result
		var n int
		if pool.Redis {
			res, n = resp.ParseRequest(m, pool.HashTag)
		} else {
			res, n = memcache.ParseRequest(m)
		}
		switch res {
		case proto.Again, proto.Repair:
			// Repair collapses to Again here: Append always has room to
			// grow the chain with a fresh chunk, so there is no separate
			// compaction step to perform (see DESIGN.md).
			return true
		case proto.Err:
			p.closeConn(c, errParse)
			return false
		}

		leftover := p.mbufPool.SplitChainAt(m.Head, n)
		if leftover != nil {
			next := msg.New(c, true, pool.Redis, p.mbufPool)
			next.AdoptChain(leftover)
			c.SetRMsg(next)
		} else {
			c.SetRMsg(nil)
		}
		p.dispatchRequest(c, pool, m, res == proto.Fragment)
	}
}

// dispatchRequest routes one fully parsed request: a locally-answered
// command, a quit, a single-backend forward, or a multi-key fragment
// set, per spec.md §4.10.
func (p *Proxy) dispatchRequest(c *rconn.Conn, pool *server.Pool, m *msg.Msg, fragment bool) {
	m.Owner = c

	if m.Quit {
		c.EOF = true
		msg.Put(m)
		if !c.Active() {
			p.closeConn(c, errClosed)
		}
		return
	}

	if m.NoForward {
		reply := msg.New(nil, false, pool.Redis, p.mbufPool)
		reply.Append(m.LocalReply)
		msg.Pair(m, reply)
		m.Done = true
		p.queueOutstanding(c, m)
		p.clientSend(c)
		return
	}

	p.queueOutstanding(c, m)
	if pool.TimeoutMs >= 0 {
		p.tmo.Insert(m, nowMs()+pool.TimeoutMs)
	}
	if fragment {
		p.dispatchFragmented(pool, m)
	} else {
		p.dispatchSingle(pool, m)
	}
	p.clientSend(c)
}

// queueOutstanding places m on the client's reply-ordering queue, unless
// it was sent noreply and will never produce output.
func (p *Proxy) queueOutstanding(c *rconn.Conn, m *msg.Msg) {
	if m.NoReply {
		return
	}
	e := c.Outstanding.PushBack(m)
	m.ClientOutstandingElem = e
}

// dispatchSingle routes and forwards a non-fragmented request to its one
// backend, synthesizing an error reply in place if routing or forwarding
// fails outright.
func (p *Proxy) dispatchSingle(pool *server.Pool, m *msg.Msg) {
	var key []byte
	if len(m.Keys) > 0 {
		key = m.Keys[0].Raw
	}
	srv, err := pool.Route(pool.RoutingKey(key))
	if err != nil {
		p.synthesizeError(m, errNoServer)
		return
	}
	if err := p.forwardToServer(pool, srv, m); err != nil {
		p.synthesizeError(m, errForward)
	}
}

// clientSend drains the client's Outstanding queue strictly in arrival
// order: the head must be Done before anything sends, preserving P2
// response ordering even when a later request's backend answers first.
func (p *Proxy) clientSend(c *rconn.Conn) {
	for {
		front := c.Outstanding.Front()
		if front == nil {
			_ = c.DisableWrite()
			if c.EOF && !c.Active() {
				p.closeConn(c, errClosed)
			}
			return
		}
		m := front.Value.(*msg.Msg)
		if !m.Done {
			return
		}
		reply := m.Peer
		if reply == nil || reply.Remaining() == 0 {
			c.Outstanding.Remove(front)
			msg.Put(m)
			if reply != nil {
				msg.Put(reply)
			}
			continue
		}
		n, err := c.Sendv(reply.Iovecs())
		if err != nil {
			p.closeConn(c, err)
			return
		}
		if n == 0 {
			_ = c.EnableWrite()
			return
		}
		reply.Consume(n)
		if reply.Remaining() == 0 {
			c.Outstanding.Remove(front)
			msg.Put(m)
			msg.Put(reply)
		}
	}
}

// clientClose releases everything still in flight on a client connection:
// its partial-receive buffer and every outstanding request (each of
// which, if mid-fragment, still needs its share of backend replies
// swallowed — see Msg.FragOwner checks in resolveFragment, which tolerate
// an owner whose client already vanished).
func (p *Proxy) clientClose(c *rconn.Conn, reason error) {
	pool := c.Owner.(*server.Pool)
	for e := pool.Clients.Front(); e != nil; e = e.Next() {
		if e.Value.(*rconn.Conn) == c {
			pool.Clients.Remove(e)
			break
		}
	}
	pool.IncrPool("curr_connections", -1)
	if p.stats != nil {
		p.stats.IncrCurrConnections(-1)
	}
	if m := c.RMsg(); m != nil {
		msg.Put(m)
	}
	for e := c.Outstanding.Front(); e != nil; e = e.Next() {
		m := e.Value.(*msg.Msg)
		p.tmo.Delete(m)
		if m.Peer != nil {
			msg.Put(m.Peer)
		}
		msg.Put(m)
	}
}
