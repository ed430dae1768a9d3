package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/proto"
	"github.com/lukluk/rendang/internal/proto/memcache"
	"github.com/lukluk/rendang/internal/proto/resp"
	"github.com/lukluk/rendang/internal/rconn"
	"github.com/lukluk/rendang/internal/server"
)

// ensureServerConn returns a connection to srv, reusing an idle one at
// capacity (PickConn's LRU round-robin) or dialing a fresh one, per
// spec.md §4.8.
func (p *Proxy) ensureServerConn(pool *server.Pool, srv *server.Server) (*rconn.Conn, error) {
	if sc := srv.PickConn(pool.ServerConnections); sc != nil {
		return sc, nil
	}
	return p.dialServer(pool, srv)
}

func (p *Proxy) dialServer(pool *server.Pool, srv *server.Server) (*rconn.Conn, error) {
	fd, err := rconn.Dial("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}
	sc := rconn.New(fd, rconn.Server, pool.Redis, p.mbufPool, p.rx)
	sc.Owner = srv
	sc.Connecting = true
	sc.OnRecv = p.serverRecv
	sc.OnSend = p.serverSend
	sc.OnClose = p.serverClose
	if err := p.rx.Add(sc); err != nil {
		return nil, err
	}
	_ = sc.EnableWrite() // arms the writable event that signals connect completion
	srv.AddConn(sc)
	return sc, nil
}

// forwardToServer enqueues sub on its destination's Inbound send queue and
// arms write interest; routing failures are the caller's responsibility.
func (p *Proxy) forwardToServer(pool *server.Pool, srv *server.Server, sub *msg.Msg) error {
	sc, err := p.ensureServerConn(pool, srv)
	if err != nil {
		return err
	}
	sub.BackendConn = sc
	sc.Inbound.PushBack(sub)
	return sc.EnableWrite()
}

// serverSend drains a server connection's Inbound queue, one request at a
// time (in send order, matching the reply order it will read back), per
// spec.md §4.10.
func (p *Proxy) serverSend(sc *rconn.Conn) {
	srv := sc.Owner.(*server.Server)
	if sc.Connecting {
		if err := rconn.ConnectError(sc.FD()); err != nil {
			p.failServerConn(sc, srv, err)
			return
		}
		sc.Connecting = false
	}
	for {
		front := sc.Inbound.Front()
		if front == nil {
			_ = sc.DisableWrite()
			return
		}
		m := front.Value.(*msg.Msg)
		iovecs := m.Iovecs()
		if len(iovecs) == 0 {
			sc.Inbound.Remove(front)
			p.onServerSent(sc, srv, m)
			continue
		}
		n, err := sc.Sendv(iovecs)
		if err != nil {
			p.failServerConn(sc, srv, err)
			return
		}
		if n == 0 {
			_ = sc.EnableWrite()
			return
		}
		m.Consume(n)
		if m.Remaining() == 0 {
			sc.Inbound.Remove(front)
			p.onServerSent(sc, srv, m)
		}
	}
}

// onServerSent moves a fully-sent request onto the Outstanding FIFO to
// await its reply, unless it was sent noreply, in which case it is
// already complete and never gets one.
func (p *Proxy) onServerSent(sc *rconn.Conn, srv *server.Server, m *msg.Msg) {
	if m.NoReply {
		p.releaseMsg(m)
		return
	}
	e := sc.Outstanding.PushBack(m)
	m.ServerOutstandingElem = e
}

// serverRecv parses replies off a backend connection in request order and
// routes each to its owning request (direct or fragment), per spec.md
// §4.10.
func (p *Proxy) serverRecv(sc *rconn.Conn) {
	srv := sc.Owner.(*server.Server)
	buf := make([]byte, p.mbufPool.DataSize())
	for sc.RecvReady {
		n, err := sc.Recv(buf)
		if err != nil {
			p.failServerConn(sc, srv, err)
			return
		}
		if n == 0 {
			return
		}
		rm := sc.RMsg()
		if rm == nil {
			rm = msg.New(sc, false, srv.Pool.Redis, p.mbufPool)
			sc.SetRMsg(rm)
		}
		rm.Append(buf[:n])
		if !p.drainServerResponses(sc, srv) {
			return
		}
	}
}

func (p *Proxy) drainServerResponses(sc *rconn.Conn, srv *server.Server) bool {
	for {
		rm := sc.RMsg()
		if rm == nil || msg.Empty(rm) {
			return true
		}
		front := sc.Outstanding.Front()
		if front == nil {
			p.failServerConn(sc, srv, errParse)
			return false
		}
		req := front.Value.(*msg.Msg)

		reply, hardErr, res := p.collectResponse(rm, srv.Pool.Redis, req)
		switch res {
		case proto.Again, proto.Repair:
			return true
		case proto.Err:
			p.failServerConn(sc, srv, errParse)
			return false
		}

		sc.Outstanding.Remove(front)
		req.ServerOutstandingElem = nil
		p.recordOutcome(srv, hardErr)
		p.resolveReply(srv.Pool, req, reply)
	}
}

// collectResponse reads one logical reply for req starting at rm's
// current position: a single parsed value for RESP, or a streamed run of
// VALUE blocks terminated by END for a memcached get/gets. It returns the
// raw reply bytes, whether the reply counts as a hard (ejection-eligible)
// backend failure per spec.md §7 — a RESP error other than LOADING/BUSY/
// OOM/NOAUTH, or a memcached SERVER_ERROR — and the terminal parse result.
func (p *Proxy) collectResponse(rm *msg.Msg, redis bool, req *msg.Msg) (*msg.Msg, bool, proto.Result) {
	reply := msg.New(nil, false, redis, p.mbufPool)
	isGetFamily := !redis && memcache.IsMultiGet(memcache.Cmd(int(req.Type)-int(msg.CmdBaseMemcache)))
	for {
		buf := proto.Flatten(rm.Head)
		var r proto.Result
		var n int
		if redis {
			r, n = resp.ParseResponse(rm)
		} else {
			r, n = memcache.ParseResponse(rm)
		}
		if r != proto.OK {
			msg.Put(reply)
			return nil, false, r
		}
		reply.Append(buf[:n])
		rm.Consume(n)

		if redis {
			hardErr := resp.Kind(rm) == resp.RspError && resp.ClassifyError(buf[1:n]) != resp.ErrTransient
			return reply, hardErr, proto.OK
		}
		kind := memcache.Kind(rm)
		if isGetFamily && kind != memcache.RspEnd {
			continue
		}
		return reply, kind == memcache.RspServerError, proto.OK
	}
}

// recordOutcome updates a backend's health counters from one reply, per
// spec.md §4.9: transient errors (RESP LOADING/BUSY/...) and normal
// replies both count as success; only a hard server-side error counts as
// a failure eligible for auto-ejection.
func (p *Proxy) recordOutcome(srv *server.Server, hardErr bool) {
	pool := srv.Pool
	if hardErr {
		srv.RecordFailure()
		pool.IncrServer(srv, "server_err", 1)
		if pool.AutoEjectHosts && srv.FailureCount >= pool.ServerFailureLimit {
			now := nowMs()
			pool.Eject(srv, now)
			p.log.WithFields(logrus.Fields{"pool": pool.Name, "server": srv.Name}).Warn("server ejected")
		}
		return
	}
	srv.RecordSuccess()
}

// failServerConn tears a backend connection down, synthesizing a forward-
// error reply for every request still outstanding or queued on it, and
// counts the failure against the server's ejection threshold.
func (p *Proxy) failServerConn(sc *rconn.Conn, srv *server.Server, reason error) {
	pool := srv.Pool
	srv.RecordFailure()
	if pool.AutoEjectHosts && srv.FailureCount >= pool.ServerFailureLimit {
		pool.Eject(srv, nowMs())
		p.log.WithFields(logrus.Fields{"pool": pool.Name, "server": srv.Name}).Warn("server ejected")
	}
	for e := sc.Outstanding.Front(); e != nil; e = e.Next() {
		p.failRequest(e.Value.(*msg.Msg), reason)
	}
	for e := sc.Inbound.Front(); e != nil; e = e.Next() {
		p.failRequest(e.Value.(*msg.Msg), reason)
	}
	p.closeConn(sc, reason)
}

func (p *Proxy) serverClose(sc *rconn.Conn, reason error) {
	srv := sc.Owner.(*server.Server)
	for e := srv.Conns.Front(); e != nil; e = e.Next() {
		if e.Value.(*rconn.Conn) == sc {
			srv.RemoveConn(e)
			break
		}
	}
	if m := sc.RMsg(); m != nil {
		msg.Put(m)
	}
}
