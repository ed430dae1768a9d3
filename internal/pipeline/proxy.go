// Package pipeline wires the reactor, the connection objects, the
// protocol parsers, the server pool and the timeout index into the
// request/response flow described in spec.md §4.10: parse, route,
// fragment, forward, coalesce, reply.
package pipeline

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lukluk/rendang/internal/mbuf"
	"github.com/lukluk/rendang/internal/msg"
	"github.com/lukluk/rendang/internal/rconn"
	"github.com/lukluk/rendang/internal/reactor"
	"github.com/lukluk/rendang/internal/server"
	"github.com/lukluk/rendang/internal/stats"
	"github.com/lukluk/rendang/internal/timeout"
)

// Proxy is the single-threaded event loop that owns every connection, the
// mbuf pool, the timeout index and the server pools it was configured
// with. Nothing here is safe to touch from another goroutine; the stats
// aggregator is the one piece of shared state, and it only ever reads
// values the reactor goroutine wrote a moment before under Swap's atomic
// handshake (see internal/stats).
type Proxy struct {
	rx       *reactor.Base
	mbufPool *mbuf.Pool
	tmo      *timeout.Index
	log      *logrus.Logger
	stats    *stats.Aggregator
	pools    []*server.Pool

	nextFragID uint64
}

// NewProxy constructs a proxy bound to pools, ready to have its listeners
// started and its loop run.
func NewProxy(pools []*server.Pool, mbufPool *mbuf.Pool, log *logrus.Logger, agg *stats.Aggregator) (*Proxy, error) {
	rx, err := reactor.Create(1024)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &Proxy{
		rx:       rx,
		mbufPool: mbufPool,
		tmo:      timeout.NewIndex(),
		log:      log,
		stats:    agg,
		pools:    pools,
	}, nil
}

// Start opens and registers every pool's listening socket.
func (p *Proxy) Start() error {
	for _, pool := range p.pools {
		if err := p.startListener(pool); err != nil {
			return fmt.Errorf("pipeline: pool %s: %w", pool.Name, err)
		}
		if pool.Preconnect {
			p.preconnectAll(pool)
		}
	}
	return nil
}

// Run drives the reactor loop until stop is closed. Each iteration waits
// for the earliest of (a) the next ready I/O event or (b) the next
// scheduled timeout, then expires anything due and swaps every pool's
// stats counters, per spec.md §4.9/§4.11.
func (p *Proxy) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		waitMs := p.nextWaitMs()
		if _, err := p.rx.Wait(waitMs); err != nil {
			return fmt.Errorf("pipeline: reactor wait: %w", err)
		}
		p.expireTimeouts()
		if p.stats != nil {
			p.stats.SwapAll()
		}
		p.retryEjected()
	}
}

func (p *Proxy) nextWaitMs() int {
	_, deadline := p.tmo.Min()
	if deadline == 0 {
		return 1000 // idle tick, long enough to be cheap, short enough to notice retry windows
	}
	now := nowMs()
	if deadline <= now {
		return 0
	}
	d := deadline - now
	if d > 1000 {
		d = 1000
	}
	return int(d)
}

// expireTimeouts closes out every request whose deadline has passed, per
// spec.md §4.9.
func (p *Proxy) expireTimeouts() {
	now := nowMs()
	for _, m := range p.tmo.PopExpired(now) {
		p.expireRequest(m)
	}
}

// expireRequest handles one timed-out request by closing the backend
// connection(s) it is still sitting on. A request freed and answered in
// place while still linked into a live server connection's Inbound or
// Outstanding queue leaves that queue holding a stale reference: when the
// backend's reply for it eventually arrives, it gets paired against an
// already-recycled Msg/mbuf chain. Closing the connection instead routes
// every request still queued on it (this one included) through
// failServerConn's single error-completion path, and bumps the server's
// failure/ejection counters the same way a real backend error would.
func (p *Proxy) expireRequest(m *msg.Msg) {
	if m.NFrag == 0 {
		if p.closeBackendConn(m, errTimedOut) {
			return
		}
		p.failRequest(m, errTimedOut)
		return
	}
	closedAny := false
	for _, sub := range m.Frags {
		if sub.Head == nil {
			// already resolved or failed before the owner's deadline hit;
			// its backend connection may be serving unrelated traffic
			// fine and has nothing of this request left queued on it.
			continue
		}
		if p.closeBackendConn(sub, errTimedOut) {
			closedAny = true
		}
	}
	if !closedAny && !m.Done {
		// no live fragment connection to close (every fragment already
		// failed some other way); fall back to winding the owner down
		// directly.
		p.failRequest(m, errTimedOut)
	}
}

// closeBackendConn closes the live server connection m was forwarded to,
// if any, error-completing everything still queued on it. It reports
// whether it found and closed one.
func (p *Proxy) closeBackendConn(m *msg.Msg, cause error) bool {
	sc, ok := m.BackendConn.(*rconn.Conn)
	if !ok || sc == nil || sc.Closed {
		return false
	}
	srv, ok := sc.Owner.(*server.Server)
	if !ok {
		return false
	}
	p.failServerConn(sc, srv, cause)
	return true
}

func (p *Proxy) retryEjected() {
	now := nowMs()
	for _, pool := range p.pools {
		if !pool.AutoEjectHosts {
			continue
		}
		for _, s := range pool.Servers {
			if pool.RetryDue(s, now) {
				p.log.WithFields(logrus.Fields{"pool": pool.Name, "server": s.Name}).Info("retrying ejected server")
				pool.Retry(s)
				pool.IncrServer(s, "server_ejected_at", 0)
			}
		}
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// closeConn tears down a connection: closes its fd, deregisters its
// timeout-scheduled messages and releases their buffers, and invokes the
// owner-specific cleanup via OnClose.
func (p *Proxy) closeConn(c *rconn.Conn, reason error) {
	if c.Closed {
		return
	}
	if c.OnClose != nil {
		c.OnClose(c, reason)
	}
	_ = c.Close()
}

// releaseMsg removes m from the timeout index (if scheduled) and returns
// its buffer to the pool.
func (p *Proxy) releaseMsg(m *msg.Msg) {
	p.tmo.Delete(m)
	msg.Put(m)
}
