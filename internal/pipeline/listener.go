package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/lukluk/rendang/internal/rconn"
	"github.com/lukluk/rendang/internal/reactor"
	"github.com/lukluk/rendang/internal/server"
)

func (p *Proxy) startListener(pool *server.Pool) error {
	fd, err := rconn.Listen(pool.Listen, pool.Backlog)
	if err != nil {
		return err
	}
	lc := rconn.New(fd, rconn.Listener, pool.Redis, p.mbufPool, p.rx)
	lc.Owner = pool
	lc.OnRecv = p.acceptLoop
	if err := p.rx.Add(lc); err != nil {
		return err
	}
	pool.Listener = lc
	p.log.WithFields(logrus.Fields{"pool": pool.Name, "addr": pool.Listen}).Info("listening")
	return nil
}

// acceptLoop drains every connection pending on a listener in one
// edge-triggered wake, per spec.md §4.4.
func (p *Proxy) acceptLoop(lc *rconn.Conn) {
	pool := lc.Owner.(*server.Pool)
	for {
		fd, err := rconn.Accept(lc.FD())
		if err != nil {
			p.log.WithError(err).Warn("accept failed")
			lc.RecvReady = false
			return
		}
		if fd < 0 {
			return
		}
		if pool.ClientConnections > 0 && pool.Clients.Len() >= pool.ClientConnections {
			_ = rconn.CloseFD(fd)
			continue
		}
		cc := rconn.New(fd, rconn.Client, pool.Redis, p.mbufPool, p.rx)
		cc.Owner = pool
		cc.OnRecv = p.clientRecv
		cc.OnSend = p.clientSend
		cc.OnClose = p.clientClose
		if err := p.rx.Add(cc); err != nil {
			p.log.WithError(err).Warn("register client conn failed")
			continue
		}
		pool.Clients.PushBack(cc)
		pool.IncrPool("total_connections", 1)
		pool.IncrPool("curr_connections", 1)
		if p.stats != nil {
			p.stats.IncrTotalConnections(1)
			p.stats.IncrCurrConnections(1)
		}
	}
}

func (p *Proxy) preconnectAll(pool *server.Pool) {
	for _, s := range pool.Servers {
		for i := 0; i < pool.ServerConnections; i++ {
			if _, err := p.dialServer(pool, s); err != nil {
				p.log.WithError(err).WithField("server", s.Name).Warn("preconnect failed")
			}
		}
	}
}

var _ reactor.Handler = (*rconn.Conn)(nil)
