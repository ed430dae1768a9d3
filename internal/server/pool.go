package server

import (
	"container/list"

	"github.com/lukluk/rendang/internal/hashkit"
	"github.com/lukluk/rendang/internal/rconn"
	"github.com/lukluk/rendang/internal/stats"
)

// Config is the per-pool configuration named in spec.md §6.
type Config struct {
	Name               string
	Listen             string
	Hash               hashkit.Name
	Distribution       hashkit.Distribution
	HashTag            string
	TimeoutMs          int64 // <0 = no timeout
	Backlog            int
	ClientConnections  int // 0 = unlimited
	Redis              bool
	Preconnect         bool
	AutoEjectHosts     bool
	ServerConnections  int
	ServerRetryTimeoutMs int64
	ServerFailureLimit int
}

// Pool is a named group of servers sharing one distribution.
type Pool struct {
	Config

	Servers  []*Server
	Listener *rconn.Conn
	Clients  list.List // *rconn.Conn

	continuum   *hashkit.Continuum
	nliveServer int
	nextRebuild int64

	hashFn hashkit.HashFunc

	// Stats is the counter set the pipeline increments for this pool and
	// its servers; nil when running without a stats aggregator.
	Stats *stats.PoolStats
}

// NewPool constructs a pool with its servers and an initial continuum.
func NewPool(cfg Config, servers []*Server) *Pool {
	p := &Pool{Config: cfg, Servers: servers}
	for _, s := range servers {
		s.Pool = p
	}
	p.hashFn = hashkit.Lookup(cfg.Hash)
	p.Rebuild()
	return p
}

// liveServers returns the current live subset as hashkit.WeightedServer,
// indexed into p.Servers.
func (p *Pool) liveServers() []hashkit.WeightedServer {
	var live []hashkit.WeightedServer
	for i, s := range p.Servers {
		if s.NextRetry == 0 {
			live = append(live, hashkit.WeightedServer{Name: s.Name, Weight: s.Weight, Index: i})
		}
	}
	return live
}

// Rebuild recomputes the live set and continuum. Called on initial
// configuration load and whenever NLiveServer changes (ejection or a
// successful retry), per spec.md §4.7.
func (p *Pool) Rebuild() {
	live := p.liveServers()
	p.nliveServer = len(live)
	p.continuum = hashkit.Build(p.Distribution, live)
}

// NLiveServer returns the number of currently non-ejected servers.
func (p *Pool) NLiveServer() int { return p.nliveServer }

// SetNextRebuild records the next time auto-eject retries should be
// reconsidered.
func (p *Pool) SetNextRebuild(whenMs int64) { p.nextRebuild = whenMs }

// NextRebuildDue reports whether nowMs has passed nextRebuild.
func (p *Pool) NextRebuildDue(nowMs int64) bool { return p.nextRebuild != 0 && nowMs >= p.nextRebuild }

// RoutingKey applies hash-tag extraction (Redis only; memcached has no
// hash-tag concept) to derive the bytes actually hashed for routing.
func (p *Pool) RoutingKey(key []byte) []byte {
	if !p.Redis || len(p.HashTag) != 2 {
		return key
	}
	return hashkit.HashTag(key, p.HashTag)
}

// Route selects a backend for a routing key, per spec.md §4.8:
//  1. a single server or an empty key always routes to index 0,
//  2. otherwise dispatch through the configured distributor.
func (p *Pool) Route(key []byte) (*Server, error) {
	if len(p.Servers) == 1 || len(key) == 0 {
		return p.liveOrFirst(0), p.checkLive()
	}
	if p.nliveServer == 0 {
		return nil, ErrNoBackend
	}
	var idx int
	switch p.Distribution {
	case hashkit.Random:
		idx = hashkit.DispatchRandom(p.nliveServer)
		idx = p.liveIndexAt(idx)
	default:
		idx = p.continuum.Dispatch(p.hashFn(key))
	}
	if idx < 0 || idx >= len(p.Servers) {
		return nil, ErrNoBackend
	}
	return p.Servers[idx], nil
}

func (p *Pool) checkLive() error {
	if p.nliveServer == 0 && len(p.Servers) > 1 {
		return ErrNoBackend
	}
	return nil
}

func (p *Pool) liveOrFirst(i int) *Server {
	if i < len(p.Servers) {
		return p.Servers[i]
	}
	return nil
}

// liveIndexAt maps the n-th live server (0-based, in Servers order) to its
// absolute index in Servers, for the random distributor.
func (p *Pool) liveIndexAt(n int) int {
	count := 0
	for i, s := range p.Servers {
		if s.NextRetry == 0 {
			if count == n {
				return i
			}
			count++
		}
	}
	return -1
}

// Eject marks server s ejected: sets its retry clock, zeroes its failure
// counter, and triggers a continuum rebuild, per spec.md §4.9.
func (p *Pool) Eject(s *Server, nowMs int64) {
	s.NextRetry = nowMs + p.ServerRetryTimeoutMs
	s.FailureCount = 0
	p.Rebuild()
}

// Retry clears a server's ejection, allowing it back into the continuum.
// It does not check that the server is reachable: the reactor loop calls
// it as soon as the retry clock has passed, and a server that still fails
// is counted again through the normal failure path.
func (p *Pool) Retry(s *Server) {
	s.NextRetry = 0
	p.Rebuild()
}

// IncrPool bumps a pool-level counter, a no-op when no aggregator is wired.
func (p *Pool) IncrPool(name string, delta int64) {
	if p.Stats == nil {
		return
	}
	p.Stats.Pool.Incr(name, delta)
}

// IncrServer bumps a per-server counter, a no-op when no aggregator is
// wired or the server has no counter set registered.
func (p *Pool) IncrServer(s *Server, name string, delta int64) {
	if p.Stats == nil {
		return
	}
	if c, ok := p.Stats.Servers[s.Name]; ok {
		c.Incr(name, delta)
	}
}

// RetryDue reports whether an ejected server's retry clock has passed.
func (p *Pool) RetryDue(s *Server, nowMs int64) bool {
	return s.NextRetry != 0 && nowMs >= s.NextRetry
}
