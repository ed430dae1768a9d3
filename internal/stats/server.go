package stats

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PoolStats is one pool's counters plus its per-server counters, keyed by
// server name.
type PoolStats struct {
	Pool    *Counters
	Servers map[string]*Counters
}

// Aggregator is the side-thread worker described in spec.md §4.11: it owns
// `shadow`, aggregates into `sum`, and serves a legacy JSON dump (and its
// plaintext twin, supplemented from original_source/nc_introspect.c per
// SPEC_FULL.md §12) over a raw TCP listener. It also builds a Prometheus
// Collector over the same counters (see Collector); no HTTP endpoint
// serves that collector.
type Aggregator struct {
	Service   string
	Source    string
	Version   string
	startedAt time.Time

	Pools map[string]*PoolStats

	log *logrus.Logger

	totalConns int64
	currConns  int64

	collector *Collector
}

// NewAggregator constructs an aggregator over the named pools.
func NewAggregator(service, version string, pools map[string]*PoolStats, log *logrus.Logger) *Aggregator {
	a := &Aggregator{
		Service:   service,
		Source:    "rendang",
		Version:   version,
		startedAt: time.Now(),
		Pools:     pools,
		log:       log,
	}
	a.collector = newCollector(a)
	return a
}

// IncrTotalConnections and IncrCurrConnections track the process-wide
// connection counters reported at the top level of the JSON dump.
func (a *Aggregator) IncrTotalConnections(delta int64) { a.totalConns += delta }
func (a *Aggregator) IncrCurrConnections(delta int64)  { a.currConns += delta }

// SwapAll runs one Swap pass across every pool/server counter set; called
// once per reactor loop iteration.
func (a *Aggregator) SwapAll() {
	for _, ps := range a.Pools {
		ps.Pool.Swap()
		for _, sc := range ps.Servers {
			sc.Swap()
		}
	}
}

// snapshot aggregates every counter set under BeginAggregate/EndAggregate
// and returns a JSON-ready nested map.
func (a *Aggregator) snapshot() map[string]interface{} {
	out := map[string]interface{}{
		"service":           a.Service,
		"source":            a.Source,
		"version":           a.Version,
		"uptime":            int64(time.Since(a.startedAt).Seconds()),
		"timestamp":         time.Now().Unix(),
		"total_connections": a.totalConns,
		"curr_connections":  a.currConns,
	}
	for name, ps := range a.Pools {
		ps.Pool.BeginAggregate()
		poolMetrics := ps.Pool.Aggregate()
		ps.Pool.EndAggregate()

		poolOut := make(map[string]interface{}, len(poolMetrics)+len(ps.Servers))
		for k, v := range poolMetrics {
			poolOut[k] = v
		}
		for srvName, sc := range ps.Servers {
			sc.BeginAggregate()
			srvMetrics := sc.Aggregate()
			sc.EndAggregate()
			srvOut := make(map[string]interface{}, len(srvMetrics))
			for k, v := range srvMetrics {
				srvOut[k] = v
			}
			poolOut[srvName] = srvOut
		}
		out[name] = poolOut
	}
	return out
}

// ServeTCP listens on addr; every connect triggers one JSON dump (or, if
// the first byte read is '?', a plaintext dump) of the latest aggregated
// counters, then closes, per spec.md §6 and its nc_introspect.c
// supplement.
func (a *Aggregator) ServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("stats: listen %s: %w", addr, err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				a.log.WithError(err).Warn("stats: accept failed")
				return
			}
			go a.serveOne(conn)
		}
	}()
	return nil
}

func (a *Aggregator) serveOne(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	peek := make([]byte, 1)
	n, _ := conn.Read(peek)
	snap := a.snapshot()
	if n == 1 && peek[0] == '?' {
		fmt.Fprint(conn, renderPlaintext(snap))
		return
	}
	enc := json.NewEncoder(conn)
	if err := enc.Encode(snap); err != nil {
		a.log.WithError(err).Warn("stats: encode failed")
	}
}

func renderPlaintext(snap map[string]interface{}) string {
	s := ""
	for k, v := range snap {
		s += fmt.Sprintf("%s: %v\n", k, v)
	}
	return s
}

// Collector exposes the same counters as Prometheus gauges, grounded on
// canonical-redis_exporter's client_golang usage.
type Collector struct {
	a    *Aggregator
	desc *prometheus.Desc
}

func newCollector(a *Aggregator) *Collector {
	return &Collector{
		a:    a,
		desc: prometheus.NewDesc("rendang_pool_metric", "rendang per-pool/server counter", []string{"pool", "server", "metric"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for poolName, ps := range c.a.Pools {
		ps.Pool.BeginAggregate()
		for k, v := range ps.Pool.Aggregate() {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v), poolName, "", k)
		}
		ps.Pool.EndAggregate()
		for srvName, sc := range ps.Servers {
			sc.BeginAggregate()
			for k, v := range sc.Aggregate() {
				ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v), poolName, srvName, k)
			}
			sc.EndAggregate()
		}
	}
}

// Collector returns the Prometheus collector backing this aggregator's
// counters, for registration on an HTTP mux alongside ServeTCP's raw
// socket dump.
func (a *Aggregator) Collector() *Collector { return a.collector }
