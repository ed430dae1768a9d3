package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator() *Aggregator {
	pools := map[string]*PoolStats{
		"cache": {
			Pool: NewCounters(),
			Servers: map[string]*Counters{
				"node1": NewCounters(),
			},
		},
	}
	return NewAggregator("rendang", "test", pools, logrus.New())
}

func TestIncrTotalAndCurrConnections(t *testing.T) {
	a := newTestAggregator()
	a.IncrTotalConnections(3)
	a.IncrCurrConnections(1)
	a.IncrCurrConnections(1)
	assert.Equal(t, int64(3), a.totalConns)
	assert.Equal(t, int64(2), a.currConns)
}

func TestSwapAllSwapsEveryPoolAndServerCounter(t *testing.T) {
	a := newTestAggregator()
	ps := a.Pools["cache"]
	ps.Pool.Incr("hits", 1)
	ps.Servers["node1"].Incr("server_err", 1)

	a.SwapAll()

	ps.Pool.BeginAggregate()
	poolSnap := ps.Pool.Aggregate()
	ps.Pool.EndAggregate()
	assert.Equal(t, int64(1), poolSnap["hits"])

	sc := ps.Servers["node1"]
	sc.BeginAggregate()
	srvSnap := sc.Aggregate()
	sc.EndAggregate()
	assert.Equal(t, int64(1), srvSnap["server_err"])
}

func TestSnapshotIncludesTopLevelAndNestedCounters(t *testing.T) {
	a := newTestAggregator()
	a.IncrTotalConnections(5)
	ps := a.Pools["cache"]
	ps.Pool.Incr("total_requests", 10)
	ps.Servers["node1"].Incr("server_timedout", 2)
	a.SwapAll()

	snap := a.snapshot()
	assert.Equal(t, "rendang", snap["service"])
	assert.Equal(t, int64(5), snap["total_connections"])

	poolOut, ok := snap["cache"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(10), poolOut["total_requests"])

	srvOut, ok := poolOut["node1"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(2), srvOut["server_timedout"])
}

func TestCollectorReportsOneMetricPerCounterEntry(t *testing.T) {
	a := newTestAggregator()
	ps := a.Pools["cache"]
	ps.Pool.Incr("hits", 1)
	ps.Servers["node1"].Incr("server_err", 1)
	a.SwapAll()

	n := testutil.CollectAndCount(a.Collector())
	assert.Equal(t, 2, n) // one pool-level metric, one server-level metric
}
