// Package stats implements the double-buffered counters and JSON/plaintext
// dump endpoint described in spec.md §4.11/§6, run on a side thread that
// shares no mutable state with the reactor beyond the counters themselves.
package stats

import (
	"sync"
	"sync/atomic"
)

// Counters holds one pool's (and its servers') metric values.
type Counters struct {
	mu      sync.Mutex
	current map[string]int64
	shadow  map[string]int64
	sum     map[string]int64

	updated   int32 // atomic flag: current has pending writes
	aggregate int32 // atomic flag: worker owns shadow right now
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{
		current: make(map[string]int64),
		shadow:  make(map[string]int64),
		sum:     make(map[string]int64),
	}
}

// Incr adds delta to a named counter. Only ever called from the reactor
// goroutine.
func (c *Counters) Incr(name string, delta int64) {
	c.mu.Lock()
	c.current[name] += delta
	c.mu.Unlock()
	atomic.StoreInt32(&c.updated, 1)
}

// Swap exchanges current and shadow. Called periodically from the reactor
// loop; it is a no-op when nothing changed since the last swap, or while
// the worker thread is still aggregating the previous shadow.
func (c *Counters) Swap() {
	if atomic.LoadInt32(&c.updated) == 0 {
		return
	}
	if atomic.LoadInt32(&c.aggregate) != 0 {
		return
	}
	c.mu.Lock()
	c.current, c.shadow = c.shadow, c.current
	for k := range c.current {
		delete(c.current, k)
	}
	c.mu.Unlock()
	atomic.StoreInt32(&c.updated, 0)
}

// BeginAggregate marks shadow as owned by the worker thread until
// EndAggregate is called; the reactor's Swap becomes a no-op meanwhile.
func (c *Counters) BeginAggregate() {
	atomic.StoreInt32(&c.aggregate, 1)
}

// EndAggregate releases ownership of shadow back to the reactor.
func (c *Counters) EndAggregate() {
	atomic.StoreInt32(&c.aggregate, 0)
}

// Aggregate folds shadow into sum and returns a snapshot copy of sum. Must
// be called between BeginAggregate and EndAggregate.
func (c *Counters) Aggregate() map[string]int64 {
	c.mu.Lock()
	for k, v := range c.shadow {
		c.sum[k] += v
	}
	snapshot := make(map[string]int64, len(c.sum))
	for k, v := range c.sum {
		snapshot[k] = v
	}
	c.mu.Unlock()
	return snapshot
}
