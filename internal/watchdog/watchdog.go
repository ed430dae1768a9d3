// Package watchdog implements the sentinel supplement described in
// SPEC_FULL.md §12 (grounded on original_source/src/nc_sentinel.c): a
// diagnostic-only goroutine that periodically walks every pool's server
// list and logs servers stuck ejected well past their retry deadline. It
// never acts on what it finds — auto-eject and retry remain the reactor
// loop's job.
package watchdog

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lukluk/rendang/internal/server"
)

// Watchdog periodically scans a set of pools for servers stuck ejected.
type Watchdog struct {
	pools    []*server.Pool
	interval time.Duration
	log      *logrus.Logger
	stop     chan struct{}
}

// New constructs a watchdog that scans pools every interval.
func New(pools []*server.Pool, interval time.Duration, log *logrus.Logger) *Watchdog {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Watchdog{pools: pools, interval: interval, log: log, stop: make(chan struct{})}
}

// Run blocks, scanning on a ticker until Stop is called.
func (w *Watchdog) Run() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.scan()
		}
	}
}

// Stop ends the watchdog's scan loop.
func (w *Watchdog) Stop() { close(w.stop) }

// scan logs every server whose next_retry deadline is more than 2x the
// pool's configured retry timeout in the past, matching nc_sentinel.c's
// stuck-server diagnostic.
func (w *Watchdog) scan() {
	now := time.Now().UnixMilli()
	for _, pool := range w.pools {
		if !pool.AutoEjectHosts {
			continue
		}
		threshold := 2 * pool.ServerRetryTimeoutMs
		for _, s := range pool.Servers {
			if s.NextRetry == 0 {
				continue
			}
			stuckFor := now - s.NextRetry
			if stuckFor > threshold {
				w.log.WithFields(logrus.Fields{
					"pool":      pool.Name,
					"server":    s.Name,
					"stuck_ms":  stuckFor,
					"threshold": threshold,
				}).Warn("server stuck ejected past retry deadline")
			}
		}
	}
}
