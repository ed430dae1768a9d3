// Package commands implements rendang's CLI surface: a single root command
// mirroring the reference proxy's argument list (-c/--config, -v, -t),
// following marmos91-dittofs's cobra root-command layout.
package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukluk/rendang/internal/config"
	"github.com/lukluk/rendang/internal/mbuf"
	"github.com/lukluk/rendang/internal/pipeline"
	"github.com/lukluk/rendang/internal/rlog"
	"github.com/lukluk/rendang/internal/server"
	"github.com/lukluk/rendang/internal/stats"
	"github.com/lukluk/rendang/internal/watchdog"
)

var (
	cfgFile  string
	verbose  bool
	testConf bool
)

var rootCmd = &cobra.Command{
	Use:           "rendang",
	Short:         "rendang multiplexes client connections onto sharded memcached/Redis backends",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "rendang.yaml", "pool config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&testConf, "test-conf", "t", false, "validate config and exit")
}

// Execute runs the root command; called once from main.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	rlog.Configure(verbose)

	f, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := config.Validate(f); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if testConf {
		fmt.Println("config OK")
		return nil
	}

	pools := make([]*server.Pool, 0, len(f.Pools))
	poolStats := make(map[string]*stats.PoolStats, len(f.Pools))
	for name, pc := range f.Pools {
		pool, err := config.BuildPool(name, pc)
		if err != nil {
			return err
		}
		ps := &stats.PoolStats{Pool: stats.NewCounters(), Servers: make(map[string]*stats.Counters, len(pool.Servers))}
		for _, s := range pool.Servers {
			ps.Servers[s.Name] = stats.NewCounters()
		}
		pool.Stats = ps
		poolStats[name] = ps
		pools = append(pools, pool)
	}

	agg := stats.NewAggregator(f.Stats.Service, version, poolStats, rlog.L)
	if f.Stats.Listen != "" {
		if err := agg.ServeTCP(f.Stats.Listen); err != nil {
			return err
		}
	}

	proxy, err := pipeline.NewProxy(pools, mbuf.NewPool(0), rlog.L, agg)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := proxy.Start(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	wd := watchdog.New(pools, 10*time.Second, rlog.L)
	go wd.Run()
	defer wd.Stop()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				if err := config.Validate(f); err != nil {
					rlog.L.WithError(err).Warn("SIGHUP: config no longer valid (runtime reload not supported)")
				} else {
					rlog.L.Info("SIGHUP: config still valid")
				}
			case syscall.SIGTERM, syscall.SIGINT:
				rlog.L.Info("shutting down")
				close(stop)
				return
			}
		}
	}()

	return proxy.Run(stop)
}
