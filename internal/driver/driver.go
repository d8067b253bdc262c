package driver

import (
	"fmt"
	"time"

	"chain_chaos/internal/cluster"
	"chain_chaos/internal/config"
	"chain_chaos/internal/gate"
	"chain_chaos/internal/metrics"
	"chain_chaos/internal/proxy"
	"chain_chaos/internal/stats"
	"chain_chaos/internal/utils"
)

// TimeoutError is the harness's primary negative outcome: the cluster
// ran, nothing crashed, but the liveness target was not reached in time.
type TimeoutError struct {
	Elapsed    time.Duration
	BestHeight uint64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("liveness not reached after %s, best height seen %d", e.Elapsed.Round(time.Millisecond), e.BestHeight)
}

// Run executes one pass of the experiment: start the cluster with the
// handler factory installed, then poll the liveness gate until success
// or the deadline. There is no internal retry; rerunning is the caller's
// concern.
func Run(cfg *config.HarnessConfig, g *gate.LivenessGate, factory proxy.HandlerFactory, collector *metrics.Collector, rates *stats.RateCounter, logs *utils.LogxManager) error {
	lg := logs.Logger("driver")

	c, err := cluster.Start(cfg, factory, collector, rates, logs)
	if err != nil {
		return fmt.Errorf("cluster start failed: %w", err)
	}
	defer c.Stop()

	started := time.Now()
	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if g.IsSuccess() {
				lg.Info(fmt.Sprintf("liveness reached, best height %d after %s", g.BestHeight(), time.Since(started).Round(time.Millisecond)))
				return nil
			}
			elapsed := time.Since(started)
			if elapsed >= cfg.Timeout() {
				return &TimeoutError{Elapsed: elapsed, BestHeight: g.BestHeight()}
			}
			if rates != nil {
				lg.Debug(fmt.Sprintf("tick elapsed=%s best=%d traffic_10s=%d", elapsed.Round(time.Millisecond), g.BestHeight(), rates.WindowTotal(10)))
			} else {
				lg.Debug(fmt.Sprintf("tick elapsed=%s best=%d", elapsed.Round(time.Millisecond), g.BestHeight()))
			}
		case err := <-c.Interceptor().Fatal():
			return err
		}
	}
}
