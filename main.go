package main

import (
	"flag"
	"fmt"
	"log"

	"chain_chaos/internal/chaos"
	"chain_chaos/internal/config"
	"chain_chaos/internal/driver"
	"chain_chaos/internal/gate"
	"chain_chaos/internal/message"
	"chain_chaos/internal/metrics"
	"chain_chaos/internal/proxy"
	"chain_chaos/internal/stats"
	"chain_chaos/internal/utils"
)

func main() {
	var basePath string
	var dropRatio float64
	var heightTarget uint64
	var timeoutSeconds int64
	flag.StringVar(&basePath, "prefix", "", "Config file base path")
	flag.Float64Var(&dropRatio, "drop-ratio", -1, "Override drop ratio [0,1]")
	flag.Uint64Var(&heightTarget, "height-target", 0, "Override liveness height target")
	flag.Int64Var(&timeoutSeconds, "timeout", 0, "Override timeout in seconds")
	flag.Parse()

	cfg, err := config.LoadHarnessConfig(basePath)
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}
	if dropRatio >= 0 {
		cfg.DropRatio = dropRatio
	}
	if heightTarget > 0 {
		cfg.HeightTarget = heightTarget
	}
	if timeoutSeconds > 0 {
		cfg.TimeoutSeconds = timeoutSeconds
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	rules, err := config.LoadFaultRules(cfg.RulePath)
	if err != nil {
		log.Fatalf("Load fault rules failed: %v", err)
	}

	logs := utils.NewManager(cfg.LogPath)
	defer logs.Sync()

	collector := metrics.NewCollector()
	if cfg.MetricsPort != "" {
		go func() {
			if err := collector.Serve(cfg.MetricsPort); err != nil {
				log.Printf("metrics endpoint failed: %v", err)
			}
		}()
	}

	rates := stats.NewRateCounter(16, 60)

	livenessGate := gate.NewLivenessGate()
	handlerLg := logs.Logger("handler")
	factory := func(from, to message.PeerID) proxy.Handler {
		var h proxy.Handler = chaos.NewDropPolicy(livenessGate, collector, handlerLg, cfg.HeightTarget, cfg.DropRatio)
		if rules.Len() > 0 {
			h = chaos.NewPartitionPolicy(rules, h)
		}
		return h
	}

	log.Printf("Starting %d node cluster, drop ratio %.2f, height target %d, timeout %s",
		cfg.NodeCount, cfg.DropRatio, cfg.HeightTarget, cfg.Timeout())

	if err := driver.Run(cfg, livenessGate, factory, collector, rates, logs); err != nil {
		log.Fatalf("FAILED: %v", err)
	}

	fmt.Println("Success")
}
