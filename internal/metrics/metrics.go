package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the harness Prometheus registry. All metrics live on a
// private registry so concurrent harness runs in one process never
// collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	forwardedTotal prometheus.Counter
	droppedTotal   prometheus.Counter
	bestHeight     prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{registry: registry}

	c.forwardedTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "chain_chaos",
		Subsystem: "proxy",
		Name:      "messages_forwarded_total",
		Help:      "Total number of intercepted messages delivered to their destination",
	})
	c.droppedTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "chain_chaos",
		Subsystem: "proxy",
		Name:      "messages_dropped_total",
		Help:      "Total number of intercepted messages discarded by the drop policy",
	})
	c.bestHeight = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_chaos",
		Subsystem: "liveness",
		Name:      "best_height",
		Help:      "Highest block height observed on any intercepted link",
	})

	return c
}

func (c *Collector) IncForwarded() {
	c.forwardedTotal.Inc()
}

func (c *Collector) IncDropped() {
	c.droppedTotal.Inc()
}

func (c *Collector) SetBestHeight(h uint64) {
	c.bestHeight.Set(float64(h))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Serve exposes /metrics on the given port. It blocks, so callers run it
// in a goroutine; the listener dies with the test process.
func (c *Collector) Serve(port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(":"+port, mux)
}
