// Package metrics exposes Prometheus instrumentation for connectivity
// establishment.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshlink"

// Collector counts discovery, punching, probing and strategy outcomes. It
// implements prometheus.Collector and transport.Recorder. A nil *Collector
// records nothing.
type Collector struct {
	stunQueries  *prometheus.CounterVec
	punchRounds  prometheus.Counter
	punchResults *prometheus.CounterVec
	punchRuns    prometheus.Histogram
	probes       *prometheus.CounterVec
	probeLatency prometheus.Histogram
	connections  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// NewCollector creates an unregistered collector.
func NewCollector() *Collector {
	return &Collector{
		stunQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stun_queries_total",
			Help:      "STUN server queries by server and result.",
		}, []string{"server", "result"}),
		punchRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punch_rounds_total",
			Help:      "Hole-punch rounds sent.",
		}),
		punchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punch_attempts_total",
			Help:      "Hole-punch attempts by result.",
		}, []string{"result"}),
		punchRuns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "punch_rounds_per_attempt",
			Help:      "Rounds sent per hole-punch attempt.",
			Buckets:   []float64{1, 2, 5, 10, 15, 20},
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Liveness probes by result.",
		}, []string{"result"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Round-trip latency of successful liveness probes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "p2p_connections_total",
			Help:      "P2P connection attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Connection cache lookups by result.",
		}, []string{"result"}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.stunQueries, c.punchRounds, c.punchResults, c.punchRuns,
		c.probes, c.probeLatency, c.connections, c.cacheLookups,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

// STUNQuery records one server attempt.
func (c *Collector) STUNQuery(server string, ok bool) {
	if c == nil {
		return
	}
	c.stunQueries.WithLabelValues(server, result(ok)).Inc()
}

// PunchRound records one round of punch datagrams.
func (c *Collector) PunchRound() {
	if c == nil {
		return
	}
	c.punchRounds.Inc()
}

// PunchResult records the end of a hole-punch attempt.
func (c *Collector) PunchResult(ok bool, rounds int) {
	if c == nil {
		return
	}
	c.punchResults.WithLabelValues(result(ok)).Inc()
	c.punchRuns.Observe(float64(rounds))
}

// Probe records a liveness probe.
func (c *Collector) Probe(reachable bool, latency time.Duration) {
	if c == nil {
		return
	}
	if reachable {
		c.probes.WithLabelValues("reachable").Inc()
		c.probeLatency.Observe(latency.Seconds())
		return
	}
	c.probes.WithLabelValues("unreachable").Inc()
}

// Connection records a TryP2PConnection outcome for strategy.
func (c *Collector) Connection(strategy string, ok bool) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(strategy, result(ok)).Inc()
}

// CacheLookup records a cache hit or miss.
func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.cacheLookups.WithLabelValues("miss").Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
