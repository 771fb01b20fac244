// Package metrics exposes watch counters in Prometheus format.
package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonimelisma/kubewatch/internal/watching"
)

const namespace = "kubewatch"

// StatsSource is satisfied by *watching.Watcher.
type StatsSource interface {
	Stats() watching.Stats
}

// Collector reads the counters of every registered watcher at scrape
// time, labelled by resource.
type Collector struct {
	mu      sync.RWMutex
	sources map[string]StatsSource

	emitted    *prometheus.Desc
	synthetic  *prometheus.Desc
	relists    *prometheus.Desc
	reconnects *prometheus.Desc
	freezes    *prometheus.Desc
	skipped    *prometheus.Desc
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, []string{"resource"}, nil)
	}

	return &Collector{
		sources:    make(map[string]StatsSource),
		emitted:    desc("events_emitted_total", "Events delivered to consumers, synthetic ones included."),
		synthetic:  desc("events_synthetic_total", "Events manufactured from listings."),
		relists:    desc("relists_total", "Times the collection was listed again after the checkpoint expired."),
		reconnects: desc("reconnects_total", "Watch calls reopened from the checkpoint."),
		freezes:    desc("freezes_total", "Times a running stream was stopped by the freeze signal."),
		skipped:    desc("events_skipped_total", "Wire events of unsupported type that were dropped."),
	}
}

// Add registers a watcher under resource, replacing any previous one.
func (c *Collector) Add(resource string, src StatsSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sources[resource] = src
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.emitted
	ch <- c.synthetic
	ch <- c.relists
	ch <- c.reconnects
	ch <- c.freezes
	ch <- c.skipped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	resources := make([]string, 0, len(c.sources))
	for r := range c.sources {
		resources = append(resources, r)
	}

	sort.Strings(resources)

	for _, r := range resources {
		s := c.sources[r].Stats()

		counter := func(d *prometheus.Desc, v int64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), r)
		}

		counter(c.emitted, s.Emitted)
		counter(c.synthetic, s.Synthetic)
		counter(c.relists, s.Relists)
		counter(c.reconnects, s.Reconnects)
		counter(c.freezes, s.Freezes)
		counter(c.skipped, s.Skipped)
	}
}

// Metrics bundles the collectors served on /metrics.
type Metrics struct {
	Watchers *Collector

	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

// New builds a registry holding the watcher collector, a per-type event
// counter, a frozen gauge reading frozen at scrape time, and the Go
// runtime collectors.
func New(frozen func() bool) *Metrics {
	m := &Metrics{
		Watchers: NewCollector(),
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events delivered to consumers by resource and type.",
		}, []string{"resource", "type"}),
	}

	frozenGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "frozen",
		Help:      "1 while the freeze signal is on.",
	}, func() float64 {
		if frozen != nil && frozen() {
			return 1
		}

		return 0
	})

	m.registry.MustRegister(
		m.Watchers,
		m.events,
		frozenGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Observe counts one delivered event.
func (m *Metrics) Observe(resource string, ev watching.Event) {
	m.events.WithLabelValues(resource, ev.Type.String()).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
