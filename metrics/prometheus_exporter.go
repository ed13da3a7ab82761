package metrics

import (
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter serves metrics at an HTTP endpoint by implementing
// prometheus.Collector over a Registry and handing that collector to
// promhttp.HandlerFor, rather than hand-formatting the text exposition
// format: the metric set (gauges/counters/histograms created on first
// access) isn't known ahead of time, so Describe intentionally sends
// nothing, making this an "unchecked" collector in client_golang's
// terms — the same pattern prometheus.NewExpvarCollector uses to bridge
// a dynamic metric source.

// PrometheusConfig configures the Prometheus exporter.
type PrometheusConfig struct {
	// Namespace is an optional prefix prepended to all metric names
	// (e.g. "ETH2030" produces "ETH2030_chain_height").
	Namespace string
	// EnableRuntime controls whether Go runtime metrics (goroutines,
	// memory, GC) are included in the output.
	EnableRuntime bool
	// Path is the HTTP path to serve metrics on (default "/metrics").
	Path string
}

// DefaultPrometheusConfig returns a config with sensible defaults.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Namespace:     "ETH2030",
		EnableRuntime: true,
		Path:          "/metrics",
	}
}

// CustomCollector is an interface for registering arbitrary metric producers
// that are called during each scrape.
type CustomCollector interface {
	// Collect returns a set of metric lines. Each entry is one metric
	// point, with optional labels.
	Collect() []MetricLine
}

// MetricLine represents a single metric data point with optional labels.
type MetricLine struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// PrometheusExporter bridges a Registry to Prometheus's scrape protocol.
type PrometheusExporter struct {
	mu         sync.RWMutex
	config     PrometheusConfig
	registry   *Registry
	collectors map[string]CustomCollector
}

// NewPrometheusExporter creates a new exporter that reads from the given registry.
func NewPrometheusExporter(registry *Registry, config PrometheusConfig) *PrometheusExporter {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	return &PrometheusExporter{
		config:     config,
		registry:   registry,
		collectors: make(map[string]CustomCollector),
	}
}

// RegisterCollector adds a named custom collector. If a collector with the
// same name exists, it is replaced.
func (pe *PrometheusExporter) RegisterCollector(name string, c CustomCollector) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.collectors[name] = c
}

// UnregisterCollector removes a previously registered custom collector.
func (pe *PrometheusExporter) UnregisterCollector(name string) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	delete(pe.collectors, name)
}

// Handler returns an http.Handler that serves the configured path via
// promhttp, backed by a private prometheus.Registry holding only pe.
func (pe *PrometheusExporter) Handler() http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(pe)
	mux := http.NewServeMux()
	mux.Handle(pe.config.Path, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	return mux
}

// Describe intentionally sends no descriptors: the set of gauges/counters/
// histograms in registry is created on first access and isn't known ahead
// of a scrape, so this collector runs unchecked.
func (pe *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector by snapshotting the registry,
// Go runtime stats, and any registered CustomCollectors into const metrics.
func (pe *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	pe.collectRegistry(ch)
	if pe.config.EnableRuntime {
		pe.collectRuntime(ch)
	}
	pe.collectCustom(ch)
}

func (pe *PrometheusExporter) collectRegistry(ch chan<- prometheus.Metric) {
	pe.registry.mu.RLock()
	defer pe.registry.mu.RUnlock()

	for name, c := range pe.registry.counters {
		pe.emitGauge(ch, name, float64(c.Value()), "counter")
	}
	for name, g := range pe.registry.gauges {
		pe.emitGauge(ch, name, float64(g.Value()), "gauge")
	}
	for name, h := range pe.registry.histograms {
		pe.emitGauge(ch, name+"_count", float64(h.Count()), "summary count")
		pe.emitGauge(ch, name+"_sum", h.Sum(), "summary sum")
		if h.Count() > 0 {
			pe.emitGauge(ch, name+"_min", h.Min(), "summary min")
			pe.emitGauge(ch, name+"_max", h.Max(), "summary max")
			pe.emitGauge(ch, name+"_mean", h.Mean(), "summary mean")
		}
	}
}

func (pe *PrometheusExporter) collectRuntime(ch chan<- prometheus.Metric) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	pe.emitGauge(ch, "go_goroutines", float64(runtime.NumGoroutine()), "active goroutines")
	pe.emitGauge(ch, "go_threads", float64(runtime.GOMAXPROCS(0)), "GOMAXPROCS")
	pe.emitGauge(ch, "go_memstats_alloc_bytes", float64(m.Alloc), "allocated heap bytes")
	pe.emitGauge(ch, "go_memstats_alloc_bytes_total", float64(m.TotalAlloc), "cumulative bytes allocated")
	pe.emitGauge(ch, "go_memstats_sys_bytes", float64(m.Sys), "bytes obtained from the OS")
	pe.emitGauge(ch, "go_memstats_heap_alloc_bytes", float64(m.HeapAlloc), "allocated heap bytes")
	pe.emitGauge(ch, "go_memstats_heap_inuse_bytes", float64(m.HeapInuse), "heap bytes in use")
	pe.emitGauge(ch, "go_memstats_heap_objects", float64(m.HeapObjects), "allocated heap objects")
	pe.emitGauge(ch, "go_memstats_stack_inuse_bytes", float64(m.StackInuse), "stack bytes in use")
	pe.emitGauge(ch, "go_gc_duration_seconds_count", float64(m.NumGC), "completed GC cycles")
	pe.emitGauge(ch, "go_gc_pause_total_seconds", float64(m.PauseTotalNs)/1e9, "cumulative GC pause time")
	if m.LastGC > 0 {
		pe.emitGauge(ch, "go_gc_last_seconds", float64(m.LastGC)/1e9, "time of last GC")
	}
	pe.emitGauge(ch, "process_start_time_seconds", float64(processStartTime.Unix()), "process start time")
}

func (pe *PrometheusExporter) collectCustom(ch chan<- prometheus.Metric) {
	pe.mu.RLock()
	collectors := make(map[string]CustomCollector, len(pe.collectors))
	for k, v := range pe.collectors {
		collectors[k] = v
	}
	pe.mu.RUnlock()

	for _, c := range collectors {
		for _, line := range c.Collect() {
			labelKeys := make([]string, 0, len(line.Labels))
			labelVals := make([]string, 0, len(line.Labels))
			for k, v := range line.Labels {
				labelKeys = append(labelKeys, k)
				labelVals = append(labelVals, v)
			}
			desc := prometheus.NewDesc(pe.promName(line.Name), line.Name, labelKeys, nil)
			m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, line.Value, labelVals...)
			if err != nil {
				continue
			}
			ch <- m
		}
	}
}

// emitGauge sends a single const gauge metric named name (after namespace
// prefixing and sanitization) with the given help text.
func (pe *PrometheusExporter) emitGauge(ch chan<- prometheus.Metric, name string, value float64, help string) {
	desc := prometheus.NewDesc(pe.promName(name), help, nil, nil)
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, value)
	if err != nil {
		return
	}
	ch <- m
}

// promName converts a dot-separated metric name to Prometheus format:
// dots and dashes become underscores, and the namespace prefix is
// prepended.
func (pe *PrometheusExporter) promName(name string) string {
	sanitized := strings.ReplaceAll(name, ".", "_")
	sanitized = strings.ReplaceAll(sanitized, "-", "_")
	if pe.config.Namespace != "" {
		return pe.config.Namespace + "_" + sanitized
	}
	return sanitized
}

// processStartTime is recorded at init for process_start_time_seconds.
var processStartTime = time.Now()
