package observability

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics implements Metrics using the Prometheus client library.
// Collectors are created lazily per metric name; a metric name must be
// used with a consistent tag set.
type PromMetrics struct {
	mu         sync.Mutex
	namespace  string
	registerer prometheus.Registerer

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPromMetrics creates a Prometheus-backed Metrics sink registered on
// the given registerer. The namespace prefixes every metric name.
func NewPromMetrics(namespace string, reg prometheus.Registerer) *PromMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PromMetrics{
		namespace:  sanitizeMetricName(namespace),
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// IncrementCounter increments the named counter by 1.
func (m *PromMetrics) IncrementCounter(name string, tags map[string]string) {
	keys, values := splitTags(tags)

	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name) + "_total",
		}, keys)
		m.registerer.MustRegister(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()

	vec.WithLabelValues(values...).Inc()
}

// RecordHistogram records a value in the named histogram.
func (m *PromMetrics) RecordHistogram(name string, value float64, tags map[string]string) {
	keys, values := splitTags(tags)

	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name),
			Buckets:   prometheus.DefBuckets,
		}, keys)
		m.registerer.MustRegister(vec)
		m.histograms[name] = vec
	}
	m.mu.Unlock()

	vec.WithLabelValues(values...).Observe(value)
}

// RecordGauge sets the named gauge to the given value.
func (m *PromMetrics) RecordGauge(name string, value float64, tags map[string]string) {
	keys, values := splitTags(tags)

	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name),
		}, keys)
		m.registerer.MustRegister(vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()

	vec.WithLabelValues(values...).Set(value)
}

// splitTags returns label keys sorted with their values aligned, so a
// tag map always maps to the same label ordering.
func splitTags(tags map[string]string) ([]string, []string) {
	if len(tags) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = tags[k]
	}
	return keys, values
}

func sanitizeMetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
