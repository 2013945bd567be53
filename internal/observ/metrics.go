package observ

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registry lazily creates Prometheus collectors keyed by metric name and
// the sorted label names seen for it.
type registry struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var reg = &registry{
	counters:   map[string]*prometheus.CounterVec{},
	gauges:     map[string]*prometheus.GaugeVec{},
	histograms: map[string]*prometheus.HistogramVec{},
}

func sortedKeys(labels map[string]string) ([]string, []string) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = labels[k]
	}
	return keys, vals
}

func labelKey(names []string) string { return strings.Join(names, ",") }

// IncCounter increments a named counter by 1, creating it (and its label
// set) on first use.
func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

// IncCounterBy increments a named counter by value.
func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names, vals := sortedKeys(labels)
	cv, ok := reg.counters[name+"|"+labelKey(names)]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitize(name)}, names)
		prometheus.MustRegister(cv)
		reg.counters[name+"|"+labelKey(names)] = cv
	}
	cv.WithLabelValues(vals...).Add(value)
}

// SetGauge sets a named gauge to value.
func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names, vals := sortedKeys(labels)
	gv, ok := reg.gauges[name+"|"+labelKey(names)]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: sanitize(name)}, names)
		prometheus.MustRegister(gv)
		reg.gauges[name+"|"+labelKey(names)] = gv
	}
	gv.WithLabelValues(vals...).Set(value)
}

// Observe records a histogram observation for a named metric.
func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names, vals := sortedKeys(labels)
	hv, ok := reg.histograms[name+"|"+labelKey(names)]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: sanitize(name)}, names)
		prometheus.MustRegister(hv)
		reg.histograms[name+"|"+labelKey(names)] = hv
	}
	hv.WithLabelValues(vals...).Observe(value)
}

// Registry exposes the underlying Prometheus gatherer so the (out of
// scope) admin HTTP surface can mount a /metrics handler against it.
func Registry() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
