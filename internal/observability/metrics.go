package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// Counter is a monotonically increasing value.
type Counter struct{ value int64 }

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a value that can go up and down.
type Gauge struct{ value int64 }

func (g *Gauge) Set(v int64)   { atomic.StoreInt64(&g.value, v) }
func (g *Gauge) Value() int64  { return atomic.LoadInt64(&g.value) }

// labelKey hashes a sorted label set down to a fixed-width string, used
// as the map key under which each label combination's counters live.
// xxhash keeps this cheap even on the hot Check/Report path, where a new
// label set is seen on every call.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte(',')
	}
	sum := xxhash.Sum64String(sb.String())
	return strconv.FormatUint(sum, 16)
}

// Metrics is the sidecar's Prometheus-compatible metrics registry,
// tracking aggregator cache behavior (hits, misses, and flushes for each
// of Check, Quota, and Report) and fail-open events.
type Metrics struct {
	mu       sync.RWMutex
	logger   zerolog.Logger
	counters map[string]map[string]*Counter
	gauges   map[string]map[string]*Gauge
	labels   map[string]map[string]map[string]string // name -> key -> original labels, for exposition
}

// NewMetrics creates a new metrics registry.
func NewMetrics(logger zerolog.Logger) *Metrics {
	return &Metrics{
		logger:   logger.With().Str("component", "metrics").Logger(),
		counters: make(map[string]map[string]*Counter),
		gauges:   make(map[string]map[string]*Gauge),
		labels:   make(map[string]map[string]map[string]string),
	}
}

func (m *Metrics) CounterInc(name string, labels map[string]string) {
	m.getCounter(name, labels).Inc()
}

func (m *Metrics) CounterAdd(name string, labels map[string]string, n int64) {
	m.getCounter(name, labels).Add(n)
}

func (m *Metrics) GaugeSet(name string, labels map[string]string, v int64) {
	m.getGauge(name, labels).Set(v)
}

func (m *Metrics) getCounter(name string, labels map[string]string) *Counter {
	key := labelKey(labels)
	m.mu.RLock()
	if byKey, ok := m.counters[name]; ok {
		if c, ok := byKey[key]; ok {
			m.mu.RUnlock()
			return c
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rememberLabelsLocked(name, key, labels)
	if _, ok := m.counters[name]; !ok {
		m.counters[name] = make(map[string]*Counter)
	}
	if _, ok := m.counters[name][key]; !ok {
		m.counters[name][key] = &Counter{}
	}
	return m.counters[name][key]
}

func (m *Metrics) getGauge(name string, labels map[string]string) *Gauge {
	key := labelKey(labels)
	m.mu.RLock()
	if byKey, ok := m.gauges[name]; ok {
		if g, ok := byKey[key]; ok {
			m.mu.RUnlock()
			return g
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rememberLabelsLocked(name, key, labels)
	if _, ok := m.gauges[name]; !ok {
		m.gauges[name] = make(map[string]*Gauge)
	}
	if _, ok := m.gauges[name][key]; !ok {
		m.gauges[name][key] = &Gauge{}
	}
	return m.gauges[name][key]
}

func (m *Metrics) rememberLabelsLocked(name, key string, labels map[string]string) {
	if _, ok := m.labels[name]; !ok {
		m.labels[name] = make(map[string]map[string]string)
	}
	m.labels[name][key] = labels
}

// TrackAggregatorHit records a cache hit or miss for one of the three
// aggregators ("check", "quota", "report").
func (m *Metrics) TrackAggregatorHit(aggregator string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CounterInc("sidecar_aggregator_lookups_total", map[string]string{"aggregator": aggregator, "outcome": outcome})
}

// TrackFlush records a scheduled flush cycle for one aggregator, along
// with how many requests it produced.
func (m *Metrics) TrackFlush(aggregator string, requestCount int) {
	m.CounterInc("sidecar_aggregator_flushes_total", map[string]string{"aggregator": aggregator})
	m.CounterAdd("sidecar_aggregator_flush_requests_total", map[string]string{"aggregator": aggregator}, int64(requestCount))
}

// TrackFailOpen records a transport failure that was handled by
// synthesizing a permissive response.
func (m *Metrics) TrackFailOpen(operation string) {
	m.CounterInc("sidecar_fail_open_total", map[string]string{"operation": operation})
}

// Handler serves /metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		m.mu.RLock()
		defer m.mu.RUnlock()

		var sb strings.Builder
		for name, byKey := range m.counters {
			sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
			for key, c := range byKey {
				sb.WriteString(name)
				writeLabelTags(&sb, m.labels[name][key])
				sb.WriteString(fmt.Sprintf(" %d\n", c.Value()))
			}
		}
		for name, byKey := range m.gauges {
			sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
			for key, g := range byKey {
				sb.WriteString(name)
				writeLabelTags(&sb, m.labels[name][key])
				sb.WriteString(fmt.Sprintf(" %d\n", g.Value()))
			}
		}
		_, _ = w.Write([]byte(sb.String()))
	}
}

func writeLabelTags(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%s=%q", k, labels[k]))
	}
	sb.WriteByte('}')
}
