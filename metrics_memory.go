package openwire

import (
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryMetrics keeps every metric in process memory. It backs tests and
// the CLI's summary output.
type MemoryMetrics struct {
	counters   *xsync.MapOf[string, *memoryCounter]
	gauges     *xsync.MapOf[string, *memoryGauge]
	histograms *xsync.MapOf[string, *memoryHistogram]
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   xsync.NewMapOf[string, *memoryCounter](),
		gauges:     xsync.NewMapOf[string, *memoryGauge](),
		histograms: xsync.NewMapOf[string, *memoryHistogram](),
	}
}

// labelsKey renders name and labels in a stable order, for example
// `openwire_commands_sent_total{command_type="KeepAliveInfo"}`.
func labelsKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(labels[k])
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

// Counter returns a counter metric.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	c, _ := m.counters.LoadOrCompute(labelsKey(name, labels), func() *memoryCounter {
		return &memoryCounter{}
	})
	return c
}

// Gauge returns a gauge metric.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	g, _ := m.gauges.LoadOrCompute(labelsKey(name, labels), func() *memoryGauge {
		return &memoryGauge{}
	})
	return g
}

// Histogram returns a histogram metric.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	h, _ := m.histograms.LoadOrCompute(labelsKey(name, labels), func() *memoryHistogram {
		return &memoryHistogram{}
	})
	return h
}

// CounterValue returns the value of a counter, or 0 if it was never created.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	if c, ok := m.counters.Load(labelsKey(name, labels)); ok {
		return c.Value()
	}
	return 0
}

// GaugeValue returns the value of a gauge, or 0 if it was never created.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	if g, ok := m.gauges.Load(labelsKey(name, labels)); ok {
		return g.Value()
	}
	return 0
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	if h, ok := m.histograms.Load(labelsKey(name, labels)); ok {
		return h.Count()
	}
	return 0
}

// Snapshot returns every counter and gauge value keyed by its rendered name.
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	m.counters.Range(func(k string, c *memoryCounter) bool {
		out[k] = c.Value()
		return true
	})
	m.gauges.Range(func(k string, g *memoryGauge) bool {
		out[k] = g.Value()
		return true
	})
	return out
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat) load() float64   { return math.Float64frombits(f.bits.Load()) }

type memoryCounter struct {
	value atomicFloat
}

func (c *memoryCounter) Inc()              { c.value.add(1) }
func (c *memoryCounter) Add(delta float64) { c.value.add(delta) }
func (c *memoryCounter) Value() float64    { return c.value.load() }

type memoryGauge struct {
	value atomicFloat
}

func (g *memoryGauge) Set(value float64) { g.value.store(value) }
func (g *memoryGauge) Inc()              { g.value.add(1) }
func (g *memoryGauge) Dec()              { g.value.add(-1) }
func (g *memoryGauge) Add(delta float64) { g.value.add(delta) }
func (g *memoryGauge) Sub(delta float64) { g.value.add(-delta) }
func (g *memoryGauge) Value() float64    { return g.value.load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }
func (h *memoryHistogram) Count() uint64                   { return h.count.Load() }
func (h *memoryHistogram) Sum() float64                    { return h.sum.load() }
