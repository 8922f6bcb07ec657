package openwire

import (
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// VictoriaMetrics exports metrics in Prometheus text format through a
// VictoriaMetrics metrics.Set.
type VictoriaMetrics struct {
	set        *metrics.Set
	gauges     *xsync.MapOf[string, *victoriaGauge]
	histograms *xsync.MapOf[string, *victoriaHistogram]
}

// NewVictoriaMetrics creates a collector backed by a fresh metrics.Set.
func NewVictoriaMetrics() *VictoriaMetrics {
	return &VictoriaMetrics{
		set:        metrics.NewSet(),
		gauges:     xsync.NewMapOf[string, *victoriaGauge](),
		histograms: xsync.NewMapOf[string, *victoriaHistogram](),
	}
}

// Set returns the underlying metrics set, for registration with
// metrics.RegisterSet or a custom exporter.
func (v *VictoriaMetrics) Set() *metrics.Set { return v.set }

// WritePrometheus writes all metrics in Prometheus text format.
func (v *VictoriaMetrics) WritePrometheus(w io.Writer) {
	v.set.WritePrometheus(w)
}

// Counter returns a counter metric.
func (v *VictoriaMetrics) Counter(name string, labels MetricLabels) Counter {
	return &victoriaCounter{c: v.set.GetOrCreateFloatCounter(labelsKey(name, labels))}
}

// Gauge returns a gauge metric.
func (v *VictoriaMetrics) Gauge(name string, labels MetricLabels) Gauge {
	key := labelsKey(name, labels)
	g, _ := v.gauges.LoadOrCompute(key, func() *victoriaGauge {
		g := &victoriaGauge{}
		v.set.GetOrCreateGauge(key, g.value.load)
		return g
	})
	return g
}

// Histogram returns a histogram metric.
func (v *VictoriaMetrics) Histogram(name string, labels MetricLabels) Histogram {
	key := labelsKey(name, labels)
	h, _ := v.histograms.LoadOrCompute(key, func() *victoriaHistogram {
		return &victoriaHistogram{h: v.set.GetOrCreateHistogram(key)}
	})
	return h
}

type victoriaCounter struct {
	c *metrics.FloatCounter
}

func (c *victoriaCounter) Inc()              { c.c.Add(1) }
func (c *victoriaCounter) Add(delta float64) { c.c.Add(delta) }
func (c *victoriaCounter) Value() float64    { return c.c.Get() }

type victoriaGauge struct {
	value atomicFloat
}

func (g *victoriaGauge) Set(value float64) { g.value.store(value) }
func (g *victoriaGauge) Inc()              { g.value.add(1) }
func (g *victoriaGauge) Dec()              { g.value.add(-1) }
func (g *victoriaGauge) Add(delta float64) { g.value.add(delta) }
func (g *victoriaGauge) Sub(delta float64) { g.value.add(-delta) }
func (g *victoriaGauge) Value() float64    { return g.value.load() }

// victoriaHistogram records into a VictoriaMetrics histogram and keeps its
// own count and sum, which the exported histogram does not expose.
type victoriaHistogram struct {
	h   *metrics.Histogram
	agg memoryHistogram
}

func (h *victoriaHistogram) Observe(value float64) {
	h.h.Update(value)
	h.agg.Observe(value)
}

func (h *victoriaHistogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }
func (h *victoriaHistogram) Count() uint64                   { return h.agg.Count() }
func (h *victoriaHistogram) Sum() float64                    { return h.agg.Sum() }
