// Package metrics exports engine activity as Prometheus metrics.
//
// Collector implements state.Tracer, so a runtime created with
// state.WithTracer(collector) feeds it directly. Metrics are registered on a
// caller-supplied registerer; nothing touches the global default registry.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/easystate/internal/state"
)

const namespace = "easystate"

// Collector counts flushes, observer calls and frame passes.
// Like the runtime that feeds it, it is not safe for concurrent use.
type Collector struct {
	flushes      *prometheus.CounterVec
	calls        prometheus.Counter
	failures     prometheus.Counter
	frames       prometheus.Counter
	frameObjects prometheus.Histogram
	revision     prometheus.Gauge

	// maxRevision mirrors the gauge. Nested flushes report out of order.
	maxRevision int64
}

// NewCollector creates a collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flushes_total",
				Help:      "Object flushes by flush mode.",
			},
			[]string{"mode"},
		),
		calls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_calls_total",
			Help:      "Observer invocations.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_failures_total",
			Help:      "Observer invocations that panicked.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frame passes run by the deferred regime.",
		}),
		frameObjects: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_objects",
			Help:      "Objects flushed per frame pass.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		revision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "revision",
			Help:      "Highest revision handed out by a flush.",
		}),
	}

	for _, m := range []prometheus.Collector{c.flushes, c.calls, c.failures, c.frames, c.frameObjects, c.revision} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	// Pre-create the mode series so they report 0 before the first flush.
	for _, mode := range []state.FlushMode{state.ModeDeferred, state.ModeBatch, state.ModeImmediate} {
		c.flushes.WithLabelValues(mode.String())
	}
	return c, nil
}

// MustNewCollector is like NewCollector but panics on error.
func MustNewCollector(reg prometheus.Registerer) *Collector {
	c, err := NewCollector(reg)
	if err != nil {
		panic(err)
	}
	return c
}

// TraceFlush implements state.Tracer.
func (c *Collector) TraceFlush(ev state.FlushEvent) {
	c.flushes.WithLabelValues(ev.Mode.String()).Inc()
	c.calls.Add(float64(ev.Called))
	c.failures.Add(float64(ev.Failed))
	if ev.Revision > c.maxRevision {
		c.maxRevision = ev.Revision
		c.revision.Set(float64(ev.Revision))
	}
}

// TraceFrame implements state.Tracer.
func (c *Collector) TraceFrame(ev state.FrameEvent) {
	c.frames.Inc()
	c.frameObjects.Observe(float64(ev.Flushed))
}

// WriteText writes every metric family gathered by g in the Prometheus text
// format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
