// Package metrics exposes drip delivery counters to Prometheus. Counters are
// fed from the event bus so the scheduler never touches the registry.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dripbot/internal/drip"
	"dripbot/internal/eventbus"
)

const namespace = "dripbot"

type Metrics struct {
	reg *prometheus.Registry

	Deliveries    *prometheus.CounterVec
	Deactivations *prometheus.CounterVec
	Cycles        *prometheus.CounterVec
	Throttled     *prometheus.CounterVec
	BatchSize     *prometheus.HistogramVec
	Attempts      *prometheus.HistogramVec
	BusDropped    prometheus.CounterFunc
}

// New builds a private registry with the Go and process collectors plus the
// drip counters. bus may be nil.
func New(bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Drip deliveries by class and final outcome.",
		}, []string{"class", "outcome"}),
		Deactivations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deactivations_total",
			Help:      "Recipients deactivated after blocking or exhausted retries.",
		}, []string{"class"}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scheduler cycles by result.",
		}, []string{"class", "result"}),
		Throttled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_waits_total",
			Help:      "Sends that waited for the per-window ceiling.",
		}, []string{"class"}),
		BatchSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_batch_size",
			Help:      "Due recipients fetched per cycle.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}, []string{"class"}),
		Attempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempts",
			Help:      "Transport attempts per delivery.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"class"}),
	}
	if bus != nil {
		m.BusDropped = f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events skipped because a subscriber was full.",
		}, func() float64 { return float64(bus.Dropped()) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe folds one bus event into the counters. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	ev, ok := e.Data.(drip.Event)
	if !ok {
		return
	}
	class := ev.Class.String()
	switch e.Type {
	case drip.EventSent, drip.EventSkipped:
		m.Deliveries.WithLabelValues(class, ev.Outcome.String()).Inc()
		m.Attempts.WithLabelValues(class).Observe(float64(ev.Attempts))
	case drip.EventDeactivated:
		m.Deliveries.WithLabelValues(class, ev.Outcome.String()).Inc()
		m.Attempts.WithLabelValues(class).Observe(float64(ev.Attempts))
		m.Deactivations.WithLabelValues(class).Inc()
	case drip.EventCycle:
		if ev.Failed {
			m.Cycles.WithLabelValues(class, "failed").Inc()
			return
		}
		m.Cycles.WithLabelValues(class, "ok").Inc()
		m.BatchSize.WithLabelValues(class).Observe(float64(ev.Batch))
	case drip.EventThrottled:
		m.Throttled.WithLabelValues(class).Inc()
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	err := eventbus.Consume(ctx, bus, 256, m.Observe)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
