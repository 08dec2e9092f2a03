package health

import (
	"context"
	"time"

	"econbot/internal/eventbus"
	"econbot/internal/notifier"
	"econbot/internal/tracker"
	"econbot/internal/transport/telegram/router"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics turns bus events into Prometheus series on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	cycles        prometheus.Counter
	cycleErrors   prometheus.Counter
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge
	inserted      prometheus.Counter
	merged        prometheus.Counter
	notifications *prometheus.CounterVec
	sourceErrors  *prometheus.CounterVec
	commands      *prometheus.CounterVec
	reloads       prometheus.Counter
}

func NewMetrics(bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "econbot", Name: "cycles_total", Help: "Completed poll cycles.",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "econbot", Name: "cycles_with_source_errors_total", Help: "Cycles where at least one source failed.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "econbot", Name: "cycle_duration_seconds", Help: "Poll cycle duration.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "econbot", Name: "last_cycle_timestamp_seconds", Help: "Unix time of the last completed cycle.",
		}),
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "econbot", Name: "events_inserted_total", Help: "Events first seen.",
		}),
		merged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "econbot", Name: "events_merged_total", Help: "Store writes caused by merges.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "econbot", Name: "notifications_total", Help: "Outbound messages by kind and result.",
		}, []string{"kind", "result"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "econbot", Name: "source_errors_total", Help: "Adapter failures.",
		}, []string{"source", "op"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "econbot", Name: "commands_total", Help: "Chat commands handled.",
		}, []string{"command", "result"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "econbot", Name: "config_reloads_total", Help: "Applied config reloads.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleErrors, m.cycleDuration, m.lastCycle,
		m.inserted, m.merged, m.notifications, m.sourceErrors, m.commands, m.reloads,
	)
	if bus != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "econbot", Name: "bus_dropped_total", Help: "Bus deliveries skipped for slow subscribers.",
		}, func() float64 { return float64(bus.Dropped()) }))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe applies one bus event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch d := ev.Data.(type) {
	case tracker.Report:
		m.cycles.Inc()
		m.cycleDuration.Observe(d.Took.Seconds())
		m.lastCycle.Set(float64(d.Started.Add(d.Took).Unix()))
		m.inserted.Add(float64(d.Inserted))
		m.merged.Add(float64(d.Merged))
		if len(d.SourceErrors) > 0 {
			m.cycleErrors.Inc()
		}
	case tracker.SourceFailure:
		m.sourceErrors.WithLabelValues(d.Source, d.Op).Inc()
	case notifier.Event:
		result := "sent"
		if ev.Type == eventbus.TypeNotifyFailed {
			result = "failed"
		}
		m.notifications.WithLabelValues(string(d.Kind), result).Inc()
	case router.Processed:
		result := "ok"
		if d.Error != "" {
			result = "error"
		}
		m.commands.WithLabelValues(d.Command, result).Inc()
	default:
		if ev.Type == eventbus.TypeConfigReloaded {
			m.reloads.Inc()
		}
	}
}

// Consume feeds bus events into the collectors until ctx ends.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

// Readiness reports whether cycles are running and the store answers.
type Readiness struct {
	Ping      func(ctx context.Context) error
	LastCycle func() (time.Time, bool)
	// Interval is the current poll interval; a cycle older than three
	// intervals makes the service unready.
	Interval func() time.Duration
	Now      func() time.Time
}

type ReadyError struct{ Reason string }

func (e *ReadyError) Error() string { return e.Reason }

func (r Readiness) Check(ctx context.Context) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if r.LastCycle != nil {
		last, ok := r.LastCycle()
		if !ok {
			return &ReadyError{Reason: "no cycle completed yet"}
		}
		if r.Interval != nil {
			if iv := r.Interval(); iv > 0 && now().Sub(last) > 3*iv {
				return &ReadyError{Reason: "last cycle at " + last.UTC().Format(time.RFC3339) + " is stale"}
			}
		}
	}
	if r.Ping != nil {
		if err := r.Ping(ctx); err != nil {
			return &ReadyError{Reason: "store: " + err.Error()}
		}
	}
	return nil
}
