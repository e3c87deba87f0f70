// Package metrics holds the Prometheus collectors of the dispatcher. All
// methods are nil-safe so components can run without metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "runnerd"

type Metrics struct {
	// RunnersActive is the number of runners currently registered.
	RunnersActive prometheus.Gauge
	// RunnersStarted counts accepted runner starts.
	RunnersStarted prometheus.Counter
	// RunnersFinished counts runners removed from the registry.
	RunnersFinished prometheus.Counter
	// UpdatesDelivered counts updates appended to receivers, by kind.
	UpdatesDelivered *prometheus.CounterVec
	// Exceptions counts handled runner exceptions, by fatality.
	Exceptions *prometheus.CounterVec
	// RefreshDuration records how long one runner refresh took.
	RefreshDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		RunnersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "runners_active",
			Help:      "Number of runners registered with the dispatcher.",
		}),
		RunnersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "runners_started_total",
			Help:      "Total number of runners started.",
		}),
		RunnersFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "runners_finished_total",
			Help:      "Total number of runners finished and unregistered.",
		}),
		UpdatesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "updates_total",
			Help:      "Total number of runner updates delivered to receivers.",
		}, []string{"kind"}),
		Exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "exceptions_total",
			Help:      "Total number of runner exceptions handled by the dispatcher.",
		}, []string{"fatal"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "refresh_duration_seconds",
			Help:      "Bucketed histogram of runner refresh time (s).",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.RunnersActive,
		m.RunnersStarted,
		m.RunnersFinished,
		m.UpdatesDelivered,
		m.Exceptions,
		m.RefreshDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) RunnerStarted() {
	if m == nil {
		return
	}
	m.RunnersStarted.Inc()
	m.RunnersActive.Inc()
}

func (m *Metrics) RunnerFinished() {
	if m == nil {
		return
	}
	m.RunnersFinished.Inc()
	m.RunnersActive.Dec()
}

func (m *Metrics) UpdateDelivered(kind string) {
	if m == nil {
		return
	}
	m.UpdatesDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) ExceptionHandled(fatal bool) {
	if m == nil {
		return
	}
	m.Exceptions.WithLabelValues(strconv.FormatBool(fatal)).Inc()
}

func (m *Metrics) ObserveRefresh(d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshDuration.Observe(d.Seconds())
}
