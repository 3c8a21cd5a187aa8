// Package metrics exposes Prometheus collectors for the slot pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline collectors. A nil *Metrics discards everything.
type Metrics struct {
	windows       *prometheus.CounterVec
	observed      prometheus.Gauge
	novel         prometheus.Counter
	notifications *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	seenSetSize   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "termini",
			Name:      "windows_total",
			Help:      "Calendar windows queried, by result",
		}, []string{"result"}),
		observed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "termini",
			Name:      "events_observed",
			Help:      "Slots seen by the most recent poll",
		}),
		novel: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "termini",
			Name:      "novel_events_total",
			Help:      "Slots that triggered a notification",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "termini",
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result",
		}, []string{"channel", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "termini",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of check and invalidation cycles",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
		seenSetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "termini",
			Name:      "seen_set_size",
			Help:      "Keys in the persisted seen-set after the last replace",
		}),
	}
	reg.MustRegister(m.windows, m.observed, m.novel, m.notifications, m.cycleDuration, m.seenSetSize)
	return m
}

// Window records one queried window.
func (m *Metrics) Window(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.windows.WithLabelValues(result).Inc()
}

// Observed records the number of slots in the latest poll.
func (m *Metrics) Observed(n int) {
	if m == nil {
		return
	}
	m.observed.Set(float64(n))
}

// Novel records slots that were notified about.
func (m *Metrics) Novel(n int) {
	if m == nil {
		return
	}
	m.novel.Add(float64(n))
}

// Notification records one delivery attempt.
func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// Cycle records the duration of a job started at start.
func (m *Metrics) Cycle(job string, start time.Time) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// SeenSet records the size of the stored seen-set.
func (m *Metrics) SeenSet(n int) {
	if m == nil {
		return
	}
	m.seenSetSize.Set(float64(n))
}
