// Package metrics exposes Prometheus collectors for the runner, grounded on
// the teacher's runtime/metrics/prometheus package but carrying runner
// domain series (task throughput/duration, queue depth, envelope drops)
// instead of pipeline/provider series.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "runner"

var (
	// tasksActive is a gauge of dispatched tasks that have not yet reached a
	// terminal status; PENDING tasks still in the queue are not counted.
	tasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Number of dispatched tasks that have not yet reached a terminal status",
		},
	)

	// taskDuration is a histogram of task wall-clock duration from dispatch
	// to terminal transition, in seconds.
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Histogram of task duration in seconds, from dispatch to terminal transition",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"reason"},
	)

	// tasksTotal is a counter of tasks reaching a terminal status.
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of tasks reaching a terminal status",
		},
		[]string{"reason"},
	)

	// queueDepth is a gauge of the scheduler's pending-admission queue depth.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for a worker slot",
		},
	)

	// envelopesDroppedTotal is a counter of envelopes that never reached a
	// subscriber (protocol violations, no pending entry, mismatched request).
	envelopesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Total number of envelopes dropped before reaching a subscriber",
		},
		[]string{"envelope_type", "reason"},
	)

	// allMetrics lists every collector for registration.
	allMetrics = []prometheus.Collector{
		tasksActive,
		taskDuration,
		tasksTotal,
		queueDepth,
		envelopesDroppedTotal,
	}
)

// MustRegister registers every runner collector with reg. Panics on
// duplicate registration, matching prometheus.MustRegister's contract.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(allMetrics...)
}

// RecordTaskDispatched records a task entering RUNNING.
func RecordTaskDispatched() {
	tasksActive.Inc()
}

// RecordTaskTerminated records a task leaving RUNNING for a terminal status.
func RecordTaskTerminated(reason string, durationSeconds float64) {
	tasksActive.Dec()
	taskDuration.WithLabelValues(reason).Observe(durationSeconds)
	tasksTotal.WithLabelValues(reason).Inc()
}

// RecordQueueDepth sets the current admission-queue depth sample.
func RecordQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordEnvelopeDropped records an envelope that was dropped instead of
// reaching its subscriber.
func RecordEnvelopeDropped(envelopeType, reason string) {
	envelopesDroppedTotal.WithLabelValues(envelopeType, reason).Inc()
}
