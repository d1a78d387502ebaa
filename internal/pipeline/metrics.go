package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pool activity
type Metrics struct {
	Claimed         prometheus.Counter
	Completed       prometheus.Counter
	Retried         prometheus.Counter
	Failed          prometheus.Counter
	Discarded       prometheus.Counter
	Enqueued        *prometheus.CounterVec
	CompileDuration prometheus.Histogram
}

// NewMetrics creates the pool metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsl",
			Subsystem: "compile",
			Name:      "jobs_claimed_total",
			Help:      "Compilation jobs claimed by workers.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsl",
			Subsystem: "compile",
			Name:      "jobs_completed_total",
			Help:      "Compilation jobs completed with artifacts.",
		}),
		Retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsl",
			Subsystem: "compile",
			Name:      "jobs_retried_total",
			Help:      "Failed compilation attempts returned to the queue.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsl",
			Subsystem: "compile",
			Name:      "jobs_failed_total",
			Help:      "Compilation jobs that exhausted their retries.",
		}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dsl",
			Subsystem: "compile",
			Name:      "jobs_discarded_total",
			Help:      "Results dropped because the job was cancelled while compiling.",
		}),
		Enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dsl",
				Subsystem: "compile",
				Name:      "jobs_enqueued_total",
				Help:      "Compilation requests by reason.",
			},
			[]string{"reason"},
		),
		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dsl",
			Subsystem: "compile",
			Name:      "duration_seconds",
			Help:      "Time spent compiling one job.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Claimed, m.Completed, m.Retried, m.Failed, m.Discarded, m.Enqueued, m.CompileDuration)
	}
	return m
}
