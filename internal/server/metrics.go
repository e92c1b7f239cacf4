package server

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting orchestrator activity.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	taskTransitions *prometheus.CounterVec
	claimOutcomes   *prometheus.CounterVec
	sweepsTotal     *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Collectors are created only once so that
// building multiple servers (tests, multi-tenant runners) does not panic on
// duplicate registration.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Pass a fresh registry when unique metric names are required. Registration
// errors other than AlreadyRegistered panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "squad",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests by route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
	taskTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "squad",
			Subsystem: "tasks",
			Name:      "transitions_total",
			Help:      "Task lifecycle transitions by kind.",
		},
		[]string{"transition"},
	)
	claimOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "squad",
			Subsystem: "tasks",
			Name:      "claims_total",
			Help:      "Claim attempts by outcome (won or lost).",
		},
		[]string{"outcome"},
	)
	sweepsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "squad",
			Subsystem: "retention",
			Name:      "sweeps_total",
			Help:      "Retention sweeps by strategy.",
		},
		[]string{"strategy"},
	)

	collectors := []prometheus.Collector{requestDuration, taskTransitions, claimOutcomes, sweepsTotal}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case requestDuration:
					requestDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case taskTransitions:
					taskTransitions = already.ExistingCollector.(*prometheus.CounterVec)
				case claimOutcomes:
					claimOutcomes = already.ExistingCollector.(*prometheus.CounterVec)
				case sweepsTotal:
					sweepsTotal = already.ExistingCollector.(*prometheus.CounterVec)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		requestDuration: requestDuration,
		taskTransitions: taskTransitions,
		claimOutcomes:   claimOutcomes,
		sweepsTotal:     sweepsTotal,
	}
}

// ObserveRequest records one handled API request.
func (m *Metrics) ObserveRequest(route, method, status string, took time.Duration) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, method, status).Observe(took.Seconds())
}

// IncTaskTransition counts a task lifecycle transition.
func (m *Metrics) IncTaskTransition(transition string) {
	if m == nil || m.taskTransitions == nil {
		return
	}
	m.taskTransitions.WithLabelValues(transition).Inc()
}

// IncClaim counts a claim attempt outcome.
func (m *Metrics) IncClaim(outcome string) {
	if m == nil || m.claimOutcomes == nil {
		return
	}
	m.claimOutcomes.WithLabelValues(outcome).Inc()
}

// IncSweep counts a retention sweep.
func (m *Metrics) IncSweep(strategy string) {
	if m == nil || m.sweepsTotal == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(strategy).Inc()
}
