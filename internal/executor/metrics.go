package executor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report queue and executor
// activity.
type Metrics struct {
	executionDuration *prometheus.HistogramVec
	executionFailures *prometheus.CounterVec
	parseBatches      prometheus.Counter
	actionsQueued     *prometheus.CounterVec
	bulkSkipped       prometheus.Counter
	queueDepth        prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once so
// repeated executor construction (unit tests, REPL plus server in the same
// process) cannot panic on duplicate registration.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Callers needing isolated metric names (tests) supply a fresh registry. Any
// registration error other than a duplicate panics, mirroring promauto and
// surfacing configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	executionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolq",
			Subsystem: "executor",
			Name:      "action_duration_seconds",
			Help:      "Duration of each executed action.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
	executionFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolq",
			Subsystem: "executor",
			Name:      "action_failures_total",
			Help:      "Total number of action executions that failed.",
		},
		[]string{"kind", "reason"},
	)
	parseBatches := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolq",
			Subsystem: "queue",
			Name:      "parse_batches_total",
			Help:      "Responses parsed into at least one queued action.",
		},
	)
	actionsQueued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolq",
			Subsystem: "queue",
			Name:      "actions_total",
			Help:      "Actions queued for approval, by kind.",
		},
		[]string{"kind"},
	)
	bulkSkipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolq",
			Subsystem: "executor",
			Name:      "bulk_skipped_total",
			Help:      "Shell actions left queued by bulk approvals.",
		},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolq",
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Number of actions currently awaiting approval.",
		},
	)

	// Register each collector, falling back to the one already registered
	// under the same name so repeated construction cannot panic.
	reuse := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}

	return &Metrics{
		executionDuration: reuse(executionDuration).(*prometheus.HistogramVec),
		executionFailures: reuse(executionFailures).(*prometheus.CounterVec),
		parseBatches:      reuse(parseBatches).(prometheus.Counter),
		actionsQueued:     reuse(actionsQueued).(*prometheus.CounterVec),
		bulkSkipped:       reuse(bulkSkipped).(prometheus.Counter),
		queueDepth:        reuse(queueDepth).(prometheus.Gauge),
	}
}

// IncParseBatch counts one response that queued at least one action.
func (m *Metrics) IncParseBatch() {
	if m == nil || m.parseBatches == nil {
		return
	}
	m.parseBatches.Inc()
}

// IncQueued counts one action entering the queue.
func (m *Metrics) IncQueued(kind string) {
	if m == nil || m.actionsQueued == nil {
		return
	}
	m.actionsQueued.WithLabelValues(kind).Inc()
}

// ObserveExecution records the time spent executing an action.
func (m *Metrics) ObserveExecution(kind string, outcome string, duration time.Duration) {
	if m == nil || m.executionDuration == nil {
		return
	}
	m.executionDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}

// IncFailure increments the failure counter for the given kind and reason.
func (m *Metrics) IncFailure(kind string, reason string) {
	if m == nil || m.executionFailures == nil {
		return
	}
	m.executionFailures.WithLabelValues(kind, reason).Inc()
}

// AddBulkSkipped records shell actions a bulk approval left queued.
func (m *Metrics) AddBulkSkipped(n int) {
	if m == nil || m.bulkSkipped == nil || n <= 0 {
		return
	}
	m.bulkSkipped.Add(float64(n))
}

// SetQueueDepth reports the current number of queued actions.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
