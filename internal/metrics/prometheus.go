package metrics

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Batch metrics
	batchesTotal     prometheus.Counter
	batchErrorsTotal prometheus.Counter
	batchDuration    prometheus.Histogram
	batchSize        prometheus.Histogram
	jobOutcomesTotal *prometheus.CounterVec
	jobsInFlight     prometheus.Gauge

	// Plugin call metrics
	pluginCallsTotal   *prometheus.CounterVec
	pluginCallDuration prometheus.Histogram

	// Reconciler metrics
	reconcileRunsTotal    prometheus.Counter
	reconcileErrorsTotal  prometheus.Counter
	batchesAbandonedTotal prometheus.Counter

	// Leader election metrics
	isLeader        prometheus.Gauge
	leaderLostTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initBatchMetrics(reg)
	s.initPluginMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initBatchMetrics(reg prometheus.Registerer) {
	s.batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wecube_batch_executions_total",
		Help: "Total number of batch executions handled.",
	})
	s.batchErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wecube_batch_execution_errors_total",
		Help: "Total number of batch executions aborted by an uncontained error.",
	})
	s.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wecube_batch_execution_duration_seconds",
		Help:    "Duration of a whole batch execution in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
	s.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wecube_batch_execution_jobs",
		Help:    "Number of jobs per batch execution.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	})
	s.jobOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wecube_batch_job_outcomes_total",
		Help: "Total number of jobs by terminal state.",
	}, []string{"state"})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wecube_batch_jobs_in_flight",
		Help: "Number of jobs currently being resolved or invoked.",
	})

	s.register(reg, s.batchesTotal, "wecube_batch_executions_total")
	s.register(reg, s.batchErrorsTotal, "wecube_batch_execution_errors_total")
	s.register(reg, s.batchDuration, "wecube_batch_execution_duration_seconds")
	s.register(reg, s.batchSize, "wecube_batch_execution_jobs")
	s.register(reg, s.jobOutcomesTotal, "wecube_batch_job_outcomes_total")
	s.register(reg, s.jobsInFlight, "wecube_batch_jobs_in_flight")
}

func (s *PrometheusSink) initPluginMetrics(reg prometheus.Registerer) {
	s.pluginCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wecube_plugin_calls_total",
		Help: "Total number of plugin interface calls.",
	}, []string{"status_class"})
	s.pluginCallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wecube_plugin_call_duration_seconds",
		Help:    "Plugin interface call latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.pluginCallsTotal, "wecube_plugin_calls_total")
	s.register(reg, s.pluginCallDuration, "wecube_plugin_call_duration_seconds")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.reconcileRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wecube_reconciler_runs_total",
		Help: "Total number of reconciliation cycles.",
	})
	s.reconcileErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wecube_reconciler_errors_total",
		Help: "Total number of failed reconciliation cycles.",
	})
	s.batchesAbandonedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wecube_reconciler_batches_abandoned_total",
		Help: "Total number of incomplete batches marked abandoned.",
	})

	s.register(reg, s.reconcileRunsTotal, "wecube_reconciler_runs_total")
	s.register(reg, s.reconcileErrorsTotal, "wecube_reconciler_errors_total")
	s.register(reg, s.batchesAbandonedTotal, "wecube_reconciler_batches_abandoned_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wecube_leader_is_leader",
		Help: "1 if this instance holds the reconciler lock, 0 otherwise.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wecube_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "wecube_leader_is_leader")
	s.register(reg, s.leaderLostTotal, "wecube_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn("metrics: failed to register collector", "name", name, "err", err)
	}
}

// Batch metrics implementation

func (s *PrometheusSink) BatchCompleted(jobs int, duration time.Duration, err error) {
	s.batchesTotal.Inc()
	s.batchDuration.Observe(duration.Seconds())
	s.batchSize.Observe(float64(jobs))
	if err != nil {
		s.batchErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) JobOutcome(state string) {
	s.jobOutcomesTotal.WithLabelValues(state).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

// Plugin call metrics implementation

func (s *PrometheusSink) PluginCallCompleted(statusClass string, duration time.Duration) {
	s.pluginCallsTotal.WithLabelValues(statusClass).Inc()
	s.pluginCallDuration.Observe(duration.Seconds())
}

// Reconciler metrics implementation

func (s *PrometheusSink) ReconcileCompleted(abandoned int, err error) {
	s.reconcileRunsTotal.Inc()
	if err != nil {
		s.reconcileErrorsTotal.Inc()
		return
	}
	s.batchesAbandonedTotal.Add(float64(abandoned))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
