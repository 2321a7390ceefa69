package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for mark-ins and maintenance jobs.
type Metrics struct {
	marks    *prometheus.CounterVec
	repaired prometheus.Counter
	reset    prometheus.Counter
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New registers the collectors against registerer. A nil registerer uses the
// default Prometheus registerer, registered once per process.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = build(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return build(registerer)
}

// Mark outcomes.
const (
	OutcomePresent       = "present"
	OutcomeLate          = "late"
	OutcomeAlreadyMarked = "already_marked"
	OutcomeNotFound      = "not_found"
	OutcomeError         = "error"
)

// ObserveMark counts one mark-in attempt by outcome.
func (m *Metrics) ObserveMark(outcome string) {
	if m == nil {
		return
	}
	m.marks.WithLabelValues(outcome).Inc()
}

// AddRepaired counts documents whose attendance field was normalized.
func (m *Metrics) AddRepaired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repaired.Add(float64(n))
}

// AddReset counts documents cleared by a reset.
func (m *Metrics) AddReset(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reset.Add(float64(n))
}

// Tracker records a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records duration and outcome and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

func build(registerer prometheus.Registerer) *Metrics {
	marks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_marks_total",
		Help: "Mark-in attempts partitioned by outcome.",
	}, []string{"outcome"})
	repaired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_repaired_documents_total",
		Help: "Student documents whose malformed attendance field was reset to an empty list.",
	})
	reset := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_reset_documents_total",
		Help: "Student documents cleared by scheduled resets.",
	})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_jobs_total",
		Help: "Maintenance job executions partitioned by job and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_jobs_failures_total",
		Help: "Failures observed for maintenance jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rollcall_job_duration_seconds",
		Help:    "Duration in seconds of maintenance job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	registerer.MustRegister(marks, repaired, reset, runs, failures, duration)
	return &Metrics{marks: marks, repaired: repaired, reset: reset, runs: runs, failures: failures, duration: duration}
}
