// Package metrics records per job Prometheus metrics and pushes them to a
// Pushgateway when the job ends. Batch jobs are too short lived to be scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// JobMetrics contains the metrics of one CLI job. All Record methods are safe
// on a nil receiver so engines can run without metrics.
type JobMetrics struct {
	registry *prometheus.Registry
	job      string
	started  time.Time

	filesProcessed *prometheus.CounterVec
	fileFailures   *prometheus.CounterVec
	recordsChanged prometheus.Counter
	moves          *prometheus.CounterVec
	copies         *prometheus.CounterVec
	deletions      *prometheus.CounterVec
	lockWait       prometheus.Histogram
	jobDuration    prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// NewJobMetrics creates metrics for job on a private registry.
func NewJobMetrics(job string) (*JobMetrics, error) {
	m := &JobMetrics{
		registry: prometheus.NewRegistry(),
		job:      job,
		started:  time.Now(),
	}
	m.initMetrics()
	if err := m.registry.Register(m); err != nil {
		return nil, fmt.Errorf("registering job metrics: %w", err)
	}
	return m, nil
}

func (m *JobMetrics) initMetrics() {
	m.filesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrhms_files_processed_total",
			Help: "Dataset files visited by reconciliation",
		},
		[]string{"parser"},
	)
	m.fileFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrhms_file_failures_total",
			Help: "Dataset files that failed to reconcile",
		},
		[]string{"parser"},
	)
	m.recordsChanged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xrhms_records_changed_total",
		Help: "Dataset records whose status was corrected by the existence check",
	})
	m.moves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrhms_moves_total",
			Help: "Scheduled moves by result",
		},
		[]string{"result"},
	)
	m.copies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrhms_user_copies_total",
			Help: "User copy requests by result",
		},
		[]string{"result"},
	)
	m.deletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xrhms_user_copy_deletions_total",
			Help: "Expired user copies removed by result",
		},
		[]string{"result"},
	)
	m.lockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xrhms_lock_wait_seconds",
		Help:    "Time spent waiting for the dataset lock",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms to ~3min
	})
	m.jobDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xrhms_job_duration_seconds",
		Help: "Wall time of the last run",
	})
	m.lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xrhms_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run",
	})
}

// Describe implements prometheus.Collector
func (m *JobMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.filesProcessed.Describe(ch)
	m.fileFailures.Describe(ch)
	m.recordsChanged.Describe(ch)
	m.moves.Describe(ch)
	m.copies.Describe(ch)
	m.deletions.Describe(ch)
	m.lockWait.Describe(ch)
	m.jobDuration.Describe(ch)
	m.lastSuccess.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *JobMetrics) Collect(ch chan<- prometheus.Metric) {
	m.filesProcessed.Collect(ch)
	m.fileFailures.Collect(ch)
	m.recordsChanged.Collect(ch)
	m.moves.Collect(ch)
	m.copies.Collect(ch)
	m.deletions.Collect(ch)
	m.lockWait.Collect(ch)
	m.jobDuration.Collect(ch)
	m.lastSuccess.Collect(ch)
}

// Registry exposes the private registry, mainly for tests.
func (m *JobMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFile counts a reconciled file and, when failed, a failure.
func (m *JobMetrics) RecordFile(parser string, failed bool) {
	if m == nil {
		return
	}
	m.filesProcessed.WithLabelValues(parser).Inc()
	if failed {
		m.fileFailures.WithLabelValues(parser).Inc()
	}
}

// RecordChanged counts records corrected by the existence check.
func (m *JobMetrics) RecordChanged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsChanged.Add(float64(n))
}

// RecordMove counts one scheduled move.
func (m *JobMetrics) RecordMove(result string) {
	if m == nil {
		return
	}
	m.moves.WithLabelValues(result).Inc()
}

// RecordCopy counts one user copy request.
func (m *JobMetrics) RecordCopy(result string) {
	if m == nil {
		return
	}
	m.copies.WithLabelValues(result).Inc()
}

// RecordDeletion counts one user copy deletion.
func (m *JobMetrics) RecordDeletion(result string) {
	if m == nil {
		return
	}
	m.deletions.WithLabelValues(result).Inc()
}

// ObserveLockWait records how long the lock took to acquire.
func (m *JobMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// Finish stamps the duration and, on success, the last success time.
func (m *JobMetrics) Finish(success bool) {
	if m == nil {
		return
	}
	m.jobDuration.Set(time.Since(m.started).Seconds())
	if success {
		m.lastSuccess.SetToCurrentTime()
	}
}

// Push sends every metric of the job to the Pushgateway, replacing the
// previous push of the same job and instance.
func (m *JobMetrics) Push(ctx context.Context, gatewayURL, instance string, client push.HTTPDoer) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	pusher := push.New(gatewayURL, m.job).Gatherer(m.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if client != nil {
		pusher = pusher.Client(client)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics for job %s: %w", m.job, err)
	}
	return nil
}
