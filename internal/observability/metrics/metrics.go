package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SweepJobReasonDeadlineExceeded = "deadline_exceeded"
	SweepJobReasonDBLockTimeout    = "db_lock_timeout"
	SweepJobReasonSerialization    = "serialization_failure"
	SweepJobReasonUniqueViolation  = "unique_violation"
	SweepJobReasonNotFound         = "not_found"
	SweepJobReasonUnknown          = "unknown"
)

const (
	CaptureResultCaptured        = "captured"
	CaptureResultAlreadyCaptured = "already_captured"
	CaptureResultFailed          = "failed"
	CaptureResultExpired         = "expired"
)

// Config carries constant labels stamped on every series.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics captures payment-engine health signals: sweeper job outcomes,
// webhook reconciliation throughput and capture results.
type Metrics struct {
	jobRuns      *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
	jobTimeouts  *prometheus.CounterVec
	runLoopLag   prometheus.Histogram
	webhookEvent *prometheus.CounterVec
	captures     *prometheus.CounterVec
	arrears      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the singleton metrics registry.
func Default() *Metrics {
	return WithConfig(Config{})
}

// WithConfig returns the singleton metrics registry using config labels.
func WithConfig(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return metrics
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paygate"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paygate_sweeper_job_runs_total",
			Help:        "Sweeper job executions.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "paygate_sweeper_job_duration_seconds",
			Help:        "Sweeper job wall time.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paygate_sweeper_job_errors_total",
			Help:        "Sweeper job errors by classified reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paygate_sweeper_job_timeouts_total",
			Help:        "Sweeper jobs cut off by their per-job deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "paygate_sweeper_run_loop_lag_seconds",
			Help:        "How far behind schedule a sweep tick started.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		webhookEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paygate_webhook_events_total",
			Help:        "Reconciled provider webhook events by type and result.",
			ConstLabels: constLabels,
		}, []string{"event_type", "result"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paygate_captures_total",
			Help:        "Capture attempts by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		arrears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paygate_arrears_total",
			Help:        "Arrears opened by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobErrors,
		m.jobTimeouts,
		m.runLoopLag,
		m.webhookEvent,
		m.captures,
		m.arrears,
	)
	return m
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *Metrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

func (m *Metrics) IncWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvent.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) IncCapture(result string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(result).Inc()
}

func (m *Metrics) IncArrear(reason string) {
	if m == nil {
		return
	}
	m.arrears.WithLabelValues(reason).Inc()
}

// ClassifyJobReason buckets job errors into a bounded label set so the
// error counter stays low-cardinality.
func ClassifyJobReason(err error) string {
	if err == nil {
		return SweepJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SweepJobReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SweepJobReasonNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "55006":
			return SweepJobReasonDBLockTimeout
		case "40001", "40P01":
			return SweepJobReasonSerialization
		case "23505":
			return SweepJobReasonUniqueViolation
		}
	}

	return SweepJobReasonUnknown
}
