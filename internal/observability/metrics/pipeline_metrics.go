package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PipelineCommission  = "commission"
	PipelineDiasporaFee = "diaspora_fee"
	PipelineAnalytics   = "analytics"
	PipelineWithdrawal  = "withdrawal"
)

// PipelineMetrics records terminal states and stage latency of every
// event handler.
type PipelineMetrics struct {
	runs             *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	commissionAmount *prometheus.CounterVec
	reconciliations  prometheus.Counter
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

// NewPipelineMetricsForRegistry builds an unshared registry-bound instance.
func NewPipelineMetricsForRegistry(registerer prometheus.Registerer) *PipelineMetrics {
	return newPipelineMetrics(registerer, Config{ServiceName: "homeledger", Environment: "test"})
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "homeledger_pipeline_runs_total",
		Help:        "Event handler runs by terminal state and error kind.",
		ConstLabels: constLabels,
	}, []string{"pipeline", "state", "error_kind"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "homeledger_pipeline_stage_duration_seconds",
		Help:        "Time spent reaching each pipeline stage.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"pipeline", "stage"})
	commissionAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "homeledger_commission_amount_total",
		Help:        "Sum of newly recorded commission amounts.",
		ConstLabels: constLabels,
	}, []string{"commission_for"})
	reconciliations := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "homeledger_commission_reconciliations_total",
		Help:        "Partial commission failures queued for manual reconciliation.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(runs, stageDuration, commissionAmount, reconciliations)

	return &PipelineMetrics{
		runs:             runs,
		stageDuration:    stageDuration,
		commissionAmount: commissionAmount,
		reconciliations:  reconciliations,
	}
}

// IncRun counts a terminal run. kind is empty for successful runs.
func (m *PipelineMetrics) IncRun(pipeline, state, kind string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(kind) == "" {
		kind = "none"
	}
	m.runs.WithLabelValues(pipeline, state, kind).Inc()
}

func (m *PipelineMetrics) ObserveStage(pipeline, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}

func (m *PipelineMetrics) AddCommissionAmount(commissionFor string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.commissionAmount.WithLabelValues(commissionFor).Add(amount)
}

func (m *PipelineMetrics) IncReconciliation() {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
}

func constLabelsFor(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "homeledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}
