package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline stages observed by VerificationMetrics.
const (
	StagePayment     = "payment"
	StageUpload      = "upload"
	StageAnchor      = "anchor"
	StageFinalize    = "finalize"
	StageLedgerQuery = "ledger_query"
)

// Stage outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomePartial = "partial"
)

// VerificationMetrics counts and times each stage of the verification pipeline.
type VerificationMetrics struct {
	stages   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewVerificationMetrics registers the pipeline metrics on reg. A nil registerer yields a no-op recorder.
func NewVerificationMetrics(reg prometheus.Registerer) *VerificationMetrics {
	if reg == nil {
		return &VerificationMetrics{}
	}
	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "originhash_verification_stage_total",
		Help: "Verification pipeline stage executions by outcome.",
	}, []string{"stage", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "originhash_verification_stage_duration_seconds",
		Help:    "Duration of verification pipeline stages in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})
	reg.MustRegister(stages, duration)
	return &VerificationMetrics{stages: stages, duration: duration}
}

// ObserveStage records one execution of stage.
func (v *VerificationMetrics) ObserveStage(stage, outcome string, elapsed time.Duration) {
	if v == nil || v.stages == nil {
		return
	}
	stage = normalizeLabel(stage)
	v.stages.WithLabelValues(stage, normalizeLabel(outcome)).Inc()
	if outcome != OutcomeSkipped {
		v.duration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}
