package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestVerificationMetricsRecordsStageOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewVerificationMetrics(reg)

	m.ObserveStage(StageUpload, OutcomeSuccess, 300*time.Millisecond)
	m.ObserveStage(StageUpload, OutcomeSuccess, 100*time.Millisecond)
	m.ObserveStage(StageAnchor, OutcomeFailure, 2*time.Second)
	m.ObserveStage(StagePayment, OutcomeSkipped, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	mf := findMetricFamily(mfs, "originhash_verification_stage_total")
	if mf == nil {
		t.Fatal("stage counter not exported")
	}
	counts := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		var stage, outcome string
		for _, label := range metric.GetLabel() {
			switch label.GetName() {
			case "stage":
				stage = label.GetValue()
			case "outcome":
				outcome = label.GetValue()
			}
		}
		counts[stage+"/"+outcome] = metric.GetCounter().GetValue()
	}
	if counts["upload/success"] != 2 || counts["anchor/failure"] != 1 || counts["payment/skipped"] != 1 {
		t.Fatalf("unexpected counters %v", counts)
	}

	if got, err := fetchHistogramSum(mfs, "originhash_verification_stage_duration_seconds", "stage", StageAnchor); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got != 2 {
		t.Fatalf("expected anchor duration sum 2, got %f", got)
	}
	if _, err := fetchHistogramSum(mfs, "originhash_verification_stage_duration_seconds", "stage", StagePayment); err == nil {
		t.Fatal("skipped stages should not be timed")
	}
}

func TestVerificationMetricsNilSafe(t *testing.T) {
	var m *VerificationMetrics
	m.ObserveStage(StageAnchor, OutcomeSuccess, time.Second)
	NewVerificationMetrics(nil).ObserveStage(StageAnchor, OutcomeSuccess, time.Second)
}
