package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harrier-data/fleetsentry/internal/anomaly"
	"github.com/harrier-data/fleetsentry/internal/telemetry"
)

func newTestService(gen Generator, store FaultSaver) *Service {
	orch := NewOrchestrator(gen, store)
	return NewService(anomaly.NewClassifier(), orch, nil)
}

func TestClassifyAndRunNominalSampleSkipsPipeline(t *testing.T) {
	gen := &fakeGenerator{}
	store := &memStore{}
	svc := newTestService(gen, store)

	s := telemetry.Sample{
		VIN:                "WDB0001",
		Timestamp:          time.Now(),
		CoolantTempC:       f(90),
		CoolantPressureBar: f(1.2),
		EngineRPM:          i(1500),
		VibrationLevel:     f(10),
		BatteryVoltage:     f(13.0),
		OdometerKm:         f(1000),
	}
	out, err := svc.ClassifyAndRun(context.Background(), s)
	if err != nil {
		t.Fatalf("ClassifyAndRun: %v", err)
	}
	if out.IsAnomaly {
		t.Error("nominal sample classified anomalous")
	}
	if out.Pipeline != nil {
		t.Error("pipeline_result must be absent when no anomaly")
	}
	if len(gen.calls) != 0 {
		t.Error("no stage may run for a healthy sample")
	}
	if len(store.saved) != 0 {
		t.Error("nothing may be persisted for a healthy sample")
	}
}

func TestClassifyAndRunAnomalousSampleEndToEnd(t *testing.T) {
	svc := newTestService(&fakeGenerator{}, &memStore{})

	out, err := svc.ClassifyAndRun(context.Background(), anomalousSample())
	if err != nil {
		t.Fatalf("ClassifyAndRun: %v", err)
	}
	if !out.IsAnomaly {
		t.Fatal("sample should be anomalous")
	}
	if out.Classification == nil || out.Classification.Component != anomaly.ComponentCoolantPump {
		t.Errorf("classification = %+v", out.Classification)
	}
	if out.Pipeline == nil {
		t.Fatal("pipeline_result missing")
	}
	if len(out.Pipeline.Stages) != 5 {
		t.Errorf("got %d stage outputs, want 5", len(out.Pipeline.Stages))
	}
	if out.Pipeline.FaultID == "" {
		t.Error("fault id must be non-empty")
	}
}

func TestClassifyAndRunValidationFailureBeforeClassification(t *testing.T) {
	svc := newTestService(&fakeGenerator{}, &memStore{})

	s := anomalousSample()
	s.VIN = "  "
	_, err := svc.ClassifyAndRun(context.Background(), s)
	var verr *telemetry.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *telemetry.ValidationError", err)
	}
}

func TestClassifyAndRunPropagatesGenerationFailure(t *testing.T) {
	gen := &fakeGenerator{failOn: "Data Monitoring"}
	store := &memStore{}
	svc := newTestService(gen, store)

	_, err := svc.ClassifyAndRun(context.Background(), anomalousSample())
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("err = %v, want wrapped *StageError", err)
	}
	if len(store.saved) != 0 {
		t.Error("save must never be called after a generation failure")
	}
}

func TestClassifyAndRunShapeUnchangedByStoreFailure(t *testing.T) {
	store := &memStore{failErr: errors.New("store down")}
	svc := newTestService(&fakeGenerator{}, store)

	out, err := svc.ClassifyAndRun(context.Background(), anomalousSample())
	if err != nil {
		t.Fatalf("persistence failure changed the external contract: %v", err)
	}
	if out.Pipeline == nil || len(out.Pipeline.Stages) != 5 || out.Pipeline.FaultID == "" {
		t.Error("result shape must be identical when the store fails")
	}
	if out.Pipeline.Persisted {
		t.Error("Persisted should report the failure")
	}
}
