package pipeline

import (
	"context"
	"fmt"

	"github.com/harrier-data/fleetsentry/internal/anomaly"
	"github.com/harrier-data/fleetsentry/internal/monitoring"
	"github.com/harrier-data/fleetsentry/internal/telemetry"
)

// Outcome is the result of the single ingest entry point. PipelineResult is
// present only when the sample classified as anomalous.
type Outcome struct {
	IsAnomaly      bool                    `json:"is_anomaly"`
	Classification *anomaly.Classification `json:"classification,omitempty"`
	Pipeline       *Result                 `json:"pipeline_result,omitempty"`
}

// Service composes validation, classification and the pipeline into the one
// entry point the transport layer consumes.
type Service struct {
	classifier *anomaly.Classifier
	orch       *Orchestrator
	metrics    *monitoring.Metrics
}

// NewService creates the ingest service.
func NewService(classifier *anomaly.Classifier, orch *Orchestrator, metrics *monitoring.Metrics) *Service {
	return &Service{classifier: classifier, orch: orch, metrics: metrics}
}

// ClassifyAndRun validates the sample, classifies it, and on a positive
// classification runs the full pipeline. Validation failures surface before
// classification; classification itself never fails; a generation failure
// inside the pipeline is the only hard error after validation.
func (s *Service) ClassifyAndRun(ctx context.Context, sample telemetry.Sample) (*Outcome, error) {
	if err := sample.Validate(); err != nil {
		return nil, err
	}
	s.metrics.IncSamplesIngested()

	cls := s.classifier.Classify(sample)
	if !cls.IsAnomaly {
		return &Outcome{IsAnomaly: false}, nil
	}
	s.metrics.IncAnomaly(string(cls.Component))

	res, err := s.orch.Run(ctx, sample, cls)
	if err != nil {
		return nil, fmt.Errorf("pipeline run for vin %s: %w", sample.VIN, err)
	}
	return &Outcome{IsAnomaly: true, Classification: &cls, Pipeline: res}, nil
}
