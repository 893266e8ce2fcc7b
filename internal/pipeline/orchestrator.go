package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrier-data/fleetsentry/internal/anomaly"
	"github.com/harrier-data/fleetsentry/internal/faultdb"
	"github.com/harrier-data/fleetsentry/internal/monitoring"
	"github.com/harrier-data/fleetsentry/internal/telemetry"
	"github.com/harrier-data/fleetsentry/internal/timeutil"
)

// Generator is the injected text-generation capability. Persona is the agent
// identity for the call; instruction is the full task text. Any provider
// failure is returned as an error and aborts the pipeline run.
type Generator interface {
	Generate(ctx context.Context, persona, instruction string) (string, error)
}

// FaultSaver is the narrow persistence interface the orchestrator needs.
// *faultdb.FaultStore satisfies it.
type FaultSaver interface {
	Save(rec *faultdb.FaultRecord) error
}

// ErrNotAnomalous is returned when Run is invoked with a negative
// classification. The caller is expected to gate on IsAnomaly; this is an
// assertion, not a recovery path.
var ErrNotAnomalous = errors.New("pipeline requires an anomalous classification")

// StageError wraps a text-generation failure at a specific stage. It aborts
// the remaining stages; no partial aggregate is returned and no fault record
// is persisted.
type StageError struct {
	Stage StageKey
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline aborted at stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Fallback values used when the classification carries no usable field.
// Persistence must not fail over a missing attribute.
const (
	fallbackPredictedKm = 200.0
	fallbackComponent   = "unknown"
	fallbackSeverity    = "medium"
)

// StageOutput is the result of one stage. Booking is set only for the booking
// stage and only when its output parsed against the JSON contract; otherwise
// Output retains the raw text.
type StageOutput struct {
	Key     StageKey            `json:"key"`
	Role    string              `json:"role"`
	Output  string              `json:"output"`
	Booking *BookingInstruction `json:"booking,omitempty"`
}

// Result is the composite outcome of one pipeline run. Persisted is false
// when the fault record could not be stored; the rest of the result is still
// valid and returned to the caller.
type Result struct {
	RunID     string        `json:"run_id"`
	Context   Context       `json:"context"`
	Stages    []StageOutput `json:"stages"`
	Output    string        `json:"output"`
	FaultID   string        `json:"fault_id"`
	Persisted bool          `json:"persisted"`
}

// Orchestrator executes the five stages in fixed sequential order against a
// shared immutable context, assembles a fault record and hands it to the
// store. Each run owns its own context and record; concurrent runs for
// different vehicles share nothing mutable, so an Orchestrator is safe for
// concurrent use.
type Orchestrator struct {
	gen          Generator
	store        FaultSaver
	stages       []Stage
	clock        timeutil.Clock
	metrics      *monitoring.Metrics
	stageTimeout time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the wall clock, for tests.
func WithClock(c timeutil.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

// WithMetrics attaches the metric set.
func WithMetrics(m *monitoring.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStageTimeout bounds each text-generation call. Zero disables the bound;
// a timeout is treated as a stage failure.
func WithStageTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// NewOrchestrator creates an orchestrator over the fixed stage registry.
func NewOrchestrator(gen Generator, store FaultSaver, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gen:    gen,
		store:  store,
		stages: Stages(),
		clock:  timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full pipeline for an anomalous sample. The five stages run
// one after another on the caller's goroutine; they are data-independent (each
// sees the same context, never another stage's output), so ordering governs
// presentation, not computation. On generation failure the run aborts with a
// *StageError and nothing is persisted. Persistence failure after a
// successful run is logged and reflected in Result.Persisted, never returned
// as an error.
func (o *Orchestrator) Run(ctx context.Context, sample telemetry.Sample, cls anomaly.Classification) (*Result, error) {
	if !cls.IsAnomaly {
		return nil, ErrNotAnomalous
	}

	runID := uuid.New().String()
	pctx := BuildContext(sample, cls)
	o.metrics.IncRunsStarted()
	monitoring.Logf("[pipeline] run %s: vin=%s component=%s severity=%s",
		runID, sample.VIN, cls.Component, cls.Severity)

	outputs := make([]StageOutput, 0, len(o.stages))
	for _, st := range o.stages {
		text, err := o.runStage(ctx, st, pctx)
		if err != nil {
			o.metrics.IncRunsFailed()
			monitoring.Logf("[pipeline] run %s failed at stage %s: %v", runID, st.Key, err)
			return nil, &StageError{Stage: st.Key, Err: err}
		}

		out := StageOutput{Key: st.Key, Role: st.Role, Output: text}
		if st.Key == StageBooking {
			// Soft failure: booking details are advisory, raw text is kept.
			out.Booking, _ = ParseBooking(text)
		}
		outputs = append(outputs, out)
	}

	payload, err := json.Marshal(pctx)
	if err != nil {
		// Context is a plain struct; this cannot fail in practice.
		monitoring.Logf("[pipeline] run %s: marshal context: %v", runID, err)
	}

	rec := &faultdb.FaultRecord{
		ID:                 uuid.New().String(),
		VIN:                sample.VIN,
		DetectedAt:         o.clock.Now().UTC(),
		PredictedFailureKm: cls.PredictedFailureKm,
		Component:          string(cls.Component),
		Severity:           string(cls.Severity),
		RawPayload:         payload,
	}
	if rec.PredictedFailureKm == 0 {
		rec.PredictedFailureKm = fallbackPredictedKm
	}
	if rec.Component == "" {
		rec.Component = fallbackComponent
	}
	if rec.Severity == "" {
		rec.Severity = fallbackSeverity
	}

	persisted := true
	if err := o.store.Save(rec); err != nil {
		// The generated advice is still valuable without durable storage.
		persisted = false
		o.metrics.IncPersistFailures()
		monitoring.Logf("[pipeline] run %s: fault %s not persisted: %v", runID, rec.ID, err)
	}

	o.metrics.IncRunsCompleted()
	monitoring.Logf("[pipeline] run %s done: fault=%s persisted=%v", runID, rec.ID, persisted)

	return &Result{
		RunID:     runID,
		Context:   pctx,
		Stages:    outputs,
		Output:    aggregate(outputs, o.stages),
		FaultID:   rec.ID,
		Persisted: persisted,
	}, nil
}

func (o *Orchestrator) runStage(ctx context.Context, st Stage, pctx Context) (string, error) {
	prompt, err := st.Prompt(pctx)
	if err != nil {
		return "", err
	}

	genCtx := ctx
	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	start := o.clock.Now()
	text, err := o.gen.Generate(genCtx, st.Persona(), prompt)
	o.metrics.ObserveStageLatency(string(st.Key), o.clock.Since(start).Seconds())
	return text, err
}

// aggregate renders the single textual representation of all stage outputs,
// in fixed presentation order.
func aggregate(outputs []StageOutput, stages []Stage) string {
	titles := make(map[StageKey]string, len(stages))
	for _, st := range stages {
		titles[st.Key] = st.Title
	}

	var b strings.Builder
	for n, out := range outputs {
		if n > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", titles[out.Key], strings.TrimSpace(out.Output))
	}
	return b.String()
}
