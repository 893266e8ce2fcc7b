package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/harrier-data/fleetsentry/internal/faultdb"
	"github.com/harrier-data/fleetsentry/internal/fleet"
	"github.com/harrier-data/fleetsentry/internal/httputil"
	"github.com/harrier-data/fleetsentry/internal/monitoring"
	"github.com/harrier-data/fleetsentry/internal/pipeline"
	"github.com/harrier-data/fleetsentry/internal/telemetry"
	"github.com/harrier-data/fleetsentry/internal/units"
	"github.com/harrier-data/fleetsentry/internal/version"
)

// oemSnapshotLimit bounds how many recent faults feed the OEM fleet views.
const oemSnapshotLimit = 300

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// distanceUnits reads and validates the optional units query parameter.
// Stored distances are km; callers may request miles.
func distanceUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return units.KM, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter (want one of: %s)", units.GetValidUnitsString())
	}
	return u, nil
}

// ingestResponse is the ingest payload for anomalous samples. Summary is the
// immutable context the stages saw; Output is the aggregated stage text.
type ingestResponse struct {
	Status    string                 `json:"status"`
	Anomaly   bool                   `json:"anomaly"`
	Message   string                 `json:"message,omitempty"`
	FaultID   string                 `json:"fault_id,omitempty"`
	Summary   *pipeline.Context      `json:"summary,omitempty"`
	Stages    []pipeline.StageOutput `json:"stages,omitempty"`
	Output    string                 `json:"advisory_output,omitempty"`
	Persisted *bool                  `json:"persisted,omitempty"`
}

func (s *Server) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var sample telemetry.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid telemetry payload: %v", err))
		return
	}

	outcome, err := s.svc.ClassifyAndRun(r.Context(), sample)
	if err != nil {
		var verr *telemetry.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteJSONError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		monitoring.Logf("ingest failed for vin %s: %v", sample.VIN, err)
		httputil.InternalServerError(w, "internal processing error; please try again later")
		return
	}

	if !outcome.IsAnomaly {
		httputil.WriteJSONOK(w, ingestResponse{
			Status:  "ok",
			Anomaly: false,
			Message: "No anomaly detected.",
		})
		return
	}

	res := outcome.Pipeline
	httputil.WriteJSONOK(w, ingestResponse{
		Status:    "anomaly_detected",
		Anomaly:   true,
		FaultID:   res.FaultID,
		Summary:   &res.Context,
		Stages:    res.Stages,
		Output:    res.Output,
		Persisted: &res.Persisted,
	})
}

func (s *Server) listFaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := faultdb.DefaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	targetUnits, err := distanceUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	records, err := s.store.ListRecent(limit)
	if err != nil {
		monitoring.Logf("failed to list faults: %v", err)
		httputil.InternalServerError(w, "failed to fetch faults")
		return
	}
	for i := range records {
		records[i].PredictedFailureKm = units.ConvertDistance(records[i].PredictedFailureKm, targetUnits)
	}
	httputil.WriteJSONOK(w, records)
}

type chatRequest struct {
	VIN     string `json:"vin"`
	Message string `json:"message"`
}

type chatResponse struct {
	VIN                string   `json:"vin"`
	UserMessage        string   `json:"user_message"`
	BotMessage         string   `json:"bot_message"`
	Severity           *string  `json:"severity,omitempty"`
	Component          *string  `json:"component,omitempty"`
	PredictedFailureKm *float64 `json:"predicted_failure_km,omitempty"`
	AnomalyReason      *string  `json:"anomaly_reason,omitempty"`
}

// payloadContext is the subset of the stored fault payload the chat
// endpoints read back. Stored payloads are pipeline contexts, so fields may
// be null for older records.
type payloadContext struct {
	Component          *string  `json:"component"`
	Severity           *string  `json:"severity"`
	AnomalyReason      *string  `json:"anomaly_reason"`
	PredictedFailureKm *float64 `json:"predicted_failure_km"`
}

func (s *Server) driverChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid chat payload: %v", err))
		return
	}
	vin := strings.TrimSpace(req.VIN)
	userMsg := strings.TrimSpace(req.Message)
	if vin == "" || userMsg == "" {
		httputil.BadRequest(w, "vin and message are required")
		return
	}

	faults, err := s.store.ListForVehicle(vin)
	if err != nil {
		monitoring.Logf("chat: failed to list faults for vin %s: %v", vin, err)
		httputil.InternalServerError(w, "failed to fetch vehicle faults")
		return
	}

	resp := chatResponse{VIN: vin, UserMessage: userMsg}
	faultContext := "No active faults detected."
	if len(faults) > 0 {
		f := faults[0]
		component, severity := f.Component, f.Severity
		reason := "An anomaly was detected."
		predictedKm := f.PredictedFailureKm

		var p payloadContext
		if len(f.RawPayload) > 0 {
			if err := json.Unmarshal(f.RawPayload, &p); err == nil {
				if p.Component != nil {
					component = *p.Component
				}
				if p.Severity != nil {
					severity = *p.Severity
				}
				if p.AnomalyReason != nil {
					reason = *p.AnomalyReason
				}
				if p.PredictedFailureKm != nil {
					predictedKm = *p.PredictedFailureKm
				}
			}
		}

		faultContext = fmt.Sprintf(
			"Detected Fault:\n- Component: %s\n- Severity: %s\n- Reason: %s\n- Predicted failure distance: approx. %.0f km",
			component, severity, reason, predictedKm)
		resp.Component = &component
		resp.Severity = &severity
		resp.AnomalyReason = &reason
		resp.PredictedFailureKm = &predictedKm
	}

	persona := "You are the vehicle service assistant. Only answer using the provided fault context."
	instruction := fmt.Sprintf("Vehicle VIN: %s\n\n%s\n\nDriver Question: %q", vin, faultContext, userMsg)

	reply, err := s.gen.Generate(r.Context(), persona, instruction)
	if err != nil {
		monitoring.Logf("chat: generation failed for vin %s: %v", vin, err)
		httputil.InternalServerError(w, fmt.Sprintf("generation error: %v", err))
		return
	}
	resp.BotMessage = strings.TrimSpace(reply)
	httputil.WriteJSONOK(w, resp)
}

type oemChatRequest struct {
	Query string `json:"query"`
}

type oemChatResponse struct {
	Answer string              `json:"answer"`
	Table  []fleet.SnapshotRow `json:"table,omitempty"`
}

func (s *Server) oemChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req oemChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid oem chat payload: %v", err))
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		httputil.BadRequest(w, "query is required")
		return
	}

	records, err := s.store.ListRecent(oemSnapshotLimit)
	if err != nil {
		monitoring.Logf("oem chat: failed to list faults: %v", err)
		httputil.InternalServerError(w, "failed to fetch fleet faults")
		return
	}
	rows := fleet.BuildSnapshot(records)

	persona := "You are the OEM reliability assistant. You answer questions for OEM reliability " +
		"and quality teams using ONLY the fleet snapshot provided. Be specific about which " +
		"VINs and components are at risk, timeframes in km or weeks, and recommended actions."
	instruction := fmt.Sprintf(
		"Fleet snapshot (recent faults, one per line):\n%s\nOEM question:\n%s\n\nRespond in 2-4 short paragraphs, then optionally a bullet list of key actions.",
		fleet.SnapshotText(rows), query)

	answer, err := s.gen.Generate(r.Context(), persona, instruction)
	if err != nil {
		monitoring.Logf("oem chat: generation failed: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("generation error: %v", err))
		return
	}
	httputil.WriteJSONOK(w, oemChatResponse{
		Answer: strings.TrimSpace(answer),
		Table:  rows,
	})
}

func (s *Server) showFleetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	targetUnits, err := distanceUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	records, err := s.store.ListRecent(oemSnapshotLimit)
	if err != nil {
		monitoring.Logf("fleet stats: failed to list faults: %v", err)
		httputil.InternalServerError(w, "failed to compute fleet stats")
		return
	}
	stats := fleet.Rollup(fleet.BuildSnapshot(records))
	for i := range stats {
		stats[i].MeanRemainingKm = units.ConvertDistance(stats[i].MeanRemainingKm, targetUnits)
		stats[i].MedianRemainingKm = units.ConvertDistance(stats[i].MedianRemainingKm, targetUnits)
		stats[i].MinRemainingKm = units.ConvertDistance(stats[i].MinRemainingKm, targetUnits)
	}
	httputil.WriteJSONOK(w, stats)
}
