package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrier-data/fleetsentry/internal/anomaly"
	"github.com/harrier-data/fleetsentry/internal/faultdb"
	"github.com/harrier-data/fleetsentry/internal/pipeline"
)

// fakeGenerator returns fixed text and records what it was asked.
type fakeGenerator struct {
	mu           sync.Mutex
	personas     []string
	instructions []string
	reply        string
}

func (g *fakeGenerator) Generate(_ context.Context, persona, instruction string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.personas = append(g.personas, persona)
	g.instructions = append(g.instructions, instruction)
	if g.reply != "" {
		return g.reply, nil
	}
	if strings.Contains(persona, "Scheduling Agent") {
		return `{"preferred_date":"2026-09-07","preferred_time_window":"morning","workshop_type":"authorized","notes":"n"}`, nil
	}
	return "generated text", nil
}

func (g *fakeGenerator) lastInstruction() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.instructions) == 0 {
		return ""
	}
	return g.instructions[len(g.instructions)-1]
}

func setupTestServer(t *testing.T) (*Server, *faultdb.FaultStore, *fakeGenerator) {
	t.Helper()

	db, err := faultdb.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureSchema())

	store := faultdb.NewFaultStore(db.DB)
	gen := &fakeGenerator{}
	orch := pipeline.NewOrchestrator(gen, store)
	svc := pipeline.NewService(anomaly.NewClassifier(), orch, nil)
	return NewServer(svc, store, gen, nil), store, gen
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func anomalousPayload(vin string) string {
	return fmt.Sprintf(`{
		"vin": %q,
		"timestamp": "2026-08-20T10:00:00Z",
		"coolant_temp_c": 126.0,
		"coolant_pressure_bar": 2.8,
		"engine_rpm": 2200,
		"vibration_level": 20,
		"battery_voltage": 12.6,
		"odometer_km": 45000,
		"ambient_temp_c": 21
	}`, vin)
}

func TestHealthCheck(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["version"])
}

func TestIngestNominalSample(t *testing.T) {
	s, store, gen := setupTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/telematics/ingest", `{
		"vin": "VIN100",
		"timestamp": "2026-08-20T10:00:00Z",
		"coolant_temp_c": 90,
		"engine_rpm": 2000,
		"vibration_level": 10,
		"battery_voltage": 12.6
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["anomaly"])

	// Nominal samples trigger neither generation nor persistence.
	assert.Empty(t, gen.personas)
	records, err := store.ListRecent(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngestAnomalyRunsPipelineAndPersists(t *testing.T) {
	s, store, gen := setupTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/telematics/ingest", anomalousPayload("VIN200"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status    string                 `json:"status"`
		Anomaly   bool                   `json:"anomaly"`
		FaultID   string                 `json:"fault_id"`
		Stages    []pipeline.StageOutput `json:"stages"`
		Output    string                 `json:"advisory_output"`
		Persisted bool                   `json:"persisted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "anomaly_detected", resp.Status)
	assert.True(t, resp.Anomaly)
	assert.NotEmpty(t, resp.FaultID)
	assert.Len(t, resp.Stages, 5)
	assert.True(t, resp.Persisted)
	assert.Contains(t, resp.Output, "[Technical Summary]")
	assert.Len(t, gen.personas, 5)

	records, err := store.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "VIN200", records[0].VIN)
	assert.Equal(t, "coolant_pump", records[0].Component)
	assert.Equal(t, "high", records[0].Severity)
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/telematics/ingest", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRejectsInvalidSample(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/telematics/ingest", `{
		"vin": "",
		"timestamp": "2026-08-20T10:00:00Z"
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "vin")
}

func TestIngestMethodNotAllowed(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/telematics/ingest", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListFaults(t *testing.T) {
	s, store, _ := setupTestServer(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(&faultdb.FaultRecord{
			VIN:                fmt.Sprintf("VIN%d", i),
			DetectedAt:         time.Now().Add(time.Duration(i) * time.Minute),
			PredictedFailureKm: 46000,
			Component:          "coolant_pump",
			Severity:           "high",
		}))
	}

	rec := doRequest(t, s, http.MethodGet, "/faults?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []*faultdb.FaultRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "VIN2", records[0].VIN)
}

func TestListFaultsConvertsUnits(t *testing.T) {
	s, store, _ := setupTestServer(t)
	require.NoError(t, store.Save(&faultdb.FaultRecord{
		VIN:                "VIN600",
		DetectedAt:         time.Now(),
		PredictedFailureKm: 1000,
		Component:          "coolant_pump",
		Severity:           "high",
	}))

	rec := doRequest(t, s, http.MethodGet, "/faults?units=mi", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []*faultdb.FaultRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.InDelta(t, 621.371, records[0].PredictedFailureKm, 0.001)
}

func TestListFaultsRejectsBadUnits(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/faults?units=furlongs", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFaultsRejectsBadLimit(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/faults?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDriverChatWithoutFaults(t *testing.T) {
	s, _, gen := setupTestServer(t)
	gen.reply = "All clear, keep driving."

	rec := doRequest(t, s, http.MethodPost, "/chat", `{"vin":"VIN300","message":"is my car ok?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "All clear, keep driving.", resp.BotMessage)
	assert.Nil(t, resp.Component)
	assert.Contains(t, gen.lastInstruction(), "No active faults detected.")
}

func TestDriverChatWithFault(t *testing.T) {
	s, store, gen := setupTestServer(t)
	payload := json.RawMessage(`{"vin":"VIN301","component":"alternator","severity":"medium","anomaly_reason":"Battery voltage is low at 11.1 V, which suggests a charging system or alternator problem.","predicted_failure_km":50000,"odometer_km":45000}`)
	require.NoError(t, store.Save(&faultdb.FaultRecord{
		VIN:                "VIN301",
		DetectedAt:         time.Now(),
		PredictedFailureKm: 50000,
		Component:          "alternator",
		Severity:           "medium",
		RawPayload:         payload,
	}))

	rec := doRequest(t, s, http.MethodPost, "/chat", `{"vin":"VIN301","message":"what is wrong?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Component)
	assert.Equal(t, "alternator", *resp.Component)
	require.NotNil(t, resp.PredictedFailureKm)
	assert.Equal(t, 50000.0, *resp.PredictedFailureKm)

	instruction := gen.lastInstruction()
	assert.Contains(t, instruction, "Component: alternator")
	assert.Contains(t, instruction, "Battery voltage is low")
}

func TestDriverChatRequiresVINAndMessage(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/chat", `{"vin":" ","message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOEMChat(t *testing.T) {
	s, store, gen := setupTestServer(t)
	gen.reply = "Coolant pumps are the dominant risk."
	payload := json.RawMessage(`{"vin":"VIN400","odometer_km":45000}`)
	require.NoError(t, store.Save(&faultdb.FaultRecord{
		VIN:                "VIN400",
		DetectedAt:         time.Now(),
		PredictedFailureKm: 46000,
		Component:          "coolant_pump",
		Severity:           "high",
		RawPayload:         payload,
	}))

	rec := doRequest(t, s, http.MethodPost, "/oem_chat", `{"query":"which components fail soonest?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp oemChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Coolant pumps are the dominant risk.", resp.Answer)
	require.Len(t, resp.Table, 1)
	assert.Equal(t, 1000.0, resp.Table[0].RemainingKm)

	instruction := gen.lastInstruction()
	assert.Contains(t, instruction, "vin=VIN400")
	assert.Contains(t, instruction, "which components fail soonest?")
}

func TestOEMChatRequiresQuery(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/oem_chat", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFleetStats(t *testing.T) {
	s, store, _ := setupTestServer(t)
	for i := 0; i < 2; i++ {
		payload := json.RawMessage(`{"odometer_km":45000}`)
		require.NoError(t, store.Save(&faultdb.FaultRecord{
			VIN:                fmt.Sprintf("VIN50%d", i),
			DetectedAt:         time.Now(),
			PredictedFailureKm: 46000,
			Component:          "coolant_pump",
			Severity:           "high",
			RawPayload:         payload,
		}))
	}

	rec := doRequest(t, s, http.MethodGet, "/api/fleet_stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "coolant_pump", stats[0]["component"])
	assert.Equal(t, 2.0, stats[0]["count"])
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := setupTestServer(t)
	rec := doRequest(t, s, http.MethodOptions, "/chat", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
