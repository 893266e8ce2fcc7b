// Package pipeline implements the fixed multi-stage reasoning pipeline that
// runs after a positive anomaly classification.
package pipeline

import (
	"time"

	"github.com/harrier-data/fleetsentry/internal/anomaly"
	"github.com/harrier-data/fleetsentry/internal/telemetry"
)

// Context is the flat record of telemetry and classification fields shared by
// every pipeline stage. It is built once per run and never mutated: each
// stage is a pure function of (context, stage definition), which keeps the
// five outputs reproducible regardless of execution order. Classification
// fields are pointers so they serialize as null when no value exists.
//
// This is also the raw payload persisted with the fault record, so field
// names are a stable external schema.
type Context struct {
	VIN                string   `json:"vin"`
	Timestamp          string   `json:"timestamp"`
	CoolantTempC       float64  `json:"coolant_temp_c"`
	CoolantPressureBar float64  `json:"coolant_pressure_bar"`
	EngineRPM          int      `json:"engine_rpm"`
	VibrationLevel     float64  `json:"vibration_level"`
	BatteryVoltage     float64  `json:"battery_voltage"`
	OdometerKm         float64  `json:"odometer_km"`
	AnomalyReason      *string  `json:"anomaly_reason"`
	PredictedFailureKm *float64 `json:"predicted_failure_km"`
	Component          *string  `json:"component"`
	Severity           *string  `json:"severity"`
}

// BuildContext flattens a sample and its classification into a Context. The
// only transformations are flattening and ISO-8601 timestamp formatting.
func BuildContext(s telemetry.Sample, cls anomaly.Classification) Context {
	c := Context{
		VIN:                s.VIN,
		Timestamp:          s.Timestamp.Format(time.RFC3339),
		CoolantTempC:       telemetry.Float(s.CoolantTempC, 0),
		CoolantPressureBar: telemetry.Float(s.CoolantPressureBar, 0),
		EngineRPM:          telemetry.Int(s.EngineRPM, 0),
		VibrationLevel:     telemetry.Float(s.VibrationLevel, 0),
		BatteryVoltage:     telemetry.Float(s.BatteryVoltage, 0),
		OdometerKm:         telemetry.Float(s.OdometerKm, 0),
	}
	if cls.IsAnomaly {
		reason := cls.Reason
		predicted := cls.PredictedFailureKm
		component := string(cls.Component)
		severity := string(cls.Severity)
		c.AnomalyReason = &reason
		c.PredictedFailureKm = &predicted
		c.Component = &component
		c.Severity = &severity
	}
	return c
}
