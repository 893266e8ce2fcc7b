// Package telemetry defines the validated vehicle sensor reading that enters
// the system at the ingest boundary.
package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Field bounds for a sample. Readings outside these ranges are rejected at
// the ingest boundary before classification runs.
const (
	CoolantTempMin     = -40.0
	CoolantTempMax     = 200.0
	CoolantPressureMin = 0.0
	CoolantPressureMax = 5.0
	EngineRPMMin       = 0
	EngineRPMMax       = 9000
	VibrationMin       = 0.0
	VibrationMax       = 100.0
	BatteryVoltageMin  = 0.0
	BatteryVoltageMax  = 24.0
	AmbientTempMin     = -50.0
	AmbientTempMax     = 70.0
)

// Sample is a single sensor reading for one vehicle at one instant. Numeric
// fields are pointer-typed so a partially populated payload is representable;
// Validate bounds-checks whatever is present. A Sample is never mutated after
// construction.
type Sample struct {
	VIN                string    `json:"vin"`
	Timestamp          time.Time `json:"timestamp"`
	CoolantTempC       *float64  `json:"coolant_temp_c"`
	CoolantPressureBar *float64  `json:"coolant_pressure_bar"`
	EngineRPM          *int      `json:"engine_rpm"`
	VibrationLevel     *float64  `json:"vibration_level"`
	BatteryVoltage     *float64  `json:"battery_voltage"`
	OdometerKm         *float64  `json:"odometer_km"`
	AmbientTempC       *float64  `json:"ambient_temp_c,omitempty"`
}

// ValidationError reports a sample that failed bounds or shape checks. It is
// surfaced to the caller of the ingest path; it never reaches the classifier.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sample: %s %s", e.Field, e.Msg)
}

// Validate checks the sample's shape and bounds. The VIN must be non-blank
// after trimming and the timestamp must be set; numeric fields are optional
// but must be within their declared range when present. Absent numerics are
// left to the classifier's safe defaults so a sparse payload degrades toward
// "no anomaly" rather than failing.
func (s *Sample) Validate() error {
	if strings.TrimSpace(s.VIN) == "" {
		return &ValidationError{Field: "vin", Msg: "must not be blank"}
	}
	if s.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Msg: "must be set"}
	}
	if err := checkRange("coolant_temp_c", s.CoolantTempC, CoolantTempMin, CoolantTempMax); err != nil {
		return err
	}
	if err := checkRange("coolant_pressure_bar", s.CoolantPressureBar, CoolantPressureMin, CoolantPressureMax); err != nil {
		return err
	}
	if s.EngineRPM != nil && (*s.EngineRPM < EngineRPMMin || *s.EngineRPM > EngineRPMMax) {
		return &ValidationError{
			Field: "engine_rpm",
			Msg:   fmt.Sprintf("%d out of range [%d, %d]", *s.EngineRPM, EngineRPMMin, EngineRPMMax),
		}
	}
	if err := checkRange("vibration_level", s.VibrationLevel, VibrationMin, VibrationMax); err != nil {
		return err
	}
	if err := checkRange("battery_voltage", s.BatteryVoltage, BatteryVoltageMin, BatteryVoltageMax); err != nil {
		return err
	}
	if s.OdometerKm != nil && *s.OdometerKm < 0 {
		return &ValidationError{
			Field: "odometer_km",
			Msg:   fmt.Sprintf("%.1f must be non-negative", *s.OdometerKm),
		}
	}
	if err := checkRange("ambient_temp_c", s.AmbientTempC, AmbientTempMin, AmbientTempMax); err != nil {
		return err
	}
	return nil
}

func checkRange(field string, v *float64, min, max float64) error {
	if v == nil {
		return nil
	}
	if *v < min || *v > max {
		return &ValidationError{
			Field: field,
			Msg:   fmt.Sprintf("%.1f out of range [%.1f, %.1f]", *v, min, max),
		}
	}
	return nil
}

// Float returns *p, or def when p is nil.
func Float(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Int returns *p, or def when p is nil.
func Int(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
