// Package anomaly implements the deterministic, rule-based classification of
// telemetry samples against known failure signatures.
package anomaly

import (
	"fmt"
	"strings"

	"github.com/harrier-data/fleetsentry/internal/telemetry"
)

// Component identifies the vehicle component implicated by a rule.
type Component string

const (
	ComponentCoolantPump   Component = "coolant_pump"
	ComponentAlternator    Component = "alternator"
	ComponentEngineMisfire Component = "engine_misfire"
	ComponentSensorFailure Component = "sensor_failure"
)

// Severity is the ordered urgency of an anomaly: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the position of s in the severity ordering, or -1 if s is not
// a known severity.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Rule thresholds. These are field-calibrated heuristics, not derived from a
// physical model; treat them as tuning values.
const (
	CoolantTempFireC        = 120.0 // fires alone
	CoolantTempWithPressure = 110.0 // fires together with pressure
	CoolantPressureFireBar  = 2.5
	CoolantTempCriticalC    = 135.0
	CoolantTempHighC        = 125.0

	BatteryVoltageFireV = 11.3
	BatteryVoltageHighV = 10.5

	VibrationLoadFire  = 80.0
	VibrationLoadHigh  = 95.0
	VibrationLoadRPM   = 2500
	VibrationMildFire  = 60.0
)

// Safe defaults applied when a numeric field is absent from the sample. The
// battery default is a healthy resting voltage so that sparse payloads degrade
// toward "no anomaly".
const (
	DefaultBatteryVoltage = 12.5
)

// Classification is the immutable result of classifying one sample. When
// IsAnomaly is false all other fields are zero.
type Classification struct {
	IsAnomaly          bool      `json:"is_anomaly"`
	Component          Component `json:"component,omitempty"`
	Severity           Severity  `json:"severity,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	PredictedFailureKm float64   `json:"predicted_failure_km,omitempty"`
}

// DistanceTable maps severity to the distance increment (km) added to the
// odometer reading to predict the failure point. Unmapped severities fall
// back to Default.
type DistanceTable struct {
	Increments map[Severity]float64
	Default    float64
}

// DefaultDistanceTable returns the standard severity-to-distance increments.
func DefaultDistanceTable() DistanceTable {
	return DistanceTable{
		Increments: map[Severity]float64{
			SeverityCritical: 200.0,
			SeverityHigh:     1000.0,
			SeverityMedium:   5000.0,
			SeverityLow:      15000.0,
		},
		Default: 8000.0,
	}
}

// Classifier evaluates the ordered failure rule set against a sample. It is
// pure and deterministic: no I/O, no state, identical input yields identical
// output. The first matching rule wins and short-circuits evaluation.
type Classifier struct {
	distances DistanceTable
}

// NewClassifier creates a classifier with the default distance table.
func NewClassifier() *Classifier {
	return NewClassifierWithDistances(DefaultDistanceTable())
}

// NewClassifierWithDistances creates a classifier with a custom severity-to-
// distance table.
func NewClassifierWithDistances(dt DistanceTable) *Classifier {
	if dt.Increments == nil {
		dt = DefaultDistanceTable()
	}
	return &Classifier{distances: dt}
}

// Classify maps a sample to a Classification. It is total for in-range input:
// it always returns a value and never fails. Rules are checked in priority
// order (safety-critical first); later rules are never evaluated once an
// earlier one fires.
func (c *Classifier) Classify(s telemetry.Sample) Classification {
	coolantTemp := telemetry.Float(s.CoolantTempC, 0)
	coolantPressure := telemetry.Float(s.CoolantPressureBar, 0)
	batteryVoltage := telemetry.Float(s.BatteryVoltage, DefaultBatteryVoltage)
	rpm := telemetry.Int(s.EngineRPM, 0)
	vibration := telemetry.Float(s.VibrationLevel, 0)
	odometer := telemetry.Float(s.OdometerKm, 0)

	// Rule 1: coolant / overheating (coolant pump).
	if coolantTemp >= CoolantTempFireC ||
		(coolantTemp >= CoolantTempWithPressure && coolantPressure >= CoolantPressureFireBar) {
		var severity Severity
		switch {
		case coolantTemp >= CoolantTempCriticalC:
			severity = SeverityCritical
		case coolantTemp >= CoolantTempHighC:
			severity = SeverityHigh
		default:
			severity = SeverityMedium
		}

		parts := []string{fmt.Sprintf("Coolant temperature is high at %.1f°C", coolantTemp)}
		if coolantPressure > 0 {
			parts = append(parts, fmt.Sprintf("with coolant pressure %.1f bar", coolantPressure))
		}
		parts = append(parts, "indicating poor coolant circulation or a failing coolant pump.")

		return Classification{
			IsAnomaly:          true,
			Component:          ComponentCoolantPump,
			Severity:           severity,
			Reason:             strings.Join(parts, " "),
			PredictedFailureKm: c.predictFailureKm(odometer, severity),
		}
	}

	// Rule 2: electrical / charging (alternator).
	if batteryVoltage <= BatteryVoltageFireV {
		severity := SeverityMedium
		if batteryVoltage <= BatteryVoltageHighV {
			severity = SeverityHigh
		}
		return Classification{
			IsAnomaly: true,
			Component: ComponentAlternator,
			Severity:  severity,
			Reason: fmt.Sprintf(
				"Battery voltage is low at %.1f V, which suggests a charging system or alternator problem.",
				batteryVoltage),
			PredictedFailureKm: c.predictFailureKm(odometer, severity),
		}
	}

	// Rule 3: high vibration under load (engine misfire).
	if vibration >= VibrationLoadFire && rpm >= VibrationLoadRPM {
		severity := SeverityMedium
		if vibration >= VibrationLoadHigh {
			severity = SeverityHigh
		}
		return Classification{
			IsAnomaly: true,
			Component: ComponentEngineMisfire,
			Severity:  severity,
			Reason: fmt.Sprintf(
				"Vibration level is high at %.1f while engine RPM is %d, indicating abnormal engine behaviour, likely an engine misfire under load.",
				vibration, rpm),
			PredictedFailureKm: c.predictFailureKm(odometer, severity),
		}
	}

	// Rule 4: mild vibration at moderate RPM (sensor failure).
	if vibration >= VibrationMildFire && rpm < VibrationLoadRPM {
		severity := SeverityLow
		return Classification{
			IsAnomaly: true,
			Component: ComponentSensorFailure,
			Severity:  severity,
			Reason: fmt.Sprintf(
				"Vibration level is elevated at %.1f with moderate RPM (%d), which may indicate a sensor issue or minor imbalance rather than a major component failure.",
				vibration, rpm),
			PredictedFailureKm: c.predictFailureKm(odometer, severity),
		}
	}

	// No rule fired.
	return Classification{IsAnomaly: false}
}

// predictFailureKm adds the severity-indexed increment to the odometer.
func (c *Classifier) predictFailureKm(odometer float64, severity Severity) float64 {
	inc, ok := c.distances.Increments[severity]
	if !ok {
		inc = c.distances.Default
	}
	return odometer + inc
}
