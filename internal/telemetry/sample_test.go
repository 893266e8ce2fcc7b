package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func validSample() Sample {
	return Sample{
		VIN:                "WDB1234567890",
		Timestamp:          time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		CoolantTempC:       f(90),
		CoolantPressureBar: f(1.2),
		EngineRPM:          i(1500),
		VibrationLevel:     f(10),
		BatteryVoltage:     f(13.0),
		OdometerKm:         f(42000),
	}
}

func TestValidateAcceptsNominalSample(t *testing.T) {
	s := validSample()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBlankVIN(t *testing.T) {
	s := validSample()
	s.VIN = "   "
	err := s.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error for blank VIN")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if verr.Field != "vin" {
		t.Errorf("field = %q, want vin", verr.Field)
	}
}

func TestValidateRejectsMissingTimestamp(t *testing.T) {
	s := validSample()
	s.Timestamp = time.Time{}
	if err := s.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for zero timestamp")
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Sample)
	}{
		{"coolant_temp_too_high", func(s *Sample) { s.CoolantTempC = f(201) }},
		{"coolant_temp_too_low", func(s *Sample) { s.CoolantTempC = f(-41) }},
		{"pressure_too_high", func(s *Sample) { s.CoolantPressureBar = f(5.1) }},
		{"rpm_negative", func(s *Sample) { s.EngineRPM = i(-1) }},
		{"rpm_too_high", func(s *Sample) { s.EngineRPM = i(9001) }},
		{"vibration_too_high", func(s *Sample) { s.VibrationLevel = f(100.5) }},
		{"voltage_too_high", func(s *Sample) { s.BatteryVoltage = f(25) }},
		{"odometer_negative", func(s *Sample) { s.OdometerKm = f(-10) }},
		{"ambient_too_low", func(s *Sample) { s.AmbientTempC = f(-51) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSample()
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Errorf("Validate() = nil, want bounds error")
			}
		})
	}
}

func TestValidateAllowsAbsentNumerics(t *testing.T) {
	// Sparse payloads are valid; the classifier applies safe defaults.
	s := Sample{VIN: "VIN1", Timestamp: time.Now()}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for sparse sample", err)
	}
}

func TestSampleJSONRoundTrip(t *testing.T) {
	s := validSample()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Sample
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.VIN != s.VIN || *got.CoolantTempC != *s.CoolantTempC || *got.EngineRPM != *s.EngineRPM {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestPointerHelpers(t *testing.T) {
	if got := Float(nil, 12.5); got != 12.5 {
		t.Errorf("Float(nil, 12.5) = %v, want 12.5", got)
	}
	if got := Float(f(3.3), 12.5); got != 3.3 {
		t.Errorf("Float(3.3, 12.5) = %v, want 3.3", got)
	}
	if got := Int(nil, 7); got != 7 {
		t.Errorf("Int(nil, 7) = %v, want 7", got)
	}
	if got := Int(i(2500), 0); got != 2500 {
		t.Errorf("Int(2500, 0) = %v, want 2500", got)
	}
}
