// Package fleet aggregates persisted fault records into fleet-level views:
// a plain-text snapshot for reliability chat and per-component statistics.
package fleet

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/harrier-data/fleetsentry/internal/faultdb"
)

// MaxSnapshotLines caps the snapshot text used as chat context.
const MaxSnapshotLines = 80

// SnapshotRow is one fault flattened for fleet-level reporting. RemainingKm
// is the predicted failure distance minus the odometer reading captured at
// detection time; zero when the payload carried no odometer value.
type SnapshotRow struct {
	VIN                string    `json:"vin"`
	Component          string    `json:"component"`
	Severity           string    `json:"severity"`
	DetectedAt         time.Time `json:"detected_at"`
	PredictedFailureKm float64   `json:"predicted_failure_km"`
	OdometerKm         float64   `json:"odometer_km"`
	RemainingKm        float64   `json:"remaining_km"`
}

type payloadFields struct {
	OdometerKm *float64 `json:"odometer_km"`
}

// BuildSnapshot flattens fault records into snapshot rows, pulling the
// odometer reading out of each record's stored payload. Records with
// unparseable payloads still produce a row, just without distance context.
func BuildSnapshot(records []*faultdb.FaultRecord) []SnapshotRow {
	rows := make([]SnapshotRow, 0, len(records))
	for _, rec := range records {
		row := SnapshotRow{
			VIN:                rec.VIN,
			Component:          rec.Component,
			Severity:           rec.Severity,
			DetectedAt:         rec.DetectedAt,
			PredictedFailureKm: rec.PredictedFailureKm,
		}
		if len(rec.RawPayload) > 0 {
			var p payloadFields
			if err := json.Unmarshal(rec.RawPayload, &p); err == nil && p.OdometerKm != nil {
				row.OdometerKm = *p.OdometerKm
				row.RemainingKm = rec.PredictedFailureKm - *p.OdometerKm
				if row.RemainingKm < 0 {
					row.RemainingKm = 0
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// SnapshotText renders rows as one line each, newest first is assumed from
// the caller, truncated to MaxSnapshotLines.
func SnapshotText(rows []SnapshotRow) string {
	var b strings.Builder
	n := len(rows)
	if n > MaxSnapshotLines {
		n = MaxSnapshotLines
	}
	for i := 0; i < n; i++ {
		r := rows[i]
		fmt.Fprintf(&b, "vin=%s component=%s severity=%s detected=%s remaining_km=%.0f\n",
			r.VIN, r.Component, r.Severity, r.DetectedAt.Format("2006-01-02"), r.RemainingKm)
	}
	if len(rows) > n {
		fmt.Fprintf(&b, "(%d older faults omitted)\n", len(rows)-n)
	}
	return b.String()
}

// ComponentStats summarizes all faults attributed to one component.
type ComponentStats struct {
	Component         string         `json:"component"`
	Count             int            `json:"count"`
	Severities        map[string]int `json:"severities"`
	MeanRemainingKm   float64        `json:"mean_remaining_km"`
	MedianRemainingKm float64        `json:"median_remaining_km"`
	MinRemainingKm    float64        `json:"min_remaining_km"`
}

// Rollup groups snapshot rows by component and computes remaining-distance
// statistics per group. Components are ordered by fault count, largest
// first, ties broken by name.
func Rollup(rows []SnapshotRow) []ComponentStats {
	groups := make(map[string][]float64)
	severities := make(map[string]map[string]int)
	for _, r := range rows {
		groups[r.Component] = append(groups[r.Component], r.RemainingKm)
		if severities[r.Component] == nil {
			severities[r.Component] = make(map[string]int)
		}
		severities[r.Component][r.Severity]++
	}

	out := make([]ComponentStats, 0, len(groups))
	for component, remaining := range groups {
		sort.Float64s(remaining)
		out = append(out, ComponentStats{
			Component:         component,
			Count:             len(remaining),
			Severities:        severities[component],
			MeanRemainingKm:   stat.Mean(remaining, nil),
			MedianRemainingKm: stat.Quantile(0.5, stat.Empirical, remaining, nil),
			MinRemainingKm:    remaining[0],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Component < out[j].Component
	})
	return out
}
