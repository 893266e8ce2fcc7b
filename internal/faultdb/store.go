package faultdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit caps ListRecent when the caller passes no limit.
const DefaultListLimit = 50

// FaultRecord is the durable artifact produced once per completed pipeline
// run. RawPayload holds the full pipeline context as an opaque JSON document;
// its shape is consumed verbatim by downstream reporting and must stay stable.
type FaultRecord struct {
	ID                 string          `json:"id"`
	VIN                string          `json:"vin"`
	DetectedAt         time.Time       `json:"detected_at"`
	PredictedFailureKm float64         `json:"predicted_failure_km"`
	Component          string          `json:"component"`
	Severity           string          `json:"severity"`
	RawPayload         json.RawMessage `json:"raw_payload,omitempty"`
}

// PersistenceError reports a fault store write failure. Callers treat it as
// non-fatal: the pipeline result is still returned, the failure is logged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("fault store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FaultStore persists fault records. Writes are append-only: records are
// never updated or deleted once inserted. Safe for concurrent use; SQLite
// serializes the writes.
type FaultStore struct {
	db *sql.DB
}

// NewFaultStore creates a FaultStore backed by the given database.
func NewFaultStore(db *sql.DB) *FaultStore {
	return &FaultStore{db: db}
}

// Save inserts a new fault record. If ID is empty a UUID is generated and if
// DetectedAt is zero the current time is used. Failures are returned as a
// *PersistenceError.
func (s *FaultStore) Save(rec *FaultRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.DetectedAt.IsZero() {
		rec.DetectedAt = time.Now().UTC()
	}

	var payload interface{}
	if len(rec.RawPayload) > 0 {
		payload = string(rec.RawPayload)
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO faults (
				id, vin, detected_at, predicted_failure_km,
				component, severity, raw_payload
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.VIN, rec.DetectedAt.UnixNano(), rec.PredictedFailureKm,
			rec.Component, rec.Severity, payload,
		)
		return err
	})
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// ListRecent returns the newest fault records across all vehicles, newest
// first. A non-positive limit falls back to DefaultListLimit.
func (s *FaultStore) ListRecent(limit int) ([]*FaultRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(`
		SELECT id, vin, detected_at, predicted_failure_km, component, severity, raw_payload
		FROM faults
		ORDER BY detected_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent faults: %w", err)
	}
	defer rows.Close()
	return scanFaults(rows)
}

// ListForVehicle returns all fault records for a VIN, newest first.
func (s *FaultStore) ListForVehicle(vin string) ([]*FaultRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, vin, detected_at, predicted_failure_km, component, severity, raw_payload
		FROM faults
		WHERE vin = ?
		ORDER BY detected_at DESC`, vin)
	if err != nil {
		return nil, fmt.Errorf("query faults for vin %s: %w", vin, err)
	}
	defer rows.Close()
	return scanFaults(rows)
}

func scanFaults(rows *sql.Rows) ([]*FaultRecord, error) {
	var faults []*FaultRecord
	for rows.Next() {
		var (
			rec        FaultRecord
			detectedAt int64
			payload    sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.VIN, &detectedAt, &rec.PredictedFailureKm,
			&rec.Component, &rec.Severity, &payload,
		); err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		rec.DetectedAt = time.Unix(0, detectedAt).UTC()
		if payload.Valid {
			rec.RawPayload = json.RawMessage(payload.String)
		}
		faults = append(faults, &rec)
	}
	return faults, rows.Err()
}
