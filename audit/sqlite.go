package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id         TEXT PRIMARY KEY,
	timestamp  INTEGER NOT NULL,
	operation  TEXT NOT NULL,
	target     TEXT NOT NULL,
	parameters TEXT,
	result     TEXT,
	status     TEXT NOT NULL,
	session_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
`

// SQLiteRecorder persists audit records to a SQLite database. Pure Go
// driver, no cgo.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder opens (creating if needed) the database at path. Use
// ":memory:" for an ephemeral store.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

// Close releases the underlying database.
func (r *SQLiteRecorder) Close() error { return r.db.Close() }

func (r *SQLiteRecorder) insert(ctx context.Context, rec *Record) (*Record, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, timestamp, operation, target, parameters, result, status, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixMilli(), rec.Operation, rec.Target,
		rec.Parameters, rec.Result, string(rec.Status), rec.SessionID)
	if err != nil {
		return nil, fmt.Errorf("audit: insert record: %w", err)
	}
	return rec, nil
}

func newRecord(operation, target, parameters, result string, status Status, sessionID string) *Record {
	return &Record{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		Operation:  operation,
		Target:     target,
		Parameters: parameters,
		Result:     result,
		Status:     status,
		SessionID:  sessionID,
	}
}

func (r *SQLiteRecorder) RecordToolExecution(ctx context.Context, sessionID, toolName, parameters, result string, status Status) (*Record, error) {
	return r.insert(ctx, newRecord("tool_execution", toolName, parameters, result, status, sessionID))
}

func (r *SQLiteRecorder) RecordError(ctx context.Context, sessionID, operation, message string) (*Record, error) {
	return r.insert(ctx, newRecord(operation, "error", "", message, StatusFailure, sessionID))
}

func (r *SQLiteRecorder) RecordConfigChange(ctx context.Context, target, detail string) (*Record, error) {
	return r.insert(ctx, newRecord("config_change", target, "", detail, StatusSuccess, ""))
}

// BySession returns the records for one session, oldest first.
func (r *SQLiteRecorder) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, timestamp, operation, target, parameters, result, status, session_id
		 FROM audit_records WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit: query session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var status string
		if err := rows.Scan(&rec.ID, &ts, &rec.Operation, &rec.Target,
			&rec.Parameters, &rec.Result, &status, &rec.SessionID); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ts)
		rec.Status = Status(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}
