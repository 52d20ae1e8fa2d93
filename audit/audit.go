// Package audit defines the write-only audit sink consumed by the agent
// loop, plus two implementations: a no-op recorder and a SQLite-backed
// append-only store.
package audit

import (
	"context"
	"time"
)

// Status of a recorded operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Record is one stored audit entry.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation"`
	Target     string    `json:"target"`
	Parameters string    `json:"parameters,omitempty"`
	Result     string    `json:"result,omitempty"`
	Status     Status    `json:"status"`
	SessionID  string    `json:"session_id,omitempty"`
}

// Recorder is the append-only audit sink. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordToolExecution stores one tool execution with its parameters and
	// outcome.
	RecordToolExecution(ctx context.Context, sessionID, toolName, parameters, result string, status Status) (*Record, error)

	// RecordError stores an error observed during a run.
	RecordError(ctx context.Context, sessionID, operation, message string) (*Record, error)

	// RecordConfigChange stores a configuration mutation.
	RecordConfigChange(ctx context.Context, target, detail string) (*Record, error)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordToolExecution(_ context.Context, sessionID, toolName, parameters, result string, status Status) (*Record, error) {
	return &Record{Operation: "tool_execution", Target: toolName, Status: status, SessionID: sessionID}, nil
}

func (NopRecorder) RecordError(_ context.Context, sessionID, operation, message string) (*Record, error) {
	return &Record{Operation: operation, Status: StatusFailure, SessionID: sessionID}, nil
}

func (NopRecorder) RecordConfigChange(_ context.Context, target, detail string) (*Record, error) {
	return &Record{Operation: "config_change", Target: target, Status: StatusSuccess}, nil
}
