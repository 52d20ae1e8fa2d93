package agentloop

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the type of stream event.
type EventKind string

const (
	EventProcessingStarted  EventKind = "processing_started"
	EventIterationStarted   EventKind = "iteration_started"
	EventIterationCompleted EventKind = "iteration_completed"
	EventContentChunk       EventKind = "content_chunk"
	EventToolCallStarted    EventKind = "tool_call_started"
	EventToolCallCompleted  EventKind = "tool_call_completed"
	EventToolError          EventKind = "tool_error"
	EventKnowledgeRetrieved EventKind = "knowledge_retrieved"
	EventConfirmationCheck  EventKind = "confirmation_check"
	EventDecision           EventKind = "decision"
	EventCompleted          EventKind = "completed"
	EventMaxIterations      EventKind = "max_iterations"
	EventError              EventKind = "error"
	EventCancelled          EventKind = "cancelled"
	EventHeartbeat          EventKind = "heartbeat"
)

// StreamEvent is one entry in the run's event stream. Events narrate the
// run best-effort; the final LoopResult is the source of truth.
type StreamEvent struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventSink receives the ordered event stream. Delivery is serialized: the
// sink is never invoked concurrently, even when tool calls fan out in
// parallel or the heartbeat goroutine fires. Sinks should return quickly.
type EventSink func(StreamEvent)

// emitter stamps the event envelope and delivers to the sink. A nil sink
// drops everything. The mutex serializes delivery across the loop, tool, and
// heartbeat goroutines.
type emitter struct {
	mu        sync.Mutex
	sessionID string
	sink      EventSink
}

func newEmitter(sessionID string, sink EventSink) *emitter {
	return &emitter{sessionID: sessionID, sink: sink}
}

func (e *emitter) emit(kind EventKind, data map[string]any) {
	if e.sink == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink(StreamEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	})
}
