package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentcore/agentcore/audit"
	"github.com/agentcore/agentcore/contextbuilder"
	"github.com/agentcore/agentcore/knowledge"
	"github.com/agentcore/agentcore/llm"
	"github.com/agentcore/agentcore/plugin"
)

// Engine drives the agentic loop. It holds no per-request state; a single
// Engine serves concurrent Run calls.
type Engine struct {
	provider llm.Provider
	registry *plugin.Registry
	store    *knowledge.Store
	recorder audit.Recorder
	builder  *contextbuilder.Builder
	logger   *zap.Logger
	cfg      LoopConfig
}

// EngineOption configures engine construction.
type EngineOption func(*Engine)

// WithKnowledge attaches a knowledge store for retrieval injection.
func WithKnowledge(store *knowledge.Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithRecorder attaches an audit sink for tool executions and errors.
func WithRecorder(rec audit.Recorder) EngineOption {
	return func(e *Engine) { e.recorder = rec }
}

// WithBuilder overrides the context builder.
func WithBuilder(b *contextbuilder.Builder) EngineOption {
	return func(e *Engine) { e.builder = b }
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine from a provider and a tool registry.
func NewEngine(provider llm.Provider, registry *plugin.Registry, cfg LoopConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		provider: provider,
		registry: registry,
		builder:  contextbuilder.NewBuilder(contextbuilder.DefaultConfig()),
		logger:   zap.NewNop(),
		cfg:      cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes one user message through the agentic loop. The returned
// RunResponse holds either a terminal LoopResult or a non-terminal
// ConfirmationRequest for a risk-gated tool. The error return is reserved
// for invalid input; run failures surface as LoopResult.Status/Error.
func (e *Engine) Run(ctx context.Context, initialMessage string, opts RunOptions) (*RunResponse, error) {
	if strings.TrimSpace(initialMessage) == "" {
		return nil, errors.New("agentloop: empty initial message")
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	em := newEmitter(sessionID, opts.OnEvent)
	start := time.Now()

	history := make([]llm.Message, len(opts.History))
	copy(history, opts.History)
	current := llm.UserMessage(initialMessage)

	var loopMsgs []llm.Message
	var records []ToolCallRecord
	var content string
	decision := opts.Confirmation

	em.emit(EventProcessingStarted, map[string]any{"message": initialMessage})
	stopHeartbeat := e.startHeartbeat(ctx, em)
	defer stopHeartbeat()

	flatten := func() []llm.Message {
		msgs := make([]llm.Message, 0, len(history)+1+len(loopMsgs))
		msgs = append(msgs, history...)
		msgs = append(msgs, current)
		msgs = append(msgs, loopMsgs...)
		return msgs
	}
	finalize := func(status Status, errMsg string, iterations int) *RunResponse {
		e.logger.Debug("run finished",
			zap.String("session", sessionID),
			zap.String("status", string(status)),
			zap.Int("iterations", iterations),
			zap.Int("tool_calls", len(records)))
		if status == StatusError && e.recorder != nil {
			_, _ = e.recorder.RecordError(context.WithoutCancel(ctx), sessionID, "loop_run", errMsg)
		}
		return &RunResponse{Result: &LoopResult{
			Status:     status,
			Content:    content,
			ToolCalls:  records,
			Iterations: iterations,
			Duration:   time.Since(start),
			Error:      errMsg,
			Messages:   flatten(),
		}}
	}

	toolDefs := e.registry.ToolDefinitions()
	iteration := 0

	for iteration < e.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			em.emit(EventCancelled, map[string]any{
				"reason":  err.Error(),
				"content": content,
			})
			return finalize(StatusCancelled, "run cancelled: "+err.Error(), iteration), nil
		}

		em.emit(EventIterationStarted, map[string]any{"iteration": iteration})
		iterCtx, cancel := context.WithTimeout(ctx, e.cfg.IterationTimeout)

		// Knowledge injection happens once, before the first model call; the
		// injected message stays in the accumulated conversation afterwards.
		if iteration == 0 && e.retrievalActive(opts) {
			if msg, meta := e.retrieve(iterCtx, initialMessage); msg != nil {
				loopMsgs = append(loopMsgs, *msg)
				em.emit(EventKnowledgeRetrieved, meta)
			}
		}

		conversation := make([]llm.Message, 0, len(history)+len(loopMsgs))
		conversation = append(conversation, history...)
		conversation = append(conversation, loopMsgs...)
		built := e.builder.Build(conversation, &current)

		result, genErr := e.provider.GenerateWithTools(iterCtx, built.Messages, toolDefs)
		if genErr != nil {
			timedOut := iterCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
			cancel()
			switch {
			case ctx.Err() != nil:
				em.emit(EventCancelled, map[string]any{"reason": ctx.Err().Error(), "content": content})
				return finalize(StatusCancelled, "run cancelled: "+ctx.Err().Error(), iteration), nil
			case timedOut || errors.Is(genErr, context.DeadlineExceeded):
				msg := fmt.Sprintf("iteration %d timed out after %s", iteration, e.cfg.IterationTimeout)
				em.emit(EventError, map[string]any{"error": msg})
				return finalize(StatusTimeout, msg, iteration), nil
			default:
				em.emit(EventError, map[string]any{"error": genErr.Error()})
				return finalize(StatusError, genErr.Error(), iteration), nil
			}
		}

		if result.Content != "" {
			content = result.Content
			em.emit(EventContentChunk, map[string]any{"content": result.Content})
		}

		if len(result.ToolCalls) == 0 {
			cancel()
			loopMsgs = append(loopMsgs, llm.AssistantMessage(result.Content))
			iteration++
			em.emit(EventDecision, map[string]any{"action": "respond"})
			em.emit(EventCompleted, map[string]any{
				"content":    result.Content,
				"iterations": iteration,
			})
			return finalize(StatusCompleted, "", iteration), nil
		}

		toolNames := make([]string, len(result.ToolCalls))
		for i, tc := range result.ToolCalls {
			toolNames[i] = tc.Name
		}
		em.emit(EventDecision, map[string]any{"action": "tool_calls", "tools": toolNames})

		// Risk-gated tools short-circuit execution: the caller must decide
		// before the loop proceeds.
		for _, call := range result.ToolCalls {
			tool := e.registry.GetTool(call.Name)
			if tool == nil || !requiresConfirmation(tool) {
				continue
			}
			if decision != nil && decision.ToolName == call.Name {
				continue // resolved by the caller; applied during execution
			}
			cancel()
			loopMsgs = append(loopMsgs, llm.AssistantMessage(result.Content, result.ToolCalls...))
			em.emit(EventConfirmationCheck, map[string]any{
				"tool":      call.Name,
				"call_id":   call.ID,
				"arguments": string(call.Arguments),
				"risk":      string(tool.Risk),
			})
			return &RunResponse{Confirmation: &ConfirmationRequest{
				SessionID: sessionID,
				ToolCall:  call,
				Risk:      tool.Risk,
				Messages:  flatten(),
				ToolCalls: records,
			}}, nil
		}

		loopMsgs = append(loopMsgs, llm.AssistantMessage(result.Content, result.ToolCalls...))

		iterRecords := e.executeToolCalls(iterCtx, em, sessionID, result.ToolCalls, decision)
		decision = nil
		timedOut := iterCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		var firstFailure string
		for _, rec := range iterRecords {
			records = append(records, rec)
			loopMsgs = append(loopMsgs, llm.ToolResultMessage(rec.ID, rec.Result.Content, !rec.Result.Success))
			if !rec.Result.Success && firstFailure == "" {
				firstFailure = rec.Result.Error
			}
		}

		if ctx.Err() != nil {
			em.emit(EventCancelled, map[string]any{"reason": ctx.Err().Error(), "content": content})
			return finalize(StatusCancelled, "run cancelled: "+ctx.Err().Error(), iteration), nil
		}
		if timedOut {
			msg := fmt.Sprintf("iteration %d timed out after %s", iteration, e.cfg.IterationTimeout)
			em.emit(EventError, map[string]any{"error": msg})
			return finalize(StatusTimeout, msg, iteration), nil
		}
		if firstFailure != "" && !e.cfg.ContinueOnError {
			msg := "tool execution failed: " + firstFailure
			em.emit(EventError, map[string]any{"error": msg})
			return finalize(StatusError, msg, iteration), nil
		}

		em.emit(EventIterationCompleted, map[string]any{
			"iteration":  iteration,
			"tool_calls": len(iterRecords),
		})
		iteration++
	}

	em.emit(EventMaxIterations, map[string]any{
		"iterations": iteration,
		"content":    content,
	})
	return finalize(StatusMaxIterations, "", iteration), nil
}

func requiresConfirmation(t *plugin.Tool) bool {
	return t.ConfirmationRequired || t.Risk == plugin.RiskHigh
}

func (e *Engine) retrievalActive(opts RunOptions) bool {
	return e.cfg.Retrieval.Enabled && !opts.SkipRetrieval &&
		e.store != nil && e.store.DocumentCount() > 0
}

// retrieve queries the knowledge store and renders results as a system
// message, or returns nil when nothing relevant was found.
func (e *Engine) retrieve(ctx context.Context, query string) (*llm.Message, map[string]any) {
	results := e.store.Search(ctx, query, knowledge.SearchOptions{
		TopK:     e.cfg.Retrieval.TopK,
		MinScore: e.cfg.Retrieval.MinScore,
		Method:   e.cfg.Retrieval.Method,
	})
	if len(results) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Relevant knowledge:\n")
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Document.ID)
		if r.Document.Title != "" {
			fmt.Fprintf(&sb, "\n## %s\n", r.Document.Title)
		}
		sb.WriteString(r.Document.Content)
		sb.WriteString("\n")
	}
	msg := llm.SystemMessage(sb.String())
	return &msg, map[string]any{
		"count":     len(results),
		"ids":       ids,
		"top_score": results[0].Score,
	}
}

// executeToolCalls dispatches one iteration's tool calls, in parallel when
// configured. All results are collected before returning: a slow or failing
// call never blocks collection of the others.
func (e *Engine) executeToolCalls(ctx context.Context, em *emitter, sessionID string, calls []llm.ToolCall, decision *ConfirmationDecision) []ToolCallRecord {
	out := make([]ToolCallRecord, len(calls))
	if e.cfg.ParallelToolCalls && len(calls) > 1 {
		var g errgroup.Group
		for i, call := range calls {
			g.Go(func() error {
				out[i] = e.executeOne(ctx, em, sessionID, call, decision)
				return nil
			})
		}
		_ = g.Wait()
		return out
	}
	for i, call := range calls {
		out[i] = e.executeOne(ctx, em, sessionID, call, decision)
	}
	return out
}

// executeOne runs a single tool call through the registry and records the
// outcome. Every call produces exactly one started event and one
// completed-or-error event.
func (e *Engine) executeOne(ctx context.Context, em *emitter, sessionID string, call llm.ToolCall, decision *ConfirmationDecision) ToolCallRecord {
	callID := call.ID
	if callID == "" {
		callID = "call_" + uuid.New().String()[:8]
	}
	em.emit(EventToolCallStarted, map[string]any{
		"call_id":   callID,
		"tool":      call.Name,
		"arguments": string(call.Arguments),
	})

	rec := ToolCallRecord{
		ID:        callID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Timestamp: time.Now(),
	}

	if decision != nil && decision.ToolName == call.Name && !decision.Approved {
		rec.Result = ToolCallOutcome{
			Success: false,
			Content: "Tool execution declined by the user.",
			Error:   "declined",
		}
		em.emit(EventToolCallCompleted, map[string]any{
			"call_id": callID,
			"tool":    call.Name,
			"content": rec.Result.Content,
		})
		e.audit(ctx, sessionID, &rec)
		return rec
	}

	args := make(map[string]any)
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			rec.Result = failureOutcome(fmt.Sprintf("invalid tool arguments: %v", err))
			rec.Duration = time.Since(rec.Timestamp)
			em.emit(EventToolError, map[string]any{
				"call_id": callID,
				"tool":    call.Name,
				"error":   rec.Result.Error,
			})
			e.audit(ctx, sessionID, &rec)
			return rec
		}
	}

	exec, err := e.registry.Dispatch(ctx, call.Name, args)
	switch {
	case err != nil:
		rec.Result = failureOutcome(fmt.Sprintf("unknown tool: %s", call.Name))
		rec.Duration = time.Since(rec.Timestamp)
	case exec.Err != nil:
		rec.Result = failureOutcome(exec.Err.Error())
		rec.Duration = exec.Duration
	case exec.Result != nil && !exec.Result.Success:
		rec.Result = ToolCallOutcome{
			Success: false,
			Content: e.clampOutput(exec.Result.Content),
			Data:    exec.Result.Data,
			Error:   exec.Result.Error,
		}
		rec.Duration = exec.Duration
	default:
		outcome := ToolCallOutcome{Success: true}
		if exec.Result != nil {
			outcome.Content = e.clampOutput(exec.Result.Content)
			outcome.Data = exec.Result.Data
		}
		rec.Result = outcome
		rec.Duration = exec.Duration
	}

	if rec.Result.Success {
		em.emit(EventToolCallCompleted, map[string]any{
			"call_id":     callID,
			"tool":        call.Name,
			"content":     rec.Result.Content,
			"duration_ms": rec.Duration.Milliseconds(),
		})
	} else {
		em.emit(EventToolError, map[string]any{
			"call_id": callID,
			"tool":    call.Name,
			"error":   rec.Result.Error,
		})
	}
	e.audit(ctx, sessionID, &rec)
	return rec
}

func failureOutcome(msg string) ToolCallOutcome {
	return ToolCallOutcome{Success: false, Content: msg, Error: msg}
}

func (e *Engine) audit(ctx context.Context, sessionID string, rec *ToolCallRecord) {
	if e.recorder == nil {
		return
	}
	status := audit.StatusSuccess
	if !rec.Result.Success {
		status = audit.StatusFailure
	}
	if _, err := e.recorder.RecordToolExecution(context.WithoutCancel(ctx), sessionID,
		rec.ToolName, string(rec.Arguments), rec.Result.Content, status); err != nil {
		e.logger.Warn("audit record failed", zap.String("tool", rec.ToolName), zap.Error(err))
	}
}

// clampOutput bounds tool result content fed back to the model, keeping the
// head and tail of oversized output.
func (e *Engine) clampOutput(output string) string {
	limit := e.cfg.ToolOutputLimit
	if len(output) <= limit {
		return output
	}
	half := limit / 2
	removed := len(output) - limit
	return output[:half] +
		fmt.Sprintf("\n\n[Tool output truncated: %d characters removed from the middle. "+
			"Re-run the tool with more targeted parameters to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}

func (e *Engine) startHeartbeat(ctx context.Context, em *emitter) func() {
	if e.cfg.HeartbeatInterval <= 0 || em.sink == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				em.emit(EventHeartbeat, nil)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
