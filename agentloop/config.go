package agentloop

import (
	"time"

	"github.com/agentcore/agentcore/knowledge"
)

// RetrievalConfig controls per-run knowledge retrieval.
type RetrievalConfig struct {
	// Enabled turns retrieval on when the engine has a knowledge store.
	Enabled bool `json:"enabled"`
	// TopK bounds how many documents are injected.
	TopK int `json:"top_k"`
	// MinScore excludes weak matches.
	MinScore float64 `json:"min_score"`
	// Method selects the search strategy.
	Method knowledge.SearchMethod `json:"method"`
}

// LoopConfig holds configuration for one engine.
type LoopConfig struct {
	// MaxIterations bounds tool-calling rounds. Default 10.
	MaxIterations int `json:"max_iterations"`
	// IterationTimeout bounds each iteration (LLM call plus tool
	// execution). Default 30s.
	IterationTimeout time.Duration `json:"iteration_timeout"`
	// ParallelToolCalls executes one iteration's tool calls concurrently.
	// Default true.
	ParallelToolCalls bool `json:"parallel_tool_calls"`
	// ContinueOnError feeds failed tool calls back to the model instead of
	// terminating the run. Default true.
	ContinueOnError bool `json:"continue_on_error"`
	// ToolOutputLimit clamps tool result content (in characters) before it
	// is fed back to the model. Default 30000.
	ToolOutputLimit int `json:"tool_output_limit"`
	// HeartbeatInterval emits heartbeat events while a run is in flight.
	// Zero disables heartbeats.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	// Retrieval configures knowledge injection.
	Retrieval RetrievalConfig `json:"retrieval"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:     10,
		IterationTimeout:  30 * time.Second,
		ParallelToolCalls: true,
		ContinueOnError:   true,
		ToolOutputLimit:   30000,
		Retrieval: RetrievalConfig{
			Enabled:  true,
			TopK:     3,
			MinScore: 0.3,
			Method:   knowledge.MethodHybrid,
		},
	}
}

// withDefaults fills zero values so partially specified configs behave.
func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = 30 * time.Second
	}
	if c.ToolOutputLimit <= 0 {
		c.ToolOutputLimit = 30000
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 3
	}
	return c
}
