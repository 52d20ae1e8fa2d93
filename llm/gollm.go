package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmProvider implements Provider on top of a gollm.LLM instance. It
// translates the flat message list into a gollm prompt, passes tool
// definitions through, and extracts tool calls the model returns embedded in
// response text.
type GollmProvider struct {
	name string
	llm  gollm.LLM
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extra       []gollm.ConfigOption
}

// WithAPIKey sets the API key. When empty, gollm reads it from the
// provider's conventional environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the model identifier.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the completion token ceiling.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// WithGollmOptions appends raw gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extra = append(c.extra, opts...) }
}

// NewGollmProvider creates a Provider for the named gollm backend
// ("openai", "anthropic", ...).
func NewGollmProvider(provider string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{maxTokens: 4096, temperature: 0.7}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(3),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.model != "" {
		gollmOpts = append(gollmOpts, gollm.SetModel(cfg.model))
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extra...)

	inner, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create gollm backend %s: %w", provider, err)
	}
	return &GollmProvider{name: provider, llm: inner}, nil
}

// NewGollmProviderFromLLM wraps an existing gollm.LLM instance.
func NewGollmProviderFromLLM(provider string, inner gollm.LLM) *GollmProvider {
	return &GollmProvider{name: provider, llm: inner}
}

// Name returns the backend identifier.
func (p *GollmProvider) Name() string { return p.name }

// Generate produces a plain text completion.
func (p *GollmProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	prompt := p.buildPrompt(messages, nil)
	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return "", p.translateError(err)
	}
	return text, nil
}

// GenerateWithTools produces a completion that may request tool calls.
func (p *GollmProvider) GenerateWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (*GenerateResult, error) {
	prompt := p.buildPrompt(messages, tools)
	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, p.translateError(err)
	}

	calls := parseToolCalls(text)
	result := &GenerateResult{
		Content:      stripToolCallJSON(text, calls),
		ToolCalls:    calls,
		FinishReason: FinishStop,
		Usage: Usage{
			InputTokens:  estimateMessageTokens(messages),
			OutputTokens: len(text) / 4,
			TotalTokens:  estimateMessageTokens(messages) + len(text)/4,
		},
	}
	if len(calls) > 0 {
		result.FinishReason = FinishToolCalls
	}
	return result, nil
}

// Embed always fails: gollm exposes no embedding endpoint. Callers fall back
// to keyword search.
func (p *GollmProvider) Embed(ctx context.Context, text string) (*EmbedResult, error) {
	return nil, ErrEmbeddingsUnsupported
}

// SupportsEmbeddings reports false for gollm backends.
func (p *GollmProvider) SupportsEmbeddings() bool { return false }

// buildPrompt flattens the message list into a gollm Prompt. System messages
// become the system prompt; assistant and tool turns are rendered as labeled
// context lines, which is the representation gollm's single-prompt API
// supports.
func (p *GollmProvider) buildPrompt(messages []Message, tools []ToolDefinition) *gollm.Prompt {
	var systemParts []string
	var userParts []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case RoleUser:
			userParts = append(userParts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				userParts = append(userParts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				userParts = append(userParts, fmt.Sprintf("[Assistant requested tool %s]: %s", tc.Name, string(tc.Arguments)))
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if msg.IsError {
				prefix = "[Tool Error]"
			}
			userParts = append(userParts, prefix+": "+msg.Content)
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if len(systemParts) > 0 {
		promptOpts = append(promptOpts,
			gollm.WithSystemPrompt(strings.TrimSpace(strings.Join(systemParts, "\n")), gollm.CacheTypeEphemeral))
	}
	if len(tools) > 0 {
		gollmTools := make([]gollm.Tool, 0, len(tools))
		for _, t := range tools {
			gollmTools = append(gollmTools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(gollmTools))
		promptOpts = append(promptOpts, gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// parseToolCalls extracts tool calls gollm returns embedded in response text,
// either as a {"tool_calls": [...]} object or a bare [{"name": ...}] array.
func parseToolCalls(text string) []ToolCall {
	start := strings.Index(text, `{"tool_calls"`)
	if start >= 0 {
		var wrapper struct {
			ToolCalls []struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"tool_calls"`
		}
		if err := json.Unmarshal([]byte(text[start:]), &wrapper); err == nil {
			return rawToToolCalls(len(wrapper.ToolCalls), func(i int) (string, json.RawMessage) {
				return wrapper.ToolCalls[i].Name, wrapper.ToolCalls[i].Arguments
			})
		}
	}

	start = strings.Index(text, `[{"name"`)
	if start >= 0 {
		var raw []struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(text[start:]), &raw); err == nil {
			return rawToToolCalls(len(raw), func(i int) (string, json.RawMessage) {
				return raw[i].Name, raw[i].Arguments
			})
		}
	}
	return nil
}

func rawToToolCalls(n int, at func(int) (string, json.RawMessage)) []ToolCall {
	calls := make([]ToolCall, 0, n)
	for i := 0; i < n; i++ {
		name, args := at(i)
		if name == "" {
			continue
		}
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      name,
			Arguments: args,
		})
	}
	return calls
}

// stripToolCallJSON removes parsed tool-call JSON from the response text.
func stripToolCallJSON(text string, calls []ToolCall) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, marker := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, marker); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

// translateError classifies a gollm error into the structured hierarchy.
func (p *GollmProvider) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	base := ProviderError{Provider: p.name, Message: msg, Cause: err}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		base.StatusCode = 401
		return &AuthenticationError{base}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		base.StatusCode = 403
		return &AccessDeniedError{base}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		base.StatusCode = 429
		base.Retryable = true
		return &RateLimitError{base}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		base.StatusCode = 413
		return &ContextLengthError{base}
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		base.StatusCode = 500
		base.Retryable = true
		return &ServerError{base}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		base.Retryable = true
		return &RequestTimeoutError{base}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{base}
	case strings.Contains(lower, "connection") || strings.Contains(lower, "network"):
		base.Retryable = true
		return &NetworkError{base}
	default:
		base.Retryable = true
		return &base
	}
}

func estimateMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
