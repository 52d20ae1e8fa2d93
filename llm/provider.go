package llm

import "context"

// Provider is the language-model capability the agent loop consumes. The loop
// does not retry provider failures; implementations own their own retry and
// fallback policy and surface structured errors (see errors.go) when that
// policy is exhausted.
type Provider interface {
	// Generate produces a plain text completion for the given messages.
	Generate(ctx context.Context, messages []Message) (string, error)

	// GenerateWithTools produces a completion that may request tool calls.
	GenerateWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (*GenerateResult, error)

	// Embed computes a vector embedding for the given text.
	// Implementations that do not support embeddings return
	// ErrEmbeddingsUnsupported.
	Embed(ctx context.Context, text string) (*EmbedResult, error)

	// SupportsEmbeddings reports whether Embed is usable.
	SupportsEmbeddings() bool
}
