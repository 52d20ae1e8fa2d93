// Package config loads and validates the YAML runtime configuration,
// mapping file sections onto the typed configs of each subsystem.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentcore/agentcore/agentloop"
	"github.com/agentcore/agentcore/contextbuilder"
	"github.com/agentcore/agentcore/knowledge"
	"github.com/agentcore/agentcore/plugin"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ProviderConfig selects and parameterizes the LLM backend.
type ProviderConfig struct {
	// Name of the backend, e.g. "openai", "anthropic", "ollama".
	Name string `yaml:"name"`
	// Model identifier passed to the backend.
	Model string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key. Keys are
	// never stored in the file itself.
	APIKeyEnv   string  `yaml:"api_key_env"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// LoopConfig is the YAML shape of the agentic loop settings. Boolean fields
// are pointers so an absent key keeps the default rather than forcing false.
type LoopConfig struct {
	MaxIterations     int             `yaml:"max_iterations"`
	IterationTimeout  Duration        `yaml:"iteration_timeout"`
	ParallelToolCalls *bool           `yaml:"parallel_tool_calls"`
	ContinueOnError   *bool           `yaml:"continue_on_error"`
	ToolOutputLimit   int             `yaml:"tool_output_limit"`
	HeartbeatInterval Duration        `yaml:"heartbeat_interval"`
	Retrieval         RetrievalConfig `yaml:"retrieval"`
}

// RetrievalConfig is the YAML shape of knowledge injection settings.
type RetrievalConfig struct {
	Enabled  *bool   `yaml:"enabled"`
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
	Method   string  `yaml:"method"`
}

// KnowledgeConfig is the YAML shape of the knowledge store settings.
type KnowledgeConfig struct {
	EmbeddingEnabled bool `yaml:"embedding_enabled"`
	Chunking         struct {
		Enabled      *bool `yaml:"enabled"`
		MaxChunkSize int   `yaml:"max_chunk_size"`
		Overlap      int   `yaml:"overlap"`
		MinChunkSize int   `yaml:"min_chunk_size"`
	} `yaml:"chunking"`
}

// ContextConfig is the YAML shape of the context builder settings.
type ContextConfig struct {
	MaxTokens             int    `yaml:"max_tokens"`
	MaxMessages           int    `yaml:"max_messages"`
	IncludeSystemMessages *bool  `yaml:"include_system_messages"`
	IncludeToolCalls      *bool  `yaml:"include_tool_calls"`
	SystemPrompt          string `yaml:"system_prompt"`
	CharsPerToken         int    `yaml:"chars_per_token"`
}

// RegistryConfig is the YAML shape of the plugin registry settings.
type RegistryConfig struct {
	AutoNamespace    *bool  `yaml:"auto_namespace"`
	ConflictStrategy string `yaml:"conflict_strategy"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the full runtime configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Loop      LoopConfig      `yaml:"loop"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Context   ContextConfig   `yaml:"context"`
	Registry  RegistryConfig  `yaml:"registry"`
	Audit     AuditConfig     `yaml:"audit"`
}

func boolPtr(v bool) *bool { return &v }

// Default returns the configuration used when no file is supplied.
func Default() Config {
	loop := agentloop.DefaultConfig()
	builder := contextbuilder.DefaultConfig()
	chunking := knowledge.DefaultChunkingConfig()

	cfg := Config{
		Provider: ProviderConfig{
			Name:      "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Loop: LoopConfig{
			MaxIterations:     loop.MaxIterations,
			IterationTimeout:  Duration(loop.IterationTimeout),
			ParallelToolCalls: boolPtr(loop.ParallelToolCalls),
			ContinueOnError:   boolPtr(loop.ContinueOnError),
			ToolOutputLimit:   loop.ToolOutputLimit,
			Retrieval: RetrievalConfig{
				Enabled:  boolPtr(loop.Retrieval.Enabled),
				TopK:     loop.Retrieval.TopK,
				MinScore: loop.Retrieval.MinScore,
				Method:   string(loop.Retrieval.Method),
			},
		},
		Context: ContextConfig{
			MaxTokens:             builder.MaxTokens,
			MaxMessages:           builder.MaxMessages,
			IncludeSystemMessages: boolPtr(builder.IncludeSystemMessages),
			IncludeToolCalls:      boolPtr(builder.IncludeToolCalls),
			CharsPerToken:         int(builder.CharsPerToken),
		},
		Registry: RegistryConfig{
			AutoNamespace:    boolPtr(true),
			ConflictStrategy: string(plugin.ConflictError),
		},
	}
	cfg.Knowledge.Chunking.Enabled = boolPtr(chunking.Enabled)
	cfg.Knowledge.Chunking.MaxChunkSize = chunking.MaxChunkSize
	cfg.Knowledge.Chunking.Overlap = chunking.Overlap
	cfg.Knowledge.Chunking.MinChunkSize = chunking.MinChunkSize
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the subsystems would misbehave on.
func (c Config) Validate() error {
	if c.Provider.Name == "" {
		return fmt.Errorf("config: provider.name is required")
	}
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("config: loop.max_iterations must not be negative")
	}
	switch knowledge.SearchMethod(c.Loop.Retrieval.Method) {
	case knowledge.MethodKeyword, knowledge.MethodSemantic, knowledge.MethodHybrid, "":
	default:
		return fmt.Errorf("config: unknown retrieval method %q", c.Loop.Retrieval.Method)
	}
	switch plugin.ConflictStrategy(c.Registry.ConflictStrategy) {
	case plugin.ConflictError, plugin.ConflictReplace, plugin.ConflictSkip, "":
	default:
		return fmt.Errorf("config: unknown conflict strategy %q", c.Registry.ConflictStrategy)
	}
	if c.Context.CharsPerToken < 0 {
		return fmt.Errorf("config: context.chars_per_token must not be negative")
	}
	if c.Knowledge.Chunking.Overlap >= c.Knowledge.Chunking.MaxChunkSize && c.Knowledge.Chunking.MaxChunkSize > 0 {
		return fmt.Errorf("config: knowledge.chunking.overlap must be smaller than max_chunk_size")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("config: audit.path is required when audit is enabled")
	}
	return nil
}

// LoopConfig converts the section into the engine's config.
func (c Config) LoopConfig() agentloop.LoopConfig {
	out := agentloop.DefaultConfig()
	if c.Loop.MaxIterations > 0 {
		out.MaxIterations = c.Loop.MaxIterations
	}
	if c.Loop.IterationTimeout > 0 {
		out.IterationTimeout = time.Duration(c.Loop.IterationTimeout)
	}
	if c.Loop.ParallelToolCalls != nil {
		out.ParallelToolCalls = *c.Loop.ParallelToolCalls
	}
	if c.Loop.ContinueOnError != nil {
		out.ContinueOnError = *c.Loop.ContinueOnError
	}
	if c.Loop.ToolOutputLimit > 0 {
		out.ToolOutputLimit = c.Loop.ToolOutputLimit
	}
	out.HeartbeatInterval = time.Duration(c.Loop.HeartbeatInterval)
	if c.Loop.Retrieval.Enabled != nil {
		out.Retrieval.Enabled = *c.Loop.Retrieval.Enabled
	}
	if c.Loop.Retrieval.TopK > 0 {
		out.Retrieval.TopK = c.Loop.Retrieval.TopK
	}
	if c.Loop.Retrieval.MinScore > 0 {
		out.Retrieval.MinScore = c.Loop.Retrieval.MinScore
	}
	if c.Loop.Retrieval.Method != "" {
		out.Retrieval.Method = knowledge.SearchMethod(c.Loop.Retrieval.Method)
	}
	return out
}

// KnowledgeConfig converts the section into the store's config.
func (c Config) KnowledgeConfig() knowledge.Config {
	out := knowledge.DefaultConfig()
	out.EmbeddingEnabled = c.Knowledge.EmbeddingEnabled
	if c.Knowledge.Chunking.Enabled != nil {
		out.Chunking.Enabled = *c.Knowledge.Chunking.Enabled
	}
	if c.Knowledge.Chunking.MaxChunkSize > 0 {
		out.Chunking.MaxChunkSize = c.Knowledge.Chunking.MaxChunkSize
	}
	if c.Knowledge.Chunking.Overlap > 0 {
		out.Chunking.Overlap = c.Knowledge.Chunking.Overlap
	}
	if c.Knowledge.Chunking.MinChunkSize > 0 {
		out.Chunking.MinChunkSize = c.Knowledge.Chunking.MinChunkSize
	}
	return out
}

// ContextConfig converts the section into the builder's config.
func (c Config) ContextConfig() contextbuilder.Config {
	out := contextbuilder.DefaultConfig()
	if c.Context.MaxTokens > 0 {
		out.MaxTokens = c.Context.MaxTokens
	}
	if c.Context.MaxMessages > 0 {
		out.MaxMessages = c.Context.MaxMessages
	}
	if c.Context.IncludeSystemMessages != nil {
		out.IncludeSystemMessages = *c.Context.IncludeSystemMessages
	}
	if c.Context.IncludeToolCalls != nil {
		out.IncludeToolCalls = *c.Context.IncludeToolCalls
	}
	out.SystemPrompt = c.Context.SystemPrompt
	if c.Context.CharsPerToken > 0 {
		out.CharsPerToken = float64(c.Context.CharsPerToken)
	}
	return out
}

// RegistryOptions converts the section into registry options.
func (c Config) RegistryOptions() plugin.Options {
	out := plugin.Options{AutoNamespace: true, ConflictStrategy: plugin.ConflictError}
	if c.Registry.AutoNamespace != nil {
		out.AutoNamespace = *c.Registry.AutoNamespace
	}
	if c.Registry.ConflictStrategy != "" {
		out.ConflictStrategy = plugin.ConflictStrategy(c.Registry.ConflictStrategy)
	}
	return out
}
