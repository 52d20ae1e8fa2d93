// Package llm defines the language-model provider capability consumed by the
// agent loop: blocking text generation, tool-aware generation, and text
// embedding. The package carries a structured error hierarchy so callers can
// distinguish auth, rate-limit, context-length, network, and timeout failures
// without parsing provider messages.
//
// GollmProvider is the production implementation, built on
// github.com/teilomillet/gollm. Test doubles only need to satisfy the
// Provider interface.
package llm
