package llm

import (
	"errors"
	"fmt"
)

// ErrEmbeddingsUnsupported is returned by Embed on providers without an
// embedding endpoint.
var ErrEmbeddingsUnsupported = errors.New("llm: provider does not support embeddings")

// ProviderError is the base error type for failures surfaced by a Provider.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Concrete provider error kinds.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type ServerError struct{ ProviderError }
type NetworkError struct{ ProviderError }
type RequestTimeoutError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }

// IsRetryable reports whether the error is safe for a provider-side retry.
// The loop itself never retries; this exists for Provider implementations
// and their callers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var auth *AuthenticationError
	var denied *AccessDeniedError
	var ctxLen *ContextLengthError
	var filter *ContentFilterError
	if errors.As(err, &auth) || errors.As(err, &denied) || errors.As(err, &ctxLen) || errors.As(err, &filter) {
		return false
	}
	var rate *RateLimitError
	var server *ServerError
	var network *NetworkError
	var timeout *RequestTimeoutError
	if errors.As(err, &rate) || errors.As(err, &server) || errors.As(err, &network) || errors.As(err, &timeout) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
