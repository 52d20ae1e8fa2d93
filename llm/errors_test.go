package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"auth error", &AuthenticationError{}, false},
		{"access denied", &AccessDeniedError{}, false},
		{"context length", &ContextLengthError{}, false},
		{"content filter", &ContentFilterError{}, false},
		{"rate limit", &RateLimitError{ProviderError{Retryable: true}}, true},
		{"server error", &ServerError{ProviderError{Retryable: true}}, true},
		{"network error", &NetworkError{}, true},
		{"timeout error", &RequestTimeoutError{}, true},
		{"bare provider error retryable", &ProviderError{Retryable: true}, true},
		{"bare provider error fatal", &ProviderError{}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsRetryable(tt.err)
			if got != tt.retryable {
				t.Errorf("IsRetryable(%T) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestIsRetryableWrapped(t *testing.T) {
	inner := &RateLimitError{ProviderError{Provider: "openai", Retryable: true}}
	wrapped := fmt.Errorf("generate: %w", inner)
	if !IsRetryable(wrapped) {
		t.Error("expected wrapped rate limit error to be retryable")
	}

	fatal := fmt.Errorf("generate: %w", &AuthenticationError{})
	if IsRetryable(fatal) {
		t.Error("expected wrapped auth error to be non-retryable")
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &ProviderError{Provider: "openai", Message: "wrapper", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected ProviderError to unwrap to its cause")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Provider: "anthropic", Message: "rate limited", StatusCode: 429, Retryable: true}
	want := "[anthropic] rate limited (status=429, retryable=true)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &ProviderError{Message: "no provider"}
	if bare.Error() != "no provider" {
		t.Errorf("Error() = %q, want %q", bare.Error(), "no provider")
	}
}
