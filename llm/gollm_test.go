package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseToolCallsWrapperObject(t *testing.T) {
	text := `I'll look that up. {"tool_calls": [{"name": "search_web", "arguments": {"query": "weather"}}]}`
	calls := parseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "search_web" {
		t.Errorf("name = %q, want search_web", calls[0].Name)
	}
	if calls[0].ID == "" {
		t.Error("expected generated call ID")
	}
	if string(calls[0].Arguments) != `{"query": "weather"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestParseToolCallsBareArray(t *testing.T) {
	text := `[{"name": "calc_add", "arguments": {"a": 1, "b": 2}}, {"name": "calc_mul", "arguments": {"a": 3, "b": 4}}]`
	calls := parseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "calc_add" || calls[1].Name != "calc_mul" {
		t.Errorf("names = %q, %q", calls[0].Name, calls[1].Name)
	}
}

func TestParseToolCallsDefaults(t *testing.T) {
	calls := parseToolCalls(`{"tool_calls": [{"name": "noop"}, {"name": ""}]}`)
	if len(calls) != 1 {
		t.Fatalf("expected nameless call dropped, got %d calls", len(calls))
	}
	if string(calls[0].Arguments) != `{}` {
		t.Errorf("expected empty-object default arguments, got %s", calls[0].Arguments)
	}
}

func TestParseToolCallsPlainText(t *testing.T) {
	for _, text := range []string{
		"The answer is 42.",
		"",
		`{"tool_calls": "not an array"}`,
	} {
		if calls := parseToolCalls(text); calls != nil {
			t.Errorf("parseToolCalls(%q) = %v, want nil", text, calls)
		}
	}
}

func TestStripToolCallJSON(t *testing.T) {
	text := `Let me check. {"tool_calls": [{"name": "search_web", "arguments": {}}]}`
	calls := parseToolCalls(text)
	got := stripToolCallJSON(text, calls)
	if got != "Let me check." {
		t.Errorf("stripped = %q", got)
	}

	// Without calls the text passes through untouched.
	if stripToolCallJSON(text, nil) != text {
		t.Error("expected passthrough when no calls were parsed")
	}
}

func TestTranslateError(t *testing.T) {
	p := &GollmProvider{name: "openai"}

	tests := []struct {
		msg       string
		wantType  string
		retryable bool
	}{
		{"API returned 401 Unauthorized", "*llm.AuthenticationError", false},
		{"403 Forbidden", "*llm.AccessDeniedError", false},
		{"rate limit exceeded", "*llm.RateLimitError", true},
		{"prompt exceeds context length", "*llm.ContextLengthError", false},
		{"500 internal server error", "*llm.ServerError", true},
		{"request timeout", "*llm.RequestTimeoutError", true},
		{"blocked by content filter", "*llm.ContentFilterError", false},
		{"connection refused", "*llm.NetworkError", true},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := p.translateError(errors.New(tt.msg))
			if typeName := fmt.Sprintf("%T", got); typeName != tt.wantType {
				t.Errorf("got %s, want %s", typeName, tt.wantType)
			}
			if IsRetryable(got) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", IsRetryable(got), tt.retryable)
			}
		})
	}
}

func TestTranslateErrorUnknownIsRetryable(t *testing.T) {
	p := &GollmProvider{name: "ollama"}
	got := p.translateError(errors.New("something odd happened"))
	var pe *ProviderError
	if !errors.As(got, &pe) {
		t.Fatalf("got %T, want *ProviderError", got)
	}
	if !pe.Retryable {
		t.Error("unclassified provider errors default to retryable")
	}
	if pe.Provider != "ollama" {
		t.Errorf("provider = %q", pe.Provider)
	}
}

func TestTranslateErrorPreservesCause(t *testing.T) {
	p := &GollmProvider{name: "openai"}
	cause := errors.New("rate limit exceeded")
	got := p.translateError(cause)
	if !errors.Is(got, cause) {
		t.Error("expected translated error to unwrap to the original")
	}
}

func TestBuildPromptFlattening(t *testing.T) {
	p := &GollmProvider{name: "openai"}
	msgs := []Message{
		SystemMessage("You are terse."),
		UserMessage("What is 2+2?"),
		AssistantMessage("Using a tool.", ToolCall{ID: "c1", Name: "calc_add", Arguments: []byte(`{"a":2,"b":2}`)}),
		ToolResultMessage("c1", "4", false),
	}
	prompt := p.buildPrompt(msgs, nil)
	if prompt == nil {
		t.Fatal("nil prompt")
	}
	for _, want := range []string{"What is 2+2?", "[Assistant]: Using a tool.", "[Assistant requested tool calc_add]", "[Tool Result]: 4"} {
		if !strings.Contains(prompt.Input, want) {
			t.Errorf("prompt missing %q\nprompt: %s", want, prompt.Input)
		}
	}
}

func TestBuildPromptEmptyFallback(t *testing.T) {
	p := &GollmProvider{name: "openai"}
	prompt := p.buildPrompt(nil, nil)
	if prompt.Input == "" {
		t.Error("expected non-empty fallback prompt text")
	}
}
