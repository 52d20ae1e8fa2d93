package plugin

import (
	"context"
	"fmt"

	"github.com/agentcore/agentcore/llm"
)

// ParamType is the type tag for a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// RiskTier classifies how dangerous a tool is to run.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Parameter describes one tool parameter.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Result is what a tool executor produces.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs one tool call with parsed arguments.
type Executor func(ctx context.Context, args map[string]any) (*Result, error)

// Tool is a named capability registered by a plugin.
type Tool struct {
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	Parameters           []Parameter `json:"parameters,omitempty"`
	Execute              Executor    `json:"-"`
	Category             string      `json:"category,omitempty"`
	Risk                 RiskTier    `json:"risk,omitempty"`
	ConfirmationRequired bool        `json:"confirmation_required,omitempty"`
}

// Validate checks the tool is well formed.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: tool name is empty", ErrInvalidTool)
	}
	if !nameRe.MatchString(t.Name) {
		return fmt.Errorf("%w: tool name %q", ErrInvalidTool, t.Name)
	}
	if t.Execute == nil {
		return fmt.Errorf("%w: tool %q has nil executor", ErrInvalidTool, t.Name)
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			return fmt.Errorf("%w: tool %q has an unnamed parameter", ErrInvalidTool, t.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: tool %q declares parameter %q twice", ErrInvalidTool, t.Name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Definition renders the tool as JSON Schema metadata for the model, using
// the given fully-qualified name.
func (t *Tool) Definition(qualifiedName string) llm.ToolDefinition {
	properties := make(map[string]any, len(t.Parameters))
	var required []string
	for _, p := range t.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}

	return llm.ToolDefinition{
		Name:        qualifiedName,
		Description: t.Description,
		Parameters:  params,
	}
}
