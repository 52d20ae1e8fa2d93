package plugin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentcore/agentcore/knowledge"
)

// Lifecycle is the optional hook set a plugin can implement. All three
// methods are invoked with a bounded context; a plugin that needs no hooks
// leaves Plugin.Hooks nil.
type Lifecycle interface {
	// Initialize runs before any of the plugin's tools become dispatchable.
	// An error aborts the load with nothing registered.
	Initialize(ctx context.Context, pc *Context) error

	// Shutdown runs during unload, before the plugin's tools are removed.
	Shutdown(ctx context.Context) error

	// Health reports nil when the plugin is serviceable.
	Health(ctx context.Context) error
}

// LifecycleFuncs adapts plain functions to the Lifecycle interface. Nil
// fields are no-ops (and a nil OnHealth reports healthy).
type LifecycleFuncs struct {
	OnInitialize func(ctx context.Context, pc *Context) error
	OnShutdown   func(ctx context.Context) error
	OnHealth     func(ctx context.Context) error
}

func (f LifecycleFuncs) Initialize(ctx context.Context, pc *Context) error {
	if f.OnInitialize == nil {
		return nil
	}
	return f.OnInitialize(ctx, pc)
}

func (f LifecycleFuncs) Shutdown(ctx context.Context) error {
	if f.OnShutdown == nil {
		return nil
	}
	return f.OnShutdown(ctx)
}

func (f LifecycleFuncs) Health(ctx context.Context) error {
	if f.OnHealth == nil {
		return nil
	}
	return f.OnHealth(ctx)
}

// Context is handed to a plugin's Initialize hook. It exposes the services
// the registry was assembled with.
type Context struct {
	Logger    *zap.Logger
	Knowledge *knowledge.Store
	Services  map[string]any
}

// Service returns a named injected service, or nil.
func (c *Context) Service(name string) any {
	if c == nil || c.Services == nil {
		return nil
	}
	return c.Services[name]
}

// Plugin is a named, versioned bundle of tools.
type Plugin struct {
	Name         string
	Version      string
	Namespace    string
	Dependencies []string
	Tools        []Tool
	Hooks        Lifecycle
}

// Info is the public view of a loaded plugin.
type Info struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Namespace string    `json:"namespace,omitempty"`
	ToolCount int       `json:"tool_count"`
	LoadedAt  time.Time `json:"loaded_at"`
}
