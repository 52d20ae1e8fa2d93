// Package plugin implements the tool/plugin registry: concurrent-safe
// registration of externally supplied tool bundles with namespace isolation,
// dependency ordering, conflict resolution, and lifecycle hooks. The registry
// is shared process-wide state; Load, Unload, and Dispatch are safe to call
// from concurrently running loop instances.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentcore/agentcore/knowledge"
	"github.com/agentcore/agentcore/llm"
)

var (
	ErrInvalidPluginName  = errors.New("plugin: invalid plugin name")
	ErrPluginExists       = errors.New("plugin: plugin already loaded")
	ErrPluginNotFound     = errors.New("plugin: plugin not found")
	ErrMissingDependency  = errors.New("plugin: missing dependency")
	ErrToolConflict       = errors.New("plugin: tool name conflict")
	ErrInvalidTool        = errors.New("plugin: invalid tool")
	ErrToolNotFound       = errors.New("plugin: tool not found")
	ErrMissingRequiredArg = errors.New("plugin: missing required argument")
)

// nameRe is the identifier pattern for plugin and tool names: letter start,
// alnum/underscore/hyphen body.
var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ConflictStrategy decides what happens when an incoming tool's
// fully-qualified name is already registered.
type ConflictStrategy string

const (
	// ConflictError rejects the whole load.
	ConflictError ConflictStrategy = "error"
	// ConflictReplace overwrites the existing registration.
	ConflictReplace ConflictStrategy = "replace"
	// ConflictSkip keeps the existing tool and drops the incoming one.
	ConflictSkip ConflictStrategy = "skip"
)

// Options configures registry behavior.
type Options struct {
	// AutoNamespace prefixes tool names with "<namespace>_" for plugins that
	// declare a namespace.
	AutoNamespace bool
	// ConflictStrategy applies to fully-qualified name collisions.
	// Defaults to ConflictError.
	ConflictStrategy ConflictStrategy
}

// Option configures registry construction.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithKnowledge exposes a knowledge store to plugin Initialize hooks.
func WithKnowledge(store *knowledge.Store) Option {
	return func(r *Registry) { r.knowledge = store }
}

// WithService injects a named service for plugin Initialize hooks.
func WithService(name string, svc any) Option {
	return func(r *Registry) { r.services[name] = svc }
}

type registeredTool struct {
	tool       Tool
	pluginName string
	qualified  string
}

type loadedPlugin struct {
	plugin    *Plugin
	toolNames []string // fully-qualified
	loadedAt  time.Time
	ready     bool // false while Initialize is running
}

// Registry holds loaded plugins and their tools keyed by fully-qualified
// name.
type Registry struct {
	mu        sync.RWMutex
	opts      Options
	plugins   map[string]*loadedPlugin
	tools     map[string]*registeredTool
	logger    *zap.Logger
	knowledge *knowledge.Store
	services  map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, options ...Option) *Registry {
	if opts.ConflictStrategy == "" {
		opts.ConflictStrategy = ConflictError
	}
	r := &Registry{
		opts:     opts,
		plugins:  make(map[string]*loadedPlugin),
		tools:    make(map[string]*registeredTool),
		logger:   zap.NewNop(),
		services: make(map[string]any),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// qualifiedName computes the registry-wide name for a tool of the given
// plugin.
func (r *Registry) qualifiedName(p *Plugin, toolName string) string {
	if r.opts.AutoNamespace && p.Namespace != "" {
		return p.Namespace + "_" + toolName
	}
	return toolName
}

// Load validates and registers a plugin. Validation is fail-fast: on any
// error nothing is registered. The plugin's Initialize hook completes before
// its tools become visible to GetTool/Dispatch/ToolDefinitions.
func (r *Registry) Load(ctx context.Context, p *Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidPluginName)
	}
	if !nameRe.MatchString(p.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidPluginName, p.Name)
	}
	if p.Namespace != "" && !nameRe.MatchString(p.Namespace) {
		return fmt.Errorf("%w: namespace %q", ErrInvalidPluginName, p.Namespace)
	}
	for i := range p.Tools {
		if err := p.Tools[i].Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	if _, exists := r.plugins[p.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPluginExists, p.Name)
	}
	for _, dep := range p.Dependencies {
		lp, ok := r.plugins[dep]
		if !ok || !lp.ready {
			r.mu.Unlock()
			return fmt.Errorf("%w: %q requires %q", ErrMissingDependency, p.Name, dep)
		}
	}

	// Resolve conflicts against the current tool table before committing
	// anything.
	type staged struct {
		tool      Tool
		qualified string
		replaces  bool
	}
	stagedTools := make([]staged, 0, len(p.Tools))
	seen := make(map[string]bool, len(p.Tools))
	for _, t := range p.Tools {
		qn := r.qualifiedName(p, t.Name)
		if seen[qn] {
			r.mu.Unlock()
			return fmt.Errorf("%w: plugin %q declares %q twice", ErrToolConflict, p.Name, qn)
		}
		seen[qn] = true

		if existing, taken := r.tools[qn]; taken {
			switch r.opts.ConflictStrategy {
			case ConflictError:
				r.mu.Unlock()
				return fmt.Errorf("%w: %q already registered by plugin %q", ErrToolConflict, qn, existing.pluginName)
			case ConflictSkip:
				r.logger.Debug("skipping conflicting tool",
					zap.String("plugin", p.Name), zap.String("tool", qn))
				continue
			case ConflictReplace:
				stagedTools = append(stagedTools, staged{tool: t, qualified: qn, replaces: true})
			}
			continue
		}
		stagedTools = append(stagedTools, staged{tool: t, qualified: qn})
	}

	// Reserve the plugin name (not ready) so concurrent loads cannot race it
	// while the Initialize hook runs outside the lock.
	lp := &loadedPlugin{plugin: p, loadedAt: time.Now()}
	r.plugins[p.Name] = lp
	r.mu.Unlock()

	if p.Hooks != nil {
		if err := p.Hooks.Initialize(ctx, &Context{
			Logger:    r.logger.Named(p.Name),
			Knowledge: r.knowledge,
			Services:  r.services,
		}); err != nil {
			r.mu.Lock()
			delete(r.plugins, p.Name)
			r.mu.Unlock()
			return fmt.Errorf("plugin: initialize %q: %w", p.Name, err)
		}
	}

	r.mu.Lock()
	// The tool table may have changed while Initialize ran unlocked, so
	// conflicts are re-resolved before anything is committed.
	commit := make([]staged, 0, len(stagedTools))
	for _, st := range stagedTools {
		if existing, taken := r.tools[st.qualified]; taken && !st.replaces {
			switch r.opts.ConflictStrategy {
			case ConflictError:
				delete(r.plugins, p.Name)
				r.mu.Unlock()
				if p.Hooks != nil {
					if err := p.Hooks.Shutdown(ctx); err != nil {
						r.logger.Warn("plugin shutdown hook failed",
							zap.String("plugin", p.Name), zap.Error(err))
					}
				}
				return fmt.Errorf("%w: %q registered by plugin %q during load", ErrToolConflict, st.qualified, existing.pluginName)
			case ConflictSkip:
				r.logger.Debug("skipping conflicting tool",
					zap.String("plugin", p.Name), zap.String("tool", st.qualified))
				continue
			case ConflictReplace:
				st.replaces = true
			}
		}
		commit = append(commit, st)
	}
	for _, st := range commit {
		if st.replaces {
			if old := r.tools[st.qualified]; old != nil {
				r.removeToolFromOwnerLocked(old.pluginName, st.qualified)
			}
		}
		r.tools[st.qualified] = &registeredTool{
			tool:       st.tool,
			pluginName: p.Name,
			qualified:  st.qualified,
		}
		lp.toolNames = append(lp.toolNames, st.qualified)
	}
	lp.ready = true
	r.mu.Unlock()

	r.logger.Info("plugin loaded",
		zap.String("plugin", p.Name),
		zap.String("version", p.Version),
		zap.String("namespace", p.Namespace),
		zap.Int("tools", len(lp.toolNames)))
	return nil
}

// removeToolFromOwnerLocked drops a qualified tool name from its owning
// plugin's record. Caller holds r.mu.
func (r *Registry) removeToolFromOwnerLocked(pluginName, qualified string) {
	owner, ok := r.plugins[pluginName]
	if !ok {
		return
	}
	for i, n := range owner.toolNames {
		if n == qualified {
			owner.toolNames = append(owner.toolNames[:i], owner.toolNames[i+1:]...)
			return
		}
	}
}

// Unload removes a plugin and every tool it registered, invoking its
// Shutdown hook first. Returns false if the plugin is not loaded.
func (r *Registry) Unload(ctx context.Context, name string) bool {
	r.mu.Lock()
	lp, ok := r.plugins[name]
	if !ok || !lp.ready {
		r.mu.Unlock()
		return false
	}
	// Claim the unload before invoking the hook so a concurrent Unload of the
	// same plugin reports not loaded instead of running Shutdown twice.
	lp.ready = false
	r.mu.Unlock()

	if lp.plugin.Hooks != nil {
		if err := lp.plugin.Hooks.Shutdown(ctx); err != nil {
			r.logger.Warn("plugin shutdown hook failed",
				zap.String("plugin", name), zap.Error(err))
		}
	}

	r.mu.Lock()
	for _, qn := range lp.toolNames {
		if rt, ok := r.tools[qn]; ok && rt.pluginName == name {
			delete(r.tools, qn)
		}
	}
	delete(r.plugins, name)
	r.mu.Unlock()

	r.logger.Info("plugin unloaded", zap.String("plugin", name))
	return true
}

// GetTool returns the tool registered under the fully-qualified name, or nil.
func (r *Registry) GetTool(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil
	}
	t := rt.tool
	return &t
}

// ToolDefinitions returns model-facing definitions for every registered
// tool, sorted by qualified name for deterministic prompts.
func (r *Registry) ToolDefinitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		rt := r.tools[name]
		defs = append(defs, rt.tool.Definition(rt.qualified))
	}
	return defs
}

// ToolCount returns the number of registered tools.
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ListPlugins returns the loaded plugins sorted by name.
func (r *Registry) ListPlugins() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.plugins))
	for _, lp := range r.plugins {
		if !lp.ready {
			continue
		}
		infos = append(infos, Info{
			Name:      lp.plugin.Name,
			Version:   lp.plugin.Version,
			Namespace: lp.plugin.Namespace,
			ToolCount: len(lp.toolNames),
			LoadedAt:  lp.loadedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// HealthCheck reports per-plugin health. Plugins without hooks are healthy
// by default; a hook that errors or panics is unhealthy. Never returns an
// error itself.
func (r *Registry) HealthCheck(ctx context.Context) map[string]bool {
	r.mu.RLock()
	plugins := make(map[string]Lifecycle, len(r.plugins))
	for name, lp := range r.plugins {
		if lp.ready {
			plugins[name] = lp.plugin.Hooks
		}
	}
	r.mu.RUnlock()

	health := make(map[string]bool, len(plugins))
	for name, hooks := range plugins {
		health[name] = r.checkOne(ctx, name, hooks)
	}
	return health
}

func (r *Registry) checkOne(ctx context.Context, name string, hooks Lifecycle) (healthy bool) {
	if hooks == nil {
		return true
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("health check panicked",
				zap.String("plugin", name), zap.Any("panic", rec))
			healthy = false
		}
	}()
	if err := hooks.Health(ctx); err != nil {
		r.logger.Debug("health check failed", zap.String("plugin", name), zap.Error(err))
		return false
	}
	return true
}

// ExecutionResult is the timed outcome of one Dispatch.
type ExecutionResult struct {
	ToolName string
	Result   *Result
	Err      error
	Duration time.Duration
}

// Dispatch looks up a tool by fully-qualified name, validates required
// arguments, and executes it. A panicking executor is converted to an error
// result rather than tearing down the caller. Returns ErrToolNotFound when
// no such tool is registered.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (*ExecutionResult, error) {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	start := time.Now()
	if err := validateArgs(&rt.tool, args); err != nil {
		return &ExecutionResult{ToolName: name, Err: err, Duration: time.Since(start)}, nil
	}

	result, err := r.safeExecute(ctx, rt, args)
	dur := time.Since(start)
	r.logger.Debug("tool executed",
		zap.String("tool", name),
		zap.Duration("duration", dur),
		zap.Bool("success", err == nil && (result == nil || result.Success)))
	return &ExecutionResult{ToolName: name, Result: result, Err: err, Duration: dur}, nil
}

func (r *Registry) safeExecute(ctx context.Context, rt *registeredTool, args map[string]any) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("plugin: tool %q panicked: %v", rt.qualified, rec)
		}
	}()
	return rt.tool.Execute(ctx, args)
}

// validateArgs checks required parameters and applies declared defaults for
// absent optional ones.
func validateArgs(t *Tool, args map[string]any) error {
	for _, p := range t.Parameters {
		if _, present := args[p.Name]; present {
			continue
		}
		if p.Required {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, p.Name)
		}
		if p.Default != nil && args != nil {
			args[p.Name] = p.Default
		}
	}
	return nil
}
