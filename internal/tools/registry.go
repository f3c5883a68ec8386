package tools

import (
	"fmt"
	"sort"
	"sync"

	"ampd/internal/provider"
)

// Registry holds the mounted tools and their compiled input schemas.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*compiledSchema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*compiledSchema),
	}
}

// Register adds a tool. The input schema is compiled eagerly so a broken
// schema fails at mount time, not mid-turn.
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidSchema)
	}

	schema, err := compileSchema(tool.Name(), tool.InputSchema())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	return nil
}

// MustRegister panics on registration failure. For built-ins at startup.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns provider-facing specs for all registered tools, sorted
// by name for deterministic requests.
func (r *Registry) Specs() []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]provider.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, Spec(r.tools[name]))
	}
	return specs
}

// Validate checks args against the tool's compiled schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return &NotFoundError{Name: name}
	}
	if err := schema.validate(args); err != nil {
		return &InvalidArgsError{Tool: name, Err: err}
	}
	return nil
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
