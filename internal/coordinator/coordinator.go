// Package coordinator owns the modules mounted into a session: providers,
// tools, the orchestrator, the context manager, and module-declared
// capabilities. It also turns reduced hook results into per-source state
// consumed by the orchestrator on the next provider call.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"ampd/internal/events"
	"ampd/internal/provider"
	"ampd/internal/tools"
)

// CapabilityEvents is the capability key whose []string value extends
// the event universe.
const CapabilityEvents = "observability.events"

// DefaultProviderPriority applies when a provider mounts without one.
const DefaultProviderPriority = 100

// Orchestrator is the single orchestrator slot.
type Orchestrator interface {
	Name() string
}

// ContextManager compacts a transcript when it grows past its threshold.
type ContextManager interface {
	// Threshold is the message count above which compaction runs.
	Threshold() int

	// Compact returns the replacement message list.
	Compact(ctx context.Context, messages []provider.Message) ([]provider.Message, error)
}

// providerEntry tracks mount order for deterministic selection.
type providerEntry struct {
	name     string
	provider provider.Provider
	priority int
	seq      int
}

// Injection is pending context recorded from an inject_context hook
// result, consumed when the orchestrator builds its next request.
type Injection struct {
	Text                   string
	Role                   events.InjectionRole
	Ephemeral              bool
	AppendToLastToolResult bool
	SuppressOutput         bool
	Source                 string
	Event                  string
}

// Coordinator is the typed slot map for one session.
type Coordinator struct {
	bus *events.Registry

	mu             sync.RWMutex
	providers      map[string]*providerEntry
	providerSeq    int
	tools          *tools.Registry
	orchestrator   Orchestrator
	contextManager ContextManager
	capabilities   map[string]any
	injections     []Injection
	cleanups       []func() error
}

// New creates a coordinator bound to an event bus.
func New(bus *events.Registry) *Coordinator {
	return &Coordinator{
		bus:          bus,
		providers:    make(map[string]*providerEntry),
		tools:        tools.NewRegistry(),
		capabilities: make(map[string]any),
	}
}

// Bus returns the event bus this coordinator is bound to.
func (c *Coordinator) Bus() *events.Registry {
	return c.bus
}

// MountProvider mounts a provider under name with the given selection
// priority (lower is preferred; 0 means default).
func (c *Coordinator) MountProvider(name string, p provider.Provider, priority int) error {
	if p == nil || name == "" {
		return fmt.Errorf("%w: provider name is required", ErrInvalidMount)
	}
	if priority == 0 {
		priority = DefaultProviderPriority
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.providers[name]; exists {
		return fmt.Errorf("%w: provider %s", ErrAlreadyMounted, name)
	}
	c.providerSeq++
	c.providers[name] = &providerEntry{
		name:     name,
		provider: p,
		priority: priority,
		seq:      c.providerSeq,
	}
	return nil
}

// Provider returns a mounted provider by name.
func (c *Coordinator) Provider(name string) (provider.Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s", ErrNotMounted, name)
	}
	return entry.provider, nil
}

// Providers returns all mounted providers ordered by (priority asc,
// mount order). The first entry is the orchestrator's default choice.
func (c *Coordinator) Providers() []provider.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]*providerEntry, 0, len(c.providers))
	for _, e := range c.providers {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]provider.Provider, len(entries))
	for i, e := range entries {
		out[i] = e.provider
	}
	return out
}

// SelectProvider returns the preferred provider.
func (c *Coordinator) SelectProvider() (provider.Provider, error) {
	providers := c.Providers()
	if len(providers) == 0 {
		return nil, ErrNoProvider
	}
	return providers[0], nil
}

// MountTool registers a tool.
func (c *Coordinator) MountTool(t tools.Tool) error {
	return c.tools.Register(t)
}

// Tools returns the tool registry.
func (c *Coordinator) Tools() *tools.Registry {
	return c.tools
}

// SetOrchestrator fills the single orchestrator slot.
func (c *Coordinator) SetOrchestrator(o Orchestrator) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orchestrator != nil {
		return fmt.Errorf("%w: orchestrator", ErrAlreadyMounted)
	}
	c.orchestrator = o
	return nil
}

// Orchestrator returns the mounted orchestrator, or nil.
func (c *Coordinator) Orchestrator() Orchestrator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orchestrator
}

// SetContextManager fills the single context-manager slot.
func (c *Coordinator) SetContextManager(cm ContextManager) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contextManager != nil {
		return fmt.Errorf("%w: context manager", ErrAlreadyMounted)
	}
	c.contextManager = cm
	return nil
}

// ContextManager returns the mounted context manager, or nil.
func (c *Coordinator) ContextManager() ContextManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contextManager
}

// RegisterCapability publishes a module capability. The
// observability.events capability also extends the event universe.
func (c *Coordinator) RegisterCapability(name string, value any) {
	c.mu.Lock()
	c.capabilities[name] = value
	c.mu.Unlock()

	if name == CapabilityEvents {
		switch v := value.(type) {
		case []string:
			c.bus.AddKnownEvents(v...)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					c.bus.AddKnownEvents(s)
				}
			}
		default:
			log.Warn().Str("capability", name).Msg("ignoring non-list events capability")
		}
	}
}

// Capability returns a registered capability value.
func (c *Coordinator) Capability(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.capabilities[name]
	return v, ok
}

// ProcessHookResult applies deny/modify/inject_context semantics into
// the running turn. The result passes through unchanged; inject_context
// results are additionally buffered per source for the next request.
func (c *Coordinator) ProcessHookResult(result *events.HookResult, event, source string) *events.HookResult {
	if result == nil {
		return events.Continue()
	}
	if result.Action == events.ActionInjectContext && result.ContextInjection != "" {
		c.mu.Lock()
		c.injections = append(c.injections, Injection{
			Text:                   result.ContextInjection,
			Role:                   result.ContextInjectionRole,
			Ephemeral:              result.Ephemeral,
			AppendToLastToolResult: result.AppendToLastToolResult,
			SuppressOutput:         result.SuppressOutput,
			Source:                 source,
			Event:                  event,
		})
		c.mu.Unlock()
	}
	return result
}

// TakeInjections drains the pending injection buffer.
func (c *Coordinator) TakeInjections() []Injection {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.injections
	c.injections = nil
	return out
}

// RegisterCleanup records a module teardown run on Close, in reverse
// registration order.
func (c *Coordinator) RegisterCleanup(fn func() error) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

// Close tears down mounted modules.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	var firstErr error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			log.Warn().Err(err).Msg("module cleanup failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
