package mountplan

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"

	"ampd/internal/approval"
	"ampd/internal/compaction"
	"ampd/internal/coordinator"
	"ampd/internal/events"
	"ampd/internal/jsvm"
	"ampd/internal/orchestrator"
	"ampd/internal/provider"
	"ampd/internal/provider/openai"
	"ampd/internal/store"
	"ampd/internal/tools"
	"ampd/internal/tools/builtin"
)

// approvalGatePriority runs the gate after plan hooks so an explicit
// deny never waits on a human.
const approvalGatePriority = 1000

// Capabilities the loader registers on the coordinator.
const (
	CapabilityContextFiles = "context.files"
	CapabilityAgents       = "agents"
	CapabilityApproval     = "approval"
)

// ContextFile is one resolved context mount.
type ContextFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ProviderFactory builds a provider from its mount config.
type ProviderFactory func(bus *events.Registry, config map[string]any) (provider.Provider, error)

// Defaults are daemon-level settings applied where a plan is silent.
type Defaults struct {
	// MaxIterations caps the agentic loop when the plan does not.
	MaxIterations int
	// ProviderPriority is assigned to providers mounted without one.
	ProviderPriority int
}

// Loader turns validated plans into populated coordinators.
type Loader struct {
	sessions  *store.SessionStore
	providers map[string]ProviderFactory
	toolFns   map[string]func() tools.Tool
	scripts   *jsvm.Runtime
	defaults  Defaults

	approvalAudit   string
	approvalTimeout time.Duration
	adapterOpts     []provider.AdapterOption
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithProviderFactory registers or replaces a provider type.
func WithProviderFactory(typ string, f ProviderFactory) LoaderOption {
	return func(l *Loader) { l.providers[typ] = f }
}

// WithToolFactory registers or replaces a built-in tool constructor.
func WithToolFactory(name string, f func() tools.Tool) LoaderOption {
	return func(l *Loader) { l.toolFns[name] = f }
}

// WithScriptTimeout bounds embedded module execution.
func WithScriptTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.scripts = jsvm.New(jsvm.WithTimeout(d)) }
}

// WithDefaults sets daemon-level fallbacks for plan-silent settings.
func WithDefaults(d Defaults) LoaderOption {
	return func(l *Loader) { l.defaults = d }
}

// WithApprovalAudit enables the approval gate for tools mounted with
// `require_approval: true`, writing decisions to the given JSONL file.
func WithApprovalAudit(path string, timeout time.Duration) LoaderOption {
	return func(l *Loader) {
		l.approvalAudit = path
		l.approvalTimeout = timeout
	}
}

// WithAdapterOptions passes daemon-level settings (timeout,
// continuation cap, debug events) to every built-in provider adapter.
func WithAdapterOptions(opts ...provider.AdapterOption) LoaderOption {
	return func(l *Loader) { l.adapterOpts = opts }
}

// NewLoader creates a loader with the default provider and tool
// factories. Sessions are needed to construct the orchestrator slot.
func NewLoader(sessions *store.SessionStore, opts ...LoaderOption) *Loader {
	l := &Loader{
		sessions: sessions,
		toolFns:  builtin.Factories(),
		scripts:  jsvm.New(),
	}
	l.providers = map[string]ProviderFactory{
		"openai": l.openAIFactory,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ProviderTypes lists the registered provider factory names, sorted.
func (l *Loader) ProviderTypes() []string {
	out := make([]string, 0, len(l.providers))
	for typ := range l.providers {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// BuiltinTools lists the registered built-in tool names, sorted.
func (l *Loader) BuiltinTools() []string {
	out := make([]string, 0, len(l.toolFns))
	for name := range l.toolFns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (l *Loader) openAIFactory(bus *events.Registry, config map[string]any) (provider.Provider, error) {
	var cfg openai.Config
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode openai config: %w", err)
	}
	wire, err := openai.New(cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := provider.NewAdapter(wire, bus, l.adapterOpts...)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// Load validates the plan and mounts every module into coord. Mount
// order is fixed: orchestrator, context manager, providers, tools,
// hooks. Hook registration follows plan order so identical plans yield
// identical handler sequences.
func (l *Loader) Load(plan *Plan, coord *coordinator.Coordinator, amplifiedDir string) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	if err := l.mountOrchestrator(plan, coord); err != nil {
		return err
	}
	if err := mountContextManager(plan, coord); err != nil {
		return err
	}
	for i, pm := range plan.Providers {
		if err := l.mountProvider(pm, coord); err != nil {
			return fmt.Errorf("providers[%d] %q: %w", i, pm.Name, err)
		}
	}
	for i, tm := range plan.Tools {
		if err := l.mountTool(tm, coord, amplifiedDir); err != nil {
			return fmt.Errorf("tools[%d] %q: %w", i, tm.Name, err)
		}
	}
	for i, hm := range plan.Hooks {
		if err := l.mountHook(hm, coord); err != nil {
			return fmt.Errorf("hooks[%d] %q: %w", i, hm.Name, err)
		}
	}
	if err := l.mountApproval(plan, coord); err != nil {
		return err
	}
	if err := registerContexts(plan, coord); err != nil {
		return err
	}
	registerAgents(plan, coord)

	log.Debug().
		Int("providers", len(plan.Providers)).
		Int("tools", len(plan.Tools)).
		Int("hooks", len(plan.Hooks)).
		Msg("mount plan loaded")
	return nil
}

func (l *Loader) mountOrchestrator(plan *Plan, coord *coordinator.Coordinator) error {
	var opts []orchestrator.Option
	switch {
	case plan.Orchestrator != nil && plan.Orchestrator.MaxIterations > 0:
		opts = append(opts, orchestrator.WithMaxIterations(plan.Orchestrator.MaxIterations))
	case l.defaults.MaxIterations > 0:
		opts = append(opts, orchestrator.WithMaxIterations(l.defaults.MaxIterations))
	}
	return coord.SetOrchestrator(orchestrator.New(coord, l.sessions, opts...))
}

func mountContextManager(plan *Plan, coord *coordinator.Coordinator) error {
	if plan.ContextManager == nil {
		return nil
	}
	var opts []compaction.Option
	cm := plan.ContextManager
	if cm.Threshold > 0 {
		opts = append(opts, compaction.WithThreshold(cm.Threshold))
	}
	if cm.KeepRecent > 0 {
		opts = append(opts, compaction.WithKeepRecent(cm.KeepRecent))
	}
	return coord.SetContextManager(compaction.New(opts...))
}

func (l *Loader) mountProvider(pm ProviderMount, coord *coordinator.Coordinator) error {
	factory, ok := l.providers[pm.Type]
	if !ok {
		return fmt.Errorf("unknown provider type %q", pm.Type)
	}
	p, err := factory(coord.Bus(), pm.Config)
	if err != nil {
		return err
	}
	priority := pm.Priority
	if priority == 0 {
		priority = l.defaults.ProviderPriority
	}
	return coord.MountProvider(pm.Name, p, priority)
}

func (l *Loader) mountTool(tm ToolMount, coord *coordinator.Coordinator, amplifiedDir string) error {
	var tool tools.Tool
	switch {
	case tm.Builtin != "":
		factory, ok := l.toolFns[tm.Builtin]
		if !ok {
			return fmt.Errorf("unknown builtin tool %q", tm.Builtin)
		}
		tool = factory()
	default:
		script, err := resolveSource(tm.Module)
		if err != nil {
			return err
		}
		tool = jsvm.NewScriptTool(l.scripts, tm.Name, tm.Description, tm.InputSchema, script)
	}

	// The session working directory reaches every tool through its
	// config, whether the plan set one or not.
	config := make(map[string]any, len(tm.Config)+1)
	for k, v := range tm.Config {
		config[k] = v
	}
	if amplifiedDir != "" {
		config["amplified_dir"] = amplifiedDir
	}
	if c, ok := tool.(tools.Configurable); ok && len(config) > 0 {
		if err := c.Configure(config); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	return coord.MountTool(tool)
}

func (l *Loader) mountHook(hm HookMount, coord *coordinator.Coordinator) error {
	script, err := resolveSource(hm.Module)
	if err != nil {
		return err
	}
	unregister, err := coord.Bus().Register(hm.Event, &events.Handler{
		Name:     hm.Name,
		Priority: hm.Priority,
		Fn:       jsvm.HookHandler(l.scripts, script, hm.Name),
	})
	if err != nil {
		return err
	}
	coord.RegisterCleanup(func() error {
		unregister()
		return nil
	})
	return nil
}

// mountApproval installs the approval gate on tool:pre for every tool
// the plan marks with `require_approval: true`. The manager itself is
// exposed as a capability so the boundary can resolve pending requests.
func (l *Loader) mountApproval(plan *Plan, coord *coordinator.Coordinator) error {
	if l.approvalAudit == "" {
		return nil
	}
	am := approval.NewManager(coord.Bus(), l.approvalAudit, approval.WithTimeout(l.approvalTimeout))
	coord.RegisterCapability(CapabilityApproval, am)

	var gated []string
	for _, tm := range plan.Tools {
		if v, ok := tm.Config["require_approval"].(bool); ok && v {
			gated = append(gated, tm.Name)
		}
	}
	if len(gated) == 0 {
		return nil
	}

	unregister, err := coord.Bus().Register(events.ToolPre, &events.Handler{
		Name:     "approval-gate",
		Priority: approvalGatePriority,
		Fn:       am.Hook(gated...),
	})
	if err != nil {
		return err
	}
	coord.RegisterCleanup(func() error {
		unregister()
		return nil
	})
	return nil
}

func registerContexts(plan *Plan, coord *coordinator.Coordinator) error {
	if len(plan.Contexts) == 0 {
		return nil
	}
	files := make([]ContextFile, 0, len(plan.Contexts))
	for i, cm := range plan.Contexts {
		content := cm.Content
		if content == "" {
			data, err := os.ReadFile(cm.SourcePath)
			if err != nil {
				return fmt.Errorf("contexts[%d] %q: %w", i, cm.Name, err)
			}
			content = string(data)
		}
		files = append(files, ContextFile{Name: cm.Name, Content: content})
	}
	coord.RegisterCapability(CapabilityContextFiles, files)
	return nil
}

func registerAgents(plan *Plan, coord *coordinator.Coordinator) {
	if len(plan.Agents) == 0 {
		return
	}
	agents := make(map[string]AgentMount, len(plan.Agents))
	for _, am := range plan.Agents {
		agents[am.Name] = am
	}
	coord.RegisterCapability(CapabilityAgents, agents)
}

func resolveSource(src *ModuleSource) (string, error) {
	if src.Kind == KindEmbedded {
		return src.Source, nil
	}
	data, err := os.ReadFile(src.SourcePath)
	if err != nil {
		return "", fmt.Errorf("read module %s: %w", src.SourcePath, err)
	}
	return string(data), nil
}
