// Package mountplan validates session mount plans and instantiates a
// populated coordinator from them.
package mountplan

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the plan-schema version of this runtime. Plans may
// declare a `runtime` semver range; loading fails when the range
// excludes this version.
const SchemaVersion = "1.0.0"

// Source kinds for hook and tool modules.
const (
	KindEmbedded   = "embedded"
	KindReferenced = "referenced"
)

// ModuleSource is a discriminated module body: embedded inline script
// or a reference to a cached file.
type ModuleSource struct {
	Kind       string `json:"kind"`
	Source     string `json:"source,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
}

// ProviderMount configures one provider slot.
type ProviderMount struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Priority int            `json:"priority,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// ToolMount configures one tool. Either a built-in name or a script
// module, never both.
type ToolMount struct {
	Name        string         `json:"name"`
	Builtin     string         `json:"builtin,omitempty"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Module      *ModuleSource  `json:"module,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// HookMount configures one hook handler.
type HookMount struct {
	Name     string        `json:"name"`
	Event    string        `json:"event"`
	Priority int           `json:"priority,omitempty"`
	Module   *ModuleSource `json:"module"`
}

// ContextMount is static content made available to the session.
type ContextMount struct {
	Name       string `json:"name"`
	Content    string `json:"content,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
}

// AgentMount is a named sub-agent definition.
type AgentMount struct {
	Name   string   `json:"name"`
	Prompt string   `json:"prompt"`
	Tools  []string `json:"tools,omitempty"`
}

// OrchestratorMount selects and configures the single orchestrator slot.
type OrchestratorMount struct {
	Type          string `json:"type,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// ContextManagerMount configures the single context-manager slot.
type ContextManagerMount struct {
	Type       string `json:"type,omitempty"`
	Threshold  int    `json:"threshold,omitempty"`
	KeepRecent int    `json:"keep_recent,omitempty"`
}

// Plan is the immutable, pre-compiled module specification a session
// loads from.
type Plan struct {
	Runtime        string               `json:"runtime,omitempty"`
	Orchestrator   *OrchestratorMount   `json:"orchestrator,omitempty"`
	ContextManager *ContextManagerMount `json:"context_manager,omitempty"`
	Providers      []ProviderMount      `json:"providers,omitempty"`
	Tools          []ToolMount          `json:"tools,omitempty"`
	Hooks          []HookMount          `json:"hooks,omitempty"`
	Contexts       []ContextMount       `json:"contexts,omitempty"`
	Agents         []AgentMount         `json:"agents,omitempty"`
}

// FieldError locates one validation failure inside a plan.
type FieldError struct {
	Loc  string `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Loc, e.Msg)
}

// ValidationError aggregates every field failure of one plan.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return "invalid mount plan: " + e.Fields[0].Error()
	}
	return fmt.Sprintf("invalid mount plan: %d field errors", len(e.Fields))
}

func validateSource(loc string, src *ModuleSource, errs *[]FieldError) {
	if src == nil {
		*errs = append(*errs, FieldError{Loc: loc, Msg: "module source is required", Type: "missing"})
		return
	}
	switch src.Kind {
	case KindEmbedded:
		if src.Source == "" {
			*errs = append(*errs, FieldError{Loc: loc + ".source", Msg: "embedded module requires inline source", Type: "missing"})
		}
	case KindReferenced:
		if src.SourcePath == "" {
			*errs = append(*errs, FieldError{Loc: loc + ".source_path", Msg: "referenced module requires source_path", Type: "missing"})
		}
	default:
		*errs = append(*errs, FieldError{Loc: loc + ".kind", Msg: fmt.Sprintf("unknown module kind %q", src.Kind), Type: "value_error"})
	}
}

// Validate checks the plan's structure. It returns a *ValidationError
// listing every problem, or nil.
func (p *Plan) Validate() error {
	var errs []FieldError

	if p.Runtime != "" {
		if c, err := semver.NewConstraint(p.Runtime); err != nil {
			errs = append(errs, FieldError{Loc: "runtime", Msg: "invalid semver range: " + err.Error(), Type: "value_error"})
		} else if !c.Check(semver.MustParse(SchemaVersion)) {
			errs = append(errs, FieldError{
				Loc:  "runtime",
				Msg:  fmt.Sprintf("plan requires runtime %s, this runtime is %s", p.Runtime, SchemaVersion),
				Type: "incompatible",
			})
		}
	}

	providerNames := map[string]bool{}
	for i, pm := range p.Providers {
		loc := fmt.Sprintf("providers[%d]", i)
		if pm.Name == "" {
			errs = append(errs, FieldError{Loc: loc + ".name", Msg: "provider name is required", Type: "missing"})
		} else if providerNames[pm.Name] {
			errs = append(errs, FieldError{Loc: loc + ".name", Msg: fmt.Sprintf("duplicate provider %q", pm.Name), Type: "duplicate"})
		}
		providerNames[pm.Name] = true
		if pm.Type == "" {
			errs = append(errs, FieldError{Loc: loc + ".type", Msg: "provider type is required", Type: "missing"})
		}
	}

	toolNames := map[string]bool{}
	for i, tm := range p.Tools {
		loc := fmt.Sprintf("tools[%d]", i)
		if tm.Name == "" {
			errs = append(errs, FieldError{Loc: loc + ".name", Msg: "tool name is required", Type: "missing"})
		} else if toolNames[tm.Name] {
			errs = append(errs, FieldError{Loc: loc + ".name", Msg: fmt.Sprintf("duplicate tool %q", tm.Name), Type: "duplicate"})
		}
		toolNames[tm.Name] = true
		switch {
		case tm.Builtin != "" && tm.Module != nil:
			errs = append(errs, FieldError{Loc: loc, Msg: "tool cannot be both builtin and module", Type: "value_error"})
		case tm.Builtin == "" && tm.Module == nil:
			errs = append(errs, FieldError{Loc: loc, Msg: "tool requires builtin or module", Type: "missing"})
		case tm.Module != nil:
			validateSource(loc+".module", tm.Module, &errs)
		}
	}

	for i, hm := range p.Hooks {
		loc := fmt.Sprintf("hooks[%d]", i)
		if hm.Name == "" {
			errs = append(errs, FieldError{Loc: loc + ".name", Msg: "hook name is required", Type: "missing"})
		}
		if hm.Event == "" {
			errs = append(errs, FieldError{Loc: loc + ".event", Msg: "hook event is required", Type: "missing"})
		}
		validateSource(loc+".module", hm.Module, &errs)
	}

	for i, cm := range p.Contexts {
		loc := fmt.Sprintf("contexts[%d]", i)
		if cm.Content == "" && cm.SourcePath == "" {
			errs = append(errs, FieldError{Loc: loc, Msg: "context requires content or source_path", Type: "missing"})
		}
	}

	for i, am := range p.Agents {
		loc := fmt.Sprintf("agents[%d]", i)
		if am.Name == "" {
			errs = append(errs, FieldError{Loc: loc + ".name", Msg: "agent name is required", Type: "missing"})
		}
		if am.Prompt == "" {
			errs = append(errs, FieldError{Loc: loc + ".prompt", Msg: "agent prompt is required", Type: "missing"})
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
