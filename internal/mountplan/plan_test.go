package mountplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldLocs(err error) []string {
	ve, ok := err.(*ValidationError)
	if !ok {
		return nil
	}
	locs := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		locs = append(locs, f.Loc)
	}
	return locs
}

func TestValidateMinimalPlan(t *testing.T) {
	plan := &Plan{}
	assert.NoError(t, plan.Validate())
}

func TestValidateFullPlan(t *testing.T) {
	plan := &Plan{
		Runtime:        ">=1.0.0 <2.0.0",
		Orchestrator:   &OrchestratorMount{MaxIterations: 10},
		ContextManager: &ContextManagerMount{Threshold: 40},
		Providers: []ProviderMount{
			{Name: "default", Type: "openai", Config: map[string]any{"model": "gpt-4o"}},
		},
		Tools: []ToolMount{
			{Name: "bash", Builtin: "bash"},
			{Name: "greet", Module: &ModuleSource{Kind: KindEmbedded, Source: "function execute(a){return 'hi'}"}},
		},
		Hooks: []HookMount{
			{Name: "audit", Event: "tool:pre", Module: &ModuleSource{Kind: KindEmbedded, Source: "function handler(e){}"}},
		},
		Contexts: []ContextMount{{Name: "style", Content: "be terse"}},
		Agents:   []AgentMount{{Name: "reviewer", Prompt: "review code"}},
	}
	assert.NoError(t, plan.Validate())
}

func TestValidateRuntimeRange(t *testing.T) {
	tests := []struct {
		name    string
		runtime string
		ok      bool
	}{
		{"compatible caret", "^1.0.0", true},
		{"compatible exact", "1.0.0", true},
		{"incompatible major", ">=2.0.0", false},
		{"malformed", "not-a-range", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Plan{Runtime: tt.runtime}).Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, fieldLocs(err), "runtime")
			}
		})
	}
}

func TestValidateDuplicateNames(t *testing.T) {
	plan := &Plan{
		Providers: []ProviderMount{
			{Name: "p", Type: "openai"},
			{Name: "p", Type: "openai"},
		},
		Tools: []ToolMount{
			{Name: "t", Builtin: "echo"},
			{Name: "t", Builtin: "echo"},
		},
	}
	err := plan.Validate()
	require.Error(t, err)
	locs := fieldLocs(err)
	assert.Contains(t, locs, "providers[1].name")
	assert.Contains(t, locs, "tools[1].name")
}

func TestValidateModuleSources(t *testing.T) {
	plan := &Plan{
		Tools: []ToolMount{
			{Name: "both", Builtin: "echo", Module: &ModuleSource{Kind: KindEmbedded, Source: "x"}},
			{Name: "neither"},
			{Name: "badkind", Module: &ModuleSource{Kind: "inline", Source: "x"}},
			{Name: "noref", Module: &ModuleSource{Kind: KindReferenced}},
		},
		Hooks: []HookMount{
			{Name: "nomodule", Event: "tool:pre"},
		},
	}
	err := plan.Validate()
	require.Error(t, err)
	locs := fieldLocs(err)
	assert.Contains(t, locs, "tools[0]")
	assert.Contains(t, locs, "tools[1]")
	assert.Contains(t, locs, "tools[2].module.kind")
	assert.Contains(t, locs, "tools[3].module.source_path")
	assert.Contains(t, locs, "hooks[0].module")
}

func TestValidationErrorMessage(t *testing.T) {
	err := (&Plan{Hooks: []HookMount{{}}}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mount plan")
}
