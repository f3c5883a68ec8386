package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampd/internal/coordinator"
	"ampd/internal/events"
	"ampd/internal/provider"
	"ampd/internal/store"
	"ampd/internal/tools"
)

// scriptedProvider returns canned responses in order and records the
// requests it saw.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*provider.ChatResponse
	err       error
	requests  []*provider.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	i := len(p.requests) - 1
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return &provider.ChatResponse{Content: []provider.ContentBlock{provider.TextBlock("fallback")}}, nil
}

func textResponse(text string) *provider.ChatResponse {
	return &provider.ChatResponse{Content: []provider.ContentBlock{provider.TextBlock(text)}}
}

func toolResponse(calls ...provider.ToolCall) *provider.ChatResponse {
	blocks := make([]provider.ContentBlock, 0, len(calls))
	for _, tc := range calls {
		blocks = append(blocks, provider.ToolCallBlock(tc.ID, tc.Name, tc.Arguments))
	}
	return &provider.ChatResponse{Content: blocks, ToolCalls: calls}
}

type fixture struct {
	coord    *coordinator.Coordinator
	bus      *events.Registry
	sessions *store.SessionStore
	loop     *Loop
}

func newFixture(t *testing.T, prov provider.Provider, opts ...Option) *fixture {
	t.Helper()
	bus := events.NewRegistry()
	coord := coordinator.New(bus)
	require.NoError(t, coord.MountProvider(prov.Name(), prov, 0))

	sessions := store.NewSessionStore(t.TempDir())
	require.NoError(t, sessions.Create(&store.Session{ID: "sess_test"}, nil))

	return &fixture{
		coord:    coord,
		bus:      bus,
		sessions: sessions,
		loop:     New(coord, sessions, opts...),
	}
}

type sleepyTool struct {
	tools.BaseTool
	delay  time.Duration
	output string
}

func (s *sleepyTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	time.Sleep(s.delay)
	return tools.OK(s.output), nil
}

func TestExecuteSimpleTextTurn(t *testing.T) {
	prov := &scriptedProvider{responses: []*provider.ChatResponse{textResponse("hello there")}}
	f := newFixture(t, prov)

	var completions []map[string]any
	_, err := f.bus.Register(events.OrchestratorComplete, &events.Handler{Name: "probe", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		completions = append(completions, e.Data)
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	final, err := f.loop.Execute(context.Background(), "sess_test", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", final)

	entries, err := f.sessions.Transcript("sess_test")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "assistant", entries[1].Role)

	require.Len(t, completions, 1)
	assert.Equal(t, "success", completions[0]["status"])
}

func TestDeniedToolContributesResultAndLoops(t *testing.T) {
	// Scenario: a hook auto-denies bash; the loop feeds the denial back
	// and the provider answers with text.
	prov := &scriptedProvider{responses: []*provider.ChatResponse{
		toolResponse(provider.ToolCall{ID: "call_1", Name: "bash", Arguments: map[string]any{"command": "rm -rf /"}}),
		textResponse("I could not run that."),
	}}
	f := newFixture(t, prov)
	f.coord.Tools().MustRegister(&sleepyTool{BaseTool: tools.BaseTool{ToolName: "bash"}, output: "ran"})

	_, err := f.bus.Register(events.ToolPre, &events.Handler{Name: "auto-deny", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		if e.GetString("tool_name") == "bash" {
			return events.Deny("Auto-denied by rule"), nil
		}
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	var postCount int
	_, err = f.bus.Register(events.ToolPost, &events.Handler{Name: "count-post", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		postCount++
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	final, err := f.loop.Execute(context.Background(), "sess_test", "run rm -rf /")
	require.NoError(t, err)
	assert.Equal(t, "I could not run that.", final)
	assert.Zero(t, postCount)

	entries, err := f.sessions.Transcript("sess_test")
	require.NoError(t, err)
	require.Len(t, entries, 4) // user, assistant(tool_calls), tool(denied), assistant(text)
	assert.Equal(t, "tool", entries[2].Role)
	assert.Equal(t, "Denied by hook: Auto-denied by rule", entries[2].Content)
	assert.Equal(t, "call_1", entries[2].ToolCallID)
}

func TestParallelToolDeterminism(t *testing.T) {
	// Three tool calls whose completions arrive out of order must land
	// in the transcript in original call order under one group id.
	prov := &scriptedProvider{responses: []*provider.ChatResponse{
		toolResponse(
			provider.ToolCall{ID: "tA", Name: "slow"},
			provider.ToolCall{ID: "tB", Name: "medium"},
			provider.ToolCall{ID: "tC", Name: "fast"},
		),
		textResponse("done"),
	}}
	f := newFixture(t, prov)
	f.coord.Tools().MustRegister(&sleepyTool{BaseTool: tools.BaseTool{ToolName: "slow"}, delay: 40 * time.Millisecond, output: "A"})
	f.coord.Tools().MustRegister(&sleepyTool{BaseTool: tools.BaseTool{ToolName: "medium"}, delay: 20 * time.Millisecond, output: "B"})
	f.coord.Tools().MustRegister(&sleepyTool{BaseTool: tools.BaseTool{ToolName: "fast"}, output: "C"})

	var mu sync.Mutex
	groups := map[any]int{}
	_, err := f.bus.Register(events.ToolPre, &events.Handler{Name: "groups", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		mu.Lock()
		groups[e.Data["parallel_group_id"]]++
		mu.Unlock()
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	_, err = f.loop.Execute(context.Background(), "sess_test", "go")
	require.NoError(t, err)

	entries, err := f.sessions.Transcript("sess_test")
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, "assistant", entries[1].Role)
	assert.Equal(t, []string{"tA", "tB", "tC"}, []string{
		entries[2].ToolCallID, entries[3].ToolCallID, entries[4].ToolCallID,
	})
	assert.Equal(t, "A", entries[2].Content)

	require.Len(t, groups, 1)
	for _, count := range groups {
		assert.Equal(t, 3, count)
	}
}

func TestPromptSubmitDenyTerminatesTurn(t *testing.T) {
	prov := &scriptedProvider{}
	f := newFixture(t, prov)

	_, err := f.bus.Register(events.PromptSubmit, &events.Handler{Name: "gate", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		return events.Deny("forbidden topic"), nil
	}})
	require.NoError(t, err)

	final, err := f.loop.Execute(context.Background(), "sess_test", "tell me secrets")
	require.NoError(t, err)
	assert.Equal(t, "Operation denied: forbidden topic", final)

	// Nothing persisted, no provider call.
	entries, err := f.sessions.Transcript("sess_test")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, prov.requests)
}

func TestIterationCapInjectsReminder(t *testing.T) {
	// Provider always wants tools; with cap 2 the third call must carry
	// the reminder and its response becomes final regardless of shape.
	prov := &scriptedProvider{responses: []*provider.ChatResponse{
		toolResponse(provider.ToolCall{ID: "t1", Name: "noop"}),
		toolResponse(provider.ToolCall{ID: "t2", Name: "noop"}),
		textResponse("summary under protest"),
	}}
	f := newFixture(t, prov, WithMaxIterations(2))
	f.coord.Tools().MustRegister(&sleepyTool{BaseTool: tools.BaseTool{ToolName: "noop"}, output: "ok"})

	final, err := f.loop.Execute(context.Background(), "sess_test", "loop forever")
	require.NoError(t, err)
	assert.Equal(t, "summary under protest", final)
	require.Len(t, prov.requests, 3)

	last := prov.requests[2]
	var reminders int
	for _, m := range last.Messages {
		if m.Role == provider.RoleSystem && m.Content == reminderPrompt {
			reminders++
		}
	}
	assert.Equal(t, 1, reminders)

	// The reminder is ephemeral: it was never persisted.
	entries, err := f.sessions.Transcript("sess_test")
	require.NoError(t, err)
	for _, e := range entries {
		if s, ok := e.Content.(string); ok {
			assert.NotEqual(t, reminderPrompt, s)
		}
	}
}

func TestProviderErrorTerminatesTurn(t *testing.T) {
	prov := &scriptedProvider{err: errors.New("upstream down")}
	f := newFixture(t, prov)

	var statuses []any
	_, err := f.bus.Register(events.OrchestratorComplete, &events.Handler{Name: "probe", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		statuses = append(statuses, e.Data["status"])
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	_, err = f.loop.Execute(context.Background(), "sess_test", "hi")
	require.Error(t, err)
	assert.Equal(t, []any{"incomplete"}, statuses)
}

func TestEphemeralInjectionAppliedToRequestOnly(t *testing.T) {
	prov := &scriptedProvider{responses: []*provider.ChatResponse{textResponse("ok")}}
	f := newFixture(t, prov)

	_, err := f.bus.Register(events.ProviderRequest, &events.Handler{Name: "inject", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		r := events.InjectContext("use the style guide", events.InjectSystem)
		r.Ephemeral = true
		return r, nil
	}})
	require.NoError(t, err)

	_, err = f.loop.Execute(context.Background(), "sess_test", "write code")
	require.NoError(t, err)

	req := prov.requests[0]
	var injected bool
	for _, m := range req.Messages {
		if m.Content == "use the style guide" {
			injected = true
		}
	}
	assert.True(t, injected)

	entries, err := f.sessions.Transcript("sess_test")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEqual(t, "use the style guide", e.Content)
	}
}

func TestInjectionAppendsToLastToolResult(t *testing.T) {
	prov := &scriptedProvider{responses: []*provider.ChatResponse{
		toolResponse(provider.ToolCall{ID: "t1", Name: "noop"}),
		textResponse("final"),
	}}
	f := newFixture(t, prov)
	f.coord.Tools().MustRegister(&sleepyTool{BaseTool: tools.BaseTool{ToolName: "noop"}, output: "tool says hi"})

	calls := 0
	_, err := f.bus.Register(events.ProviderRequest, &events.Handler{Name: "append", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		calls++
		if calls == 2 {
			r := events.InjectContext("(addendum)", events.InjectSystem)
			r.Ephemeral = true
			r.AppendToLastToolResult = true
			return r, nil
		}
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	_, err = f.loop.Execute(context.Background(), "sess_test", "go")
	require.NoError(t, err)

	second := prov.requests[1]
	var lastTool *provider.Message
	for i := range second.Messages {
		if second.Messages[i].Role == provider.RoleTool {
			lastTool = &second.Messages[i]
		}
	}
	require.NotNil(t, lastTool)
	assert.Equal(t, "tool says hi\n\n(addendum)", lastTool.TextContent())
}

func TestContentBlockEventsCarryUsageOnLast(t *testing.T) {
	resp := &provider.ChatResponse{
		Content: []provider.ContentBlock{provider.TextBlock("a"), provider.TextBlock("b")},
		Usage:   provider.Usage{TotalTokens: 7},
	}
	prov := &scriptedProvider{responses: []*provider.ChatResponse{resp}}
	f := newFixture(t, prov)

	var ends []map[string]any
	_, err := f.bus.Register(events.ContentBlockEnd, &events.Handler{Name: "probe", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		data := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		ends = append(ends, data)
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	_, err = f.loop.Execute(context.Background(), "sess_test", "hi")
	require.NoError(t, err)

	require.Len(t, ends, 2)
	assert.NotContains(t, ends[0], "usage")
	assert.Contains(t, ends[1], "usage")
}
