package approval

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ampd/internal/events"
	"ampd/internal/store"
)

func auditEntries(t *testing.T, path string) []AuditEntry {
	t.Helper()
	var entries []AuditEntry
	require.NoError(t, store.ReadJSONL(path, func(line []byte) error {
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	}))
	return entries
}

func TestRequireGranted(t *testing.T) {
	audit := filepath.Join(t.TempDir(), "approvals.jsonl")
	bus := events.NewRegistry()
	m := NewManager(bus, audit)

	var requestID string
	_, err := bus.Register(events.ApprovalRequired, &events.Handler{Name: "grant-all", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		requestID = e.GetString("request_id")
		go m.Resolve(requestID, true, "looks fine")
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	result := m.Require(context.Background(), &Request{ToolName: "bash"})
	assert.Equal(t, events.ActionContinue, result.Action)

	entries := auditEntries(t, audit)
	require.Len(t, entries, 1)
	assert.Equal(t, DecisionGranted, entries[0].Decision)
	assert.Equal(t, requestID, entries[0].RequestID)
}

func TestRequireDenied(t *testing.T) {
	audit := filepath.Join(t.TempDir(), "approvals.jsonl")
	bus := events.NewRegistry()
	m := NewManager(bus, audit)

	_, err := bus.Register(events.ApprovalRequired, &events.Handler{Name: "deny-all", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		go m.Resolve(e.GetString("request_id"), false, "not allowed")
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	result := m.Require(context.Background(), &Request{ToolName: "bash"})
	assert.True(t, result.Denied())
	assert.Equal(t, "not allowed", result.Reason)

	entries := auditEntries(t, audit)
	require.Len(t, entries, 1)
	assert.Equal(t, DecisionDenied, entries[0].Decision)
}

func TestRequireTimeout(t *testing.T) {
	audit := filepath.Join(t.TempDir(), "approvals.jsonl")
	bus := events.NewRegistry()

	var denied []string
	_, err := bus.Register(events.ApprovalDenied, &events.Handler{Name: "observe", Fn: func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		denied = append(denied, e.GetString("reason"))
		return events.Continue(), nil
	}})
	require.NoError(t, err)

	m := NewManager(bus, audit, WithTimeout(30*time.Millisecond))
	result := m.Require(context.Background(), &Request{ToolName: "bash"})

	assert.True(t, result.Denied())
	assert.Equal(t, TimeoutReason, result.Reason)
	assert.Equal(t, []string{TimeoutReason}, denied)

	entries := auditEntries(t, audit)
	require.Len(t, entries, 1)
	assert.Equal(t, DecisionTimeout, entries[0].Decision)
}

func TestResolveUnknownRequest(t *testing.T) {
	m := NewManager(events.NewRegistry(), filepath.Join(t.TempDir(), "a.jsonl"))
	assert.False(t, m.Resolve("ghost", true, ""))
}

func TestHookGatesOnlyNamedTools(t *testing.T) {
	audit := filepath.Join(t.TempDir(), "approvals.jsonl")
	bus := events.NewRegistry()
	m := NewManager(bus, audit, WithTimeout(30*time.Millisecond))

	hook := m.Hook("bash")

	// Ungated tool passes straight through, no audit entry.
	result, err := hook(context.Background(), &events.Event{
		Name: events.ToolPre,
		Data: map[string]any{"tool_name": "echo"},
	})
	require.NoError(t, err)
	assert.Equal(t, events.ActionContinue, result.Action)
	assert.Empty(t, auditEntries(t, audit))

	// Gated tool times out and fails closed.
	result, err = hook(context.Background(), &events.Event{
		Name: events.ToolPre,
		Data: map[string]any{"tool_name": "bash"},
	})
	require.NoError(t, err)
	assert.True(t, result.Denied())
	assert.Equal(t, TimeoutReason, result.Reason)
}
