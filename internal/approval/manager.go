// Package approval gates sensitive tool executions behind an explicit
// grant, with a timeout that fails closed and an append-only audit log.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ampd/internal/events"
	"ampd/internal/store"
)

// DefaultTimeout bounds how long a request may stay pending.
const DefaultTimeout = 120 * time.Second

// TimeoutReason is the deny reason recorded when nobody answered.
const TimeoutReason = "Approval request timed out"

// Decision is the recorded outcome of one approval request.
type Decision string

const (
	DecisionGranted Decision = "granted"
	DecisionDenied  Decision = "denied"
	DecisionTimeout Decision = "timeout"
)

// Request is a pending approval.
type Request struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id,omitempty"`
	ToolName    string         `json:"tool_name"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// AuditEntry is one line of the approval audit log.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id,omitempty"`
	ToolName  string    `json:"tool_name"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
}

type resolution struct {
	granted bool
	reason  string
}

// Manager tracks pending approvals and records every outcome.
type Manager struct {
	bus       *events.Registry
	auditPath string
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan resolution
}

// Option configures the manager.
type Option func(*Manager)

// WithTimeout sets the pending-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewManager creates an approval manager writing its audit trail to
// auditPath (JSONL, append-only).
func NewManager(bus *events.Registry, auditPath string, opts ...Option) *Manager {
	m := &Manager{
		bus:       bus,
		auditPath: auditPath,
		timeout:   DefaultTimeout,
		pending:   make(map[string]chan resolution),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Require blocks until the request is resolved or times out. Timeout and
// cancellation fail closed: the result is a deny, audited as such.
func (m *Manager) Require(ctx context.Context, req *Request) *events.HookResult {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.RequestedAt = time.Now().UTC()

	ch := make(chan resolution, 1)
	m.mu.Lock()
	m.pending[req.ID] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, req.ID)
		m.mu.Unlock()
	}()

	m.bus.Emit(ctx, events.ApprovalRequired, map[string]any{
		"request_id": req.ID,
		"session_id": req.SessionID,
		"tool_name":  req.ToolName,
		"tool_input": req.ToolInput,
	})

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.granted {
			m.record(ctx, req, DecisionGranted, res.reason, events.ApprovalGranted)
			return events.Continue()
		}
		m.record(ctx, req, DecisionDenied, res.reason, events.ApprovalDenied)
		return events.Deny(res.reason)
	case <-timer.C:
		m.record(ctx, req, DecisionTimeout, TimeoutReason, events.ApprovalDenied)
		return events.Deny(TimeoutReason)
	case <-ctx.Done():
		m.record(ctx, req, DecisionDenied, "request cancelled", events.ApprovalDenied)
		return events.Deny("request cancelled")
	}
}

// Resolve answers a pending request. Unknown IDs report false.
func (m *Manager) Resolve(id string, granted bool, reason string) bool {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resolution{granted: granted, reason: reason}:
		return true
	default:
		return false
	}
}

// Pending lists currently unresolved request IDs.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) record(ctx context.Context, req *Request, decision Decision, reason, event string) {
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		RequestID: req.ID,
		SessionID: req.SessionID,
		ToolName:  req.ToolName,
		Decision:  decision,
		Reason:    reason,
	}
	if err := store.AppendJSONL(m.auditPath, entry); err != nil {
		log.Error().Err(err).Str("request_id", req.ID).Msg("approval audit write failed")
	}
	m.bus.Emit(ctx, event, map[string]any{
		"request_id": req.ID,
		"tool_name":  req.ToolName,
		"decision":   string(decision),
		"reason":     reason,
	})
}

// Hook returns a tool:pre handler that requires approval for the named
// tools. An empty list gates every tool.
func (m *Manager) Hook(toolNames ...string) events.HandlerFunc {
	gated := make(map[string]struct{}, len(toolNames))
	for _, name := range toolNames {
		gated[name] = struct{}{}
	}
	return func(ctx context.Context, e *events.Event) (*events.HookResult, error) {
		toolName := e.GetString("tool_name")
		if len(gated) > 0 {
			if _, ok := gated[toolName]; !ok {
				return events.Continue(), nil
			}
		}
		sessionID := e.GetString("session_id")
		input, _ := e.Get("tool_input")
		toolInput, _ := input.(map[string]any)
		return m.Require(ctx, &Request{
			SessionID: sessionID,
			ToolName:  toolName,
			ToolInput: toolInput,
		}), nil
	}
}
