// Package session hosts live agent sessions: per-session stream
// fan-out, the single-writer execution gate, and the daemon-wide event
// hub.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ampd/internal/coordinator"
	"ampd/internal/events"
	"ampd/internal/mountplan"
	"ampd/internal/orchestrator"
	"ampd/internal/store"
)

// Stream event types emitted by the manager itself, on top of the
// hook:<name> frames mirrored from the bus.
const (
	EventUserMessageSaved         = "user_message_saved"
	EventAssistantMessageStart    = "assistant_message_start"
	EventAssistantMessageComplete = "assistant_message_complete"
	EventContent                  = "content"
	EventMessage                  = "message"
	EventExecutionError           = "execution_error"
)

// streamExecutor is what the mounted orchestrator must provide to run
// turns with live output.
type streamExecutor interface {
	ExecuteStream(ctx context.Context, sessionID, prompt string) <-chan orchestrator.Event
}

// runner binds a session's coordinator to its orchestrator.
type runner struct {
	coord *coordinator.Coordinator
	exec  streamExecutor
}

// Manager owns session lifecycle and the stream-manager registry.
type Manager struct {
	sessions  *store.SessionStore
	loader    *mountplan.Loader
	hub         *Hub
	workRoot    string
	queueSize   int
	mirrored    []string
	defaultPlan *mountplan.Plan

	mu      sync.Mutex
	streams map[string]*StreamManager
}

// Option configures the manager.
type Option func(*Manager)

// WithHub mirrors lifecycle events onto the global hub.
func WithHub(h *Hub) Option {
	return func(m *Manager) { m.hub = h }
}

// WithWorkRoot sets the root under which per-session working
// directories are created.
func WithWorkRoot(dir string) Option {
	return func(m *Manager) { m.workRoot = dir }
}

// WithQueueSize bounds subscriber queues.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithMirroredEvents selects which bus events are mirrored to stream
// subscribers as hook:<name> frames.
func WithMirroredEvents(names ...string) Option {
	return func(m *Manager) { m.mirrored = names }
}

// WithDefaultPlan sets the mount plan for transient sessions created
// without an explicit one, such as automation firings.
func WithDefaultPlan(plan *mountplan.Plan) Option {
	return func(m *Manager) { m.defaultPlan = plan }
}

// NewManager creates a session manager.
func NewManager(sessions *store.SessionStore, loader *mountplan.Loader, opts ...Option) *Manager {
	m := &Manager{
		sessions:  sessions,
		loader:    loader,
		queueSize: DefaultQueueSize,
		mirrored: []string{
			events.ToolPre, events.ToolPost, events.ToolError,
			events.PromptSubmit, events.PromptComplete,
			events.ApprovalRequired, events.ApprovalGranted, events.ApprovalDenied,
		},
		streams: make(map[string]*StreamManager),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create persists a new session with its immutable mount plan.
func (m *Manager) Create(profileID string, plan *mountplan.Plan) (*store.Session, error) {
	if plan != nil {
		if err := plan.Validate(); err != nil {
			return nil, err
		}
	}
	sess := &store.Session{
		ID:        "sess_" + uuid.NewString(),
		ProfileID: profileID,
	}
	if err := m.sessions.Create(sess, plan); err != nil {
		return nil, err
	}
	m.publishGlobal(StreamEvent{Type: "session:created", Payload: map[string]any{
		"session_id": sess.ID,
		"profile_id": profileID,
	}})
	return sess, nil
}

// Get returns session metadata.
func (m *Manager) Get(id string) (*store.Session, error) {
	return m.sessions.Get(id)
}

// List returns all sessions, newest first.
func (m *Manager) List() ([]*store.Session, error) {
	return m.sessions.List()
}

// Transcript reads the persisted transcript.
func (m *Manager) Transcript(id string) ([]*store.TranscriptEntry, error) {
	return m.sessions.Transcript(id)
}

// AppendUserMessage persists a user message without executing.
func (m *Manager) AppendUserMessage(id, content string) error {
	if err := m.sessions.AppendEntry(id, &store.TranscriptEntry{
		Role:    "user",
		Content: content,
	}); err != nil {
		return err
	}
	m.broadcast(id, StreamEvent{Type: EventUserMessageSaved, Payload: map[string]any{
		"session_id": id,
		"content":    content,
	}})
	return nil
}

// Subscribe attaches a new bounded queue to the session's stream.
func (m *Manager) Subscribe(id string) (*Subscriber, error) {
	if _, err := m.sessions.Get(id); err != nil {
		return nil, err
	}
	return m.stream(id).subscribe(), nil
}

// Unsubscribe detaches a subscriber and collects the stream manager
// when it was the last one and nothing is executing.
func (m *Manager) Unsubscribe(id string, sub *Subscriber) {
	m.mu.Lock()
	sm, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	sm.unsubscribe(sub)
	m.maybeCollect(id)
}

// SendMessage validates the session, announces the user message, and
// spawns a background execution. It returns as soon as the task is
// started; progress flows to stream subscribers.
func (m *Manager) SendMessage(ctx context.Context, id, content string) error {
	if _, err := m.sessions.Get(id); err != nil {
		return err
	}

	sm := m.stream(id)
	if err := sm.acquire(); err != nil {
		return err
	}
	if err := m.ensureRunner(sm); err != nil {
		sm.release()
		return err
	}

	m.emit(sm, StreamEvent{Type: EventUserMessageSaved, Payload: map[string]any{
		"session_id": id,
		"content":    content,
	}})
	if err := m.sessions.SetStatus(id, store.SessionRunning); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("set status failed")
	}
	m.emit(sm, StreamEvent{Type: EventAssistantMessageStart, Payload: map[string]any{
		"session_id": id,
	}})

	go func() {
		_ = m.runTurn(context.WithoutCancel(ctx), sm, id, content)
	}()
	return nil
}

// RunAutomation creates a transient session with the given id and the
// manager's default plan, then executes one turn synchronously. Used by
// the automation scheduler, which needs the outcome for its records.
func (m *Manager) RunAutomation(ctx context.Context, sessionID, profileID, message string) error {
	if _, err := m.sessions.Get(sessionID); err != nil {
		if err := m.sessions.Create(&store.Session{ID: sessionID, ProfileID: profileID}, m.defaultPlan); err != nil {
			return err
		}
		m.publishGlobal(StreamEvent{Type: "session:created", Payload: map[string]any{
			"session_id": sessionID,
			"profile_id": profileID,
		}})
	}

	sm := m.stream(sessionID)
	if err := sm.acquire(); err != nil {
		return err
	}
	if err := m.ensureRunner(sm); err != nil {
		sm.release()
		return err
	}

	m.emit(sm, StreamEvent{Type: EventUserMessageSaved, Payload: map[string]any{
		"session_id": sessionID,
		"content":    message,
	}})
	m.emit(sm, StreamEvent{Type: EventAssistantMessageStart, Payload: map[string]any{
		"session_id": sessionID,
	}})
	return m.runTurn(ctx, sm, sessionID, message)
}

// ExecuteSync subscribes, then starts execution. The caller drains the
// subscriber until a terminal frame; the pipeline is identical to
// SendMessage.
func (m *Manager) ExecuteSync(ctx context.Context, id, content string) (*Subscriber, error) {
	sub, err := m.Subscribe(id)
	if err != nil {
		return nil, err
	}
	if err := m.SendMessage(ctx, id, content); err != nil {
		m.Unsubscribe(id, sub)
		return nil, err
	}
	return sub, nil
}

func (m *Manager) runTurn(ctx context.Context, sm *StreamManager, id, content string) error {
	defer func() {
		sm.release()
		m.maybeCollect(id)
	}()

	var final string
	var failure error
	for ev := range sm.run.exec.ExecuteStream(ctx, id, content) {
		switch ev.Type {
		case orchestrator.EventTypeContent:
			m.emit(sm, StreamEvent{Type: EventContent, Payload: map[string]any{
				"content": ev.Content,
			}})
		case orchestrator.EventTypeToolCall:
			m.emit(sm, StreamEvent{Type: EventMessage, Payload: map[string]any{
				"type":         "tool_call",
				"tool_name":    ev.ToolName,
				"tool_call_id": ev.ToolCallID,
			}})
		case orchestrator.EventTypeToolResult:
			m.emit(sm, StreamEvent{Type: EventMessage, Payload: map[string]any{
				"type":         "tool_result",
				"tool_name":    ev.ToolName,
				"tool_call_id": ev.ToolCallID,
				"content":      ev.Content,
			}})
		case orchestrator.EventTypeDone:
			final = ev.Content
		case orchestrator.EventTypeError:
			failure = ev.Err
		}
	}

	if failure != nil {
		m.emit(sm, StreamEvent{Type: EventExecutionError, Payload: map[string]any{
			"session_id": id,
			"error":      failure.Error(),
		}})
		m.emit(sm, StreamEvent{Type: EventMessage, Payload: map[string]any{
			"type":  "error",
			"error": failure.Error(),
		}})
		if err := m.sessions.SetStatus(id, store.SessionFailed); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("set status failed")
		}
		return failure
	}

	m.emit(sm, StreamEvent{Type: EventMessage, Payload: map[string]any{
		"type":    "done",
		"content": final,
	}})
	m.emit(sm, StreamEvent{Type: EventAssistantMessageComplete, Payload: map[string]any{
		"session_id": id,
		"content":    final,
	}})
	if err := m.sessions.SetStatus(id, store.SessionIdle); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("set status failed")
	}
	return nil
}

// approvalResolver is the slice of the approval manager the boundary
// needs to answer pending requests.
type approvalResolver interface {
	Resolve(id string, granted bool, reason string) bool
}

// ResolveApproval answers a pending approval request on a live
// session. Unknown sessions, sessions without an approval capability,
// and unknown request IDs all report not found.
func (m *Manager) ResolveApproval(id, requestID string, granted bool, reason string) error {
	m.mu.Lock()
	sm, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	sm.mu.Lock()
	run := sm.run
	sm.mu.Unlock()
	if run == nil {
		return store.ErrNotFound
	}
	capability, ok := run.coord.Capability(mountplan.CapabilityApproval)
	if !ok {
		return store.ErrNotFound
	}
	resolver, ok := capability.(approvalResolver)
	if !ok || !resolver.Resolve(requestID, granted, reason) {
		return store.ErrNotFound
	}
	return nil
}

// Close tears down every live stream manager and its coordinator.
func (m *Manager) Close() error {
	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[string]*StreamManager)
	m.mu.Unlock()

	var first error
	for id, sm := range streams {
		if sm.run != nil {
			if err := sm.run.coord.Close(); err != nil && first == nil {
				first = fmt.Errorf("close session %s: %w", id, err)
			}
		}
	}
	return first
}

func (m *Manager) stream(id string) *StreamManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.streams[id]
	if !ok {
		sm = newStreamManager(id, m.queueSize)
		m.streams[id] = sm
	}
	return sm
}

func (m *Manager) broadcast(id string, ev StreamEvent) {
	m.mu.Lock()
	sm, ok := m.streams[id]
	m.mu.Unlock()
	if ok {
		sm.Broadcast(ev)
	}
	m.publishGlobal(ev)
}

// emit delivers to the session's subscribers and mirrors to the hub.
func (m *Manager) emit(sm *StreamManager, ev StreamEvent) {
	sm.Broadcast(ev)
	m.publishGlobal(ev)
}

func (m *Manager) publishGlobal(ev StreamEvent) {
	if m.hub != nil {
		m.hub.Broadcast(ev)
	}
}

// ensureRunner lazily builds the session's coordinator from its
// immutable mount plan.
func (m *Manager) ensureRunner(sm *StreamManager) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.run != nil {
		return nil
	}

	var plan mountplan.Plan
	if err := m.sessions.ReadMountPlan(sm.sessionID, &plan); err != nil && err != store.ErrNotFound {
		return err
	}

	bus := events.NewRegistry()
	bus.SetStreamPublisher(sm)
	bus.SetStreamEvents(m.mirrored...)

	coord := coordinator.New(bus)
	if err := m.loader.Load(&plan, coord, m.workDir(sm.sessionID)); err != nil {
		return err
	}

	exec, ok := coord.Orchestrator().(streamExecutor)
	if !ok {
		return ErrNoOrchestrator
	}
	sm.run = &runner{coord: coord, exec: exec}
	return nil
}

func (m *Manager) workDir(sessionID string) string {
	if m.workRoot == "" {
		return ""
	}
	dir := filepath.Join(m.workRoot, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("create session workdir failed")
		return ""
	}
	return dir
}

func (m *Manager) maybeCollect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.streams[id]
	if !ok || !sm.idle() {
		return
	}
	delete(m.streams, id)
	if sm.run != nil {
		if err := sm.run.coord.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("coordinator close failed")
		}
	}
}
