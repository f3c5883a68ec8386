package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionRunning   SessionStatus = "running"
	SessionIdle      SessionStatus = "idle"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session is the persisted session metadata.
type Session struct {
	ID            string        `json:"id"`
	ProfileID     string        `json:"profile_id"`
	Status        SessionStatus `json:"status"`
	MountPlanPath string        `json:"mount_plan_path"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	MessageCount  int           `json:"message_count"`
}

// ToolCall is a persisted tool invocation reference on an assistant entry.
type ToolCall struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// TranscriptEntry is one immutable line of a session transcript.
// Content is a string for plain messages or a list of serialized content
// blocks for structured assistant messages.
type TranscriptEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	TokenCount int            `json:"token_count,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SessionStore persists sessions under <root>/<id>/ as a metadata.json,
// a write-once mount_plan.json, and an append-only transcript.jsonl.
type SessionStore struct {
	root string
	mu   sync.Mutex
}

// NewSessionStore creates a session store rooted at dir.
func NewSessionStore(dir string) *SessionStore {
	return &SessionStore{root: dir}
}

func (s *SessionStore) dir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *SessionStore) metadataPath(id string) string {
	return filepath.Join(s.dir(id), "metadata.json")
}

func (s *SessionStore) transcriptPath(id string) string {
	return filepath.Join(s.dir(id), "transcript.jsonl")
}

// MountPlanPath returns the canonical mount plan location for a session.
func (s *SessionStore) MountPlanPath(id string) string {
	return filepath.Join(s.dir(id), "mount_plan.json")
}

// Create persists a new session and its immutable mount plan.
// Returns ErrAlreadyExists if the session directory is already populated.
func (s *SessionStore) Create(sess *Session, mountPlan any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.metadataPath(sess.ID)); err == nil {
		return fmt.Errorf("%w: session %s", ErrAlreadyExists, sess.ID)
	}

	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = SessionCreated
	}
	sess.MountPlanPath = s.MountPlanPath(sess.ID)

	if mountPlan != nil {
		if err := WriteJSONOnce(sess.MountPlanPath, mountPlan); err != nil {
			return err
		}
	}
	return WriteJSONAtomic(s.metadataPath(sess.ID), sess)
}

// Get loads session metadata by ID.
func (s *SessionStore) Get(id string) (*Session, error) {
	var sess Session
	if err := ReadJSON(s.metadataPath(id), &sess); err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &sess, nil
}

// List returns all sessions, newest first.
func (s *SessionStore) List() ([]*Session, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var sessions []*Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sess, err := s.Get(e.Name())
		if err != nil {
			continue // skip partially written directories
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// SetStatus updates the session status.
func (s *SessionStore) SetStatus(id string, status SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.Status = status
	sess.UpdatedAt = time.Now().UTC()
	return WriteJSONAtomic(s.metadataPath(id), sess)
}

// AppendEntry appends one transcript entry and bumps the message count.
// Entries are immutable once written.
func (s *SessionStore) AppendEntry(id string, entry *TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(id)
	if err != nil {
		return err
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := AppendJSONL(s.transcriptPath(id), entry); err != nil {
		return err
	}

	sess.MessageCount++
	sess.UpdatedAt = time.Now().UTC()
	return WriteJSONAtomic(s.metadataPath(id), sess)
}

// Transcript reads the full transcript in append order.
func (s *SessionStore) Transcript(id string) ([]*TranscriptEntry, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}

	var entries []*TranscriptEntry
	err := ReadJSONL(s.transcriptPath(id), func(line []byte) error {
		var e TranscriptEntry
		if err := unmarshalLine(line, &e); err != nil {
			return err
		}
		entries = append(entries, &e)
		return nil
	})
	return entries, err
}

// ReadMountPlan decodes the session's immutable mount plan into v.
func (s *SessionStore) ReadMountPlan(id string, v any) error {
	return ReadJSON(s.MountPlanPath(id), v)
}
