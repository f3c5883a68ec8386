package automation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ampd/internal/store"
)

// Store persists automations as automations/<id>.json with an atomic
// index.json and per-automation executions/<id>.jsonl history.
type Store struct {
	root string
	mu   sync.Mutex
}

type indexEntry struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// NewStore creates an automation store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, "index.json")
}

func (s *Store) executionsPath(id string) string {
	return filepath.Join(s.root, "executions", id+".jsonl")
}

func (s *Store) readIndex() (map[string]indexEntry, error) {
	idx := make(map[string]indexEntry)
	err := store.ReadJSON(s.indexPath(), &idx)
	if err == store.ErrNotFound {
		return idx, nil
	}
	return idx, err
}

// Create validates and persists a new automation. Names are unique per
// project.
func (s *Store) Create(a *Automation) error {
	if a.Name == "" {
		return fmt.Errorf("%w: automation name is required", store.ErrInvalid)
	}
	if err := a.Schedule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	for id, e := range idx {
		if e.ProjectID == a.ProjectID && e.Name == a.Name && id != a.ID {
			return fmt.Errorf("%w: automation %q in project %q", store.ErrAlreadyExists, a.Name, a.ProjectID)
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := store.WriteJSONAtomic(s.path(a.ID), a); err != nil {
		return err
	}
	idx[a.ID] = indexEntry{ProjectID: a.ProjectID, Name: a.Name}
	return store.WriteJSONAtomic(s.indexPath(), idx)
}

// Get loads one automation.
func (s *Store) Get(id string) (*Automation, error) {
	var a Automation
	if err := store.ReadJSON(s.path(id), &a); err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: automation %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &a, nil
}

// List returns automations, optionally filtered by project, sorted by
// name.
func (s *Store) List(projectID string) ([]*Automation, error) {
	s.mu.Lock()
	idx, err := s.readIndex()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*Automation
	for id, e := range idx {
		if projectID != "" && e.ProjectID != projectID {
			continue
		}
		a, err := s.Get(id)
		if err != nil {
			continue // index ahead of a crashed write
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update rewrites an existing automation after validating its schedule
// and name uniqueness.
func (s *Store) Update(a *Automation) error {
	if err := a.Schedule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := idx[a.ID]; !ok {
		return fmt.Errorf("%w: automation %s", store.ErrNotFound, a.ID)
	}
	for id, e := range idx {
		if id != a.ID && e.ProjectID == a.ProjectID && e.Name == a.Name {
			return fmt.Errorf("%w: automation %q in project %q", store.ErrAlreadyExists, a.Name, a.ProjectID)
		}
	}

	a.UpdatedAt = time.Now().UTC()
	if err := store.WriteJSONAtomic(s.path(a.ID), a); err != nil {
		return err
	}
	idx[a.ID] = indexEntry{ProjectID: a.ProjectID, Name: a.Name}
	return store.WriteJSONAtomic(s.indexPath(), idx)
}

// SetEnabled toggles an automation.
func (s *Store) SetEnabled(id string, enabled bool) (*Automation, error) {
	a, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	a.Enabled = enabled
	if err := s.Update(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes the automation, its index entry, and its execution
// history together.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := idx[id]; !ok {
		return fmt.Errorf("%w: automation %s", store.ErrNotFound, id)
	}

	delete(idx, id)
	if err := store.WriteJSONAtomic(s.indexPath(), idx); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete automation %s: %w", id, err)
	}
	if err := os.Remove(s.executionsPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete executions %s: %w", id, err)
	}
	return nil
}

// RecordExecution appends one execution record and updates the
// automation's last_execution and next_execution.
func (s *Store) RecordExecution(rec *ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}
	if err := store.AppendJSONL(s.executionsPath(rec.AutomationID), rec); err != nil {
		return err
	}

	a, err := s.Get(rec.AutomationID)
	if err != nil {
		return err
	}
	at := rec.ExecutedAt
	a.LastExecution = &at
	if next, err := a.Schedule.Next(at); err == nil && next.After(at) {
		a.NextExecution = &next
	} else {
		a.NextExecution = nil
	}
	return s.Update(a)
}

// Executions reads the automation's firing history in append order.
func (s *Store) Executions(id string) ([]*ExecutionRecord, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	var out []*ExecutionRecord
	err := store.ReadJSONL(s.executionsPath(id), func(line []byte) error {
		var rec ExecutionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}
