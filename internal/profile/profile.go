// Package profile discovers session profiles from a directory of YAML
// or JSON files and keeps the cache fresh with a filesystem watcher.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"ampd/internal/mountplan"
)

// Profile names a reusable mount plan.
type Profile struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Plan        *mountplan.Plan `json:"plan,omitempty" yaml:"plan,omitempty"`
}

// Registry caches profiles discovered under one directory.
type Registry struct {
	dir string

	mu       sync.RWMutex
	profiles map[string]*Profile
	stale    bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry creates a registry over dir. The directory does not need
// to exist yet; discovery then yields no profiles.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:      dir,
		profiles: make(map[string]*Profile),
		stale:    true,
	}
}

// Watch starts invalidating the cache on directory changes. Stop with
// Close.
func (r *Registry) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	r.watcher = w
	r.done = make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					r.invalidate()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("profile watcher error")
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (r *Registry) Close() error {
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	if r.watcher != nil {
		err := r.watcher.Close()
		r.watcher = nil
		return err
	}
	return nil
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
}

// List returns all discovered profiles sorted by ID.
func (r *Registry) List() ([]*Profile, error) {
	if err := r.refresh(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one profile by ID.
func (r *Registry) Get(id string) (*Profile, bool) {
	if err := r.refresh(); err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// refresh rescans the directory when the cache is stale.
func (r *Registry) refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stale {
		return nil
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.profiles = make(map[string]*Profile)
			r.stale = false
			return nil
		}
		return fmt.Errorf("read profiles dir: %w", err)
	}

	profiles := make(map[string]*Profile)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p, err := loadProfile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable profile")
			continue
		}
		if p == nil {
			continue
		}
		profiles[p.ID] = p
	}

	r.profiles = profiles
	r.stale = false
	return nil
}

// loadProfile decodes one profile file. Unknown extensions are skipped.
func loadProfile(path string) (*Profile, error) {
	var p Profile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		// Route YAML through JSON so the plan's json tags apply.
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		bridged, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := json.Unmarshal(bridged, &p); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, nil
	}

	if p.ID == "" {
		base := filepath.Base(path)
		p.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Plan != nil {
		if err := p.Plan.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.ID, err)
		}
	}
	return &p, nil
}
