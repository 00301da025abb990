package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one plugin's persisted lifecycle record. Records outlive their
// plugins: they are never deleted automatically, so an unloaded or removed
// plugin keeps its history.
type Entry struct {
	Loaded  bool `json:"loaded"`
	Enabled bool `json:"enabled"`

	DiscoveredAt time.Time `json:"discovered_at,omitempty"`
	LoadedAt     time.Time `json:"loaded_at,omitempty"`
	EnabledAt    time.Time `json:"enabled_at,omitempty"`
	DisabledAt   time.Time `json:"disabled_at,omitempty"`
	UnloadedAt   time.Time `json:"unloaded_at,omitempty"`

	Path        string    `json:"path,omitempty"`
	Version     string    `json:"version,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Registry persists plugin lifecycle records to a JSON file, writing
// through on every mutation. On open, live flags are reset: a plugin
// enabled in a previous run stays recorded as previously enabled but must
// be explicitly loaded and enabled again.
type Registry struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// OpenRegistry loads the registry file, creating it if absent.
func OpenRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:    path,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run.
	case err != nil:
		return nil, fmt.Errorf("reading plugin registry: %w", err)
	default:
		if err := json.Unmarshal(data, &r.entries); err != nil {
			return nil, fmt.Errorf("parsing plugin registry %s: %w", path, err)
		}
	}

	reset := false
	for id, e := range r.entries {
		if e.Loaded || e.Enabled {
			e.Loaded = false
			e.Enabled = false
			r.entries[id] = e
			reset = true
		}
	}
	if reset {
		if err := r.flush(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// Get returns a plugin's record.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	return e, ok
}

// All returns a copy of every record.
func (r *Registry) All() map[string]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}

// MarkDiscovered records a plugin's first sighting and its current
// location. Re-discovering an unchanged plugin does not rewrite the
// file; the first DiscoveredAt timestamp is kept.
func (r *Registry) MarkDiscovered(id, version, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if ok && e.Path == path && e.Version == version && !e.DiscoveredAt.IsZero() {
		return nil
	}
	if e.DiscoveredAt.IsZero() {
		e.DiscoveredAt = time.Now()
	}
	e.Path = path
	e.Version = version
	e.LastUpdated = time.Now()
	r.entries[id] = e
	return r.flush()
}

// MarkLoaded records a successful load.
func (r *Registry) MarkLoaded(id, version string) error {
	return r.update(id, func(e *Entry) {
		e.Loaded = true
		e.LoadedAt = time.Now()
		e.Version = version
	})
}

// MarkEnabled records a successful enable.
func (r *Registry) MarkEnabled(id string) error {
	return r.update(id, func(e *Entry) {
		e.Enabled = true
		e.EnabledAt = time.Now()
	})
}

// MarkDisabled records a disable.
func (r *Registry) MarkDisabled(id string) error {
	return r.update(id, func(e *Entry) {
		e.Enabled = false
		e.DisabledAt = time.Now()
	})
}

// MarkUnloaded records an unload. The entry itself is kept.
func (r *Registry) MarkUnloaded(id string) error {
	return r.update(id, func(e *Entry) {
		e.Loaded = false
		e.Enabled = false
		e.UnloadedAt = time.Now()
	})
}

func (r *Registry) update(id string, fn func(*Entry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[id]
	fn(&e)
	e.LastUpdated = time.Now()
	r.entries[id] = e
	return r.flush()
}

// flush writes the registry atomically. Callers hold r.mu.
func (r *Registry) flush() error {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plugin registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing plugin registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing plugin registry: %w", err)
	}
	return nil
}
