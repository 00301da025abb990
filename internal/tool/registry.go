package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry errors.
var (
	// ErrToolNotFound is returned when a qualified name is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExists is returned when registering a duplicate qualified name.
	ErrToolExists = errors.New("tool already registered")

	// ErrInvalidName is returned for empty plugin or tool names.
	ErrInvalidName = errors.New("invalid tool name")
)

// QualifiedName joins a plugin ID and tool name into the host-wide unique
// name ("echo.echo").
func QualifiedName(pluginID, toolName string) string {
	return pluginID + "." + toolName
}

// SplitQualified splits a qualified name into plugin ID and tool name.
func SplitQualified(qualified string) (pluginID, toolName string, ok bool) {
	i := strings.IndexByte(qualified, '.')
	if i <= 0 || i == len(qualified)-1 {
		return "", "", false
	}
	return qualified[:i], qualified[i+1:], true
}

// Registry is the host's global tool table. Tools appear here if and only
// if their owning plugin is currently enabled; only the plugin manager
// writes to it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool // qualified name -> tool
	owner map[string][]string
}

// NewRegistry creates an empty tool table.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		owner: make(map[string][]string),
	}
}

// Register adds a tool under its plugin-qualified name.
func (r *Registry) Register(pluginID string, t Tool) (string, error) {
	name := t.Descriptor().Name
	if pluginID == "" || name == "" {
		return "", ErrInvalidName
	}
	qualified := QualifiedName(pluginID, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[qualified]; exists {
		return "", fmt.Errorf("%w: %s", ErrToolExists, qualified)
	}
	r.tools[qualified] = t
	r.owner[pluginID] = append(r.owner[pluginID], qualified)
	return qualified, nil
}

// Unregister removes a tool by qualified name.
func (r *Registry) Unregister(qualified string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[qualified]; !exists {
		return fmt.Errorf("%w: %s", ErrToolNotFound, qualified)
	}
	delete(r.tools, qualified)

	if pluginID, _, ok := SplitQualified(qualified); ok {
		names := r.owner[pluginID]
		for i, n := range names {
			if n == qualified {
				r.owner[pluginID] = append(names[:i], names[i+1:]...)
				break
			}
		}
		if len(r.owner[pluginID]) == 0 {
			delete(r.owner, pluginID)
		}
	}
	return nil
}

// UnregisterPlugin removes every tool owned by a plugin. Returns the
// qualified names removed.
func (r *Registry) UnregisterPlugin(pluginID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.owner[pluginID]
	for _, qualified := range names {
		delete(r.tools, qualified)
	}
	delete(r.owner, pluginID)
	return names
}

// Get returns a tool by qualified name.
func (r *Registry) Get(qualified string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[qualified]
	return t, ok
}

// Names returns all registered qualified names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamesFor returns the qualified names owned by one plugin, sorted.
func (r *Registry) NamesFor(pluginID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string{}, r.owner[pluginID]...)
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute validates parameters against the tool's schema and runs it.
func (r *Registry) Execute(ctx context.Context, qualified string, params map[string]any) (any, error) {
	t, ok := r.Get(qualified)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, qualified)
	}
	if err := ValidateParams(t.Descriptor(), params); err != nil {
		return nil, err
	}
	return t.Execute(ctx, params)
}
