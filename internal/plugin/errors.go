package plugin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPluginNotFound indicates no plugin with the given ID exists in the
	// plugin root or the manager's instance table.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNotLoaded indicates an operation required a loaded plugin.
	ErrNotLoaded = errors.New("plugin not loaded")

	// ErrManagerClosed indicates the manager has shut down.
	ErrManagerClosed = errors.New("plugin manager closed")
)

// ValidationError reports every manifest violation found, not just the
// first.
type ValidationError struct {
	// Path is the manifest file's location, when known.
	Path string

	// Violations are human-readable descriptions of each problem.
	Violations []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	where := e.Path
	if where == "" {
		where = "manifest"
	}
	return fmt.Sprintf("%s: %s", where, strings.Join(e.Violations, "; "))
}

// ContractError reports the lifecycle hooks a plugin script failed to
// define. All missing hooks are listed.
type ContractError struct {
	PluginID string
	Missing  []string
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	return fmt.Sprintf("plugin %q missing required hooks: %s",
		e.PluginID, strings.Join(e.Missing, ", "))
}

// ExecError wraps a failure inside a plugin's sandbox: script evaluation,
// a lifecycle hook, or a tool call.
type ExecError struct {
	PluginID string
	Phase    string
	Err      error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("plugin %q %s: %v", e.PluginID, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error { return e.Err }

// LifecycleError wraps a failed lifecycle transition with the operation
// that failed.
type LifecycleError struct {
	PluginID string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s plugin %q: %v", e.Op, e.PluginID, e.Err)
}

// Unwrap returns the underlying error.
func (e *LifecycleError) Unwrap() error { return e.Err }
