// Package security provides the permission vocabulary, grant policy, and
// resource limits for the plugin system.
package security

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Permission is a capability token a plugin can request in its manifest.
// The vocabulary is closed; the manifest validator, grant policy, and
// sandbox all consult this single definition.
type Permission string

// Host service permissions.
const (
	// PermCacheRead allows reading from the host cache.
	PermCacheRead Permission = "cache:read"

	// PermCacheWrite allows writing to the host cache.
	PermCacheWrite Permission = "cache:write"

	// PermDatabaseRead allows reading the key-value store.
	PermDatabaseRead Permission = "database:read"

	// PermDatabaseWrite allows writing the key-value store.
	PermDatabaseWrite Permission = "database:write"

	// PermQueuePublish allows publishing messages to host queues.
	PermQueuePublish Permission = "queue:publish"

	// PermQueueConsume allows consuming messages from host queues.
	PermQueueConsume Permission = "queue:consume"

	// PermNetworkHTTP allows outbound HTTP requests.
	PermNetworkHTTP Permission = "network:http"

	// PermFilesystemRead allows reading files in the plugin storage directory.
	PermFilesystemRead Permission = "filesystem:read"

	// PermFilesystemWrite allows writing files in the plugin storage directory.
	PermFilesystemWrite Permission = "filesystem:write"

	// PermAPIRoutes allows registering HTTP API routes with the host.
	PermAPIRoutes Permission = "api:routes"

	// PermEventsSubscribe allows subscribing to host events.
	PermEventsSubscribe Permission = "events:subscribe"

	// PermEventsEmit allows emitting events onto the host bus.
	PermEventsEmit Permission = "events:emit"

	// PermToolsRegister allows registering tools with the host tool table.
	PermToolsRegister Permission = "tools:register"

	// PermToolsExecute allows invoking other plugins' tools.
	PermToolsExecute Permission = "tools:execute"
)

// RiskLevel indicates how dangerous a permission is.
type RiskLevel int

const (
	// RiskLow indicates minimal security risk.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate security risk.
	RiskMedium

	// RiskHigh indicates significant security risk. High-risk permissions
	// require an explicit grant in the host configuration.
	RiskHigh
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// PermissionInfo provides metadata about a permission.
type PermissionInfo struct {
	// Name is the permission token.
	Name Permission

	// Description explains what the permission allows.
	Description string

	// Risk indicates how dangerous this permission is.
	Risk RiskLevel
}

// permissionRegistry holds metadata about all known permissions.
var permissionRegistry = map[Permission]PermissionInfo{
	PermCacheRead:       {PermCacheRead, "Read host cache entries", RiskLow},
	PermCacheWrite:      {PermCacheWrite, "Write host cache entries", RiskLow},
	PermDatabaseRead:    {PermDatabaseRead, "Read the key-value store", RiskLow},
	PermDatabaseWrite:   {PermDatabaseWrite, "Write the key-value store", RiskHigh},
	PermQueuePublish:    {PermQueuePublish, "Publish messages to host queues", RiskHigh},
	PermQueueConsume:    {PermQueueConsume, "Consume messages from host queues", RiskMedium},
	PermNetworkHTTP:     {PermNetworkHTTP, "Make outbound HTTP requests", RiskHigh},
	PermFilesystemRead:  {PermFilesystemRead, "Read plugin-local files", RiskMedium},
	PermFilesystemWrite: {PermFilesystemWrite, "Write plugin-local files", RiskHigh},
	PermAPIRoutes:       {PermAPIRoutes, "Register HTTP API routes", RiskMedium},
	PermEventsSubscribe: {PermEventsSubscribe, "Subscribe to host events", RiskLow},
	PermEventsEmit:      {PermEventsEmit, "Emit events on the host bus", RiskLow},
	PermToolsRegister:   {PermToolsRegister, "Register tools with the host", RiskLow},
	PermToolsExecute:    {PermToolsExecute, "Invoke other plugins' tools", RiskMedium},
}

// IsValid returns true if the permission is in the vocabulary.
func IsValid(p Permission) bool {
	_, ok := permissionRegistry[p]
	return ok
}

// Info returns metadata about a permission.
func Info(p Permission) (PermissionInfo, bool) {
	info, ok := permissionRegistry[p]
	return info, ok
}

// All returns every permission in the vocabulary, sorted by name.
func All() []Permission {
	perms := make([]Permission, 0, len(permissionRegistry))
	for p := range permissionRegistry {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// Restricted returns the high-risk permissions that require explicit grants.
func Restricted() []Permission {
	var perms []Permission
	for p, info := range permissionRegistry {
		if info.Risk == RiskHigh {
			perms = append(perms, p)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// Service returns the service segment of a permission ("cache:read" -> "cache").
func (p Permission) Service() string {
	if i := strings.IndexByte(string(p), ':'); i >= 0 {
		return string(p)[:i]
	}
	return string(p)
}

// Checker tracks the permissions granted to a single plugin.
type Checker struct {
	mu       sync.RWMutex
	pluginID string
	granted  map[Permission]bool
}

// NewChecker creates a checker for a plugin with no grants.
func NewChecker(pluginID string) *Checker {
	return &Checker{
		pluginID: pluginID,
		granted:  make(map[Permission]bool),
	}
}

// Grant grants a permission.
func (c *Checker) Grant(p Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.granted[p] = true
}

// GrantAll grants multiple permissions.
func (c *Checker) GrantAll(perms []Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range perms {
		c.granted[p] = true
	}
}

// Revoke removes a grant.
func (c *Checker) Revoke(p Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.granted, p)
}

// Has returns true if the permission is granted.
func (c *Checker) Has(p Permission) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.granted[p]
}

// Granted returns all granted permissions, sorted.
func (c *Checker) Granted() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()

	perms := make([]Permission, 0, len(c.granted))
	for p := range c.granted {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// Check returns an error if the permission is not granted.
func (c *Checker) Check(p Permission) error {
	if !c.Has(p) {
		return &PermissionError{PluginID: c.pluginID, Missing: []Permission{p}}
	}
	return nil
}

// PermissionError reports permissions a plugin requested but was not granted.
type PermissionError struct {
	PluginID string
	Missing  []Permission
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	names := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		names[i] = string(p)
	}
	return fmt.Sprintf("plugin %q denied permissions: %s", e.PluginID, strings.Join(names, ", "))
}
