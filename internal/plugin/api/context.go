package api

import (
	"context"

	"github.com/dshills/toolhost/internal/event"
	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/plugin/security"
	"github.com/dshills/toolhost/internal/service"
)

// Context wires the host services the API modules expose to plugins.
// Nil providers disable their module.
type Context struct {
	// Log is the host logger; modules derive per-plugin loggers from it.
	Log *logging.Logger

	// Checker holds the plugin's granted permissions, consulted by
	// modules whose functions split across read/write permissions.
	Checker *security.Checker

	// Cache backs host.cache.
	Cache *service.Cache

	// Store backs host.storage. Each plugin reads and writes only its
	// own namespace.
	Store *service.KV

	// Broker backs host.queue.
	Broker *service.Broker

	// HTTP backs host.http.
	HTTP *service.HTTPClient

	// Events backs host.event emission.
	Events EventPublisher

	// Config backs host.config, scoped to the plugin.
	Config ConfigProvider

	// Metrics backs host.metrics, scoped to the plugin.
	Metrics MetricsProvider

	// Tools backs host.tools.
	Tools ToolProvider
}

// EventPublisher publishes events onto the host bus.
type EventPublisher interface {
	Publish(ev event.Event) error
}

// ConfigProvider reads and writes a plugin's own configuration.
//
// Implementations must be safe for calls from the goroutine that owns
// the plugin's Lua state.
type ConfigProvider interface {
	// Get retrieves a value by dotted path within the plugin's config.
	Get(path string) (any, bool)

	// Set writes a value by dotted path and persists it.
	Set(path string, value any) error

	// All returns the plugin's full configuration.
	All() map[string]any
}

// MetricsProvider records plugin-reported measurements.
type MetricsProvider interface {
	// Add increments a named counter.
	Add(name string, delta float64)

	// Snapshot returns current counter values.
	Snapshot() map[string]float64
}

// ToolProvider lets one plugin call tools registered by others.
type ToolProvider interface {
	// Execute runs a qualified tool name with parameters.
	Execute(ctx context.Context, name string, params map[string]any) (any, error)

	// Names lists all currently registered qualified tool names.
	Names() []string
}
