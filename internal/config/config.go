// Package config loads host configuration from a TOML file.
//
// The host reads a single toolhost.toml at startup. Missing files are
// not an error: the host falls back to defaults so a bare directory of
// plugins can run without any configuration at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/plugin/security"
)

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "toolhost.toml"

// Config is the host configuration.
type Config struct {
	// PluginDir is the directory scanned for plugins.
	PluginDir string `toml:"plugin_dir"`
	// DataDir holds the registry file and per-plugin storage.
	DataDir string `toml:"data_dir"`
	// RegistryPath overrides the default registry location
	// (<data_dir>/registry.json) when set.
	RegistryPath string `toml:"registry_path"`
	// Watch enables hot-reload of changed plugin files.
	Watch bool `toml:"watch"`

	Log    LogConfig    `toml:"log"`
	Limits LimitsConfig `toml:"limits"`
	Grants GrantsConfig `toml:"grants"`
}

// LogConfig controls host logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Prefix string `toml:"prefix"`
}

// LimitsConfig selects a resource limit preset and optional overrides.
// Zero-valued overrides keep the preset's value.
type LimitsConfig struct {
	// Preset is one of "default", "strict", "relaxed".
	Preset string `toml:"preset"`
	// TimeoutSeconds caps a single hook or tool execution.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// MemoryLimitMB caps a plugin's Lua heap.
	MemoryLimitMB int `toml:"memory_limit_mb"`
	// InstructionLimit caps Lua instructions per execution.
	InstructionLimit int `toml:"instruction_limit"`
}

// GrantsConfig allowlists high-risk permissions. Low and medium risk
// permissions are granted automatically when a manifest declares them;
// high-risk ones must appear here.
type GrantsConfig struct {
	// Global permissions are granted to every plugin that requests them.
	Global []string `toml:"global"`
	// Plugins maps a plugin ID to its extra allowed permissions.
	Plugins map[string][]string `toml:"plugins"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		PluginDir: "plugins",
		DataDir:   "data",
		Watch:     false,
		Log: LogConfig{
			Level:  "info",
			Prefix: "toolhost",
		},
		Limits: LimitsConfig{
			Preset: "default",
		},
	}
}

// Load reads configuration from path. A missing file yields defaults;
// a present but malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &ParseError{Path: path, Message: err.Error(), Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot be used.
func (c *Config) Validate() error {
	switch c.Limits.Preset {
	case "", "default", "strict", "relaxed":
	default:
		return fmt.Errorf("unknown limits preset %q (want default, strict, or relaxed)", c.Limits.Preset)
	}

	for _, tok := range c.Grants.Global {
		if !security.IsValid(security.Permission(tok)) {
			return fmt.Errorf("unknown permission %q in grants.global", tok)
		}
	}
	for id, toks := range c.Grants.Plugins {
		for _, tok := range toks {
			if !security.IsValid(security.Permission(tok)) {
				return fmt.Errorf("unknown permission %q in grants.plugins.%s", tok, id)
			}
		}
	}
	return nil
}

// Registry returns the registry file path, applying the default when
// no override is configured.
func (c *Config) Registry() string {
	if c.RegistryPath != "" {
		return c.RegistryPath
	}
	return filepath.Join(c.DataDir, "registry.json")
}

// StorageDir returns the directory for plugin-local storage.
func (c *Config) StorageDir() string {
	return filepath.Join(c.DataDir, "storage")
}

// LoggerConfig converts the log section into a logging.Config.
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Log.Level)
	if c.Log.Prefix != "" {
		lc.Prefix = c.Log.Prefix
	}
	return lc
}

// ResourceLimits resolves the limits section into concrete limits.
func (c *Config) ResourceLimits() security.ResourceLimits {
	var limits security.ResourceLimits
	switch c.Limits.Preset {
	case "strict":
		limits = security.StrictResourceLimits()
	case "relaxed":
		limits = security.RelaxedResourceLimits()
	default:
		limits = security.DefaultResourceLimits()
	}

	if c.Limits.TimeoutSeconds > 0 {
		limits.ExecutionTimeout = time.Duration(c.Limits.TimeoutSeconds) * time.Second
	}
	if c.Limits.MemoryLimitMB > 0 {
		limits.MemoryLimit = int64(c.Limits.MemoryLimitMB) * 1024 * 1024
	}
	if c.Limits.InstructionLimit > 0 {
		limits.InstructionLimit = int64(c.Limits.InstructionLimit)
	}
	return limits
}

// GrantPolicy builds the permission grant policy from the grants section.
func (c *Config) GrantPolicy() security.GrantPolicy {
	global := make([]security.Permission, 0, len(c.Grants.Global))
	for _, tok := range c.Grants.Global {
		global = append(global, security.Permission(tok))
	}

	var perPlugin map[string][]security.Permission
	if len(c.Grants.Plugins) > 0 {
		perPlugin = make(map[string][]security.Permission, len(c.Grants.Plugins))
		for id, toks := range c.Grants.Plugins {
			perms := make([]security.Permission, 0, len(toks))
			for _, tok := range toks {
				perms = append(perms, security.Permission(tok))
			}
			perPlugin[id] = perms
		}
	}

	return security.NewAllowlistPolicy(global, perPlugin)
}

// ParseError represents an error while parsing the configuration file.
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
