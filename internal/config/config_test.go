package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/plugin/security"
)

func perms(tokens ...string) []security.Permission {
	out := make([]security.Permission, len(tokens))
	for i, tok := range tokens {
		out[i] = security.Permission(tok)
	}
	return out
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PluginDir != "plugins" {
		t.Errorf("PluginDir = %q, want plugins", cfg.PluginDir)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
plugin_dir = "ext"
data_dir = "/var/lib/toolhost"
watch = true

[log]
level = "debug"

[limits]
preset = "strict"
timeout_seconds = 2

[grants]
global = ["network:http"]

[grants.plugins]
backup = ["filesystem:write"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.PluginDir != "ext" {
		t.Errorf("PluginDir = %q, want ext", cfg.PluginDir)
	}
	if !cfg.Watch {
		t.Error("Watch = false, want true")
	}
	if got := cfg.LoggerConfig().Level; got != logging.LevelDebug {
		t.Errorf("LoggerConfig().Level = %v, want debug", got)
	}

	limits := cfg.ResourceLimits()
	if limits.ExecutionTimeout != 2*time.Second {
		t.Errorf("ExecutionTimeout = %v, want 2s", limits.ExecutionTimeout)
	}

	policy := cfg.GrantPolicy()
	if missing := policy.Missing("anyone", perms("network:http")); len(missing) != 0 {
		t.Errorf("global grant not honored, missing = %v", missing)
	}
	if missing := policy.Missing("backup", perms("filesystem:write")); len(missing) != 0 {
		t.Errorf("per-plugin grant not honored, missing = %v", missing)
	}
	if missing := policy.Missing("other", perms("filesystem:write")); len(missing) != 1 {
		t.Errorf("per-plugin grant leaked to other plugin, missing = %v", missing)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `watch = true`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Watch {
		t.Error("Watch = false, want true")
	}
	if cfg.PluginDir != "plugins" {
		t.Errorf("PluginDir = %q, want default plugins", cfg.PluginDir)
	}
	if cfg.Registry() != filepath.Join("data", "registry.json") {
		t.Errorf("Registry() = %q", cfg.Registry())
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, `plugin_dir = [broken`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() accepted malformed TOML")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Errorf("Load() error = %T, want *ParseError", err)
	}
}

func TestValidate_BadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown preset", "[limits]\npreset = \"turbo\""},
		{"unknown global permission", "[grants]\nglobal = [\"root:everything\"]"},
		{"unknown plugin permission", "[grants.plugins]\nx = [\"database:drop\"]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}
