package plugin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/toolhost/internal/plugin/security"
)

const (
	// ManifestFileName is the canonical manifest file inside a plugin
	// directory.
	ManifestFileName = "plugin.json"

	// PackageFileName may carry the manifest under a "plugin" object for
	// plugins packaged alongside other tooling.
	PackageFileName = "package.json"

	// DefaultMain is the entry script used when the manifest does not
	// name one.
	DefaultMain = "init.lua"
)

var (
	idPattern      = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Manifest describes an installable plugin: identity, entry point,
// requested permissions, resource asks, and configuration schema.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author"`
	License     string `json:"license,omitempty"`
	Homepage    string `json:"homepage,omitempty"`

	// Main is the entry script, relative to the plugin directory.
	Main string `json:"main,omitempty"`

	// Permissions the plugin requests. Grants are decided by host
	// policy, not by the manifest.
	Permissions []security.Permission `json:"permissions,omitempty"`

	// Resources overrides the host's base resource limits.
	Resources ResourceSpec `json:"resources,omitempty"`

	// Dependencies maps plugin IDs to version ranges that must be
	// loaded first.
	Dependencies map[string]string `json:"dependencies,omitempty"`

	// Configuration declares the plugin's settings and their defaults.
	Configuration map[string]ConfigProperty `json:"configuration,omitempty"`

	// path is where the manifest was read from. Empty for manifests
	// built in memory.
	path string
}

// ConfigProperty declares one plugin setting.
type ConfigProperty struct {
	Type        string `json:"type"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResourceSpec is a manifest's resource ask, applied on top of the host's
// base limits. Zero values keep the base.
type ResourceSpec struct {
	MemoryMB         int `json:"memory_mb,omitempty"`
	TimeoutSeconds   int `json:"timeout_seconds,omitempty"`
	InstructionLimit int `json:"instruction_limit,omitempty"`
	FileOpsPerSecond int `json:"file_ops_per_second,omitempty"`
	HTTPReqPerSecond int `json:"http_req_per_second,omitempty"`
	DiskMB           int `json:"disk_mb,omitempty"`
}

// Apply overlays the non-zero fields onto base.
func (r ResourceSpec) Apply(base security.ResourceLimits) security.ResourceLimits {
	if r.MemoryMB > 0 {
		base.MemoryLimit = int64(r.MemoryMB) * 1024 * 1024
	}
	if r.TimeoutSeconds > 0 {
		base.ExecutionTimeout = time.Duration(r.TimeoutSeconds) * time.Second
	}
	if r.InstructionLimit > 0 {
		base.InstructionLimit = int64(r.InstructionLimit)
	}
	if r.FileOpsPerSecond > 0 {
		base.FileOpsPerSecond = r.FileOpsPerSecond
	}
	if r.HTTPReqPerSecond > 0 {
		base.HTTPReqPerSecond = r.HTTPReqPerSecond
	}
	if r.DiskMB > 0 {
		base.DiskLimit = int64(r.DiskMB) * 1024 * 1024
	}
	return base
}

// LoadManifest reads and validates a manifest from a JSON file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{
			Path:       path,
			Violations: []string{fmt.Sprintf("invalid JSON: %v", err)},
		}
	}

	m.path = path
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFromDir finds and loads the manifest for a plugin directory:
// plugin.json first, then the "plugin" object inside package.json.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	direct := filepath.Join(dir, ManifestFileName)
	if _, err := os.Stat(direct); err == nil {
		return LoadManifest(direct)
	}

	pkg := filepath.Join(dir, PackageFileName)
	data, err := os.ReadFile(pkg)
	if err != nil {
		return nil, fmt.Errorf("no manifest in %s: %w", dir, ErrPluginNotFound)
	}

	nested := gjson.GetBytes(data, "plugin")
	if !nested.Exists() {
		return nil, &ValidationError{
			Path:       pkg,
			Violations: []string{`no "plugin" object`},
		}
	}

	var m Manifest
	if err := json.Unmarshal([]byte(nested.Raw), &m); err != nil {
		return nil, &ValidationError{
			Path:       pkg,
			Violations: []string{fmt.Sprintf("invalid plugin object: %v", err)},
		}
	}

	m.path = pkg
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseHeader builds a manifest from the comment header of a single-file
// Lua plugin. The header is a block of leading comment lines:
//
//	-- @plugin Word Counter
//	-- @id word-counter
//	-- @version 1.0.0
//	-- @author someone
//	-- @permissions cache:read, cache:write
//
// The @plugin line is the marker; a file without one is not a plugin.
func ParseHeader(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading plugin file: %w", err)
	}
	defer f.Close()

	m := Manifest{
		path: path,
		Main: filepath.Base(path),
	}
	seen := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "--"))
		if !strings.HasPrefix(line, "@") {
			continue
		}

		key, value, _ := strings.Cut(line[1:], " ")
		value = strings.TrimSpace(value)
		switch key {
		case "plugin":
			seen = true
			m.Name = value
		case "id":
			m.ID = value
		case "version":
			m.Version = value
		case "author":
			m.Author = value
		case "description":
			m.Description = value
		case "license":
			m.License = value
		case "permissions":
			for _, p := range strings.Split(value, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					m.Permissions = append(m.Permissions, security.Permission(p))
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading plugin file: %w", err)
	}
	if !seen {
		return nil, fmt.Errorf("%s: no @plugin header: %w", path, ErrPluginNotFound)
	}
	if m.ID == "" {
		base := strings.TrimSuffix(filepath.Base(path), ".lua")
		m.ID = strings.ToLower(base)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// applyDefaults fills optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = DefaultMain
	}
}

// Validate checks the manifest and reports every violation at once.
func (m *Manifest) Validate() error {
	var violations []string

	if m.ID == "" {
		violations = append(violations, "id is required")
	} else if !idPattern.MatchString(m.ID) {
		violations = append(violations, fmt.Sprintf("id %q must be lowercase alphanumeric with hyphens", m.ID))
	}
	if m.Name == "" {
		violations = append(violations, "name is required")
	}
	if m.Version == "" {
		violations = append(violations, "version is required")
	} else if !versionPattern.MatchString(m.Version) {
		violations = append(violations, fmt.Sprintf("version %q must be major.minor.patch", m.Version))
	}
	if m.Author == "" {
		violations = append(violations, "author is required")
	}

	if m.Main != "" {
		if filepath.IsAbs(m.Main) || strings.Contains(m.Main, "..") {
			violations = append(violations, fmt.Sprintf("main %q must be a relative path inside the plugin", m.Main))
		}
	}

	for _, p := range m.Permissions {
		if !security.IsValid(p) {
			violations = append(violations, fmt.Sprintf("unknown permission %q", p))
		}
	}

	for dep, rng := range m.Dependencies {
		if dep == "" {
			violations = append(violations, "dependency with empty id")
			continue
		}
		if rng == "" {
			violations = append(violations, fmt.Sprintf("dependency %q has an empty version range", dep))
		}
	}

	for name, prop := range m.Configuration {
		switch prop.Type {
		case "string", "number", "boolean", "array", "object":
		default:
			violations = append(violations, fmt.Sprintf("configuration %q has unknown type %q", name, prop.Type))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Path: m.path, Violations: violations}
	}
	return nil
}

// Dir returns the plugin's directory.
func (m *Manifest) Dir() string {
	if m.path == "" {
		return ""
	}
	return filepath.Dir(m.path)
}

// MainPath returns the absolute path of the entry script.
func (m *Manifest) MainPath() string {
	if m.Dir() == "" {
		return m.Main
	}
	return filepath.Join(m.Dir(), m.Main)
}

// ConfigDefaults extracts the declared default values, keyed by setting
// name.
func (m *Manifest) ConfigDefaults() map[string]any {
	if len(m.Configuration) == 0 {
		return nil
	}
	defaults := make(map[string]any)
	for name, prop := range m.Configuration {
		if prop.Default != nil {
			defaults[name] = prop.Default
		}
	}
	return defaults
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Permissions = append([]security.Permission(nil), m.Permissions...)
	if m.Dependencies != nil {
		c.Dependencies = make(map[string]string, len(m.Dependencies))
		for k, v := range m.Dependencies {
			c.Dependencies[k] = v
		}
	}
	if m.Configuration != nil {
		c.Configuration = make(map[string]ConfigProperty, len(m.Configuration))
		for k, v := range m.Configuration {
			c.Configuration[k] = v
		}
	}
	return &c
}

// satisfiesRange reports whether version (major.minor.patch) satisfies a
// dependency range. Supported forms: "*" (any), an exact version,
// "^X.Y.Z" (same major, at least X.Y.Z), ">=X.Y.Z".
func satisfiesRange(version, rng string) bool {
	v, ok := parseVersion(version)
	if !ok {
		return false
	}

	switch {
	case rng == "*" || rng == "":
		return true
	case strings.HasPrefix(rng, "^"):
		want, ok := parseVersion(rng[1:])
		if !ok {
			return false
		}
		return v[0] == want[0] && compareVersions(v, want) >= 0
	case strings.HasPrefix(rng, ">="):
		want, ok := parseVersion(strings.TrimSpace(rng[2:]))
		if !ok {
			return false
		}
		return compareVersions(v, want) >= 0
	default:
		want, ok := parseVersion(rng)
		if !ok {
			return false
		}
		return compareVersions(v, want) == 0
	}
}

func parseVersion(s string) ([3]int, bool) {
	var v [3]int
	if !versionPattern.MatchString(s) {
		return v, false
	}
	parts := strings.SplitN(s, ".", 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return v, false
		}
		v[i] = n
	}
	return v, true
}

func compareVersions(a, b [3]int) int {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
