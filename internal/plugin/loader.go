package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/toolhost/internal/logging"
)

// Info is one discovered plugin: where it lives and what its manifest
// says. A plugin with a broken manifest is still reported, with Err set,
// so management tooling can show it.
type Info struct {
	ID       string
	Path     string
	Manifest *Manifest
	Err      error
}

// Loader discovers plugins under a root directory. Discovery never
// fails: a missing or unreadable root yields an empty result.
type Loader struct {
	root string
	log  *logging.Logger
}

// NewLoader creates a loader for the given plugin root.
func NewLoader(root string, log *logging.Logger) *Loader {
	if log == nil {
		log = logging.Null
	}
	return &Loader{root: root, log: log.WithComponent("loader")}
}

// Root returns the plugin root directory.
func (l *Loader) Root() string {
	return l.root
}

// Discover scans the plugin root. Each subdirectory with a manifest or
// entry script is a plugin; each top-level .lua file with an @plugin
// header is a single-file plugin.
func (l *Loader) Discover() []*Info {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		l.log.Warn("plugin root unreadable", "root", l.root, "error", err)
		return nil
	}

	var found []*Info
	for _, entry := range entries {
		path := filepath.Join(l.root, entry.Name())

		var info *Info
		if entry.IsDir() {
			info = l.inspectDir(path)
		} else if strings.HasSuffix(entry.Name(), ".lua") {
			info = l.inspectFile(path)
		}
		if info == nil {
			continue
		}

		if info.Err != nil {
			l.log.Warn("plugin rejected", "path", path, "error", info.Err)
		} else {
			l.log.Debug("plugin discovered", "id", info.ID, "path", path)
		}
		found = append(found, info)
	}
	return found
}

// Find locates one plugin by ID, rescanning the root.
func (l *Loader) Find(id string) (*Info, error) {
	for _, info := range l.Discover() {
		if info.ID == id {
			return info, nil
		}
	}
	return nil, ErrPluginNotFound
}

// inspectDir reads a plugin directory's manifest: plugin.json or
// package.json, falling back to the header of init.lua or plugin.lua.
// Directories with neither are not plugins.
func (l *Loader) inspectDir(dir string) *Info {
	m, err := LoadManifestFromDir(dir)
	if err == nil {
		return &Info{ID: m.ID, Path: dir, Manifest: m}
	}
	if !errors.Is(err, ErrPluginNotFound) {
		return &Info{ID: filepath.Base(dir), Path: dir, Err: err}
	}

	for _, name := range []string{DefaultMain, "plugin.lua"} {
		script := filepath.Join(dir, name)
		if _, statErr := os.Stat(script); statErr != nil {
			continue
		}
		m, err := ParseHeader(script)
		if err == nil {
			return &Info{ID: m.ID, Path: dir, Manifest: m}
		}
		if !errors.Is(err, ErrPluginNotFound) {
			return &Info{ID: filepath.Base(dir), Path: dir, Err: err}
		}
	}
	return nil
}

// inspectFile reads a single-file plugin's header. Files without an
// @plugin header are not plugins.
func (l *Loader) inspectFile(path string) *Info {
	m, err := ParseHeader(path)
	if err != nil {
		if errors.Is(err, ErrPluginNotFound) {
			return nil
		}
		id := strings.TrimSuffix(filepath.Base(path), ".lua")
		return &Info{ID: id, Path: path, Err: err}
	}
	return &Info{ID: m.ID, Path: path, Manifest: m}
}
