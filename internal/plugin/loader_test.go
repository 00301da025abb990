package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/toolhost/internal/logging"
)

func TestLoader_Discover(t *testing.T) {
	root := t.TempDir()

	// Directory plugin with plugin.json.
	writeFile(t, filepath.Join(root, "echo", "plugin.json"),
		`{"id":"echo","name":"Echo","version":"1.0.0","author":"t"}`)
	writeFile(t, filepath.Join(root, "echo", "init.lua"), "")

	// Directory plugin with header-only entry script.
	writeFile(t, filepath.Join(root, "counter", "init.lua"), `-- @plugin Counter
-- @id counter
-- @version 0.1.0
-- @author t
`)

	// Single-file plugin.
	writeFile(t, filepath.Join(root, "greeter.lua"), `-- @plugin Greeter
-- @version 1.0.0
-- @author t
`)

	// Noise: not plugins.
	writeFile(t, filepath.Join(root, "notes.txt"), "hello")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(root, logging.Null)
	found := l.Discover()

	byID := make(map[string]*Info)
	for _, info := range found {
		byID[info.ID] = info
	}
	for _, want := range []string{"echo", "counter", "greeter"} {
		info, ok := byID[want]
		if !ok {
			t.Errorf("plugin %q not discovered", want)
			continue
		}
		if info.Err != nil {
			t.Errorf("plugin %q rejected: %v", want, info.Err)
		}
	}
	if len(found) != 3 {
		t.Errorf("discovered %d plugins, want 3", len(found))
	}
}

func TestLoader_BrokenManifestReported(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad", "plugin.json"),
		`{"id":"bad","name":"Bad","version":"not-semver","author":"t"}`)

	l := NewLoader(root, logging.Null)
	found := l.Discover()
	if len(found) != 1 {
		t.Fatalf("discovered %d plugins, want 1", len(found))
	}
	if found[0].Err == nil {
		t.Error("broken manifest not reported")
	}
}

func TestLoader_MissingRoot(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "nope"), logging.Null)
	if found := l.Discover(); len(found) != 0 {
		t.Errorf("discovered %d plugins from missing root", len(found))
	}
}

func TestLoader_Find(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "echo", "plugin.json"),
		`{"id":"echo","name":"Echo","version":"1.0.0","author":"t"}`)

	l := NewLoader(root, logging.Null)
	info, err := l.Find("echo")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if info.Manifest.Name != "Echo" {
		t.Errorf("Name = %q", info.Manifest.Name)
	}

	if _, err := l.Find("missing"); err != ErrPluginNotFound {
		t.Errorf("Find(missing) = %v, want ErrPluginNotFound", err)
	}
}
