package plugin

import (
	"path/filepath"
	"testing"
)

func TestRegistry_WriteThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	r, err := OpenRegistry(path)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	if err := r.MarkLoaded("echo", "1.0.0"); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}
	if err := r.MarkEnabled("echo"); err != nil {
		t.Fatalf("MarkEnabled: %v", err)
	}

	// A fresh handle over the same file sees the mutations.
	r2, err := OpenRegistry(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	e, ok := r2.Get("echo")
	if !ok {
		t.Fatal("entry missing after reopen")
	}
	if e.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", e.Version)
	}
	if e.LoadedAt.IsZero() || e.EnabledAt.IsZero() {
		t.Error("timestamps not recorded")
	}
}

func TestRegistry_StartupResetsLiveFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	r, err := OpenRegistry(path)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	if err := r.MarkLoaded("echo", "1.0.0"); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}
	if err := r.MarkEnabled("echo"); err != nil {
		t.Fatalf("MarkEnabled: %v", err)
	}

	// Simulated restart: flags reset, history kept.
	r2, err := OpenRegistry(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	e, ok := r2.Get("echo")
	if !ok {
		t.Fatal("entry missing after reopen")
	}
	if e.Loaded || e.Enabled {
		t.Errorf("live flags not reset: loaded=%v enabled=%v", e.Loaded, e.Enabled)
	}
	if e.Version != "1.0.0" {
		t.Errorf("history lost: version = %q", e.Version)
	}
}

func TestRegistry_UnloadKeepsEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	r, err := OpenRegistry(path)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	if err := r.MarkLoaded("echo", "1.0.0"); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}
	if err := r.MarkUnloaded("echo"); err != nil {
		t.Fatalf("MarkUnloaded: %v", err)
	}

	e, ok := r.Get("echo")
	if !ok {
		t.Fatal("entry deleted on unload")
	}
	if e.Loaded {
		t.Error("still marked loaded")
	}
	if e.UnloadedAt.IsZero() {
		t.Error("UnloadedAt not recorded")
	}
}

func TestRegistry_MarkDiscovered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	r, err := OpenRegistry(path)
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	if err := r.MarkDiscovered("echo", "1.0.0", "/plugins/echo"); err != nil {
		t.Fatalf("MarkDiscovered: %v", err)
	}

	e, ok := r.Get("echo")
	if !ok {
		t.Fatal("entry missing after discovery")
	}
	if e.Loaded || e.Enabled {
		t.Errorf("discovery marked plugin live: loaded=%v enabled=%v", e.Loaded, e.Enabled)
	}
	if e.Path != "/plugins/echo" {
		t.Errorf("Path = %q, want /plugins/echo", e.Path)
	}
	if e.DiscoveredAt.IsZero() {
		t.Error("DiscoveredAt not recorded")
	}

	// Re-discovery of an unchanged plugin keeps the first sighting.
	first := e.DiscoveredAt
	if err := r.MarkDiscovered("echo", "1.0.0", "/plugins/echo"); err != nil {
		t.Fatalf("second MarkDiscovered: %v", err)
	}
	e, _ = r.Get("echo")
	if !e.DiscoveredAt.Equal(first) {
		t.Errorf("DiscoveredAt changed on re-discovery: %v -> %v", first, e.DiscoveredAt)
	}

	// The location survives a restart.
	r2, err := OpenRegistry(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	e2, ok := r2.Get("echo")
	if !ok {
		t.Fatal("entry missing after reopen")
	}
	if e2.Path != "/plugins/echo" {
		t.Errorf("Path after reopen = %q, want /plugins/echo", e2.Path)
	}
}

func TestRegistry_MissingFile(t *testing.T) {
	r, err := OpenRegistry(filepath.Join(t.TempDir(), "nested", "registry.json"))
	if err != nil {
		t.Fatalf("OpenRegistry on missing file: %v", err)
	}
	if len(r.All()) != 0 {
		t.Errorf("expected empty registry, got %v", r.All())
	}
}
