package security

import (
	"errors"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		perm  Permission
		valid bool
	}{
		{PermCacheRead, true},
		{PermCacheWrite, true},
		{PermDatabaseRead, true},
		{PermDatabaseWrite, true},
		{PermQueuePublish, true},
		{PermQueueConsume, true},
		{PermNetworkHTTP, true},
		{PermFilesystemRead, true},
		{PermFilesystemWrite, true},
		{PermAPIRoutes, true},
		{PermEventsSubscribe, true},
		{PermEventsEmit, true},
		{PermToolsRegister, true},
		{PermToolsExecute, true},
		{"shell:exec", false},
		{"", false},
		{"cache", false},
	}

	for _, tt := range tests {
		if got := IsValid(tt.perm); got != tt.valid {
			t.Errorf("IsValid(%q) = %v, want %v", tt.perm, got, tt.valid)
		}
	}
}

func TestPermission_Service(t *testing.T) {
	if got := PermCacheRead.Service(); got != "cache" {
		t.Errorf("Service() = %q, want %q", got, "cache")
	}
	if got := PermNetworkHTTP.Service(); got != "network" {
		t.Errorf("Service() = %q, want %q", got, "network")
	}
}

func TestChecker(t *testing.T) {
	c := NewChecker("echo")

	if c.Has(PermCacheRead) {
		t.Error("new checker should have no grants")
	}

	c.Grant(PermCacheRead)
	if !c.Has(PermCacheRead) {
		t.Error("Has() = false after Grant")
	}

	if err := c.Check(PermCacheWrite); err == nil {
		t.Error("Check() on ungranted permission should fail")
	}

	c.Revoke(PermCacheRead)
	if c.Has(PermCacheRead) {
		t.Error("Has() = true after Revoke")
	}
}

func TestChecker_CheckError(t *testing.T) {
	c := NewChecker("echo")
	err := c.Check(PermNetworkHTTP)

	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("Check() error type = %T, want *PermissionError", err)
	}
	if permErr.PluginID != "echo" {
		t.Errorf("PluginID = %q, want %q", permErr.PluginID, "echo")
	}
	if len(permErr.Missing) != 1 || permErr.Missing[0] != PermNetworkHTTP {
		t.Errorf("Missing = %v, want [network:http]", permErr.Missing)
	}
}

func TestAllowlistPolicy_Default(t *testing.T) {
	policy := DefaultPolicy()

	// Standard permissions pass without configuration.
	missing := policy.Missing("echo", []Permission{
		PermCacheRead, PermEventsSubscribe, PermToolsRegister,
	})
	if len(missing) != 0 {
		t.Errorf("Missing() = %v, want none for standard permissions", missing)
	}

	// High-risk permissions are denied by default.
	missing = policy.Missing("echo", []Permission{
		PermToolsRegister, PermNetworkHTTP, PermFilesystemWrite,
	})
	if len(missing) != 2 {
		t.Fatalf("Missing() = %v, want 2 denied permissions", missing)
	}
	if missing[0] != PermFilesystemWrite || missing[1] != PermNetworkHTTP {
		t.Errorf("Missing() = %v, want sorted [filesystem:write network:http]", missing)
	}
}

func TestAllowlistPolicy_Grants(t *testing.T) {
	policy := NewAllowlistPolicy(
		[]Permission{PermNetworkHTTP},
		map[string][]Permission{
			"backup": {PermFilesystemWrite},
		},
	)

	// Global grant applies to anyone.
	if missing := policy.Missing("echo", []Permission{PermNetworkHTTP}); len(missing) != 0 {
		t.Errorf("globally allowed permission denied: %v", missing)
	}

	// Per-plugin grant applies only to the named plugin.
	if missing := policy.Missing("backup", []Permission{PermFilesystemWrite}); len(missing) != 0 {
		t.Errorf("per-plugin allowed permission denied: %v", missing)
	}
	if missing := policy.Missing("echo", []Permission{PermFilesystemWrite}); len(missing) != 1 {
		t.Errorf("per-plugin grant leaked to other plugin: %v", missing)
	}
}

func TestAllowlistPolicy_UnknownToken(t *testing.T) {
	policy := DefaultPolicy()
	missing := policy.Missing("echo", []Permission{"made:up"})
	if len(missing) != 1 {
		t.Errorf("unknown token should never be granted, got %v", missing)
	}
}

func TestRestricted(t *testing.T) {
	for _, p := range Restricted() {
		info, ok := Info(p)
		if !ok {
			t.Fatalf("restricted permission %q not registered", p)
		}
		if info.Risk != RiskHigh {
			t.Errorf("restricted permission %q has risk %v", p, info.Risk)
		}
	}
}
