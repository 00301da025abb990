package plugin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/event"
	"github.com/dshills/toolhost/internal/service"
)

const subscriberScript = `function on_load() end
function on_enable() end
function on_disable() end
function on_unload() end

received = 0

function subscriptions()
	return {
		["system.health"] = function(e)
			received = received + 1
		end,
		["system.error"] = function(e)
			error("handler boom")
		end,
	}
end
`

func writeSubscriberPlugin(t *testing.T, pluginDir string) {
	t.Helper()
	writeFile(t, filepath.Join(pluginDir, "sub", "plugin.json"),
		`{"id":"sub","name":"Sub","version":"1.0.0","author":"t","permissions":["events:subscribe"]}`)
	writeFile(t, filepath.Join(pluginDir, "sub", "init.lua"), subscriberScript)
}

// readGlobalInt reads a numeric global through the instance's executor.
func readGlobalInt(t *testing.T, inst *Instance, name string) int {
	t.Helper()
	var out int
	err := inst.exec.Execute(context.Background(), func(L *glua.LState) error {
		if n, ok := L.GetGlobal(name).(glua.LNumber); ok {
			out = int(n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reading global %s: %v", name, err)
	}
	return out
}

func TestHost_SubscriptionsDeliver(t *testing.T) {
	mgr, bus, pluginDir := newTestManager(t, nil)
	writeSubscriberPlugin(t, pluginDir)
	ctx := context.Background()

	if err := mgr.Load(ctx, "sub"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Enable(ctx, "sub"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	inst, _ := mgr.Get("sub")

	if err := bus.Publish(event.New(event.TopicSystemHealth, "host", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if readGlobalInt(t, inst, "received") == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := readGlobalInt(t, inst, "received"); got != 1 {
		t.Errorf("received = %d, want 1", got)
	}
}

func TestHost_SubscriptionsStopOnDisable(t *testing.T) {
	mgr, bus, pluginDir := newTestManager(t, nil)
	writeSubscriberPlugin(t, pluginDir)
	ctx := context.Background()

	if err := mgr.Load(ctx, "sub"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Enable(ctx, "sub"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	inst, _ := mgr.Get("sub")
	if err := mgr.Disable(ctx, "sub"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	if err := bus.Publish(event.New(event.TopicSystemHealth, "host", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if got := readGlobalInt(t, inst, "received"); got != 0 {
		t.Errorf("received = %d after disable, want 0", got)
	}
}

func TestHost_HandlerErrorsContained(t *testing.T) {
	mgr, bus, pluginDir := newTestManager(t, nil)
	writeSubscriberPlugin(t, pluginDir)
	ctx := context.Background()

	if err := mgr.Load(ctx, "sub"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Enable(ctx, "sub"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	inst, _ := mgr.Get("sub")

	// The failing handler must not disturb the publisher or the plugin.
	if err := bus.Publish(event.New(event.TopicSystemError, "host", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(inst.Metrics().Errors()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(inst.Metrics().Errors()) == 0 {
		t.Fatal("handler error not recorded")
	}

	// The healthy handler still works afterward.
	if err := bus.Publish(event.New(event.TopicSystemHealth, "host", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if readGlobalInt(t, inst, "received") == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("plugin stopped handling events after a handler error")
}

func TestHost_HealthReflectsErrors(t *testing.T) {
	mgr, _, pluginDir := newTestManager(t, nil)
	writeEchoPlugin(t, pluginDir)
	ctx := context.Background()

	if err := mgr.Load(ctx, "echo"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	inst, _ := mgr.Get("echo")

	h := inst.Health(ctx)
	if h["status"] != "ok" {
		t.Errorf("status = %v, want ok", h["status"])
	}

	for i := 0; i < degradedThreshold+1; i++ {
		inst.Metrics().RecordError("induced")
	}
	h = inst.Health(ctx)
	if h["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", h["status"])
	}
}

func TestPluginConfig_DefaultsAndPersistence(t *testing.T) {
	kv, err := service.NewKV(t.TempDir())
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	cfg := &pluginConfig{
		kv:       kv,
		ns:       "echo",
		defaults: map[string]any{"greeting": "hello", "limit": float64(10)},
	}

	if v, ok := cfg.Get("greeting"); !ok || v != "hello" {
		t.Errorf("default greeting = %v, %v", v, ok)
	}
	if _, ok := cfg.Get("unknown"); ok {
		t.Error("unknown key reported present")
	}

	if err := cfg.Set("greeting", "hi"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := cfg.Get("greeting"); v != "hi" {
		t.Errorf("greeting after set = %v", v)
	}

	all := cfg.All()
	if all["greeting"] != "hi" {
		t.Errorf("All greeting = %v", all["greeting"])
	}
	if all["limit"] != float64(10) {
		t.Errorf("All limit = %v, default lost", all["limit"])
	}
}
