package api

import (
	"strings"
	"testing"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/event"
	"github.com/dshills/toolhost/internal/plugin/security"
	"github.com/dshills/toolhost/internal/service"
)

// capturingPublisher records published events.
type capturingPublisher struct {
	events []event.Event
}

func (p *capturingPublisher) Publish(ev event.Event) error {
	p.events = append(p.events, ev)
	return nil
}

// memConfig is an in-memory ConfigProvider.
type memConfig struct {
	values map[string]any
}

func (c *memConfig) Get(path string) (any, bool) {
	v, ok := c.values[path]
	return v, ok
}

func (c *memConfig) Set(path string, value any) error {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[path] = value
	return nil
}

func (c *memConfig) All() map[string]any { return c.values }

// memMetrics is an in-memory MetricsProvider.
type memMetrics struct {
	counters map[string]float64
}

func (m *memMetrics) Add(name string, delta float64) {
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += delta
}

func (m *memMetrics) Snapshot() map[string]float64 { return m.counters }

func testContext(t *testing.T, checker *security.Checker) (*Context, *capturingPublisher) {
	t.Helper()

	store, err := service.NewKV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache := service.NewCache()
	t.Cleanup(cache.Close)
	broker := service.NewBroker(0)
	t.Cleanup(broker.Close)

	pub := &capturingPublisher{}
	return &Context{
		Checker: checker,
		Cache:   cache,
		Store:   store,
		Broker:  broker,
		Events:  pub,
		Config:  &memConfig{},
		Metrics: &memMetrics{},
	}, pub
}

func injectedState(t *testing.T, perms ...security.Permission) (*glua.LState, *capturingPublisher) {
	t.Helper()

	checker := security.NewChecker("test")
	checker.GrantAll(perms)

	ctx, pub := testContext(t, checker)
	reg, err := DefaultRegistry(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}

	L := glua.NewState()
	t.Cleanup(L.Close)

	if err := reg.InjectAll(L, checker); err != nil {
		t.Fatalf("InjectAll() error = %v", err)
	}
	return L, pub
}

func TestRegistry_DuplicateModule(t *testing.T) {
	ctx, _ := testContext(t, security.NewChecker("test"))
	r := NewRegistry()

	if err := r.Register(NewLogModule(ctx, "test")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(NewLogModule(ctx, "test")); err == nil {
		t.Error("duplicate Register() succeeded")
	}
}

func TestInjectAll_SkipsUngrantedModules(t *testing.T) {
	L, _ := injectedState(t) // no permissions at all

	err := L.DoString(`
		local host = require("host")
		if host.log == nil then error("log should always be present") end
		if host.cache ~= nil then error("cache injected without cache:read") end
		if host.storage ~= nil then error("storage injected without database:read") end
		if host.http ~= nil then error("http injected without network:http") end
	`)
	if err != nil {
		t.Fatalf("host table: %v", err)
	}
}

func TestInjectAll_GrantedModulesPresent(t *testing.T) {
	L, _ := injectedState(t, security.PermCacheRead, security.PermDatabaseRead)

	err := L.DoString(`
		local host = require("host")
		if host.cache == nil then error("cache missing") end
		if host.storage == nil then error("storage missing") end
		local cache = require("host.cache")
		if cache == nil then error("submodule require failed") end
	`)
	if err != nil {
		t.Fatalf("host table: %v", err)
	}
}

func TestCacheModule_WriteGated(t *testing.T) {
	L, _ := injectedState(t, security.PermCacheRead)

	err := L.DoString(`require("host.cache").set("k", "v")`)
	if err == nil {
		t.Fatal("cache.set succeeded without cache:write")
	}
	if !strings.Contains(err.Error(), "cache:write") {
		t.Errorf("error = %v, want mention of cache:write", err)
	}
}

func TestCacheModule_RoundTrip(t *testing.T) {
	L, _ := injectedState(t, security.PermCacheRead, security.PermCacheWrite)

	err := L.DoString(`
		local cache = require("host.cache")
		cache.set("greeting", "hello")
		if cache.get("greeting") ~= "hello" then error("get mismatch") end
		if not cache.has("greeting") then error("has false") end
		cache.delete("greeting")
		if cache.get("greeting") ~= nil then error("delete failed") end
	`)
	if err != nil {
		t.Fatalf("cache round trip: %v", err)
	}
}

func TestStorageModule_RoundTrip(t *testing.T) {
	L, _ := injectedState(t, security.PermDatabaseRead, security.PermDatabaseWrite)

	err := L.DoString(`
		local storage = require("host.storage")
		storage.set("settings.retries", 3)
		if storage.get("settings.retries") ~= 3 then error("get mismatch") end
		storage.delete("settings.retries")
		if storage.get("settings.retries") ~= nil then error("delete failed") end
	`)
	if err != nil {
		t.Fatalf("storage round trip: %v", err)
	}
}

func TestQueueModule_PublishConsume(t *testing.T) {
	L, _ := injectedState(t, security.PermQueuePublish, security.PermQueueConsume)

	err := L.DoString(`
		local queue = require("host.queue")
		local id = queue.publish("jobs", "task-1")
		if id == nil then error("publish returned nil") end
		if queue.depth("jobs") ~= 1 then error("depth mismatch") end
		local payload = queue.receive("jobs")
		if payload ~= "task-1" then error("payload mismatch: " .. tostring(payload)) end
		if queue.receive("jobs") ~= nil then error("expected empty queue") end
	`)
	if err != nil {
		t.Fatalf("queue round trip: %v", err)
	}
}

func TestQueueModule_PublishGated(t *testing.T) {
	L, _ := injectedState(t, security.PermQueueConsume)

	if err := L.DoString(`require("host.queue").publish("jobs", "x")`); err == nil {
		t.Error("queue.publish succeeded without queue:publish")
	}
}

func TestEventModule_Emit(t *testing.T) {
	L, pub := injectedState(t, security.PermEventsEmit)

	err := L.DoString(`require("host.event").emit("tool.executed", { tool = "echo" })`)
	if err != nil {
		t.Fatalf("event.emit: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Topic != event.TopicToolExecuted {
		t.Errorf("topic = %v, want tool.executed", ev.Topic)
	}
	if ev.Source != "test" {
		t.Errorf("source = %q, want test", ev.Source)
	}
	if ev.Data["tool"] != "echo" {
		t.Errorf("data = %#v", ev.Data)
	}
}

func TestEventModule_UnknownTopic(t *testing.T) {
	L, _ := injectedState(t, security.PermEventsEmit)

	if err := L.DoString(`require("host.event").emit("made.up.topic")`); err == nil {
		t.Error("emit with unknown topic succeeded")
	}
}

func TestEventModule_EmitGated(t *testing.T) {
	L, _ := injectedState(t)

	if err := L.DoString(`require("host.event").emit("tool.executed")`); err == nil {
		t.Error("emit succeeded without events:emit")
	}
}

func TestConfigModule_RoundTrip(t *testing.T) {
	L, _ := injectedState(t)

	err := L.DoString(`
		local config = require("host.config")
		config.set("mode", "fast")
		if config.get("mode") ~= "fast" then error("get mismatch") end
		if config.get("absent") ~= nil then error("absent key returned value") end
	`)
	if err != nil {
		t.Fatalf("config round trip: %v", err)
	}
}

func TestMetricsModule_Add(t *testing.T) {
	L, _ := injectedState(t)

	err := L.DoString(`
		local metrics = require("host.metrics")
		metrics.add("requests")
		metrics.add("requests", 2)
		local snap = metrics.snapshot()
		if snap.requests ~= 3 then error("counter = " .. tostring(snap.requests)) end
	`)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
}
