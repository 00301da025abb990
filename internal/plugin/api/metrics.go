package api

import (
	lua "github.com/yuin/gopher-lua"

	hlua "github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
)

// MetricsModule implements host.metrics, scoped to the plugin's own
// counters. Available to every plugin.
type MetricsModule struct {
	metrics MetricsProvider
}

// NewMetricsModule creates the metrics module for a plugin.
func NewMetricsModule(ctx *Context, _ string) *MetricsModule {
	return &MetricsModule{metrics: ctx.Metrics}
}

func (m *MetricsModule) Name() string { return "metrics" }

func (m *MetricsModule) RequiredPermission() security.Permission { return "" }

// Register installs add/snapshot into the Lua state.
func (m *MetricsModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "add", L.NewFunction(m.add))
	L.SetField(mod, "snapshot", L.NewFunction(m.snapshot))

	L.SetGlobal("_host_metrics", mod)
	return nil
}

// add(name, delta?) -> nil
// delta defaults to 1.
func (m *MetricsModule) add(L *lua.LState) int {
	name := L.CheckString(1)
	delta := L.OptNumber(2, 1)

	if m.metrics != nil {
		m.metrics.Add(name, float64(delta))
	}
	return 0
}

// snapshot() -> table of counter values
func (m *MetricsModule) snapshot(L *lua.LState) int {
	if m.metrics == nil {
		L.Push(L.NewTable())
		return 1
	}

	counters := m.metrics.Snapshot()
	values := make(map[string]any, len(counters))
	for k, v := range counters {
		values[k] = v
	}
	L.Push(hlua.ToLua(L, values))
	return 1
}
