package api

import (
	lua "github.com/yuin/gopher-lua"

	hlua "github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
)

// ConfigModule implements host.config. The provider is already scoped
// to the plugin's own configuration, so no permission is required.
type ConfigModule struct {
	config ConfigProvider
}

// NewConfigModule creates the config module for a plugin.
func NewConfigModule(ctx *Context, _ string) *ConfigModule {
	return &ConfigModule{config: ctx.Config}
}

func (m *ConfigModule) Name() string { return "config" }

func (m *ConfigModule) RequiredPermission() security.Permission { return "" }

// Register installs get/set/all into the Lua state.
func (m *ConfigModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "all", L.NewFunction(m.all))

	L.SetGlobal("_host_config", mod)
	return nil
}

// get(path) -> value or nil
func (m *ConfigModule) get(L *lua.LState) int {
	if m.config == nil {
		L.Push(lua.LNil)
		return 1
	}

	value, ok := m.config.Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(hlua.ToLua(L, value))
	return 1
}

// set(path, value) -> true
func (m *ConfigModule) set(L *lua.LState) int {
	if m.config == nil {
		L.RaiseError("config.set: no config provider available")
		return 0
	}

	path := L.CheckString(1)
	value := hlua.ToGo(L.Get(2))

	if err := m.config.Set(path, value); err != nil {
		L.RaiseError("config.set: %s", err.Error())
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}

// all() -> table of the plugin's full configuration
func (m *ConfigModule) all(L *lua.LState) int {
	if m.config == nil {
		L.Push(L.NewTable())
		return 1
	}
	L.Push(hlua.ToLua(L, m.config.All()))
	return 1
}
