package api

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	hlua "github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
)

// ToolsModule implements host.tools, letting a plugin invoke tools
// registered by other plugins. Execution needs tools:execute, checked
// per call; listing is open.
type ToolsModule struct {
	tools   ToolProvider
	checker *security.Checker
}

// NewToolsModule creates the tools module for a plugin.
func NewToolsModule(ctx *Context, _ string) *ToolsModule {
	return &ToolsModule{
		tools:   ctx.Tools,
		checker: ctx.Checker,
	}
}

func (m *ToolsModule) Name() string { return "tools" }

func (m *ToolsModule) RequiredPermission() security.Permission { return "" }

// Register installs execute/list into the Lua state.
func (m *ToolsModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "execute", L.NewFunction(m.execute))
	L.SetField(mod, "list", L.NewFunction(m.list))

	L.SetGlobal("_host_tools", mod)
	return nil
}

// execute(name, params?) -> result or nil, error
// name is the qualified tool name ("plugin.tool").
func (m *ToolsModule) execute(L *lua.LState) int {
	if err := m.checker.Check(security.PermToolsExecute); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if m.tools == nil {
		L.RaiseError("tools.execute: no tool registry available")
		return 0
	}

	name := L.CheckString(1)
	var params map[string]any
	if L.GetTop() >= 2 {
		if converted, ok := hlua.ToGo(L.Get(2)).(map[string]any); ok {
			params = converted
		}
	}

	result, err := m.tools.Execute(context.Background(), name, params)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(hlua.ToLua(L, result))
	return 1
}

// list() -> {qualified_name, ...}
func (m *ToolsModule) list(L *lua.LState) int {
	tbl := L.NewTable()
	if m.tools != nil {
		for i, name := range m.tools.Names() {
			tbl.RawSetInt(i+1, lua.LString(name))
		}
	}
	L.Push(tbl)
	return 1
}
