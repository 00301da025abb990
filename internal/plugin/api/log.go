package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/plugin/security"
)

// LogModule implements host.log. Available to every plugin.
type LogModule struct {
	log *logging.Logger
}

// NewLogModule creates the log module for a plugin.
func NewLogModule(ctx *Context, pluginID string) *LogModule {
	logger := ctx.Log
	if logger == nil {
		logger = logging.Null
	}
	return &LogModule{log: logger.WithPlugin(pluginID)}
}

func (m *LogModule) Name() string { return "log" }

func (m *LogModule) RequiredPermission() security.Permission { return "" }

// Register installs debug/info/warn/error into the Lua state.
func (m *LogModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.emit(m.log.Debug)))
	L.SetField(mod, "info", L.NewFunction(m.emit(m.log.Info)))
	L.SetField(mod, "warn", L.NewFunction(m.emit(m.log.Warn)))
	L.SetField(mod, "error", L.NewFunction(m.emit(m.log.Error)))

	L.SetGlobal("_host_log", mod)
	return nil
}

// emit adapts a logger method to a Lua function taking a message plus
// optional extra values appended with spaces.
func (m *LogModule) emit(fn func(format string, args ...any)) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		for i := 2; i <= L.GetTop(); i++ {
			msg += " " + L.Get(i).String()
		}
		fn("%s", msg)
		return 0
	}
}
