// Package lua provides the sandboxed Lua runtime for plugins.
//
// Each plugin gets its own State: a gopher-lua VM opened with only the
// safe standard libraries (base, table, string, math) and a Sandbox
// that removes the chunk loaders, replaces require with a whitelist,
// and exposes a gated io module when the plugin holds filesystem
// permissions.
//
//	checker := security.NewChecker("echo")
//	checker.Grant(security.PermFilesystemRead)
//
//	state := lua.NewState(security.DefaultResourceLimits(), checker)
//	defer state.Close()
//
//	if err := state.DoFile("echo.lua"); err != nil {
//	    return err
//	}
//
// Plugin code reaches host services by requiring the preloaded host
// modules:
//
//	local log = require("host.log")
//	log.info("plugin ready")
//
// # Concurrency
//
// LState is not goroutine-safe. The Executor serializes operations
// from any number of goroutines onto the single goroutine that owns
// the VM; tool execution and event dispatch both go through it.
//
// # Limits
//
// Execution timeouts are best-effort: a Lua chunk cannot be stopped
// mid-flight, so a timed-out call keeps running while the host treats
// the state as poisoned. Memory and instruction limits are advisory,
// tracked by the security.Monitor.
package lua
