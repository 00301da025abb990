package api

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/plugin/security"
)

// Module is a host API module exposed to plugin Lua code.
type Module interface {
	// Name returns the module name ("log", "cache", "storage", ...).
	Name() string

	// RequiredPermission returns the permission gating this module, or
	// "" when the module is available to every plugin. Modules whose
	// functions span two permissions (read/write pairs) return the read
	// permission here and check the write permission per call.
	RequiredPermission() security.Permission

	// Register installs the module's functions into the Lua state
	// under a _host_<name> global. The registry later collects these
	// into the aggregate host table.
	Register(L *lua.LState) error
}

// Registry holds the host API modules for one plugin.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module. Duplicate names are an error.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}
	r.modules[mod.Name()] = mod
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	return mod, ok
}

// List returns all registered module names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// InjectAll installs every module the plugin's permissions allow, then
// wires the aggregate host loader so require("host") and
// require("host.<name>") resolve. Permission-gated modules the checker
// does not cover are skipped, not errored: a plugin that never asked
// for network:http simply has no host.http.
func (r *Registry) InjectAll(L *lua.LState, checker *security.Checker) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	injected := make([]string, 0, len(r.modules))
	for name, mod := range r.modules {
		if perm := mod.RequiredPermission(); perm != "" {
			if checker == nil || !checker.Has(perm) {
				continue
			}
		}
		if err := mod.Register(L); err != nil {
			return fmt.Errorf("registering module %q: %w", name, err)
		}
		injected = append(injected, name)
	}

	installHostLoader(L, injected)
	return nil
}

// installHostLoader collects the _host_* globals into the host table
// and preloads it for require. Each submodule is also preloaded under
// host.<name>.
func installHostLoader(L *lua.LState, names []string) {
	host := L.NewTable()

	for _, name := range names {
		global := "_host_" + name
		val := L.GetGlobal(global)
		if val == lua.LNil {
			continue
		}
		L.SetField(host, name, val)
		L.SetGlobal(global, lua.LNil)

		sub := val
		L.PreloadModule("host."+name, func(L *lua.LState) int {
			L.Push(sub)
			return 1
		})
	}

	L.SetField(host, "api_version", lua.LNumber(1))

	L.PreloadModule("host", func(L *lua.LState) int {
		L.Push(host)
		return 1
	})
}

// DefaultRegistry builds a registry with the standard modules for one
// plugin. Providers missing from the context leave the corresponding
// module out.
func DefaultRegistry(ctx *Context, pluginID string) (*Registry, error) {
	r := NewRegistry()

	mods := []Module{
		NewLogModule(ctx, pluginID),
		NewConfigModule(ctx, pluginID),
		NewMetricsModule(ctx, pluginID),
		NewEventModule(ctx, pluginID),
		NewToolsModule(ctx, pluginID),
	}
	if ctx.Cache != nil {
		mods = append(mods, NewCacheModule(ctx, pluginID))
	}
	if ctx.Store != nil {
		mods = append(mods, NewStorageModule(ctx, pluginID))
	}
	if ctx.Broker != nil {
		mods = append(mods, NewQueueModule(ctx, pluginID))
	}
	if ctx.HTTP != nil {
		mods = append(mods, NewHTTPModule(ctx, pluginID))
	}

	for _, mod := range mods {
		if err := r.Register(mod); err != nil {
			return nil, fmt.Errorf("registering module %q: %w", mod.Name(), err)
		}
	}
	return r, nil
}
