package api

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	hlua "github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
	"github.com/dshills/toolhost/internal/service"
)

// CacheModule implements host.cache over the shared TTL cache. Keys
// are namespaced per plugin so plugins cannot read each other's
// entries. Reads need cache:read; writes additionally need
// cache:write, checked per call.
type CacheModule struct {
	cache    *service.Cache
	checker  *security.Checker
	pluginID string
}

// NewCacheModule creates the cache module for a plugin.
func NewCacheModule(ctx *Context, pluginID string) *CacheModule {
	return &CacheModule{
		cache:    ctx.Cache,
		checker:  ctx.Checker,
		pluginID: pluginID,
	}
}

func (m *CacheModule) Name() string { return "cache" }

func (m *CacheModule) RequiredPermission() security.Permission {
	return security.PermCacheRead
}

// Register installs get/set/delete/has into the Lua state.
func (m *CacheModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "delete", L.NewFunction(m.delete))
	L.SetField(mod, "has", L.NewFunction(m.has))

	L.SetGlobal("_host_cache", mod)
	return nil
}

// key prefixes a plugin-supplied key with the plugin's namespace.
func (m *CacheModule) key(k string) string {
	return m.pluginID + ":" + k
}

// get(key) -> value or nil
func (m *CacheModule) get(L *lua.LState) int {
	key := L.CheckString(1)

	value, ok := m.cache.Get(m.key(key))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(hlua.ToLua(L, value))
	return 1
}

// set(key, value, ttl_seconds?) -> true
// A ttl of 0 (the default) means no expiry.
func (m *CacheModule) set(L *lua.LState) int {
	if err := m.checker.Check(security.PermCacheWrite); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	key := L.CheckString(1)
	value := hlua.ToGo(L.Get(2))
	ttlSec := L.OptNumber(3, 0)

	m.cache.Set(m.key(key), value, time.Duration(float64(ttlSec)*float64(time.Second)))
	L.Push(lua.LTrue)
	return 1
}

// delete(key) -> true
func (m *CacheModule) delete(L *lua.LState) int {
	if err := m.checker.Check(security.PermCacheWrite); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	m.cache.Delete(m.key(L.CheckString(1)))
	L.Push(lua.LTrue)
	return 1
}

// has(key) -> bool
func (m *CacheModule) has(L *lua.LState) int {
	_, ok := m.cache.Get(m.key(L.CheckString(1)))
	L.Push(lua.LBool(ok))
	return 1
}
