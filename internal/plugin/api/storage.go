package api

import (
	lua "github.com/yuin/gopher-lua"

	hlua "github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
	"github.com/dshills/toolhost/internal/service"
)

// StorageModule implements host.storage over the file-backed document
// store. Each plugin owns one namespace; paths are dotted JSON paths
// ("settings.retries"). Reads need database:read; writes additionally
// need database:write, checked per call.
type StorageModule struct {
	store     *service.KV
	checker   *security.Checker
	namespace string
}

// NewStorageModule creates the storage module for a plugin.
func NewStorageModule(ctx *Context, pluginID string) *StorageModule {
	return &StorageModule{
		store:     ctx.Store,
		checker:   ctx.Checker,
		namespace: pluginID,
	}
}

func (m *StorageModule) Name() string { return "storage" }

func (m *StorageModule) RequiredPermission() security.Permission {
	return security.PermDatabaseRead
}

// Register installs get/set/delete into the Lua state.
func (m *StorageModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "delete", L.NewFunction(m.delete))

	L.SetGlobal("_host_storage", mod)
	return nil
}

// get(path) -> value or nil
func (m *StorageModule) get(L *lua.LState) int {
	path := L.CheckString(1)

	value, ok, err := m.store.Get(m.namespace, path)
	if err != nil {
		L.RaiseError("storage.get: %s", err.Error())
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(hlua.ToLua(L, value))
	return 1
}

// set(path, value) -> true
func (m *StorageModule) set(L *lua.LState) int {
	if err := m.checker.Check(security.PermDatabaseWrite); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	path := L.CheckString(1)
	value := hlua.ToGo(L.Get(2))

	if err := m.store.Set(m.namespace, path, value); err != nil {
		L.RaiseError("storage.set: %s", err.Error())
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}

// delete(path) -> true
func (m *StorageModule) delete(L *lua.LState) int {
	if err := m.checker.Check(security.PermDatabaseWrite); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	if err := m.store.Delete(m.namespace, L.CheckString(1)); err != nil {
		L.RaiseError("storage.delete: %s", err.Error())
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}
