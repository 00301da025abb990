package api

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	hlua "github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
	"github.com/dshills/toolhost/internal/service"
)

// QueueModule implements host.queue over the in-process broker.
// publish needs queue:publish and receive needs queue:consume, both
// checked per call since a plugin may hold either one alone.
type QueueModule struct {
	broker  *service.Broker
	checker *security.Checker
}

// NewQueueModule creates the queue module for a plugin.
func NewQueueModule(ctx *Context, _ string) *QueueModule {
	return &QueueModule{
		broker:  ctx.Broker,
		checker: ctx.Checker,
	}
}

func (m *QueueModule) Name() string { return "queue" }

func (m *QueueModule) RequiredPermission() security.Permission { return "" }

// Register installs publish/receive/depth into the Lua state.
func (m *QueueModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "publish", L.NewFunction(m.publish))
	L.SetField(mod, "receive", L.NewFunction(m.receive))
	L.SetField(mod, "depth", L.NewFunction(m.depth))

	L.SetGlobal("_host_queue", mod)
	return nil
}

// publish(queue, payload) -> message_id
func (m *QueueModule) publish(L *lua.LState) int {
	if err := m.checker.Check(security.PermQueuePublish); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	name := L.CheckString(1)
	payload := hlua.ToGo(L.Get(2))

	msg, err := m.broker.Publish(name, payload)
	if err != nil {
		if errors.Is(err, service.ErrQueueFull) {
			L.Push(lua.LNil)
			L.Push(lua.LString("queue full"))
			return 2
		}
		L.RaiseError("queue.publish: %s", err.Error())
		return 0
	}
	L.Push(lua.LString(msg.ID))
	return 1
}

// receive(queue) -> payload, message_id (or nil when empty)
// Non-blocking: plugin code must not park the host goroutine.
func (m *QueueModule) receive(L *lua.LState) int {
	if err := m.checker.Check(security.PermQueueConsume); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	msg, ok, err := m.broker.TryReceive(L.CheckString(1))
	if err != nil {
		L.RaiseError("queue.receive: %s", err.Error())
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(hlua.ToLua(L, msg.Payload))
	L.Push(lua.LString(msg.ID))
	return 2
}

// depth(queue) -> count
func (m *QueueModule) depth(L *lua.LState) int {
	L.Push(lua.LNumber(m.broker.Depth(L.CheckString(1))))
	return 1
}
