package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/event"
	hlua "github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
)

// EventModule implements host.event. Emission needs events:emit,
// checked per call. Subscriptions are declared through the plugin's
// subscriptions() contract function, not at runtime, so the module
// carries no subscribe call.
type EventModule struct {
	events   EventPublisher
	checker  *security.Checker
	pluginID string
}

// NewEventModule creates the event module for a plugin.
func NewEventModule(ctx *Context, pluginID string) *EventModule {
	return &EventModule{
		events:   ctx.Events,
		checker:  ctx.Checker,
		pluginID: pluginID,
	}
}

func (m *EventModule) Name() string { return "event" }

func (m *EventModule) RequiredPermission() security.Permission { return "" }

// Register installs emit/topics into the Lua state.
func (m *EventModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "emit", L.NewFunction(m.emit))
	L.SetField(mod, "topics", L.NewFunction(m.topics))

	L.SetGlobal("_host_event", mod)
	return nil
}

// emit(topic, data?) -> true
// The topic must belong to the host vocabulary.
func (m *EventModule) emit(L *lua.LState) int {
	if err := m.checker.Check(security.PermEventsEmit); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if m.events == nil {
		L.RaiseError("event.emit: no event bus available")
		return 0
	}

	topic := event.Topic(L.CheckString(1))
	if !event.IsKnown(topic) {
		L.RaiseError("event.emit: unknown topic %q", string(topic))
		return 0
	}

	var data map[string]any
	if L.GetTop() >= 2 {
		if converted, ok := hlua.ToGo(L.Get(2)).(map[string]any); ok {
			data = converted
		}
	}

	if err := m.events.Publish(event.New(topic, m.pluginID, data)); err != nil {
		L.RaiseError("event.emit: %s", err.Error())
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}

// topics() -> {topic, ...}
func (m *EventModule) topics(L *lua.LState) int {
	tbl := L.NewTable()
	for i, topic := range event.AllTopics() {
		tbl.RawSetInt(i+1, lua.LString(string(topic)))
	}
	L.Push(tbl)
	return 1
}
