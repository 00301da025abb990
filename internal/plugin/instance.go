package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/event"
	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
	"github.com/dshills/toolhost/internal/tool"
)

// requiredHooks are the globals every plugin script must define.
var requiredHooks = []string{"on_load", "on_enable", "on_disable", "on_unload"}

// Instance is one plugin's live runtime: its sandboxed state, the
// executor serializing access to it, and its accumulated metrics. All
// Lua access after construction goes through the executor.
type Instance struct {
	ID       string
	Manifest *Manifest

	info    *Info
	state   *lua.State
	exec    *lua.Executor
	cancel  context.CancelFunc
	checker *security.Checker
	metrics *Metrics
	log     *logging.Logger
	config  *pluginConfig
	dataDir string
	host    *Host

	mu        sync.Mutex
	st        State
	toolNames []string
	subs      []*event.Subscription
	closed    bool
}

// State returns the instance's lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.st
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.st = s
}

// Metrics returns the instance's metrics.
func (i *Instance) Metrics() *Metrics {
	return i.metrics
}

// DataDir returns the plugin's private file root.
func (i *Instance) DataDir() string {
	return i.dataDir
}

// ToolNames returns the qualified names currently registered for this
// plugin.
func (i *Instance) ToolNames() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.toolNames...)
}

// eval runs the entry script on the executor goroutine.
func (i *Instance) eval(ctx context.Context, path string) error {
	return i.exec.Execute(ctx, func(_ *glua.LState) error {
		return i.state.DoFile(path)
	})
}

// checkContract verifies every required hook is defined, reporting all
// missing hooks at once.
func (i *Instance) checkContract(ctx context.Context) error {
	var missing []string
	err := i.exec.Execute(ctx, func(_ *glua.LState) error {
		for _, hook := range requiredHooks {
			if !i.state.HasGlobalFunc(hook) {
				missing = append(missing, hook)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &ContractError{PluginID: i.ID, Missing: missing}
	}
	return nil
}

// CallHook invokes a lifecycle hook under the sandbox's execution
// timeout. A timed-out state is unusable afterward; callers tear the
// instance down.
func (i *Instance) CallHook(ctx context.Context, name string) error {
	err := i.exec.Execute(ctx, func(_ *glua.LState) error {
		_, err := i.state.CallGlobalCtx(ctx, name)
		return err
	})
	if err != nil {
		return &ExecError{PluginID: i.ID, Phase: name, Err: err}
	}
	return nil
}

// hasHook reports whether the script defines an optional hook.
func (i *Instance) hasHook(ctx context.Context, name string) bool {
	var ok bool
	_ = i.exec.Execute(ctx, func(_ *glua.LState) error {
		ok = i.state.HasGlobalFunc(name)
		return nil
	})
	return ok
}

// HarvestTools calls the script's tools() descriptor function and wraps
// each entry as a host tool. Plugins without tools() have none.
func (i *Instance) HarvestTools(ctx context.Context) ([]tool.Tool, error) {
	var tools []tool.Tool
	err := i.exec.Execute(ctx, func(_ *glua.LState) error {
		if !i.state.HasGlobalFunc("tools") {
			return nil
		}
		res, err := i.state.CallGlobal("tools")
		if err != nil {
			return err
		}
		if len(res) == 0 || res[0] == glua.LNil {
			return nil
		}
		tbl, ok := res[0].(*glua.LTable)
		if !ok {
			return errors.New("tools() must return a table")
		}

		var inner error
		tbl.ForEach(func(_, v glua.LValue) {
			if inner != nil {
				return
			}
			entry, ok := v.(*glua.LTable)
			if !ok {
				inner = errors.New("tools() entries must be tables")
				return
			}
			t, err := i.toolFromTable(entry)
			if err != nil {
				inner = err
				return
			}
			tools = append(tools, t)
		})
		return inner
	})
	if err != nil {
		return nil, &ExecError{PluginID: i.ID, Phase: "tools", Err: err}
	}
	return tools, nil
}

// toolFromTable builds a host tool from one tools() entry. Called on the
// executor goroutine.
func (i *Instance) toolFromTable(entry *glua.LTable) (tool.Tool, error) {
	name, ok := lua.TableString(entry, "name")
	if !ok || name == "" {
		return nil, errors.New("tool entry missing name")
	}
	fn, ok := lua.TableFunc(entry, "execute")
	if !ok {
		return nil, fmt.Errorf("tool %q missing execute function", name)
	}

	desc := tool.Descriptor{Name: name}
	desc.Description, _ = lua.TableString(entry, "description")
	desc.Category, _ = lua.TableString(entry, "category")

	if params, ok := lua.TableTable(entry, "params"); ok {
		if req, ok := params.RawGetString("required").(*glua.LTable); ok {
			req.ForEach(func(_, v glua.LValue) {
				if s, ok := v.(glua.LString); ok {
					desc.Parameters.Required = append(desc.Parameters.Required, string(s))
				}
			})
		}
		if props, ok := params.RawGetString("properties").(*glua.LTable); ok {
			desc.Parameters.Fields = make(map[string]tool.Field)
			props.ForEach(func(k, v glua.LValue) {
				key, ok := k.(glua.LString)
				if !ok {
					return
				}
				field := tool.Field{Type: "any"}
				if pt, ok := v.(*glua.LTable); ok {
					if t, ok := lua.TableString(pt, "type"); ok {
						field.Type = t
					}
					field.Description, _ = lua.TableString(pt, "description")
				}
				desc.Parameters.Fields[string(key)] = field
			})
		}
	}

	return &luaTool{inst: i, fn: fn, desc: desc}, nil
}

// luaTool runs a Lua execute function through the owning instance's
// executor, with metrics accounting and tool event emission.
type luaTool struct {
	inst *Instance
	fn   *glua.LFunction
	desc tool.Descriptor
}

// Descriptor implements tool.Tool.
func (t *luaTool) Descriptor() tool.Descriptor {
	return t.desc
}

// Execute implements tool.Tool.
func (t *luaTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	timeout := t.inst.state.Monitor().ExecutionTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var out any
	err := t.inst.exec.Execute(ctx, func(L *glua.LState) error {
		res, err := lua.CallFunc(L, t.fn, params)
		if err != nil {
			return err
		}
		// Lua convention: (nil, message) signals failure.
		if len(res) >= 2 && res[0] == nil {
			if msg, ok := res[1].(string); ok && msg != "" {
				return errors.New(msg)
			}
		}
		if len(res) > 0 {
			out = res[0]
		}
		return nil
	})
	dur := time.Since(start)

	t.inst.metrics.RecordCall(t.desc.Name, dur, err)
	t.inst.emitToolEvent(t.desc.Name, dur, err)

	if err != nil {
		return nil, &ExecError{PluginID: t.inst.ID, Phase: "tool " + t.desc.Name, Err: err}
	}
	return out, nil
}

// emitToolEvent publishes tool.executed or tool.error after a call.
func (i *Instance) emitToolEvent(name string, dur time.Duration, callErr error) {
	if i.host == nil || i.host.bus == nil {
		return
	}

	topic := event.TopicToolExecuted
	data := map[string]any{
		"tool":        tool.QualifiedName(i.ID, name),
		"duration_ms": dur.Milliseconds(),
	}
	if callErr != nil {
		topic = event.TopicToolError
		data["error"] = callErr.Error()
	}
	if err := i.host.bus.Publish(event.New(topic, i.ID, data)); err != nil {
		i.log.Debug("tool event dropped", "error", err)
	}
}

// WireSubscriptions calls the script's subscriptions() function and
// registers a bus subscription per topic. Handler failures are logged
// and recorded, never propagated to the bus. Requires events:subscribe.
func (i *Instance) WireSubscriptions(ctx context.Context) error {
	if i.host == nil || i.host.bus == nil {
		return nil
	}
	if !i.hasHook(ctx, "subscriptions") {
		return nil
	}
	if err := i.checker.Check(security.PermEventsSubscribe); err != nil {
		i.log.Warn("subscriptions() present but events:subscribe not granted")
		return nil
	}

	handlers := make(map[event.Topic]*glua.LFunction)
	err := i.exec.Execute(ctx, func(_ *glua.LState) error {
		res, err := i.state.CallGlobal("subscriptions")
		if err != nil {
			return err
		}
		if len(res) == 0 || res[0] == glua.LNil {
			return nil
		}
		tbl, ok := res[0].(*glua.LTable)
		if !ok {
			return errors.New("subscriptions() must return a table")
		}
		tbl.ForEach(func(k, v glua.LValue) {
			topic, ok := k.(glua.LString)
			if !ok {
				return
			}
			fn, ok := v.(*glua.LFunction)
			if !ok {
				return
			}
			handlers[event.Topic(topic)] = fn
		})
		return nil
	})
	if err != nil {
		return &ExecError{PluginID: i.ID, Phase: "subscriptions", Err: err}
	}

	for topic, fn := range handlers {
		fn := fn
		sub, err := i.host.bus.Subscribe(topic, func(e event.Event) error {
			i.dispatchEvent(fn, e)
			return nil
		}, event.WithAsync())
		if err != nil {
			i.log.Warn("subscription rejected", "topic", topic, "error", err)
			continue
		}
		i.mu.Lock()
		i.subs = append(i.subs, sub)
		i.mu.Unlock()
	}
	return nil
}

// dispatchEvent runs one event handler on the executor. Errors stay in
// the plugin: logged and counted, invisible to the publisher.
func (i *Instance) dispatchEvent(fn *glua.LFunction, e event.Event) {
	payload := map[string]any{
		"id":     e.ID,
		"topic":  string(e.Topic),
		"source": e.Source,
		"data":   e.Data,
	}
	err := i.exec.ExecuteAsync(func(L *glua.LState) error {
		res, err := lua.CallFunc(L, fn, payload)
		if err != nil {
			i.log.Warn("event handler failed", "topic", e.Topic, "error", err)
			i.metrics.RecordError(fmt.Sprintf("event handler %s: %v", e.Topic, err))
			return nil
		}
		if len(res) >= 2 && res[0] == nil {
			if msg, ok := res[1].(string); ok && msg != "" {
				i.log.Warn("event handler failed", "topic", e.Topic, "error", msg)
				i.metrics.RecordError(fmt.Sprintf("event handler %s: %s", e.Topic, msg))
			}
		}
		return nil
	})
	if err != nil {
		i.log.Warn("event handler dropped", "topic", e.Topic, "error", err)
		i.metrics.RecordError(fmt.Sprintf("event handler %s dropped: %v", e.Topic, err))
	}
}

// DropSubscriptions cancels the instance's bus subscriptions.
func (i *Instance) DropSubscriptions() {
	i.mu.Lock()
	subs := i.subs
	i.subs = nil
	i.mu.Unlock()

	for _, sub := range subs {
		if err := i.host.bus.Unsubscribe(sub); err != nil {
			sub.Cancel()
		}
	}
}

// Health reports the instance's status, merging the plugin's optional
// health() result. Status is "degraded" past the recent-error threshold.
func (i *Instance) Health(ctx context.Context) map[string]any {
	usage := i.state.Monitor().Usage()

	status := "ok"
	if !i.metrics.Healthy() || usage.Exceeded {
		status = "degraded"
	}
	out := map[string]any{
		"status": status,
		"state":  i.State().String(),
		"resources": map[string]any{
			"instructions": usage.InstructionCount,
			"memory_bytes": usage.MemoryUsage,
			"disk_bytes":   usage.DiskUsage,
		},
	}
	if usage.Exceeded {
		out["limit_exceeded"] = usage.ExceededReason
	}

	if i.hasHook(ctx, "health") {
		_ = i.exec.Execute(ctx, func(_ *glua.LState) error {
			res, err := i.state.CallGlobal("health")
			if err != nil {
				i.log.Warn("health() failed", "error", err)
				return nil
			}
			if len(res) > 0 {
				if m, ok := lua.ToGo(res[0]).(map[string]any); ok {
					out["plugin"] = m
				}
			}
			return nil
		})
	}
	return out
}

// NotifyConfigChanged calls the optional config_changed hook.
func (i *Instance) NotifyConfigChanged(ctx context.Context) {
	if !i.hasHook(ctx, "config_changed") {
		return
	}
	if err := i.CallHook(ctx, "config_changed"); err != nil {
		i.log.Warn("config_changed failed", "error", err)
		i.metrics.RecordError(err.Error())
	}
}

// Close tears down the instance: subscriptions, executor, then the Lua
// state. Idempotent.
func (i *Instance) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.mu.Unlock()

	i.DropSubscriptions()
	i.exec.Close()
	i.cancel()
	if err := i.state.Close(); err != nil && !errors.Is(err, lua.ErrStateClosed) {
		i.log.Warn("closing sandbox", "error", err)
	}
}
