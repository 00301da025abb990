package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/toolhost/internal/event"
	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/plugin/security"
)

// Manager owns the plugin lifecycle state machine. Lifecycle calls on
// the same plugin serialize on a per-ID mutex, so concurrent Load and
// Unload of one plugin cannot interleave; different plugins proceed in
// parallel.
type Manager struct {
	log      *logging.Logger
	loader   *Loader
	host     *Host
	registry *Registry
	policy   security.GrantPolicy
	bus      *event.Bus

	mu        sync.Mutex
	instances map[string]*Instance
	locks     map[string]*sync.Mutex
	loadOrder []string
	closed    bool
}

// ManagerConfig wires a Manager's collaborators.
type ManagerConfig struct {
	Log      *logging.Logger
	Loader   *Loader
	Host     *Host
	Registry *Registry
	Policy   security.GrantPolicy
	Bus      *event.Bus
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Log
	if log == nil {
		log = logging.Null
	}
	policy := cfg.Policy
	if policy == nil {
		policy = security.DefaultPolicy()
	}
	return &Manager{
		log:       log.WithComponent("manager"),
		loader:    cfg.Loader,
		host:      cfg.Host,
		registry:  cfg.Registry,
		policy:    policy,
		bus:       cfg.Bus,
		instances: make(map[string]*Instance),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-plugin lifecycle mutex, creating it on first
// use. Lock entries are kept for the manager's lifetime.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) instance(id string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[id]
}

// Discover scans the plugin root, records each plugin in the registry,
// and announces the sightings.
func (m *Manager) Discover() []*Info {
	found := m.loader.Discover()
	for _, info := range found {
		if info.Err != nil {
			continue
		}
		if err := m.registry.MarkDiscovered(info.ID, info.Manifest.Version, info.Path); err != nil {
			m.log.Warn("registry write failed", "plugin", info.ID, "error", err)
		}
		m.emit(event.TopicPluginDiscovered, info.ID, map[string]any{
			"version": info.Manifest.Version,
			"path":    info.Path,
		})
	}
	return found
}

// Load locates, validates, and instantiates a plugin, runs on_load, and
// persists the transition. Loading an already-loaded plugin warns and
// returns nil.
func (m *Manager) Load(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.load(ctx, id)
}

// load does the work of Load. Callers hold the plugin's lifecycle lock.
func (m *Manager) load(ctx context.Context, id string) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	if m.instance(id) != nil {
		m.log.Warn("plugin already loaded", "plugin", id)
		return nil
	}

	info, err := m.loader.Find(id)
	if err != nil {
		return fmt.Errorf("plugin %q: %w", id, err)
	}
	if info.Err != nil {
		return info.Err
	}

	for dep, rng := range info.Manifest.Dependencies {
		depInst := m.instance(dep)
		if depInst == nil {
			return &LifecycleError{PluginID: id, Op: "load",
				Err: fmt.Errorf("dependency %q not loaded", dep)}
		}
		if !satisfiesRange(depInst.Manifest.Version, rng) {
			return &LifecycleError{PluginID: id, Op: "load",
				Err: fmt.Errorf("dependency %q version %s does not satisfy %q",
					dep, depInst.Manifest.Version, rng)}
		}
	}

	if missing := m.policy.Missing(id, info.Manifest.Permissions); len(missing) > 0 {
		return &security.PermissionError{PluginID: id, Missing: missing}
	}

	inst, err := m.host.Instantiate(ctx, info)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := inst.CallHook(ctx, "on_load"); err != nil {
		inst.Close()
		return err
	}
	inst.metrics.SetLoadTime(time.Since(start))

	m.mu.Lock()
	m.instances[id] = inst
	m.loadOrder = append(m.loadOrder, id)
	m.mu.Unlock()

	if err := m.registry.MarkLoaded(id, info.Manifest.Version); err != nil {
		m.log.Warn("registry write failed", "plugin", id, "error", err)
	}
	m.log.Info("plugin loaded", "plugin", id, "version", info.Manifest.Version)
	m.emit(event.TopicPluginLoaded, id, map[string]any{"version": info.Manifest.Version})
	return nil
}

// Enable activates a loaded plugin: on_enable, then tool registration
// and event subscriptions. All or nothing: a failure rolls back anything
// already registered. Enabling an enabled plugin warns and returns nil.
func (m *Manager) Enable(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.enable(ctx, id)
}

func (m *Manager) enable(ctx context.Context, id string) error {
	inst := m.instance(id)
	if inst == nil {
		return &LifecycleError{PluginID: id, Op: "enable", Err: ErrNotLoaded}
	}
	if inst.State() == StateEnabled {
		m.log.Warn("plugin already enabled", "plugin", id)
		return nil
	}

	if err := inst.CallHook(ctx, "on_enable"); err != nil {
		return err
	}

	tools, err := inst.HarvestTools(ctx)
	if err != nil {
		m.rollbackEnable(ctx, inst, nil)
		return err
	}
	if len(tools) > 0 {
		if err := inst.checker.Check(security.PermToolsRegister); err != nil {
			m.rollbackEnable(ctx, inst, nil)
			return err
		}
	}

	var registered []string
	for _, t := range tools {
		qualified, err := m.host.tools.Register(id, t)
		if err != nil {
			m.rollbackEnable(ctx, inst, registered)
			return &LifecycleError{PluginID: id, Op: "enable", Err: err}
		}
		registered = append(registered, qualified)
	}

	if err := inst.WireSubscriptions(ctx); err != nil {
		m.rollbackEnable(ctx, inst, registered)
		return err
	}

	inst.mu.Lock()
	inst.toolNames = registered
	inst.mu.Unlock()
	inst.setState(StateEnabled)

	if err := m.registry.MarkEnabled(id); err != nil {
		m.log.Warn("registry write failed", "plugin", id, "error", err)
	}
	m.log.Info("plugin enabled", "plugin", id, "tools", len(registered))
	m.emit(event.TopicPluginEnabled, id, map[string]any{"tools": registered})
	for _, qualified := range registered {
		m.emit(event.TopicToolRegistered, id, map[string]any{"tool": qualified})
	}
	return nil
}

// rollbackEnable unwinds a partial enable.
func (m *Manager) rollbackEnable(ctx context.Context, inst *Instance, registered []string) {
	for _, qualified := range registered {
		if err := m.host.tools.Unregister(qualified); err != nil {
			m.log.Warn("rollback unregister failed", "tool", qualified, "error", err)
		}
	}
	inst.DropSubscriptions()
	if err := inst.CallHook(ctx, "on_disable"); err != nil {
		m.log.Warn("on_disable during rollback failed", "plugin", inst.ID, "error", err)
	}
}

// Disable deactivates an enabled plugin: subscriptions dropped, tools
// removed from the host table, then on_disable. Disabling a plugin that
// is loaded but not enabled warns and returns nil.
func (m *Manager) Disable(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.disable(ctx, id)
}

func (m *Manager) disable(ctx context.Context, id string) error {
	inst := m.instance(id)
	if inst == nil {
		return &LifecycleError{PluginID: id, Op: "disable", Err: ErrNotLoaded}
	}
	if inst.State() != StateEnabled {
		m.log.Warn("plugin not enabled", "plugin", id)
		return nil
	}

	// on_disable runs first, while the plugin's tools and subscriptions
	// are still live. A failing hook never blocks the teardown.
	hookErr := inst.CallHook(ctx, "on_disable")
	if hookErr != nil {
		m.log.Warn("on_disable failed", "plugin", id, "error", hookErr)
		inst.metrics.RecordError(hookErr.Error())
	}

	inst.DropSubscriptions()
	removed := m.host.tools.UnregisterPlugin(id)

	inst.mu.Lock()
	inst.toolNames = nil
	inst.mu.Unlock()
	inst.setState(StateLoaded)

	if err := m.registry.MarkDisabled(id); err != nil {
		m.log.Warn("registry write failed", "plugin", id, "error", err)
	}
	m.log.Info("plugin disabled", "plugin", id, "tools_removed", len(removed))
	m.emit(event.TopicPluginDisabled, id, nil)
	return hookErr
}

// Unload tears a plugin down, cascading through disable when it is
// enabled. The registry entry is kept. Unloading a plugin that is not
// loaded warns and returns nil.
func (m *Manager) Unload(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.unload(ctx, id)
}

func (m *Manager) unload(ctx context.Context, id string) error {
	inst := m.instance(id)
	if inst == nil {
		m.log.Warn("plugin not loaded", "plugin", id)
		return nil
	}

	if inst.State() == StateEnabled {
		if err := m.disable(ctx, id); err != nil {
			m.log.Warn("disable during unload failed", "plugin", id, "error", err)
		}
	}

	if err := inst.CallHook(ctx, "on_unload"); err != nil {
		m.log.Warn("on_unload failed", "plugin", id, "error", err)
	}
	inst.Close()

	m.mu.Lock()
	delete(m.instances, id)
	for idx, loaded := range m.loadOrder {
		if loaded == id {
			m.loadOrder = append(m.loadOrder[:idx], m.loadOrder[idx+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if err := m.registry.MarkUnloaded(id); err != nil {
		m.log.Warn("registry write failed", "plugin", id, "error", err)
	}
	m.log.Info("plugin unloaded", "plugin", id)
	m.emit(event.TopicPluginUnloaded, id, nil)
	return nil
}

// Reload unloads and reloads a plugin from a fresh discovery pass,
// restoring enablement if the plugin was enabled. Not crash-atomic: a
// reload that fails to load leaves the plugin unloaded.
func (m *Manager) Reload(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	wasEnabled := false
	if inst := m.instance(id); inst != nil {
		wasEnabled = inst.State() == StateEnabled
		if err := m.unload(ctx, id); err != nil {
			return err
		}
	}

	if err := m.load(ctx, id); err != nil {
		return err
	}
	if wasEnabled {
		if err := m.enable(ctx, id); err != nil {
			return err
		}
	}
	m.log.Info("plugin reloaded", "plugin", id, "enabled", wasEnabled)
	return nil
}

// Get returns a loaded plugin's instance.
func (m *Manager) Get(id string) (*Instance, bool) {
	inst := m.instance(id)
	return inst, inst != nil
}

// StateOf returns a plugin's current lifecycle state. Plugins that are
// discovered or registered but not live are unloaded.
func (m *Manager) StateOf(id string) State {
	if inst := m.instance(id); inst != nil {
		return inst.State()
	}
	return StateUnloaded
}

// Status is one row of the management listing.
type Status struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	State   string `json:"state"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// List merges discovery, live instances, and persisted history into one
// listing. Registered plugins whose files are gone still appear, as
// unloaded.
func (m *Manager) List() []Status {
	byID := make(map[string]*Status)

	for _, info := range m.loader.Discover() {
		s := &Status{ID: info.ID, Path: info.Path, State: StateUnloaded.String()}
		if info.Manifest != nil {
			s.Name = info.Manifest.Name
			s.Version = info.Manifest.Version
		}
		if info.Err != nil {
			s.Error = info.Err.Error()
		}
		byID[info.ID] = s
	}

	for id, entry := range m.registry.All() {
		if _, seen := byID[id]; !seen {
			byID[id] = &Status{ID: id, Version: entry.Version, State: StateUnloaded.String()}
		}
	}

	m.mu.Lock()
	for id, inst := range m.instances {
		s, seen := byID[id]
		if !seen {
			s = &Status{ID: id}
			byID[id] = s
		}
		s.State = inst.State().String()
		s.Name = inst.Manifest.Name
		s.Version = inst.Manifest.Version
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// ExecuteTool runs a qualified tool through the host tool table.
func (m *Manager) ExecuteTool(ctx context.Context, qualified string, params map[string]any) (any, error) {
	return m.host.tools.Execute(ctx, qualified, params)
}

// ToolNames lists every registered qualified tool name.
func (m *Manager) ToolNames() []string {
	return m.host.tools.Names()
}

// Shutdown unloads every plugin in reverse load order.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	order := append([]string(nil), m.loadOrder...)
	m.closed = true
	m.mu.Unlock()

	for idx := len(order) - 1; idx >= 0; idx-- {
		id := order[idx]
		lock := m.lockFor(id)
		lock.Lock()
		if err := m.unload(ctx, id); err != nil {
			m.log.Warn("unload during shutdown failed", "plugin", id, "error", err)
		}
		lock.Unlock()
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// emit publishes a lifecycle event; delivery failures are not the
// lifecycle's problem.
func (m *Manager) emit(topic event.Topic, pluginID string, data map[string]any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(event.New(topic, pluginID, data)); err != nil {
		m.log.Debug("event dropped", "topic", topic, "error", err)
	}
}
