package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/event"
	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/plugin/api"
	"github.com/dshills/toolhost/internal/plugin/lua"
	"github.com/dshills/toolhost/internal/plugin/security"
	"github.com/dshills/toolhost/internal/service"
	"github.com/dshills/toolhost/internal/tool"
)

// Host builds plugin instances: per-plugin sandbox, executor, host API
// injection, and service wiring. It owns no lifecycle policy; the
// Manager decides when instances come and go.
type Host struct {
	log    *logging.Logger
	bus    *event.Bus
	cache  *service.Cache
	store  *service.KV
	cfgs   *service.KV
	broker *service.Broker
	tools  *tool.Registry

	baseLimits  security.ResourceLimits
	storageRoot string
}

// HostConfig wires a Host's collaborators. Nil services leave the
// corresponding host API module uninjected.
type HostConfig struct {
	Log    *logging.Logger
	Bus    *event.Bus
	Cache  *service.Cache
	Store  *service.KV
	Ceil   security.ResourceLimits
	Cfgs   *service.KV
	Broker *service.Broker
	Tools  *tool.Registry

	// StorageRoot holds per-plugin file sandboxes under files/<id>.
	StorageRoot string
}

// NewHost creates a Host.
func NewHost(cfg HostConfig) *Host {
	log := cfg.Log
	if log == nil {
		log = logging.Null
	}
	tools := cfg.Tools
	if tools == nil {
		tools = tool.NewRegistry()
	}
	return &Host{
		log:         log,
		bus:         cfg.Bus,
		cache:       cfg.Cache,
		store:       cfg.Store,
		cfgs:        cfg.Cfgs,
		broker:      cfg.Broker,
		tools:       tools,
		baseLimits:  cfg.Ceil,
		storageRoot: cfg.StorageRoot,
	}
}

// Tools returns the host-wide tool table.
func (h *Host) Tools() *tool.Registry {
	return h.tools
}

// Instantiate builds a live sandbox for a discovered plugin: state,
// executor, file root, and host API, then evaluates the entry script and
// verifies the lifecycle contract. The returned instance is in the
// loaded state but on_load has not run yet.
func (h *Host) Instantiate(ctx context.Context, info *Info) (*Instance, error) {
	m := info.Manifest
	if m == nil {
		return nil, fmt.Errorf("plugin %q has no manifest: %w", info.ID, ErrPluginNotFound)
	}

	checker := security.NewChecker(m.ID)
	checker.GrantAll(m.Permissions)

	limits := m.Resources.Apply(h.baseLimits)
	state := lua.NewState(limits, checker)

	dataDir := filepath.Join(h.storageRoot, "files", m.ID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		state.Close()
		return nil, fmt.Errorf("creating plugin data dir: %w", err)
	}
	state.Sandbox().SetRoot(dataDir)

	execCtx, cancel := context.WithCancel(context.Background())
	exec := lua.NewExecutor(state.LuaState(), 0)
	go exec.Run(execCtx)

	inst := &Instance{
		ID:       m.ID,
		Manifest: m,
		info:     info,
		state:    state,
		exec:     exec,
		cancel:   cancel,
		checker:  checker,
		metrics:  NewMetrics(),
		log:      h.log.WithPlugin(m.ID),
		dataDir:  dataDir,
		host:     h,
		st:       StateLoaded,
	}

	if h.cfgs != nil {
		inst.config = &pluginConfig{
			kv:       h.cfgs,
			ns:       m.ID,
			defaults: m.ConfigDefaults(),
		}
	}

	if err := h.inject(ctx, inst); err != nil {
		inst.Close()
		return nil, err
	}

	if err := inst.eval(ctx, m.MainPath()); err != nil {
		inst.Close()
		return nil, &ExecError{PluginID: m.ID, Phase: "evaluate", Err: err}
	}

	if err := inst.checkContract(ctx); err != nil {
		inst.Close()
		return nil, err
	}
	return inst, nil
}

// inject installs the host API modules the plugin's grants allow.
func (h *Host) inject(ctx context.Context, inst *Instance) error {
	apiCtx := &api.Context{
		Log:     h.log,
		Checker: inst.checker,
		Cache:   h.cache,
		Store:   h.store,
		Broker:  h.broker,
		Metrics: inst.metrics,
		Tools:   &toolFacade{reg: h.tools, selfID: inst.ID},
	}
	if h.bus != nil {
		apiCtx.Events = h.bus
	}
	if inst.config != nil {
		apiCtx.Config = inst.config
	}
	if inst.checker.Has(security.PermNetworkHTTP) {
		apiCtx.HTTP = service.NewHTTPClient(inst.state.Monitor())
	}

	reg, err := api.DefaultRegistry(apiCtx, inst.ID)
	if err != nil {
		return err
	}
	return inst.exec.Execute(ctx, func(L *glua.LState) error {
		return reg.InjectAll(L, inst.checker)
	})
}

// toolFacade adapts the host tool table to the plugin API. A plugin
// calling one of its own tools would deadlock its executor, so self
// calls are refused.
type toolFacade struct {
	reg    *tool.Registry
	selfID string
}

func (f *toolFacade) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	if owner, _, ok := tool.SplitQualified(name); ok && owner == f.selfID {
		return nil, fmt.Errorf("plugin %q cannot call its own tool %q", f.selfID, name)
	}
	return f.reg.Execute(ctx, name, params)
}

func (f *toolFacade) Names() []string {
	return f.reg.Names()
}

// pluginConfig persists one plugin's configuration as a JSON document in
// the config store. Manifest-declared defaults answer reads for keys
// never written.
type pluginConfig struct {
	kv       *service.KV
	ns       string
	defaults map[string]any
}

// Get implements api.ConfigProvider.
func (c *pluginConfig) Get(path string) (any, bool) {
	v, ok, err := c.kv.Get(c.ns, path)
	if err == nil && ok {
		return v, true
	}
	if d, ok := c.defaults[path]; ok {
		return d, true
	}
	return nil, false
}

// Set implements api.ConfigProvider.
func (c *pluginConfig) Set(path string, value any) error {
	return c.kv.Set(c.ns, path, value)
}

// All implements api.ConfigProvider.
func (c *pluginConfig) All() map[string]any {
	out := make(map[string]any, len(c.defaults))
	for k, v := range c.defaults {
		out[k] = v
	}

	doc, err := c.kv.Document(c.ns)
	if err != nil {
		return out
	}
	if m, ok := gjson.Parse(doc).Value().(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
