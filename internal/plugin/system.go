package plugin

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dshills/toolhost/internal/config"
	"github.com/dshills/toolhost/internal/event"
	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/service"
	"github.com/dshills/toolhost/internal/tool"
)

// queueCapacity bounds each named in-process queue.
const queueCapacity = 128

// System assembles the whole plugin host from configuration: logger,
// event bus, shared services, loader, registry, manager, and the
// optional file watcher.
type System struct {
	cfg     *config.Config
	log     *logging.Logger
	bus     *event.Bus
	cache   *service.Cache
	broker  *service.Broker
	manager *Manager
	watcher *Watcher
}

// NewSystem builds a System from host configuration.
func NewSystem(cfg *config.Config) (*System, error) {
	log := logging.New(cfg.LoggerConfig())
	bus := event.NewBus()

	store, err := service.NewKV(filepath.Join(cfg.StorageDir(), "kv"))
	if err != nil {
		return nil, fmt.Errorf("opening data store: %w", err)
	}
	cfgs, err := service.NewKV(filepath.Join(cfg.StorageDir(), "config"))
	if err != nil {
		return nil, fmt.Errorf("opening config store: %w", err)
	}
	registry, err := OpenRegistry(cfg.Registry())
	if err != nil {
		return nil, err
	}

	cache := service.NewCache()
	broker := service.NewBroker(queueCapacity)

	host := NewHost(HostConfig{
		Log:         log,
		Bus:         bus,
		Cache:       cache,
		Store:       store,
		Cfgs:        cfgs,
		Broker:      broker,
		Tools:       tool.NewRegistry(),
		Ceil:        cfg.ResourceLimits(),
		StorageRoot: cfg.StorageDir(),
	})

	manager := NewManager(ManagerConfig{
		Log:      log,
		Loader:   NewLoader(cfg.PluginDir, log),
		Host:     host,
		Registry: registry,
		Policy:   cfg.GrantPolicy(),
		Bus:      bus,
	})

	s := &System{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		cache:   cache,
		broker:  broker,
		manager: manager,
	}
	if cfg.Watch {
		s.watcher = NewWatcher(manager, log, 0)
	}
	return s, nil
}

// Log returns the host logger.
func (s *System) Log() *logging.Logger {
	return s.log
}

// Bus returns the host event bus.
func (s *System) Bus() *event.Bus {
	return s.bus
}

// Manager returns the plugin manager.
func (s *System) Manager() *Manager {
	return s.manager
}

// Start brings the host up: bus, startup event, discovery, and the
// watcher when configured. Plugins are not loaded automatically;
// loading and enabling are explicit.
func (s *System) Start(ctx context.Context) error {
	if err := s.bus.Start(); err != nil {
		return err
	}
	if err := s.bus.Publish(event.New(event.TopicSystemStartup, "host", nil)); err != nil {
		s.log.Debug("startup event dropped", "error", err)
	}

	found := s.manager.Discover()
	s.log.Info("host started", "plugin_dir", s.cfg.PluginDir, "discovered", len(found))

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.log.Warn("watcher disabled", "error", err)
			s.watcher = nil
		}
	}
	return nil
}

// Stop shuts the host down: plugins unloaded in reverse load order,
// shutdown event, then the bus and services.
func (s *System) Stop(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}

	s.manager.Shutdown(ctx)

	if err := s.bus.Publish(event.New(event.TopicSystemShutdown, "host", nil)); err != nil {
		s.log.Debug("shutdown event dropped", "error", err)
	}
	err := s.bus.Stop(ctx)

	s.cache.Close()
	s.broker.Close()
	s.log.Info("host stopped")
	return err
}
