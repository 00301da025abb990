package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/toolhost/internal/logging"
)

// DefaultDebounce batches rapid file changes into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads loaded plugins when their files change. Changes are
// debounced per plugin so an editor save burst triggers one reload.
// Reload is not crash-atomic: a plugin whose new code fails to load
// stays unloaded.
type Watcher struct {
	manager  *Manager
	log      *logging.Logger
	root     string
	debounce time.Duration

	fs     *fsnotify.Watcher
	mu     sync.Mutex
	timers map[string]*time.Timer
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher over the manager's plugin root.
func NewWatcher(manager *Manager, log *logging.Logger, debounce time.Duration) *Watcher {
	if log == nil {
		log = logging.Null
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		manager:  manager,
		log:      log.WithComponent("watcher"),
		root:     manager.loader.Root(),
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}
}

// Start begins watching the plugin root and its immediate plugin
// directories.
func (w *Watcher) Start(ctx context.Context) error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fs = fs

	if err := fs.Add(w.root); err != nil {
		fs.Close()
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := fs.Add(filepath.Join(w.root, entry.Name())); err != nil {
					w.log.Warn("watch failed", "dir", entry.Name(), "error", err)
				}
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx)
	return nil
}

// Stop ends watching and flushes pending timers.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done

	w.mu.Lock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
	w.fs.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New plugin directories get watched as they appear.
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.fs.Add(ev.Name); err != nil {
				w.log.Warn("watch failed", "dir", ev.Name, "error", err)
			}
		}
	}

	id := w.pluginID(ev.Name)
	if id == "" {
		return
	}
	if _, loaded := w.manager.Get(id); !loaded {
		return
	}
	w.schedule(ctx, id)
}

// pluginID maps a changed path to the plugin it belongs to: the first
// path element under the root, with a .lua suffix stripped for
// single-file plugins.
func (w *Watcher) pluginID(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	first := rel
	if i := strings.IndexByte(rel, filepath.Separator); i >= 0 {
		first = rel[:i]
	}
	return strings.TrimSuffix(first, ".lua")
}

// schedule arms (or re-arms) the plugin's debounce timer.
func (w *Watcher) schedule(ctx context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[id]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, id)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.log.Info("change detected, reloading", "plugin", id)
		if err := w.manager.Reload(ctx, id); err != nil {
			w.log.Error("reload failed", "plugin", id, "error", err)
		}
	})
}
