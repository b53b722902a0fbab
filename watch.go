package modforge

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/radovskyb/watcher"
)

// WatchConfig controls the incremental orchestrator. The full-rebuild trigger
// set is configuration, not a hardcoded pattern list: any change matching one
// of FullRebuildGlobs forces a full rebuild, everything else rebuilds only
// the owning plugin.
type WatchConfig struct {
	Debounce         time.Duration
	PollInterval     time.Duration
	FullRebuildGlobs []string
}

func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Debounce:     300 * time.Millisecond,
		PollInterval: 200 * time.Millisecond,
		// A UI entry appearing or changing can alter which plugins declare a
		// UI dependency, a global property the partial path can't patch.
		FullRebuildGlobs: []string{"**/" + UIEntryName},
	}
}

// Reloader is the hot-restart client the orchestrator hands successful
// rebuilds to. Nil disables reloading.
type Reloader interface {
	RestartResource(ctx context.Context, name string) bool
	RestartAll(ctx context.Context) bool
}

// WatchEvent is delivered to build listeners (the dev server) after each
// rebuild attempt.
type WatchEvent struct {
	Type   string `json:"type"`
	Plugin string `json:"plugin,omitempty"`
	Full   bool   `json:"full"`
	Err    string `json:"error,omitempty"`
}

// Orchestrator owns watch mode: an explicit event queue drained by a single
// debounced worker. Rebuilds run to completion on the worker goroutine, so
// two rebuilds of the same plugin can never overlap; events arriving mid-
// rebuild queue up and drain afterwards.
type Orchestrator struct {
	builder *Builder
	reload  Reloader
	cfg     WatchConfig

	events chan string

	listenersMu sync.Mutex
	listeners   []func(WatchEvent)
}

func NewOrchestrator(b *Builder, reload Reloader, cfg WatchConfig) *Orchestrator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultWatchConfig().Debounce
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWatchConfig().PollInterval
	}
	if cfg.FullRebuildGlobs == nil {
		cfg.FullRebuildGlobs = DefaultWatchConfig().FullRebuildGlobs
	}
	return &Orchestrator{
		builder: b,
		reload:  reload,
		cfg:     cfg,
		events:  make(chan string, 256),
	}
}

// OnBuild registers a listener for rebuild outcomes.
func (o *Orchestrator) OnBuild(fn func(WatchEvent)) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Notify enqueues a changed path. This is the watcher's entry point and also
// how tests inject synthetic events without filesystem timing.
func (o *Orchestrator) Notify(path string) {
	select {
	case o.events <- path:
	default:
		logger.Warn("event queue full, dropping change event", "path", path)
	}
}

// Run starts the filesystem watcher and the worker loop, blocking until the
// context is cancelled. Watch mode never exits on its own.
func (o *Orchestrator) Run(ctx context.Context) error {
	w := watcher.New()
	w.FilterOps(watcher.Create, watcher.Write, watcher.Remove, watcher.Rename, watcher.Move)
	if err := w.AddRecursive(o.builder.Config().PluginsDir); err != nil {
		return err
	}

	go o.Work(ctx)
	go func() {
		for {
			select {
			case ev := <-w.Event:
				if ev.FileInfo != nil && ev.IsDir() {
					continue
				}
				o.Notify(ev.Path)
			case err := <-w.Error:
				logger.Warn("watcher error", "error", err)
			case <-w.Closed:
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		w.Close()
	}()

	logger.Info("watching for changes", "dir", o.builder.Config().PluginsDir)
	return w.Start(o.cfg.PollInterval)
}

// Work is the single consumer. Rapid events for the same plugin coalesce in
// the pending set until the debounce window closes; then the batch builds
// synchronously. Exported so tests can drive it with Notify directly.
func (o *Orchestrator) Work(ctx context.Context) {
	pending := map[string]struct{}{}
	full := false
	timer := time.NewTimer(o.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return
		case path := <-o.events:
			o.classify(path, &full, pending)
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(o.cfg.Debounce)
			armed = true
		case <-timer.C:
			armed = false
			if !full && len(pending) == 0 {
				continue
			}
			runFull := full
			batch := pending
			full = false
			pending = map[string]struct{}{}
			o.runBuilds(ctx, runFull, batch)
		}
	}
}

// classify marks a change as a full-rebuild trigger or resolves its owning
// plugin by longest path prefix. An unowned event is logged and dropped; it
// must never crash the watcher.
func (o *Orchestrator) classify(path string, full *bool, pending map[string]struct{}) {
	rel, err := filepath.Rel(o.builder.Config().PluginsDir, path)
	if err == nil {
		rel = filepath.ToSlash(rel)
		for _, glob := range o.cfg.FullRebuildGlobs {
			if ok, _ := doublestar.Match(glob, rel); ok {
				*full = true
				return
			}
		}
	}
	catalog := o.builder.Catalog()
	if catalog == nil {
		*full = true
		return
	}
	owner := catalog.Owner(path)
	if owner == nil {
		logger.Debug("change outside any plugin, ignored", "path", path)
		return
	}
	pending[owner.Path] = struct{}{}
}

func (o *Orchestrator) runBuilds(ctx context.Context, full bool, batch map[string]struct{}) {
	if full {
		err := o.builder.BuildAll()
		ev := WatchEvent{Type: "build", Full: true}
		if err != nil {
			logger.Error("full rebuild failed", "error", err)
			ev.Err = err.Error()
		} else if o.reload != nil {
			o.reload.RestartAll(ctx)
		}
		o.emit(ev)
		return
	}
	for path := range batch {
		p, err := o.builder.RebuildPlugin(path)
		ev := WatchEvent{Type: "build"}
		if p != nil {
			ev.Plugin = p.Name
		}
		if err != nil {
			logger.Error("partial rebuild failed", "path", path, "error", err)
			ev.Err = err.Error()
			o.emit(ev)
			continue
		}
		if o.reload != nil && !o.reload.RestartResource(ctx, p.DirName()) {
			logger.Warn("resource reload failed", "resource", p.DirName())
		}
		o.emit(ev)
	}
}

func (o *Orchestrator) emit(ev WatchEvent) {
	o.listenersMu.Lock()
	listeners := make([]func(WatchEvent), len(o.listeners))
	copy(listeners, o.listeners)
	o.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
