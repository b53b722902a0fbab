package modforge

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/sjson"
)

const (
	descriptorCacheSize = 256
	descriptorCacheTTL  = 30 * time.Second
	buildHistorySize    = 50
)

// BuildResult is one completed build pass, kept for the dev server's history
// endpoint and log correlation.
type BuildResult struct {
	ID       string        `json:"id"`
	Plugin   string        `json:"plugin,omitempty"`
	Full     bool          `json:"full"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Builder runs the pipeline: scan, resolve, compile, render manifest, move to
// the live resource root. It owns the catalog and the descriptor cache.
type Builder struct {
	cfg      *Config
	scanner  *Scanner
	compiler *Compiler
	mover    *Mover

	mu      sync.Mutex
	catalog *Catalog

	historyMu sync.Mutex
	history   []BuildResult
}

func NewBuilder(cfg *Config) *Builder {
	cache := expirable.NewLRU[string, *Descriptor](descriptorCacheSize, nil, descriptorCacheTTL)
	return &Builder{
		cfg:      cfg,
		scanner:  NewScanner(cfg.PluginsDir, cache),
		compiler: NewCompiler(cfg.DistDir),
		mover:    NewMover(cfg.DistDir, cfg.LiveResourcesDir()),
	}
}

func (b *Builder) Config() *Config {
	return b.cfg
}

// Catalog returns the current plugin catalog. Nil before the first scan.
func (b *Builder) Catalog() *Catalog {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.catalog
}

// Scan performs a full rescan, replacing the in-memory catalog wholesale.
func (b *Builder) Scan() error {
	catalog, err := b.scanner.Scan()
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.catalog = catalog
	b.mu.Unlock()
	return nil
}

// BuildAll is the full rebuild: clean staging, rescan, build every plugin,
// then relocate the whole staging tree. Plugin-scoped failures are logged and
// skipped unless stop-on-error is set.
func (b *Builder) BuildAll() error {
	started := time.Now()
	id := uuid.NewString()
	if !b.cfg.NoClean {
		if err := os.RemoveAll(b.cfg.DistDir); err != nil {
			return fmt.Errorf("clean staging dir: %w", err)
		}
	}
	if err := b.Scan(); err != nil {
		b.record(BuildResult{ID: id, Full: true, Started: started, Duration: time.Since(started), Err: err.Error()})
		return err
	}
	plugins := b.Catalog().Plugins()
	color.Printf("Building <cyan>%d</> plugins\n", len(plugins))
	for _, p := range plugins {
		if err := b.buildPlugin(p); err != nil {
			if b.cfg.StopOnError {
				b.record(BuildResult{ID: id, Full: true, Plugin: p.Name, Started: started, Duration: time.Since(started), Err: err.Error()})
				return fmt.Errorf("build %s: %w", p.Name, err)
			}
			logger.Error("plugin build failed", "plugin", p.Name, "error", err)
		}
	}
	if err := b.mover.Move(); err != nil {
		b.record(BuildResult{ID: id, Full: true, Started: started, Duration: time.Since(started), Err: err.Error()})
		return fmt.Errorf("deploy: %w", err)
	}
	b.record(BuildResult{ID: id, Full: true, Started: started, Duration: time.Since(started)})
	color.Printf("Full build <green>done</> in %s\n", time.Since(started).Round(time.Millisecond))
	return nil
}

// RebuildPlugin is the partial rebuild: one plugin's files are cleared and
// rescanned, that plugin rebuilt, then the whole staging tree is moved
// (simplicity over move-scoping precision).
func (b *Builder) RebuildPlugin(pluginPath string) (*Plugin, error) {
	started := time.Now()
	id := uuid.NewString()
	catalog := b.Catalog()
	if catalog == nil {
		return nil, fmt.Errorf("no catalog; run a full build first")
	}
	p := catalog.Get(pluginPath)
	if p == nil {
		return nil, fmt.Errorf("no plugin at %s", pluginPath)
	}
	logger.Info("rebuilding plugin", "plugin", p.Name, "build", id)
	next, err := b.scanner.RescanPlugin(catalog, p)
	if err != nil {
		b.record(BuildResult{ID: id, Plugin: p.Name, Started: started, Duration: time.Since(started), Err: err.Error()})
		return p, err
	}
	p = next
	if err := b.buildPlugin(p); err != nil {
		b.record(BuildResult{ID: id, Plugin: p.Name, Started: started, Duration: time.Since(started), Err: err.Error()})
		return p, err
	}
	if err := b.mover.Move(); err != nil {
		b.record(BuildResult{ID: id, Plugin: p.Name, Started: started, Duration: time.Since(started), Err: err.Error()})
		return p, fmt.Errorf("deploy: %w", err)
	}
	b.record(BuildResult{ID: id, Plugin: p.Name, Started: started, Duration: time.Since(started)})
	color.Printf("Rebuilt <cyan>%s</> in %s\n", p.Name, time.Since(started).Round(time.Millisecond))
	return p, nil
}

func (b *Builder) buildPlugin(p *Plugin) error {
	scripts := ResolveScripts(p)
	outputs, err := b.compiler.CompilePlugin(p, scripts)
	if err != nil {
		return err
	}
	if b.cfg.StopOnError {
		for _, out := range outputs {
			if out.Err != nil {
				return out.Err
			}
		}
	}
	merged, err := b.mergedConfig(p, scripts)
	if err != nil {
		return err
	}
	manifestPath := filepath.Join(b.compiler.OutputRoot(p), ManifestName)
	return WriteManifest(merged, manifestPath, b.cfg.StopOnError)
}

// mergedConfig folds the resolved script lists and build-owned fields into
// the descriptor's passthrough bag. The result is what the manifest renderer
// sees; passthrough fields ride along untouched.
func (b *Builder) mergedConfig(p *Plugin, scripts *ResolvedScripts) ([]byte, error) {
	desc := p.Descriptor
	if desc == nil {
		desc = DefaultDescriptor(p.DirName())
	}
	merged := desc.Raw()
	var err error
	set := func(key string, value interface{}) {
		if err != nil {
			return
		}
		merged, err = sjson.SetBytes(merged, key, value)
	}
	del := func(key string) {
		if err != nil {
			return
		}
		merged, err = sjson.DeleteBytes(merged, key)
	}

	if desc.FxVersion == "" {
		set("fx_version", "cerulean")
	}
	if len(desc.Games) == 0 {
		set("games", []string{"gta5"})
	}
	for key, list := range map[string][]string{
		"client_scripts": scripts.Client,
		"server_scripts": scripts.Server,
		"shared_scripts": scripts.Shared,
	} {
		if len(list) > 0 {
			set(key, list)
		} else {
			del(key)
		}
	}
	files := append([]string{}, desc.FileList...)
	if p.HasUIEntry {
		set("ui_page", UIPagePath)
		files = append(files, UIPagePath)
	}
	if len(files) > 0 {
		set("files", files)
	}
	if err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}
	return merged, nil
}

func (b *Builder) record(r BuildResult) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.history = append(b.history, r)
	if len(b.history) > buildHistorySize {
		b.history = b.history[len(b.history)-buildHistorySize:]
	}
}

// History returns recent build results, newest last.
func (b *Builder) History() []BuildResult {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	out := make([]BuildResult, len(b.history))
	copy(out, b.history)
	return out
}
