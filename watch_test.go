package modforge

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReloader struct {
	mu       sync.Mutex
	restarts []string
	alls     int
	ok       bool
}

func (f *fakeReloader) RestartResource(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, name)
	return f.ok
}

func (f *fakeReloader) RestartAll(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alls++
	return f.ok
}

func watchFixture(t *testing.T) (*Config, *Builder) {
	t.Helper()
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.PluginsDir, "a", "plugin.json"), `{"name":"a","client_scripts":["client/*.ts"]}`)
	writeFile(t, filepath.Join(cfg.PluginsDir, "a", "client", "main.ts"), `export const v = 1;`)
	writeFile(t, filepath.Join(cfg.PluginsDir, "b", "plugin.json"), `{"name":"b","client_scripts":["client/*.ts"]}`)
	writeFile(t, filepath.Join(cfg.PluginsDir, "b", "client", "main.ts"), `export const v = 1;`)
	b := NewBuilder(cfg)
	require.NoError(t, b.BuildAll())
	return cfg, b
}

func startWorker(t *testing.T, o *Orchestrator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go o.Work(ctx)
	return cancel
}

// Five rapid events for the same plugin inside the debounce window coalesce
// into exactly one rebuild.
func TestDebounceCoalescing(t *testing.T) {
	cfg, b := watchFixture(t)
	o := NewOrchestrator(b, nil, WatchConfig{Debounce: 50 * time.Millisecond})
	cancel := startWorker(t, o)
	defer cancel()

	target := filepath.Join(cfg.PluginsDir, "a", "client", "main.ts")
	for i := 0; i < 5; i++ {
		o.Notify(target)
	}
	time.Sleep(500 * time.Millisecond)

	history := b.History()
	require.Len(t, history, 2) // initial full build + one partial
	assert.Equal(t, "a", history[1].Plugin)
	assert.False(t, history[1].Full)
}

func TestUIEntryChangeForcesFullRebuild(t *testing.T) {
	cfg, b := watchFixture(t)
	o := NewOrchestrator(b, nil, WatchConfig{Debounce: 50 * time.Millisecond})
	cancel := startWorker(t, o)
	defer cancel()

	o.Notify(filepath.Join(cfg.PluginsDir, "a", "client", UIEntryName))
	time.Sleep(500 * time.Millisecond)

	history := b.History()
	require.Len(t, history, 2)
	assert.True(t, history[1].Full)
}

func TestUnownedEventIsIgnored(t *testing.T) {
	cfg, b := watchFixture(t)
	o := NewOrchestrator(b, nil, WatchConfig{Debounce: 50 * time.Millisecond})
	cancel := startWorker(t, o)
	defer cancel()

	o.Notify(filepath.Join(cfg.PluginsDir, "stray.txt"))
	time.Sleep(300 * time.Millisecond)

	assert.Len(t, b.History(), 1) // only the initial full build
}

func TestEventsForTwoPluginsRebuildBoth(t *testing.T) {
	cfg, b := watchFixture(t)
	o := NewOrchestrator(b, nil, WatchConfig{Debounce: 50 * time.Millisecond})
	cancel := startWorker(t, o)
	defer cancel()

	o.Notify(filepath.Join(cfg.PluginsDir, "a", "client", "main.ts"))
	o.Notify(filepath.Join(cfg.PluginsDir, "b", "client", "main.ts"))
	time.Sleep(800 * time.Millisecond)

	history := b.History()
	require.Len(t, history, 3)
	rebuilt := map[string]bool{history[1].Plugin: true, history[2].Plugin: true}
	assert.True(t, rebuilt["a"] && rebuilt["b"])
}

func TestSuccessfulPartialRebuildTriggersReload(t *testing.T) {
	cfg, b := watchFixture(t)
	reload := &fakeReloader{ok: true}
	o := NewOrchestrator(b, reload, WatchConfig{Debounce: 50 * time.Millisecond})
	cancel := startWorker(t, o)
	defer cancel()

	o.Notify(filepath.Join(cfg.PluginsDir, "a", "client", "main.ts"))
	time.Sleep(500 * time.Millisecond)

	reload.mu.Lock()
	defer reload.mu.Unlock()
	assert.Equal(t, []string{"a"}, reload.restarts)
	assert.Zero(t, reload.alls)
}

func TestBuildListenersReceiveEvents(t *testing.T) {
	cfg, b := watchFixture(t)
	o := NewOrchestrator(b, nil, WatchConfig{Debounce: 50 * time.Millisecond})

	var mu sync.Mutex
	var events []WatchEvent
	o.OnBuild(func(ev WatchEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	cancel := startWorker(t, o)
	defer cancel()

	o.Notify(filepath.Join(cfg.PluginsDir, "a", "client", "main.ts"))
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "build", events[0].Type)
	assert.Equal(t, "a", events[0].Plugin)
	assert.Empty(t, events[0].Err)
}

func TestDefaultWatchConfig(t *testing.T) {
	cfg := DefaultWatchConfig()
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce)
	assert.Equal(t, []string{"**/" + UIEntryName}, cfg.FullRebuildGlobs)
}
