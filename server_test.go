package modforge

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevServerPlugins(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.PluginsDir, "foo", "plugin.json"), `{"name":"foo"}`)
	writeFile(t, filepath.Join(cfg.PluginsDir, "foo", "client", UIEntryName), `export default null;`)
	b := NewBuilder(cfg)
	require.NoError(t, b.BuildAll())

	srv := httptest.NewServer(NewDevServer(b, 0).routes())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/plugins")
	require.NoError(t, err)
	defer res.Body.Close()

	var views []struct {
		Name       string `json:"name"`
		Path       string `json:"path"`
		HasUIEntry bool   `json:"hasUiEntry"`
		Files      int    `json:"files"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, "foo", views[0].Name)
	assert.True(t, views[0].HasUIEntry)
	assert.Equal(t, 1, views[0].Files)
}

func TestDevServerBuilds(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.PluginsDir, "foo", "plugin.json"), `{"name":"foo"}`)
	b := NewBuilder(cfg)
	require.NoError(t, b.BuildAll())

	srv := httptest.NewServer(NewDevServer(b, 0).routes())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/builds")
	require.NoError(t, err)
	defer res.Body.Close()

	var builds []BuildResult
	require.NoError(t, json.NewDecoder(res.Body).Decode(&builds))
	require.Len(t, builds, 1)
	assert.True(t, builds[0].Full)
}

// Partial rebuilds publish replacement plugin values, so catalog reads from
// the dev server never observe a plugin mid-rescan. Run with -race.
func TestPluginsHandlerDuringRebuilds(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.PluginsDir, "foo", "plugin.json"), `{"name":"foo","client_scripts":["client/*.ts"]}`)
	writeFile(t, filepath.Join(cfg.PluginsDir, "foo", "client", "main.ts"), `export const ok = 1;`)
	b := NewBuilder(cfg)
	require.NoError(t, b.BuildAll())

	srv := httptest.NewServer(NewDevServer(b, 0).routes())
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_, err := b.RebuildPlugin(filepath.Join(cfg.PluginsDir, "foo"))
			assert.NoError(t, err)
		}
	}()
	for i := 0; i < 20; i++ {
		res, err := http.Get(srv.URL + "/plugins")
		require.NoError(t, err)
		var views []struct {
			Name  string `json:"name"`
			Files int    `json:"files"`
		}
		err = json.NewDecoder(res.Body).Decode(&views)
		res.Body.Close()
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "foo", views[0].Name)
		assert.Equal(t, 1, views[0].Files)
	}
	<-done
}

func TestDevServerServeStopsOnContextCancel(t *testing.T) {
	b := NewBuilder(testConfig(t))
	s := NewDevServer(b, 0) // :0 binds an ephemeral port

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestDevServerEventsStream(t *testing.T) {
	cfg := testConfig(t)
	b := NewBuilder(cfg)
	s := NewDevServer(b, 0)
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	// Wait for the subscription to register before pushing.
	require.Eventually(t, func() bool {
		s.lock.Lock()
		defer s.lock.Unlock()
		return len(s.senders) == 1
	}, time.Second, 10*time.Millisecond)

	s.NotifyBuild(WatchEvent{Type: "build", Plugin: "foo"})

	reader := bufio.NewReader(res.Body)
	deadline := time.After(2 * time.Second)
	lines := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				lines <- line
				return
			}
		}
	}()

	select {
	case line := <-lines:
		var ev WatchEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		assert.Equal(t, "build", ev.Type)
		assert.Equal(t, "foo", ev.Plugin)
	case <-deadline:
		t.Fatal("no event received")
	}
}
