package modforge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pluginWithFiles(t *testing.T, desc string, rels ...string) *Plugin {
	t.Helper()
	p := &Plugin{Name: "p", Path: filepath.Join("/plugins", "p")}
	d, err := ParseDescriptor([]byte(desc), "p")
	require.NoError(t, err)
	p.Descriptor = d
	for _, rel := range rels {
		p.AddFile(filepath.Base(rel), filepath.Join(p.Path, filepath.FromSlash(rel)))
	}
	return p
}

func TestResolveScriptsPerCategory(t *testing.T) {
	p := pluginWithFiles(t,
		`{"name":"p","client_scripts":["client/*.ts"],"server_scripts":["server/**/*.lua"],"shared_scripts":["shared/*.ts"]}`,
		"client/main.ts", "server/db/init.lua", "server/main.lua", "shared/util.ts", "data/items.json")

	r := ResolveScripts(p)
	assert.Equal(t, []string{"client/main.ts"}, r.Client)
	assert.Equal(t, []string{"server/db/init.lua", "server/main.lua"}, r.Server)
	assert.Equal(t, []string{"shared/util.ts"}, r.Shared)
	assert.Equal(t, "client", r.Category("client/main.ts"))
	assert.Equal(t, "", r.Category("data/items.json"))
}

func TestResolveScriptsEmptyMatchIsNotAnError(t *testing.T) {
	p := pluginWithFiles(t, `{"name":"p","client_scripts":["nothing/*.ts"]}`, "client/main.ts")
	r := ResolveScripts(p)
	assert.Empty(t, r.Client)
}

// Order follows the plugin's file enumeration order, not alphabetical.
func TestResolveScriptsPreservesEnumerationOrder(t *testing.T) {
	p := pluginWithFiles(t, `{"name":"p","client_scripts":["client/*.ts"]}`,
		"client/zeta.ts", "client/alpha.ts")
	r := ResolveScripts(p)
	assert.Equal(t, []string{"client/zeta.ts", "client/alpha.ts"}, r.Client)
}

func TestResolveScriptsDeduplicatesAcrossPatterns(t *testing.T) {
	p := pluginWithFiles(t, `{"name":"p","client_scripts":["client/*.ts","client/main.ts"]}`,
		"client/main.ts")
	r := ResolveScripts(p)
	assert.Equal(t, []string{"client/main.ts"}, r.Client)
}

// Patterns are relative to the plugin root, so a bracket-decorated parent
// folder must not poison matching.
func TestResolveScriptsUnderBracketPath(t *testing.T) {
	p := &Plugin{Name: "p", Path: filepath.Join("/plugins", "[misc]", "p"), RelRoot: "[misc]/p"}
	d, err := ParseDescriptor([]byte(`{"name":"p","client_scripts":["client/*.ts"]}`), "p")
	require.NoError(t, err)
	p.Descriptor = d
	p.AddFile("main.ts", filepath.Join(p.Path, "client", "main.ts"))

	r := ResolveScripts(p)
	assert.Equal(t, []string{"client/main.ts"}, r.Client)
}

func TestEscapeGlobMeta(t *testing.T) {
	assert.Equal(t, `\[misc\]/p`, escapeGlobMeta("[misc]/p"))
	assert.Equal(t, `plain/path`, escapeGlobMeta("plain/path"))
	assert.Equal(t, `a\*b\?c`, escapeGlobMeta("a*b?c"))
}
