package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modforge/modforge"
)

// A scaffolded plugin must come out of a scan as a valid plugin whose script
// pattern resolves to the generated entry source.
func TestScaffoldedPluginPassesScan(t *testing.T) {
	for _, kind := range []string{"client", "server", "shared"} {
		root := t.TempDir()
		dir, err := scaffoldPlugin(root, "my-plugin", kind)
		require.NoError(t, err, kind)
		assert.Equal(t, filepath.Join(root, "my-plugin"), dir)

		catalog, err := modforge.NewScanner(root, nil).Scan()
		require.NoError(t, err, kind)
		require.Equal(t, 1, catalog.Len(), kind)
		p := catalog.Get(dir)
		require.NotNil(t, p, kind)
		assert.Equal(t, "my-plugin", p.Name)

		scripts := modforge.ResolveScripts(p)
		assert.True(t, scripts.Contains(kind+"/main.ts"), kind)
	}
}

func TestScaffoldRejectsExistingDirectory(t *testing.T) {
	root := t.TempDir()
	_, err := scaffoldPlugin(root, "dup", "client")
	require.NoError(t, err)
	_, err = scaffoldPlugin(root, "dup", "client")
	assert.Error(t, err)
}

func TestScaffoldRejectsUnknownCategory(t *testing.T) {
	_, err := scaffoldPlugin(t.TempDir(), "foo", "nope")
	assert.Error(t, err)
}
