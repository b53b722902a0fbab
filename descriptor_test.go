package modforge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseDescriptorKnownFields(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{
		"name": "foo",
		"version": "1.2.3",
		"fx_version": "cerulean",
		"games": ["gta5"],
		"client_scripts": ["client/*.ts"],
		"server_scripts": ["server/*.ts"],
		"shared_scripts": ["shared/*.ts"],
		"dependencies": ["base", {"name": "structured", "version": "2.0.0"}],
		"files": ["data/items.json"],
		"ui_page": "ui/index.html"
	}`), "foo-dir")
	require.NoError(t, err)

	assert.Equal(t, "foo", d.Name)
	assert.Equal(t, "1.2.3", d.Version)
	assert.Equal(t, []string{"gta5"}, d.Games)
	assert.Equal(t, []string{"client/*.ts"}, d.ClientScripts)
	assert.Equal(t, []string{"base", "structured"}, d.Dependencies)
	assert.Equal(t, []string{"data/items.json"}, d.FileList)
	assert.Equal(t, "ui/index.html", d.UIPage)
}

func TestParseDescriptorNormalizesCamelCaseKeys(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"name":"foo","clientScripts":["client/*.ts"],"uiPage":"ui/index.html"}`), "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"client/*.ts"}, d.ClientScripts)
	assert.Equal(t, "ui/index.html", d.UIPage)
	assert.True(t, gjson.GetBytes(d.Raw(), "client_scripts").Exists())
}

func TestParseDescriptorDefaultsNameToDirectory(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"version":"0.1.0"}`), "hud")
	require.NoError(t, err)
	assert.Equal(t, "hud", d.Name)
	assert.Equal(t, "hud", gjson.GetBytes(d.Raw(), "name").String())
}

func TestParseDescriptorRejectsInvalidJSON(t *testing.T) {
	_, err := ParseDescriptor([]byte(`{"name":`), "foo")
	assert.Error(t, err)
	_, err = ParseDescriptor([]byte(`["not","an","object"]`), "foo")
	assert.Error(t, err)
}

func TestParseDescriptorKeepsPassthroughFields(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{
		"name": "foo",
		"data_files": [{"type": "VEHICLE_METADATA_FILE", "path": "data/vehicles.meta"}],
		"convars": {"gameplay": {"variables": [{"name": "speed", "type": "CV_INT", "default": "3"}]}}
	}`), "foo")
	require.NoError(t, err)

	raw := d.Raw()
	assert.Equal(t, "VEHICLE_METADATA_FILE", gjson.GetBytes(raw, "data_files.0.type").String())
	assert.Equal(t, "speed", gjson.GetBytes(raw, "convars.gameplay.variables.0.name").String())
}

func TestDefaultDescriptor(t *testing.T) {
	d := DefaultDescriptor("fallback")
	assert.Equal(t, "fallback", d.Name)
	assert.Equal(t, "fallback", gjson.GetBytes(d.Raw(), "name").String())
	assert.Empty(t, d.ClientScripts)
}
