package modforge

import (
	"fmt"

	"github.com/stoewer/go-strcase"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/mod/semver"
)

const (
	// DescriptorName marks a directory as a plugin root.
	DescriptorName = "plugin.json"
	// UIEntryName is the designated UI entry source file. Its presence sets
	// the plugin's UI flag, and changes to it anywhere in the tree force a
	// full rebuild.
	UIEntryName = "ui.tsx"
)

// Descriptor is a plugin's parsed declarative manifest source. Known fields
// are lifted into struct fields; the normalized raw JSON is kept whole so
// passthrough fields (data_files, convars, ...) survive untouched into the
// generated manifest.
type Descriptor struct {
	Name          string
	Version       string
	FxVersion     string
	Games         []string
	ClientScripts []string
	ServerScripts []string
	SharedScripts []string
	Dependencies  []string
	FileList      []string
	UIPage        string

	raw []byte
}

// Raw returns the key-normalized descriptor JSON, the passthrough bag handed
// to the manifest generator.
func (d *Descriptor) Raw() []byte {
	return d.raw
}

// DefaultDescriptor is the safe fallback used when a plugin's descriptor is
// missing or unreadable: keyed by directory name, nothing else declared.
func DefaultDescriptor(dirName string) *Descriptor {
	return &Descriptor{
		Name: dirName,
		raw:  []byte(fmt.Sprintf(`{"name":%q}`, dirName)),
	}
}

// ParseDescriptor parses a plugin.json. Descriptor keys are accepted in
// camelCase or snake_case and normalized to snake_case. A missing name
// defaults to the plugin's directory name rather than failing.
func ParseDescriptor(data []byte, dirName string) (*Descriptor, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("descriptor is not valid JSON")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("descriptor must be a JSON object")
	}

	normalized := []byte(`{}`)
	var err error
	parsed.ForEach(func(key, value gjson.Result) bool {
		normalized, err = sjson.SetRawBytes(normalized, strcase.SnakeCase(key.String()), []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("normalize descriptor keys: %w", err)
	}

	d := &Descriptor{
		Name:          gjson.GetBytes(normalized, "name").String(),
		Version:       gjson.GetBytes(normalized, "version").String(),
		FxVersion:     gjson.GetBytes(normalized, "fx_version").String(),
		Games:         stringList(gjson.GetBytes(normalized, "games")),
		ClientScripts: stringList(gjson.GetBytes(normalized, "client_scripts")),
		ServerScripts: stringList(gjson.GetBytes(normalized, "server_scripts")),
		SharedScripts: stringList(gjson.GetBytes(normalized, "shared_scripts")),
		Dependencies:  stringList(gjson.GetBytes(normalized, "dependencies")),
		FileList:      stringList(gjson.GetBytes(normalized, "files")),
		UIPage:        gjson.GetBytes(normalized, "ui_page").String(),
		raw:           normalized,
	}

	if d.Name == "" {
		d.Name = dirName
		d.raw, err = sjson.SetBytes(d.raw, "name", dirName)
		if err != nil {
			return nil, fmt.Errorf("default descriptor name: %w", err)
		}
	}
	if d.Version != "" && !semver.IsValid("v"+d.Version) {
		logger.Warn("descriptor version is not valid semver", "plugin", d.Name, "version", d.Version)
	}
	return d, nil
}

// stringList flattens a JSON value into a string slice. Structured dependency
// entries contribute their name field; anything else is skipped.
func stringList(v gjson.Result) []string {
	if !v.Exists() {
		return nil
	}
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.Type == gjson.String:
			out = append(out, item.String())
		case item.IsObject() && item.Get("name").Exists():
			out = append(out, item.Get("name").String())
		}
		return true
	})
	return out
}
