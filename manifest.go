package modforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/exp/slices"
)

// ManifestName is the deployment manifest the runtime loader consumes.
const ManifestName = "fxmanifest.lua"

// defaultManifestConfig stands in when a build reaches the renderer with no
// configuration at all. Best-effort continuation over hard failure.
const defaultManifestConfig = `{"name":"unknown","version":"0.0.0","fx_version":"cerulean","games":["gta5"]}`

type clauseRenderer func(b *strings.Builder, key string, v gjson.Result)

type manifestField struct {
	key    string
	render clauseRenderer
}

// manifestFields is the fixed ordered mapping of known descriptor fields to
// manifest clauses. Rendering walks this table top to bottom, so the output
// is deterministic for a given merged configuration.
var manifestFields = []manifestField{
	{"fx_version", renderScalar},
	{"games", renderGames},
	{"name", renderScalar},
	{"author", renderScalar},
	{"description", renderScalar},
	{"version", renderScalar},
	{"client_scripts", renderScriptList},
	{"server_scripts", renderScriptList},
	{"shared_scripts", renderScriptList},
	{"ui_page", renderPathScalar},
	{"files", renderPathList},
	{"lua54", renderFlag},
}

// secondaryShapes handles the structured passthrough fields that are not
// simple scalar/list/flag clauses.
var secondaryShapes = []manifestField{
	{"dependencies", renderDependencies},
	{"data_files", renderDataFiles},
	{"loadscreen", renderLoadscreen},
	{"level_meta", renderLevelMeta},
	{"convars", renderConvars},
	{"experimental", renderBlock},
	{"custom_data", renderBlock},
}

// RenderManifest renders the deployment manifest text for one plugin from its
// merged configuration JSON. A nil or invalid configuration renders the
// hardcoded minimal default instead of failing.
func RenderManifest(merged []byte) string {
	if len(merged) == 0 || !gjson.ValidBytes(merged) {
		logger.Warn("manifest configuration missing, rendering defaults")
		merged = []byte(defaultManifestConfig)
	}
	cfg := gjson.ParseBytes(merged)

	var b strings.Builder
	rendered := map[string]bool{}
	for _, f := range manifestFields {
		v := cfg.Get(f.key)
		rendered[f.key] = true
		if !v.Exists() {
			continue
		}
		f.render(&b, f.key, v)
	}
	for _, f := range secondaryShapes {
		v := cfg.Get(f.key)
		rendered[f.key] = true
		if !v.Exists() {
			continue
		}
		f.render(&b, f.key, v)
	}

	// Passthrough keys with no renderer are skipped, but loudly: a silent
	// drop here looks like data loss to the plugin author.
	var leftovers []string
	cfg.ForEach(func(key, _ gjson.Result) bool {
		if !rendered[key.String()] {
			leftovers = append(leftovers, key.String())
		}
		return true
	})
	slices.Sort(leftovers)
	for _, key := range leftovers {
		logger.Warn("descriptor field has no manifest rendering, dropped", "field", key)
	}
	return b.String()
}

// WriteManifest renders and writes the manifest, creating parent directories
// as needed. Write failures are logged, not returned, unless strict mode is
// on: the manifest is regenerated on every build, so a transient failure
// self-heals next pass.
func WriteManifest(merged []byte, outPath string, strict bool) error {
	text := RenderManifest(merged)
	if err := os.MkdirAll(filepath.Dir(outPath), 0750); err == nil {
		err = os.WriteFile(outPath, []byte(text), 0640)
		if err == nil {
			return nil
		}
		if strict {
			return fmt.Errorf("write manifest: %w", err)
		}
		logger.Warn("manifest write failed", "path", outPath, "error", err)
	} else if strict {
		return fmt.Errorf("write manifest: %w", err)
	} else {
		logger.Warn("manifest write failed", "path", outPath, "error", err)
	}
	return nil
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func slashed(s string) string {
	return strings.ReplaceAll(s, `\`, `/`)
}

func renderScalar(b *strings.Builder, key string, v gjson.Result) {
	fmt.Fprintf(b, "%s %s\n", key, quote(v.String()))
}

func renderPathScalar(b *strings.Builder, key string, v gjson.Result) {
	fmt.Fprintf(b, "%s %s\n", key, quote(slashed(v.String())))
}

func renderGames(b *strings.Builder, _ string, v gjson.Result) {
	b.WriteString("games {\n")
	v.ForEach(func(_, g gjson.Result) bool {
		fmt.Fprintf(b, "\t%s,\n", quote(g.String()))
		return true
	})
	b.WriteString("}\n")
}

func renderScriptList(b *strings.Builder, key string, v gjson.Result) {
	renderEntries(b, key, v, func(s string) string {
		return rewriteScriptExt(slashed(s))
	})
}

func renderPathList(b *strings.Builder, key string, v gjson.Result) {
	renderEntries(b, key, v, slashed)
}

func renderEntries(b *strings.Builder, key string, v gjson.Result, transform func(string) string) {
	fmt.Fprintf(b, "%s {\n", key)
	v.ForEach(func(_, item gjson.Result) bool {
		fmt.Fprintf(b, "\t%s,\n", quote(transform(item.String())))
		return true
	})
	b.WriteString("}\n")
}

// renderFlag emits the keyword call only when the flag is true.
func renderFlag(b *strings.Builder, key string, v gjson.Result) {
	if v.Bool() {
		fmt.Fprintf(b, "%s 'yes'\n", key)
	}
}

func renderDependencies(b *strings.Builder, key string, v gjson.Result) {
	fmt.Fprintf(b, "%s {\n", key)
	v.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.Type == gjson.String:
			fmt.Fprintf(b, "\t%s,\n", quote(item.String()))
		case item.IsObject() && item.Get("name").Exists():
			fmt.Fprintf(b, "\t%s,\n", quote(item.Get("name").String()))
		default:
			logger.Warn("unrenderable dependency entry dropped", "entry", item.Raw)
		}
		return true
	})
	b.WriteString("}\n")
}

func renderDataFiles(b *strings.Builder, _ string, v gjson.Result) {
	v.ForEach(func(_, item gjson.Result) bool {
		t := item.Get("type")
		p := item.Get("path")
		if !t.Exists() || !p.Exists() {
			logger.Warn("unrenderable data file entry dropped", "entry", item.Raw)
			return true
		}
		fmt.Fprintf(b, "data_file %s %s\n", quote(t.String()), quote(slashed(p.String())))
		return true
	})
}

func renderLoadscreen(b *strings.Builder, _ string, v gjson.Result) {
	if page := v.Get("page"); page.Exists() {
		fmt.Fprintf(b, "loadscreen %s\n", quote(slashed(page.String())))
	}
	if v.Get("manual_shutdown").Bool() {
		b.WriteString("loadscreen_manual_shutdown 'yes'\n")
	}
}

func renderLevelMeta(b *strings.Builder, _ string, v gjson.Result) {
	for _, pos := range []string{"before", "after", "replace"} {
		if entry := v.Get(pos); entry.Exists() {
			fmt.Fprintf(b, "%s_level_meta %s\n", pos, quote(slashed(entry.String())))
		}
	}
}

// renderConvars emits one convar_category block per category, each listing
// its variables as { label, '$name', type, default } rows.
func renderConvars(b *strings.Builder, _ string, v gjson.Result) {
	v.ForEach(func(category, body gjson.Result) bool {
		fmt.Fprintf(b, "convar_category %s {\n", quote(category.String()))
		fmt.Fprintf(b, "\t%s,\n", quote(category.String()))
		b.WriteString("\t{\n")
		body.Get("variables").ForEach(func(_, cv gjson.Result) bool {
			fmt.Fprintf(b, "\t\t{ %s, %s, %s, %s },\n",
				quote(cv.Get("name").String()),
				quote("$"+cv.Get("name").String()),
				quote(cv.Get("type").String()),
				quote(cv.Get("default").String()))
			return true
		})
		b.WriteString("\t}\n")
		b.WriteString("}\n")
		return true
	})
}

// renderBlock renders an arbitrary nested structure as a table literal.
func renderBlock(b *strings.Builder, key string, v gjson.Result) {
	fmt.Fprintf(b, "%s %s\n", key, blockValue(v, 0))
}

func blockValue(v gjson.Result, depth int) string {
	indent := strings.Repeat("\t", depth+1)
	closing := strings.Repeat("\t", depth)
	switch {
	case v.IsArray():
		var b strings.Builder
		b.WriteString("{\n")
		v.ForEach(func(_, item gjson.Result) bool {
			fmt.Fprintf(&b, "%s%s,\n", indent, blockValue(item, depth+1))
			return true
		})
		b.WriteString(closing + "}")
		return b.String()
	case v.IsObject():
		var b strings.Builder
		b.WriteString("{\n")
		v.ForEach(func(key, item gjson.Result) bool {
			fmt.Fprintf(&b, "%s[%s] = %s,\n", indent, quote(key.String()), blockValue(item, depth+1))
			return true
		})
		b.WriteString(closing + "}")
		return b.String()
	case v.Type == gjson.String:
		return quote(v.String())
	case v.Type == gjson.True:
		return "true"
	case v.Type == gjson.False:
		return "false"
	case v.Type == gjson.Null:
		return "nil"
	default:
		return v.Raw
	}
}
