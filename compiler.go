package modforge

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/evanw/esbuild/pkg/api"
)

// CompiledOutput is the result of compiling one file. Records are consumed by
// the manifest generator within the same build pass and not persisted.
type CompiledOutput struct {
	Source   *File
	Category string // client/server/shared, "" when unclassified
	OutPath  string // relative to the plugin's output root, forward slashes
	Skipped  bool
	Err      error
}

// Compiler transforms plugin files into the staging directory. Script sources
// are bundled into single self-contained modules, native scripts and opaque
// assets are copied verbatim.
type Compiler struct {
	distDir string
}

func NewCompiler(distDir string) *Compiler {
	return &Compiler{distDir: distDir}
}

// OutputRoot is where a plugin's compiled tree lands in staging.
func (c *Compiler) OutputRoot(p *Plugin) string {
	return filepath.Join(c.distDir, filepath.FromSlash(p.RelRoot))
}

// CompilePlugin compiles every file the plugin owns, concurrently, and awaits
// the batch. One file failing is recorded and does not abort its siblings.
// The plugin's previous output tree is removed first so stale outputs from
// since-removed sources cannot survive.
func (c *Compiler) CompilePlugin(p *Plugin, scripts *ResolvedScripts) ([]*CompiledOutput, error) {
	outRoot := c.OutputRoot(p)
	if err := os.RemoveAll(outRoot); err != nil {
		return nil, fmt.Errorf("clean output root: %w", err)
	}
	if err := os.MkdirAll(outRoot, 0750); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}

	results := make(chan *CompiledOutput, len(p.Files))
	for _, f := range p.Files {
		go func(f *File) {
			results <- c.compileFile(p, f, scripts)
		}(f)
	}
	byPath := map[string]*CompiledOutput{}
	for range p.Files {
		out := <-results
		byPath[out.Source.RelPath()] = out
	}
	// Reassemble in file enumeration order.
	outputs := make([]*CompiledOutput, 0, len(p.Files))
	for _, f := range p.Files {
		out := byPath[f.RelPath()]
		if out.Err != nil {
			logger.Error("compile failed", "plugin", p.Name, "file", out.Source.RelPath(), "error", out.Err)
		}
		outputs = append(outputs, out)
	}

	if p.HasUIEntry {
		if err := c.materializeUIPage(p, outRoot); err != nil {
			logger.Error("ui page generation failed", "plugin", p.Name, "error", err)
		}
	}

	c.logOutputs(p)
	return outputs, nil
}

func (c *Compiler) compileFile(p *Plugin, f *File, scripts *ResolvedScripts) *CompiledOutput {
	rel := f.RelPath()
	out := &CompiledOutput{Source: f, Category: scripts.Category(rel)}

	switch {
	case strings.HasSuffix(f.Name, ".d.ts"):
		// Declaration-only sources produce no output.
		out.Skipped = true
	case strings.HasSuffix(f.Name, ".tsx"):
		if !p.HasUIEntry {
			out.Err = fmt.Errorf("ui markup source %s in plugin without a %s entry", rel, UIEntryName)
			return out
		}
		out.OutPath = rewriteScriptExt(rel)
		out.Err = c.bundle(f.Path, filepath.Join(c.OutputRoot(p), filepath.FromSlash(out.OutPath)))
	case strings.HasSuffix(f.Name, ".ts"), strings.HasSuffix(f.Name, ".js"):
		out.OutPath = rewriteScriptExt(rel)
		out.Err = c.bundle(f.Path, filepath.Join(c.OutputRoot(p), filepath.FromSlash(out.OutPath)))
	default:
		// Native embedded-language scripts (.lua) and every other file are
		// copied byte-for-byte, unrenamed.
		out.OutPath = rel
		out.Err = c.copyFile(f.Path, filepath.Join(c.OutputRoot(p), filepath.FromSlash(rel)))
	}
	return out
}

// bundle resolves all static imports of a script source and inlines them into
// one self-contained module for the runtime's browser-compatible loader.
func (c *Compiler) bundle(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	result := api.Build(api.BuildOptions{
		EntryPoints: []string{src},
		Bundle:      true,
		Write:       true,
		Outfile:     dst,
		Format:      api.FormatIIFE,
		Platform:    api.PlatformBrowser,
		Target:      api.ES2017,
		LogLevel:    api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return fmt.Errorf("bundle %s: %s", src, strings.Join(msgs, "; "))
	}
	return nil
}

func (c *Compiler) copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := os.ReadFile(src) // #nosec G304
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0640); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// materializeUIPage writes the ui/index.html shell that loads the bundled UI
// entry script. The manifest's ui_page clause points at this file.
func (c *Compiler) materializeUIPage(p *Plugin, outRoot string) error {
	var entryRel string
	for _, f := range p.Files {
		if f.Name == UIEntryName {
			entryRel = rewriteScriptExt(f.RelPath())
			break
		}
	}
	if entryRel == "" {
		return fmt.Errorf("no %s found", UIEntryName)
	}
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
<div id="root"></div>
<script src="../%s"></script>
</body>
</html>
`, entryRel)
	dst := filepath.Join(outRoot, "ui", "index.html")
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(page), 0640)
}

// UIPagePath is the manifest-facing path of the materialized UI page.
const UIPagePath = "ui/index.html"

// ListOutputs returns the plugin's staged output files (relative, forward
// slashes) in enumeration order. The plugin's own root may contain literal
// bracket folders, so the path is escaped before being embedded in the glob.
func (c *Compiler) ListOutputs(p *Plugin) ([]string, error) {
	pattern := escapeGlobMeta(p.RelRoot) + "/**"
	matches, err := doublestar.Glob(os.DirFS(c.distDir), pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		fi, err := os.Stat(filepath.Join(c.distDir, filepath.FromSlash(m)))
		if err != nil || fi.IsDir() {
			continue
		}
		rel, err := filepath.Rel(filepath.FromSlash(p.RelRoot), filepath.FromSlash(m))
		if err != nil {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

// logOutputs lists the staged output tree with sizes. Observability only; a
// failure here never fails the build.
func (c *Compiler) logOutputs(p *Plugin) {
	entries, err := c.ListOutputs(p)
	if err != nil {
		logger.Warn("listing outputs failed", "plugin", p.Name, "error", err)
		return
	}
	for _, rel := range entries {
		full := filepath.Join(c.OutputRoot(p), filepath.FromSlash(rel))
		fi, err := os.Stat(full)
		if err != nil {
			continue
		}
		logger.Debug("staged", "plugin", p.Name, "file", rel, "size", fi.Size())
	}
}

// rewriteScriptExt maps a script source path to its compiled output path.
// The generated manifest must reference compiled outputs, never sources.
func rewriteScriptExt(rel string) string {
	switch ext := path.Ext(rel); ext {
	case ".ts", ".tsx":
		return strings.TrimSuffix(rel, ext) + ".js"
	}
	return rel
}
