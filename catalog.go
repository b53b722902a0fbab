package modforge

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// File is one filesystem artifact owned by exactly one plugin.
type File struct {
	Name string
	Path string // absolute

	plugin *Plugin
}

// Plugin returns the owning plugin. The plugin owns the file; this is only a
// lookup back-reference.
func (f *File) Plugin() *Plugin {
	return f.plugin
}

// RelPath is the file's path relative to its plugin root, always with forward
// slashes regardless of host OS.
func (f *File) RelPath() string {
	rel, err := filepath.Rel(f.plugin.Path, f.Path)
	if err != nil {
		return filepath.ToSlash(f.Path)
	}
	return filepath.ToSlash(rel)
}

// Plugin is one discovered unit of deployable functionality. Its path is the
// sole durable identity; two plugins may share a name under different parent
// folders without their file lists merging.
type Plugin struct {
	Name       string
	Path       string   // absolute plugin root
	RelRoot    string   // relative to the plugins root, forward slashes
	Parents    []string // parent folder segments, for display/grouping
	HasUIEntry bool
	Descriptor *Descriptor

	Files []*File
}

// DirName is the plugin's directory base name, which is also the resource
// name the runtime loads it under.
func (p *Plugin) DirName() string {
	return filepath.Base(p.Path)
}

// AddFile appends a file and wires its ownership back-reference.
func (p *Plugin) AddFile(name, path string) *File {
	f := &File{Name: name, Path: path, plugin: p}
	p.Files = append(p.Files, f)
	return f
}

// Catalog is the in-memory set of discovered plugins, keyed by path. Safe for
// concurrent readers; a Plugin value is never mutated after it is published
// here, rescans swap in replacements via Replace.
type Catalog struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
}

func NewCatalog() *Catalog {
	return &Catalog{plugins: map[string]*Plugin{}}
}

// Add registers a plugin. Registering the same resolved path twice signals a
// caller bug and is an error; name collisions at distinct paths are fine.
func (c *Catalog) Add(p *Plugin) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.plugins[p.Path]; ok {
		return fmt.Errorf("plugin already registered at %s", p.Path)
	}
	c.plugins[p.Path] = p
	return nil
}

// Replace swaps in a rebuilt plugin under its path. Readers holding the
// previous value keep a consistent snapshot; they never observe a half-built
// file list.
func (c *Catalog) Replace(p *Plugin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins[p.Path] = p
}

// Remove drops a plugin from the catalog.
func (c *Catalog) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plugins, path)
}

// Get returns the plugin at exactly this path, or nil.
func (c *Catalog) Get(path string) *Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plugins[path]
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plugins)
}

// Plugins returns all plugins ordered by path, so iteration is stable.
func (c *Catalog) Plugins() []*Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := maps.Keys(c.plugins)
	slices.Sort(paths)
	out := make([]*Plugin, 0, len(paths))
	for _, p := range paths {
		out = append(out, c.plugins[p])
	}
	return out
}

// Owner resolves which plugin a path belongs to by longest matching prefix.
// Nested plugins therefore win over their parents. Returns nil when the path
// is under no known plugin root.
func (c *Catalog) Owner(path string) *Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var best *Plugin
	for root, p := range c.plugins {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(root) > len(best.Path) {
			best = p
		}
	}
	return best
}
