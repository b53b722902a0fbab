package modforge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Directories never worth descending into. These are conventional dependency
// caches and VCS metadata, skipped without configuration.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".cache":       true,
}

// Scanner walks a plugins root and builds the catalog. A directory containing
// plugin.json marks a plugin boundary; nested plugin directories become
// independent plugins whose files never leak into the parent.
type Scanner struct {
	root  string
	cache *expirable.LRU[string, *Descriptor]
}

// NewScanner creates a scanner over root. The descriptor cache is owned by
// the caller (the Builder) and may be nil to disable caching.
func NewScanner(root string, cache *expirable.LRU[string, *Descriptor]) *Scanner {
	return &Scanner{root: root, cache: cache}
}

// Scan discovers every plugin under the root and assigns each file to its
// owning plugin by longest matching path prefix. A single unreadable or
// invalid descriptor never aborts the scan: that plugin gets a default
// descriptor keyed by its directory name and scanning continues.
func (s *Scanner) Scan() (*Catalog, error) {
	catalog := NewCatalog()

	// First pass: plugin boundaries.
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.root && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != DescriptorName {
			return nil
		}
		return s.register(catalog, filepath.Dir(path))
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}

	// Second pass: file ownership.
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.root && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		s.assign(catalog, path, d.Name())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}
	return catalog, nil
}

// RescanPlugin rebuilds one plugin from disk and publishes the replacement in
// the catalog, returning it. The previous Plugin value is never mutated, so
// concurrent readers (the dev server's catalog views) keep a consistent
// snapshot. Files owned by nested plugins stay out.
func (s *Scanner) RescanPlugin(catalog *Catalog, p *Plugin) (*Plugin, error) {
	if _, err := os.Stat(p.Path); err != nil {
		if os.IsNotExist(err) {
			catalog.Remove(p.Path)
			return nil, fmt.Errorf("plugin directory removed: %s", p.Path)
		}
		return nil, err
	}
	desc := s.loadDescriptor(p.Path)
	next := &Plugin{
		Name:       desc.Name,
		Path:       p.Path,
		RelRoot:    p.RelRoot,
		Parents:    p.Parents,
		Descriptor: desc,
	}
	err := filepath.WalkDir(p.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != p.Path && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == DescriptorName {
			return nil
		}
		if owner := catalog.Owner(path); owner == nil || owner.Path != p.Path {
			return nil
		}
		next.AddFile(d.Name(), path)
		if d.Name() == UIEntryName {
			next.HasUIEntry = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	catalog.Replace(next)
	return next, nil
}

func (s *Scanner) register(catalog *Catalog, dir string) error {
	rel, err := filepath.Rel(s.root, dir)
	if err != nil {
		return err
	}
	desc := s.loadDescriptor(dir)
	segments := strings.Split(filepath.ToSlash(rel), "/")
	var parents []string
	if len(segments) > 1 {
		parents = segments[:len(segments)-1]
	}
	return catalog.Add(&Plugin{
		Name:       desc.Name,
		Path:       dir,
		RelRoot:    filepath.ToSlash(rel),
		Parents:    parents,
		Descriptor: desc,
	})
}

func (s *Scanner) assign(catalog *Catalog, path, name string) {
	if name == DescriptorName {
		return
	}
	owner := catalog.Owner(path)
	if owner == nil {
		return
	}
	owner.AddFile(name, path)
	if name == UIEntryName {
		owner.HasUIEntry = true
	}
}

// loadDescriptor reads and parses dir's plugin.json, memoizing by
// path+mtime+size so repeated partial rebuilds skip unchanged descriptors.
// Any failure degrades to the default descriptor with a warning.
func (s *Scanner) loadDescriptor(dir string) *Descriptor {
	dirName := filepath.Base(dir)
	descPath := filepath.Join(dir, DescriptorName)
	fi, err := os.Stat(descPath)
	if err != nil {
		logger.Warn("plugin descriptor unreadable, using defaults", "plugin", dirName, "error", err)
		return DefaultDescriptor(dirName)
	}
	key := fmt.Sprintf("%s|%d|%d", descPath, fi.ModTime().UnixNano(), fi.Size())
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return cached
		}
	}
	data, err := os.ReadFile(descPath)
	if err != nil {
		logger.Warn("plugin descriptor unreadable, using defaults", "plugin", dirName, "error", err)
		return DefaultDescriptor(dirName)
	}
	desc, err := ParseDescriptor(data, dirName)
	if err != nil {
		logger.Warn("plugin descriptor invalid, using defaults", "plugin", dirName, "error", err)
		return DefaultDescriptor(dirName)
	}
	if s.cache != nil {
		s.cache.Add(key, desc)
	}
	return desc
}
