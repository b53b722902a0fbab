package modforge

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ResolvedScripts holds, per category, the ordered relative paths that
// actually exist in the plugin. Order follows the plugin's file enumeration
// order, not alphabetical.
type ResolvedScripts struct {
	Client []string
	Server []string
	Shared []string
}

// Contains reports whether rel appears in any category.
func (r *ResolvedScripts) Contains(rel string) bool {
	for _, list := range [][]string{r.Client, r.Server, r.Shared} {
		for _, s := range list {
			if s == rel {
				return true
			}
		}
	}
	return false
}

// Category returns the category name for rel, or "" when unclassified.
func (r *ResolvedScripts) Category(rel string) string {
	for _, s := range r.Client {
		if s == rel {
			return "client"
		}
	}
	for _, s := range r.Server {
		if s == rel {
			return "server"
		}
	}
	for _, s := range r.Shared {
		if s == rel {
			return "shared"
		}
	}
	return ""
}

// ResolveScripts expands the descriptor's glob patterns against the plugin's
// discovered file list. Patterns are evaluated relative to the plugin's own
// root. A pattern matching nothing contributes nothing; that is not an error.
func ResolveScripts(p *Plugin) *ResolvedScripts {
	if p.Descriptor == nil {
		return &ResolvedScripts{}
	}
	return &ResolvedScripts{
		Client: matchPatterns(p, p.Descriptor.ClientScripts),
		Server: matchPatterns(p, p.Descriptor.ServerScripts),
		Shared: matchPatterns(p, p.Descriptor.SharedScripts),
	}
}

func matchPatterns(p *Plugin, patterns []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, pattern := range patterns {
		for _, f := range p.Files {
			rel := f.RelPath()
			if seen[rel] {
				continue
			}
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				logger.Warn("bad script pattern", "plugin", p.Name, "pattern", pattern, "error", err)
				break
			}
			if ok {
				seen[rel] = true
				out = append(out, rel)
			}
		}
	}
	return out
}

// escapeGlobMeta escapes glob metacharacters in a literal path so it can be
// embedded in a pattern. Organizational folders use literal brackets
// ("[category]"), which a naive pattern treats as a character class that
// silently matches nothing.
func escapeGlobMeta(path string) string {
	var b strings.Builder
	for _, r := range path {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
