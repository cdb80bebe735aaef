package fetcher

import (
	"path"
	"strings"
)

var DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".go", ".py", ".md"}

var excludedDirs = []string{"node_modules", "dist", "vendor", ".git", "build", "coverage"}

type Filter struct {
	exts     map[string]struct{}
	maxBytes int64
}

func NewFilter(exts []string, maxBytes int64) *Filter {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return &Filter{exts: set, maxBytes: maxBytes}
}

// Match reports whether a repository relative path should be indexed.
// size < 0 means unknown.
func (f *Filter) Match(p string, size int64) bool {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if strings.HasSuffix(p, ".d.ts") || strings.HasSuffix(p, ".min.js") {
		return false
	}
	if _, ok := f.exts[strings.ToLower(path.Ext(p))]; !ok {
		return false
	}
	for _, seg := range strings.Split(path.Dir(p), "/") {
		for _, dir := range excludedDirs {
			if seg == dir {
				return false
			}
		}
	}
	if f.maxBytes > 0 && size > f.maxBytes {
		return false
	}
	return true
}

// SkipDir reports whether a directory walk should not descend into name.
func (f *Filter) SkipDir(name string) bool {
	for _, dir := range excludedDirs {
		if name == dir {
			return true
		}
	}
	return false
}
