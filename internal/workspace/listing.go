package workspace

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

type listEntry struct {
	paths   []string
	fetched time.Time
}

// Directories that never contribute useful context.
var defaultSkipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
}

// ListFiles walks the project tree and returns relative paths of regular
// files, lexically ordered, hidden and dependency directories skipped, and
// the given exclude patterns applied. Listings feed descriptive context only,
// so results are served from a small TTL'd LRU cache; an out-of-band file
// appearing a few seconds late is acceptable here.
func (w *Workspace) ListFiles(excludes []string) ([]string, error) {
	if w.root == "" {
		return nil, ErrNoWorkspace
	}

	key := strings.Join(excludes, "\x00")
	if entry, ok := w.listCache.Get(key); ok {
		if time.Since(entry.fetched) < w.listTTL {
			out := make([]string, len(entry.paths))
			copy(out, entry.paths)
			return out, nil
		}
		w.listCache.Remove(key)
	}

	var paths []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == w.root {
				return nil
			}
			if strings.HasPrefix(name, ".") || defaultSkipDirs[name] {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		if matchesExclude(rel, name, excludes) {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		if len(paths) >= maxListFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.listCache.Add(key, listEntry{paths: paths, fetched: time.Now()})

	out := make([]string, len(paths))
	copy(out, paths)
	return out, nil
}

func matchesExclude(rel, base string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
	}
	return false
}
