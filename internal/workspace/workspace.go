// Package workspace implements the host-environment collaborators the
// executor drives: root-anchored file access, project listing, shell
// submission, URL opening and the clipboard.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/toolq/toolq/internal/logging"
	"github.com/toolq/toolq/internal/patch"
)

var (
	// ErrNoWorkspace reports that no project root is configured.
	ErrNoWorkspace = errors.New("no workspace root configured")
	// ErrPathOutsideRoot reports a path that resolves outside the root.
	ErrPathOutsideRoot = errors.New("path escapes workspace root")
)

const (
	listCacheSize  = 16
	defaultListTTL = 30 * time.Second
	maxListFiles   = 5000
	maxTouched     = 32
)

// Workspace anchors all file operations to a project root. Paths handed to it
// are project-relative; anything resolving outside the root is rejected
// before any I/O happens.
type Workspace struct {
	root   string
	logger logging.Logger

	listTTL   time.Duration
	listCache *lru.Cache[string, listEntry]

	mu      sync.Mutex
	touched []string
}

// New returns a workspace rooted at root. An empty root is allowed; every
// operation then fails with ErrNoWorkspace until a root is in place.
func New(root string, logger logging.Logger) *Workspace {
	cache, _ := lru.New[string, listEntry](listCacheSize)
	return &Workspace{
		root:      root,
		logger:    logging.OrNop(logger),
		listTTL:   defaultListTTL,
		listCache: cache,
	}
}

// Root returns the configured project root, or "" when unset.
func (w *Workspace) Root() string {
	return w.root
}

// SetListCacheTTL adjusts how long cached file listings stay fresh.
func (w *Workspace) SetListCacheTTL(ttl time.Duration) {
	w.listTTL = ttl
}

// Resolve maps a project-relative path to an absolute one inside the root.
func (w *Workspace) Resolve(rel string) (string, error) {
	if w.root == "" {
		return "", ErrNoWorkspace
	}
	abs := rel
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, rel)
	}
	abs = filepath.Clean(abs)
	back, err := filepath.Rel(w.root, abs)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, rel)
	}
	return abs, nil
}

// ReadFile returns the current content of a project file.
func (w *Workspace) ReadFile(rel string) (string, error) {
	abs, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// WriteFile writes text to a project file, creating parent directories as
// needed. Overwriting an existing file is permitted; last write wins.
func (w *Workspace) WriteFile(rel, text string) error {
	abs, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directories for %s: %w", rel, err)
		}
	}
	if err := os.WriteFile(abs, []byte(text), 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	w.markTouched(rel)
	return nil
}

// DeleteFile removes a project file.
func (w *Workspace) DeleteFile(rel string) error {
	abs, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	w.markTouched(rel)
	return nil
}

// ReplaceRange splices newText over the byte range r of a project file.
func (w *Workspace) ReplaceRange(rel string, r patch.Range, newText string) error {
	doc, err := w.ReadFile(rel)
	if err != nil {
		return err
	}
	if r.Start < 0 || r.End < r.Start || r.End > len(doc) {
		return fmt.Errorf("range [%d,%d) out of bounds for %s (%d bytes)", r.Start, r.End, rel, len(doc))
	}
	return w.WriteFile(rel, doc[:r.Start]+newText+doc[r.End:])
}

// Document is an open project file with its live content.
type Document struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// OpenDocuments returns the files this session has touched, most recent
// first, with whatever content they hold now. Files deleted since are
// skipped. This stands in for an editor's open-tabs list.
func (w *Workspace) OpenDocuments() []Document {
	w.mu.Lock()
	paths := make([]string, len(w.touched))
	copy(paths, w.touched)
	w.mu.Unlock()

	var docs []Document
	for _, rel := range paths {
		text, err := w.ReadFile(rel)
		if err != nil {
			continue
		}
		docs = append(docs, Document{Path: rel, Text: text})
	}
	return docs
}

func (w *Workspace) markTouched(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.touched {
		if p == rel {
			w.touched = append(w.touched[:i], w.touched[i+1:]...)
			break
		}
	}
	w.touched = append([]string{rel}, w.touched...)
	if len(w.touched) > maxTouched {
		w.touched = w.touched[:maxTouched]
	}
}
