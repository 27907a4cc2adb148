// Package fsindex lists, searches and previews the roots a project exposes
// for browsing. Every call re-reads the filesystem; nothing is indexed
// between requests.
package fsindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"filegate/gateway/internal/logging"
	"filegate/gateway/internal/project"
	"filegate/gateway/internal/sandbox"
)

const (
	TypeDir  = "dir"
	TypeFile = "file"
)

const (
	DefaultPreviewBytes = 200 * 1024
	DefaultSearchLimit  = 200
	MaxSearchLimit      = 1000
)

var (
	ErrNotDirectory = errors.New("not a directory")
	ErrNotFound     = errors.New("not a file")
)

// ignoredNames are never listed or descended into, whatever the query.
var ignoredNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	".DS_Store":    true,
}

var mimeFallbacks = map[string]string{
	".md":   "text/markdown",
	".csv":  "text/csv",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".json": "application/json",
	".xml":  "application/xml",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".ts":   "text/typescript",
	".svg":  "image/svg+xml",
}

// Ignored reports whether name is hidden from listings and searches.
func Ignored(name string) bool {
	return ignoredNames[name] || strings.HasPrefix(name, ".")
}

type Entry struct {
	Name string `json:"name"`
	Rel  string `json:"rel"`
	Type string `json:"type"`
}

type Preview struct {
	Name      string `json:"name"`
	Rel       string `json:"rel"`
	Size      int64  `json:"size"`
	MIME      string `json:"mime"`
	IsText    bool   `json:"is_text"`
	Content   string `json:"content,omitempty"`
	Truncated bool   `json:"truncated"`
	Note      string `json:"note,omitempty"`
}

type Options struct {
	PreviewMaxBytes int64
	Logger          *slog.Logger
}

type Index struct {
	previewMax int64
	logger     *slog.Logger
	// visit, when set, sees every path a search walker enters.
	visit func(path string)
}

func New(opts Options) *Index {
	previewMax := opts.PreviewMaxBytes
	if previewMax <= 0 {
		previewMax = DefaultPreviewBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Index{previewMax: previewMax, logger: logger}
}

// List returns the configured roots when rel is empty, otherwise the
// visible children of the directory rel. Directories sort before files,
// then by case-insensitive name.
func (ix *Index) List(m *project.Manifest, rel string) ([]Entry, error) {
	if strings.TrimSpace(rel) == "" {
		return listRoots(m), nil
	}
	abs, err := ix.resolve(m, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, rel)
	}
	children, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}
	base := sandbox.Relative(m.Root, abs)
	entries := make([]Entry, 0, len(children))
	for _, child := range children {
		if Ignored(child.Name()) {
			continue
		}
		typ := TypeFile
		if child.IsDir() {
			typ = TypeDir
		}
		entries = append(entries, Entry{Name: child.Name(), Rel: joinRel(base, child.Name()), Type: typ})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.Type == TypeDir) != (b.Type == TypeDir) {
			return a.Type == TypeDir
		}
		al, bl := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if al != bl {
			return al < bl
		}
		return a.Name < b.Name
	})
	ix.logger.Debug("fs.list", "project_id", m.ID, "path", base, "entries", len(entries))
	return entries, nil
}

func listRoots(m *project.Manifest) []Entry {
	entries := []Entry{}
	roots := m.Roots()
	for i, rel := range m.RootsRel() {
		info, err := os.Stat(roots[i])
		if err != nil || !info.IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: path.Base(rel), Rel: rel, Type: TypeDir})
	}
	return entries
}

// ClampLimit bounds a search limit to [1, MaxSearchLimit]; zero selects the
// default.
func ClampLimit(limit int) int {
	if limit == 0 {
		return DefaultSearchLimit
	}
	return max(1, min(limit, MaxSearchLimit))
}

var errLimitReached = errors.New("search limit reached")

// Search walks every root for names containing query, case-insensitively.
// Roots are walked concurrently and every walker stops once limit results
// are collected, so the order of the result is not stable.
func (ix *Index) Search(ctx context.Context, m *project.Manifest, query string, limit int) ([]Entry, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []Entry{}, nil
	}
	limit = ClampLimit(limit)

	var (
		mu      sync.Mutex
		results = make([]Entry, 0, min(limit, 64))
		seen    = map[string]bool{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, root := range m.Roots() {
		g.Go(func() error {
			return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if ix.visit != nil {
					ix.visit(p)
				}
				if walkErr != nil {
					// Entries can vanish or become unreadable mid-walk.
					if d != nil && d.IsDir() && p != root {
						return filepath.SkipDir
					}
					return nil
				}
				if p == root {
					return nil
				}
				name := d.Name()
				if Ignored(name) {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if !strings.Contains(strings.ToLower(name), needle) {
					return nil
				}
				typ := TypeFile
				if d.IsDir() {
					typ = TypeDir
				}
				rel := sandbox.Relative(m.Root, p)
				mu.Lock()
				defer mu.Unlock()
				if len(results) >= limit {
					return errLimitReached
				}
				if !seen[rel] {
					seen[rel] = true
					results = append(results, Entry{Name: name, Rel: rel, Type: typ})
				}
				if len(results) >= limit {
					return errLimitReached
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, errLimitReached) {
		return nil, err
	}
	ix.logger.Debug("fs.search", "project_id", m.ID, "query", query, "limit", limit, "results", len(results))
	return results, nil
}

// Preview reads at most maxBytes of a file inside the project's roots.
// maxBytes <= 0 uses the configured preview cap. Content is omitted for
// binary files.
func (ix *Index) Preview(m *project.Manifest, rel string, maxBytes int64) (*Preview, error) {
	if strings.TrimSpace(rel) == "" {
		return nil, &sandbox.PathError{Op: "preview", Path: rel, Err: sandbox.ErrInvalidPath}
	}
	if maxBytes <= 0 {
		maxBytes = ix.previewMax
	}
	abs, err := ix.resolve(m, rel)
	if err != nil {
		return nil, err
	}
	// Stat first: opening a FIFO for reading blocks until a writer appears.
	if info, err := os.Stat(abs); err == nil && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return nil, err
	}
	preview := &Preview{
		Name: filepath.Base(abs),
		Rel:  sandbox.Relative(m.Root, abs),
		Size: info.Size(),
		MIME: mimeTypeFor(abs),
	}
	if bytes.IndexByte(data, 0) >= 0 {
		preview.Note = "binary or unsupported text; preview omitted"
		return preview, nil
	}
	preview.IsText = true
	preview.Content = strings.ToValidUTF8(string(data), "�")
	preview.Truncated = info.Size() > maxBytes
	return preview, nil
}

func (ix *Index) resolve(m *project.Manifest, rel string) (string, error) {
	abs, err := sandbox.Resolve(m.Root, rel, m.Roots()...)
	if err != nil {
		ix.logger.Warn("fs.reject", "project_id", m.ID, "path", rel, "error", err.Error())
		return "", err
	}
	return abs, nil
}

func mimeTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mimeFallbacks[ext]
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}

func joinRel(base, name string) string {
	if base == "" {
		return name
	}
	return base + "/" + name
}
