// Package staging owns the effective write root of a project. Agent output
// and task save steps land here; nothing in this package touches the final
// tree.
package staging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"filegate/gateway/internal/fsutil"
	"filegate/gateway/internal/logging"
	"filegate/gateway/internal/project"
	"filegate/gateway/internal/sandbox"
)

// DefaultInlineBytes caps text embedded into prompts. It is kept below the
// browsing preview cap.
const DefaultInlineBytes = 64 * 1024

// mtimeSlack widens the written-since window for coarse filesystem clocks.
const mtimeSlack = 500 * time.Millisecond

const filePerm = 0o644

var (
	ErrNotFound = errors.New("staged file not found")
	ErrTooLarge = errors.New("file exceeds inline read limit")
	ErrNotText  = errors.New("file is not text")
)

// SizeError carries the offending size and the limit that was exceeded.
type SizeError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *SizeError) Error() string {
	return "staging: " + strconv.Quote(e.Path) + " is " + strconv.FormatInt(e.Size, 10) +
		" bytes, limit " + strconv.FormatInt(e.Limit, 10)
}

func (e *SizeError) Unwrap() error {
	return ErrTooLarge
}

type Options struct {
	InlineMaxBytes int64
	Logger         *slog.Logger
}

type Store struct {
	inlineMax int64
	logger    *slog.Logger
}

func New(opts Options) *Store {
	inline := opts.InlineMaxBytes
	if inline <= 0 {
		inline = DefaultInlineBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{inlineMax: inline, logger: logger}
}

func (s *Store) InlineMaxBytes() int64 {
	return s.inlineMax
}

// Qualify prefixes a write-dir-relative name with the write dir. Names that
// already carry the prefix are returned unchanged, so "output_pending/a.md"
// never becomes "output_pending/output_pending/a.md".
func Qualify(m *project.Manifest, name string) string {
	name = strings.TrimLeft(sandbox.Normalize(strings.TrimSpace(name)), "/")
	if name == m.WriteDir || strings.HasPrefix(name, m.WriteDir+"/") {
		return name
	}
	return m.WriteDir + "/" + name
}

// Write stores content at the project-relative path rel, which must resolve
// below the effective write root. The returned path is cleaned and
// project-relative.
func (s *Store) Write(m *project.Manifest, rel string, content []byte) (string, error) {
	abs, err := s.resolve(m, rel)
	if err != nil {
		return "", err
	}
	if abs == m.WriteDirAbs {
		return "", &sandbox.PathError{Op: "write", Path: rel, Err: sandbox.ErrInvalidPath}
	}
	if info, err := os.Lstat(abs); err == nil && info.IsDir() {
		return "", &sandbox.PathError{Op: "write", Path: rel, Err: sandbox.ErrInvalidPath}
	}
	if err := fsutil.AtomicWrite(abs, content, filePerm); err != nil {
		return "", err
	}
	cleaned := sandbox.Relative(m.Root, abs)
	s.logger.Info("staged.write", "project_id", m.ID, "path", cleaned, "bytes", len(content))
	return cleaned, nil
}

// ReadText returns the staged file as text. maxBytes <= 0 uses the store's
// inline cap. Oversized files fail rather than being truncated.
func (s *Store) ReadText(m *project.Manifest, rel string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = s.inlineMax
	}
	abs, err := s.resolve(m, rel)
	if err != nil {
		return "", err
	}
	if err := requireRegular(abs, rel); err != nil {
		return "", err
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if info.Size() > maxBytes {
		return "", &SizeError{Path: rel, Size: info.Size(), Limit: maxBytes}
	}
	// The file may grow between stat and read; read one byte past the cap.
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > maxBytes {
		return "", &SizeError{Path: rel, Size: int64(len(data)), Limit: maxBytes}
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("%w: %s", ErrNotText, rel)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// WrittenSince lists files under the write root modified at or after since,
// less a small slack. Paths are project-relative, sorted and unique. Files
// that vanish during the walk are skipped.
func (s *Store) WrittenSince(m *project.Manifest, since time.Time) ([]string, error) {
	cutoff := since.Add(-mtimeSlack)
	seen := map[string]bool{}
	err := filepath.WalkDir(m.WriteDirAbs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			return nil
		}
		seen[sandbox.Relative(m.Root, path)] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	written := make([]string, 0, len(seen))
	for rel := range seen {
		written = append(written, rel)
	}
	sort.Strings(written)
	return written, nil
}

// requireRegular stats abs before anything opens it. Opening a FIFO for
// reading blocks until a writer appears.
func requireRegular(abs, rel string) error {
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	return nil
}

func (s *Store) resolve(m *project.Manifest, rel string) (string, error) {
	abs, err := sandbox.Resolve(m.Root, rel, m.WriteDirAbs)
	if err != nil {
		s.logger.Warn("staged.reject", "project_id", m.ID, "path", rel, "error", err.Error())
		return "", err
	}
	return abs, nil
}
