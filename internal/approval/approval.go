// Package approval reconciles staged output with the final tree: promote
// copies a staged file into the final root, discard deletes it and diff
// compares the two sides.
//
// A staged file moves from Staged to Promoted or Discarded. Promotion is a
// copy, so the staged source stays on disk and can be diffed or promoted
// again; nothing here ever moves a file back into staging.
package approval

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"filegate/gateway/internal/diff"
	"filegate/gateway/internal/fsutil"
	"filegate/gateway/internal/logging"
	"filegate/gateway/internal/project"
	"filegate/gateway/internal/sandbox"
)

var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("staged file not found")
	ErrConflict   = errors.New("destination exists")
)

// Record describes one promotion. It is returned to the caller and never
// persisted.
type Record struct {
	Source      string `json:"source"`
	Destination string `json:"promoted_to"`
	Overwrote   bool   `json:"overwrote"`
}

type Options struct {
	// MaxDiffLines bounds the combined line count of a diff.
	MaxDiffLines int
	Logger       *slog.Logger
}

type Workflow struct {
	maxDiffLines int
	logger       *slog.Logger
}

func New(opts Options) *Workflow {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	maxLines := opts.MaxDiffLines
	if maxLines <= 0 {
		maxLines = diff.MaxDiffLines
	}
	return &Workflow{maxDiffLines: maxLines, logger: logger}
}

// Promote copies the staged file at stagedRel to destRel, or to the default
// destination under the final root when destRel is empty. An existing
// destination is replaced only when overwrite is set. The staged file is
// left in place whether the copy succeeds or not.
func (w *Workflow) Promote(m *project.Manifest, stagedRel, destRel string, overwrite bool) (*Record, error) {
	from, src, err := w.stagedSource(m, stagedRel)
	if err != nil {
		return nil, err
	}
	to, dest, err := destination(m, from, destRel)
	if err != nil {
		return nil, err
	}
	if dest == src {
		return nil, fmt.Errorf("%w: %s is both source and destination", ErrBadRequest, from)
	}
	info, err := os.Stat(dest)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if exists && info.IsDir() {
		return nil, fmt.Errorf("%w: destination %s is a directory", ErrBadRequest, to)
	}
	if exists && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: destination %s is not a regular file", ErrBadRequest, to)
	}
	if exists && !overwrite {
		w.logger.Info("staged.promote_conflict", "project_id", m.ID, "from", from, "to", to)
		return nil, fmt.Errorf("%w: %s", ErrConflict, to)
	}
	if err := fsutil.CopyFile(src, dest); err != nil {
		w.logger.Error("staged.promote_failed", "project_id", m.ID, "from", from, "to", to, "error", err.Error())
		return nil, err
	}
	w.logger.Info("staged.promote", "project_id", m.ID, "from", from, "to", to, "overwrote", exists)
	return &Record{Source: from, Destination: to, Overwrote: exists}, nil
}

// Discard removes the staged file. The final tree is never touched.
func (w *Workflow) Discard(m *project.Manifest, stagedRel string) (string, error) {
	from, src, err := w.stagedSource(m, stagedRel)
	if err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, from)
		}
		return "", err
	}
	w.logger.Info("staged.discard", "project_id", m.ID, "path", from)
	return from, nil
}

// Diff compares the final file (labelled "from") with the staged file
// (labelled "to"). A missing final file diffs as empty, which yields a
// pure-addition patch.
func (w *Workflow) Diff(m *project.Manifest, stagedRel, destRel string) (*diff.Patch, error) {
	from, src, err := w.stagedSource(m, stagedRel)
	if err != nil {
		return nil, err
	}
	to, dest, err := destination(m, from, destRel)
	if err != nil {
		return nil, err
	}
	staged, err := readLines(src, from)
	if err != nil {
		return nil, err
	}
	final, err := readLines(dest, to)
	if err != nil {
		return nil, err
	}
	patch := diff.Unified(to, from, final, staged, diff.DefaultContext, w.maxDiffLines)
	w.logger.Debug("staged.diff", "project_id", m.ID, "from", to, "to", from, "added", patch.Added, "removed", patch.Removed)
	return patch, nil
}

// DefaultDestination maps a staged path onto the final root by replacing
// the write-root prefix. A path without that prefix keeps only its base
// name.
func DefaultDestination(m *project.Manifest, stagedRel string) string {
	suffix, ok := strings.CutPrefix(stagedRel, m.WriteDir+"/")
	if !ok || suffix == "" {
		suffix = path.Base(stagedRel)
	}
	return path.Join(m.FinalDir, suffix)
}

// stagedSource validates stagedRel lexically against the write-root prefix,
// resolves it inside the write root and requires a regular file there.
func (w *Workflow) stagedSource(m *project.Manifest, stagedRel string) (string, string, error) {
	from := trimRel(stagedRel)
	if !strings.HasPrefix(from, m.WriteDir+"/") {
		return "", "", fmt.Errorf("%w: path must start with %s/", ErrBadRequest, m.WriteDir)
	}
	src, err := sandbox.Resolve(m.Root, from, m.WriteDirAbs)
	if err != nil {
		w.logger.Warn("staged.reject", "project_id", m.ID, "path", from, "error", err.Error())
		return "", "", err
	}
	if !fsutil.IsRegular(src) {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	return from, src, nil
}

func destination(m *project.Manifest, from, destRel string) (string, string, error) {
	to := trimRel(destRel)
	if to == "" {
		to = DefaultDestination(m, from)
	}
	dest, err := sandbox.Resolve(m.Root, to)
	if err != nil {
		return "", "", err
	}
	if dest == m.Root {
		return "", "", &sandbox.PathError{Op: "promote", Path: to, Err: sandbox.ErrInvalidPath}
	}
	return to, dest, nil
}

// readLines reads a diff side. A missing file is empty; anything other than
// a regular file is refused before it is opened, so a FIFO cannot block.
func readLines(abs, rel string) ([]string, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrBadRequest, rel)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return diff.SplitLines(strings.ToValidUTF8(string(data), "�")), nil
}

func trimRel(rel string) string {
	return strings.TrimLeft(sandbox.Normalize(strings.TrimSpace(rel)), "/")
}
