// Package project loads per-project manifests from the projects directory.
// Nothing is cached; every Load re-reads the record from disk.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"filegate/gateway/internal/logging"
	"filegate/gateway/internal/sandbox"
)

const (
	ManifestFile      = "manifest.json"
	DefaultWriteDir   = "output"
	DefaultPendingDir = "output_pending"
)

var (
	ErrInvalidProjectID = errors.New("invalid project id")
	ErrNotFound         = errors.New("project not found")
	ErrParse            = errors.New("manifest parse failed")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether id is safe to use as a directory name.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

type Options struct {
	ProjectsDir string
	// RequireApproval routes agent writes into PendingDir instead of the
	// declared write dir.
	RequireApproval bool
	PendingDir      string
	Logger          *slog.Logger
}

type Store struct {
	projectsDir     string
	requireApproval bool
	pendingDir      string
	logger          *slog.Logger
}

func NewStore(opts Options) *Store {
	pending := cleanRel(opts.PendingDir)
	if pending == "" {
		pending = DefaultPendingDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		projectsDir:     opts.ProjectsDir,
		requireApproval: opts.RequireApproval,
		pendingDir:      pending,
		logger:          logger,
	}
}

func (s *Store) RequireApproval() bool {
	return s.requireApproval
}

// record is the on-disk manifest.json shape.
type record struct {
	Name     string            `json:"name"`
	ReadDirs []string          `json:"read_dirs"`
	WriteDir string            `json:"write_dir"`
	Aliases  map[string]string `json:"aliases"`
}

// Manifest is the per-request view of one project. Relative fields use
// forward slashes; absolute fields are canonical.
type Manifest struct {
	ID              string
	Name            string
	Root            string
	ReadDirs        []string
	ReadDirsAbs     []string
	WriteDir        string
	WriteDirAbs     string
	FinalDir        string
	FinalDirAbs     string
	Aliases         map[string]string
	RequireApproval bool
}

// Roots returns the read dirs followed by the effective write dir, without
// duplicates.
func (m *Manifest) Roots() []string {
	roots := make([]string, 0, len(m.ReadDirsAbs)+1)
	seen := make(map[string]bool, len(m.ReadDirsAbs)+1)
	for _, dir := range append(append([]string(nil), m.ReadDirsAbs...), m.WriteDirAbs) {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		roots = append(roots, dir)
	}
	return roots
}

// RootsRel is Roots in project-relative form.
func (m *Manifest) RootsRel() []string {
	rels := make([]string, 0, len(m.ReadDirs)+1)
	seen := make(map[string]bool, len(m.ReadDirs)+1)
	for _, dir := range append(append([]string(nil), m.ReadDirs...), m.WriteDir) {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		rels = append(rels, dir)
	}
	return rels
}

type Info struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Aliases         map[string]string `json:"aliases"`
	ReadDirs        []string          `json:"read_dirs"`
	WriteDir        string            `json:"write_dir"`
	FinalWriteDir   string            `json:"final_write_dir"`
	RequireApproval bool              `json:"require_approval"`
}

func (m *Manifest) Info() Info {
	aliases := make(map[string]string, len(m.Aliases))
	for k, v := range m.Aliases {
		aliases[k] = v
	}
	return Info{
		ID:              m.ID,
		Name:            m.Name,
		Aliases:         aliases,
		ReadDirs:        append([]string{}, m.ReadDirs...),
		WriteDir:        m.WriteDir,
		FinalWriteDir:   m.FinalDir,
		RequireApproval: m.RequireApproval,
	}
}

type Summary struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Aliases map[string]string `json:"aliases"`
}

// Load validates id, reads projects/<id>/manifest.json and creates the
// effective write dir if it is missing.
func (s *Store) Load(id string) (*Manifest, error) {
	if !ValidID(id) {
		return nil, ErrInvalidProjectID
	}
	root, err := sandbox.Canonical(filepath.Join(s.projectsDir, id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	rec, err := readRecord(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{
		ID:              id,
		Name:            strings.TrimSpace(rec.Name),
		Root:            root,
		Aliases:         map[string]string{},
		RequireApproval: s.requireApproval,
	}
	if manifest.Name == "" {
		manifest.Name = id
	}
	for key, value := range rec.Aliases {
		manifest.Aliases[key] = value
	}
	for _, dir := range rec.ReadDirs {
		rel, abs, err := resolveDir(root, dir)
		if err != nil {
			return nil, fmt.Errorf("%w: read_dirs entry %q escapes the project", ErrParse, dir)
		}
		manifest.ReadDirs = append(manifest.ReadDirs, rel)
		manifest.ReadDirsAbs = append(manifest.ReadDirsAbs, abs)
	}
	declared := rec.WriteDir
	if strings.TrimSpace(declared) == "" {
		declared = DefaultWriteDir
	} else if cleanRel(declared) == "" {
		return nil, fmt.Errorf("%w: write_dir %q names the project root", ErrParse, rec.WriteDir)
	}
	finalRel, finalAbs, err := resolveDir(root, declared)
	if err != nil {
		return nil, fmt.Errorf("%w: write_dir %q escapes the project", ErrParse, rec.WriteDir)
	}
	manifest.FinalDir, manifest.FinalDirAbs = finalRel, finalAbs
	manifest.WriteDir, manifest.WriteDirAbs = finalRel, finalAbs
	if s.requireApproval {
		pendingRel, pendingAbs, err := resolveDir(root, s.pendingDir)
		if err != nil {
			return nil, fmt.Errorf("%w: pending dir %q escapes the project", ErrParse, s.pendingDir)
		}
		manifest.WriteDir, manifest.WriteDirAbs = pendingRel, pendingAbs
	}
	if err := os.MkdirAll(manifest.WriteDirAbs, 0o755); err != nil {
		return nil, err
	}
	s.logger.Debug("project.load", "project_id", id, "write_dir", manifest.WriteDir, "require_approval", s.requireApproval)
	return manifest, nil
}

// List returns every project with a readable manifest, sorted by id.
// Directories with a missing or malformed manifest are skipped.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, err
	}
	summaries := []Summary{}
	for _, entry := range entries {
		if !entry.IsDir() || !ValidID(entry.Name()) {
			continue
		}
		rec, err := readRecord(filepath.Join(s.projectsDir, entry.Name(), ManifestFile))
		if err != nil {
			s.logger.Debug("project.list_skip", "project_id", entry.Name(), "error", err.Error())
			continue
		}
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			name = entry.Name()
		}
		aliases := rec.Aliases
		if aliases == nil {
			aliases = map[string]string{}
		}
		summaries = append(summaries, Summary{ID: entry.Name(), Name: name, Aliases: aliases})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

func readRecord(manifestPath string) (*record, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &rec, nil
}

func resolveDir(root, dir string) (string, string, error) {
	rel := cleanRel(dir)
	abs, err := sandbox.Resolve(root, rel)
	if err != nil {
		return "", "", err
	}
	return sandbox.Relative(root, abs), abs, nil
}

func cleanRel(dir string) string {
	dir = strings.TrimLeft(sandbox.Normalize(strings.TrimSpace(dir)), "/")
	if dir == "" {
		return ""
	}
	cleaned := path.Clean(dir)
	if cleaned == "." {
		return ""
	}
	return cleaned
}
