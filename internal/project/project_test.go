package project

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeManifest(t *testing.T, projectsDir, id, body string) string {
	t.Helper()
	root := filepath.Join(projectsDir, id)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir project: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ManifestFile), []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return root
}

const demoManifest = `{
  "name": "Demo",
  "read_dirs": ["docs/input", "docs/ref"],
  "write_dir": "output",
  "aliases": {"input": "docs/input", "@ref": "docs/ref"}
}`

func TestLoadWithApproval(t *testing.T) {
	projectsDir := t.TempDir()
	writeManifest(t, projectsDir, "demo", demoManifest)
	store := NewStore(Options{ProjectsDir: projectsDir, RequireApproval: true})

	manifest, err := store.Load("demo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if manifest.Name != "Demo" {
		t.Fatalf("expected name Demo, got %q", manifest.Name)
	}
	if manifest.WriteDir != DefaultPendingDir {
		t.Fatalf("expected write dir %q, got %q", DefaultPendingDir, manifest.WriteDir)
	}
	if manifest.FinalDir != "output" {
		t.Fatalf("expected final dir output, got %q", manifest.FinalDir)
	}
	if info, err := os.Stat(manifest.WriteDirAbs); err != nil || !info.IsDir() {
		t.Fatalf("expected pending dir to be created: %v", err)
	}
	if !reflect.DeepEqual(manifest.ReadDirs, []string{"docs/input", "docs/ref"}) {
		t.Fatalf("unexpected read dirs %v", manifest.ReadDirs)
	}
	if got := len(manifest.Roots()); got != 3 {
		t.Fatalf("expected 3 roots, got %d", got)
	}
}

func TestLoadWithoutApprovalWritesToFinal(t *testing.T) {
	projectsDir := t.TempDir()
	writeManifest(t, projectsDir, "demo", `{"read_dirs": ["docs"]}`)
	store := NewStore(Options{ProjectsDir: projectsDir})

	manifest, err := store.Load("demo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if manifest.Name != "demo" {
		t.Fatalf("expected name to default to id, got %q", manifest.Name)
	}
	if manifest.WriteDir != DefaultWriteDir || manifest.FinalDir != DefaultWriteDir {
		t.Fatalf("expected write and final dir %q, got %q and %q", DefaultWriteDir, manifest.WriteDir, manifest.FinalDir)
	}
	if manifest.WriteDirAbs != manifest.FinalDirAbs {
		t.Fatalf("expected write and final abs dirs to match")
	}
	if manifest.RequireApproval {
		t.Fatalf("expected approval off")
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	projectsDir := t.TempDir()
	writeManifest(t, projectsDir, "demo", demoManifest)
	store := NewStore(Options{ProjectsDir: projectsDir, RequireApproval: true})

	first, err := store.Load("demo")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := store.Load("demo")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical manifests, got %+v and %+v", first, second)
	}
}

func TestLoadRoutesWritesThroughExplicitMode(t *testing.T) {
	projectsDir := t.TempDir()
	writeManifest(t, projectsDir, "demo", demoManifest)

	staged, err := NewStore(Options{ProjectsDir: projectsDir, RequireApproval: true, PendingDir: "review/"}).Load("demo")
	if err != nil {
		t.Fatalf("load staged: %v", err)
	}
	direct, err := NewStore(Options{ProjectsDir: projectsDir}).Load("demo")
	if err != nil {
		t.Fatalf("load direct: %v", err)
	}
	if staged.WriteDir != "review" {
		t.Fatalf("expected custom pending dir, got %q", staged.WriteDir)
	}
	if direct.WriteDir != "output" {
		t.Fatalf("expected declared write dir, got %q", direct.WriteDir)
	}
}

func TestLoadErrors(t *testing.T) {
	projectsDir := t.TempDir()
	writeManifest(t, projectsDir, "broken", `{"name": `)
	writeManifest(t, projectsDir, "escape", `{"read_dirs": ["../other"]}`)
	writeManifest(t, projectsDir, "rootwrite", `{"write_dir": "."}`)
	writeManifest(t, projectsDir, "rootwrite2", `{"write_dir": "out/.."}`)
	if err := os.MkdirAll(filepath.Join(projectsDir, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	store := NewStore(Options{ProjectsDir: projectsDir})

	cases := []struct {
		id   string
		want error
	}{
		{"../etc", ErrInvalidProjectID},
		{"a/b", ErrInvalidProjectID},
		{"", ErrInvalidProjectID},
		{"missing", ErrNotFound},
		{"empty", ErrNotFound},
		{"broken", ErrParse},
		{"escape", ErrParse},
		{"rootwrite", ErrParse},
		{"rootwrite2", ErrParse},
	}
	for _, tc := range cases {
		if _, err := store.Load(tc.id); !errors.Is(err, tc.want) {
			t.Fatalf("load %q: expected %v, got %v", tc.id, tc.want, err)
		}
	}
	if _, err := os.Stat(filepath.Join(projectsDir, "missing")); !os.IsNotExist(err) {
		t.Fatalf("expected no directory to be created for a missing project")
	}
}

func TestListSkipsInvalidProjects(t *testing.T) {
	projectsDir := t.TempDir()
	writeManifest(t, projectsDir, "zeta", `{"name": "Zeta"}`)
	writeManifest(t, projectsDir, "alpha", demoManifest)
	writeManifest(t, projectsDir, "broken", `not json`)
	if err := os.MkdirAll(filepath.Join(projectsDir, "no-manifest"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projectsDir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	summaries, err := NewStore(Options{ProjectsDir: projectsDir}).List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(summaries))
	}
	if summaries[0].ID != "alpha" || summaries[1].ID != "zeta" {
		t.Fatalf("expected sorted ids, got %v", summaries)
	}
	if summaries[0].Aliases["input"] != "docs/input" {
		t.Fatalf("expected aliases in summary, got %v", summaries[0].Aliases)
	}
}

func TestListMissingProjectsDir(t *testing.T) {
	summaries, err := NewStore(Options{ProjectsDir: filepath.Join(t.TempDir(), "nope")}).List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected no projects, got %v", summaries)
	}
}

func TestInfoView(t *testing.T) {
	projectsDir := t.TempDir()
	writeManifest(t, projectsDir, "demo", demoManifest)
	manifest, err := NewStore(Options{ProjectsDir: projectsDir, RequireApproval: true}).Load("demo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	info := manifest.Info()
	if info.WriteDir != "output_pending" || info.FinalWriteDir != "output" || !info.RequireApproval {
		t.Fatalf("unexpected info %+v", info)
	}
	info.Aliases["input"] = "changed"
	if manifest.Aliases["input"] != "docs/input" {
		t.Fatalf("expected info to copy aliases")
	}
}
