package fsindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"filegate/gateway/internal/project"
	"filegate/gateway/internal/sandbox"
)

func loadProject(t *testing.T, files map[string]string) *project.Manifest {
	t.Helper()
	projectsDir := t.TempDir()
	root := filepath.Join(projectsDir, "demo")
	manifest := `{"name":"Demo","read_dirs":["docs/input","docs/ref"],"write_dir":"output"}`
	files["manifest.json"] = manifest
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	m, err := project.NewStore(project.Options{ProjectsDir: projectsDir, RequireApproval: true}).Load("demo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return m
}

func TestListRoots(t *testing.T) {
	m := loadProject(t, map[string]string{"docs/input/a.txt": "a"})
	entries, err := New(Options{}).List(m, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// docs/ref does not exist; the pending dir is created on load.
	if len(entries) != 2 {
		t.Fatalf("expected 2 roots, got %+v", entries)
	}
	if entries[0].Rel != "docs/input" || entries[0].Name != "input" || entries[0].Type != TypeDir {
		t.Fatalf("unexpected first root %+v", entries[0])
	}
	if entries[1].Rel != "output_pending" {
		t.Fatalf("unexpected second root %+v", entries[1])
	}
}

func TestListDirectorySortsAndFilters(t *testing.T) {
	m := loadProject(t, map[string]string{
		"docs/input/b.txt":               "b",
		"docs/input/A.txt":               "a",
		"docs/input/zeta/x.txt":          "x",
		"docs/input/Alpha/y.txt":         "y",
		"docs/input/.hidden":             "h",
		"docs/input/.git/config":         "c",
		"docs/input/node_modules/m/i.js": "m",
		"docs/input/__pycache__/c.pyc":   "p",
		"docs/input/.DS_Store":           "d",
	})
	entries, err := New(Options{}).List(m, "docs/input")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Type+":"+e.Rel)
	}
	want := "dir:docs/input/Alpha,dir:docs/input/zeta,file:docs/input/A.txt,file:docs/input/b.txt"
	if strings.Join(got, ",") != want {
		t.Fatalf("expected %s, got %s", want, strings.Join(got, ","))
	}
}

func TestListErrors(t *testing.T) {
	m := loadProject(t, map[string]string{
		"docs/input/a.txt": "a",
		"secret/key.txt":   "k",
	})
	ix := New(Options{})
	if _, err := ix.List(m, "../.."); !errors.Is(err, sandbox.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if _, err := ix.List(m, "secret"); !errors.Is(err, sandbox.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := ix.List(m, "output"); !errors.Is(err, sandbox.ErrForbidden) {
		t.Fatalf("expected final dir to be outside browse roots, got %v", err)
	}
	if _, err := ix.List(m, "docs/input/a.txt"); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory, got %v", err)
	}
	if _, err := ix.List(m, "docs/input/missing"); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory for missing dir, got %v", err)
	}
}

func TestSearchCapsResults(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 50; i++ {
		files[fmt.Sprintf("docs/input/d%02d/report-%02d.md", i, i)] = "x"
	}
	m := loadProject(t, files)
	results, err := New(Options{}).Search(context.Background(), m, "REPORT", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !strings.Contains(r.Name, "report") || r.Type != TypeFile {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestSearchStopsWalkingAtLimit(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 50; i++ {
		files[fmt.Sprintf("docs/input/d%02d/report-%02d.md", i, i)] = "x"
	}
	m := loadProject(t, files)
	var visits atomic.Int64
	ix := New(Options{})
	ix.visit = func(string) { visits.Add(1) }
	results, err := ix.Search(context.Background(), m, "report", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	// 50 directories with one file each: a full walk would enter 100+ paths.
	if n := visits.Load(); n > 20 {
		t.Fatalf("expected the walk to stop near the limit, visited %d paths", n)
	}
}

func TestSearchStopsOnCancel(t *testing.T) {
	m := loadProject(t, map[string]string{"docs/input/a/report.md": "x", "docs/input/b/report.md": "y"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Options{}).Search(ctx, m, "report", 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSearchMembershipAndIgnore(t *testing.T) {
	m := loadProject(t, map[string]string{
		"docs/input/Notes.md":              "n",
		"docs/ref/notes-old.md":            "o",
		"docs/input/.git/notes":            "g",
		"docs/input/node_modules/notes.js": "j",
		"docs/input/.notes.swp":            "s",
		"secret/notes.md":                  "x",
	})
	results, err := New(Options{}).Search(context.Background(), m, "notes", 100)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got := map[string]bool{}
	for _, r := range results {
		got[r.Rel] = true
	}
	if len(got) != 2 || !got["docs/input/Notes.md"] || !got["docs/ref/notes-old.md"] {
		t.Fatalf("unexpected results %+v", results)
	}
	for _, name := range []string{".git", "node_modules"} {
		results, err := New(Options{}).Search(context.Background(), m, name, 100)
		if err != nil {
			t.Fatalf("search %s: %v", name, err)
		}
		if len(results) != 0 {
			t.Fatalf("expected ignored %s to stay hidden, got %+v", name, results)
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	m := loadProject(t, map[string]string{"docs/input/a.txt": "a"})
	results, err := New(Options{}).Search(context.Background(), m, "  ", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %+v", results)
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-3: 1, 0: DefaultSearchLimit, 1: 1, 5000: MaxSearchLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Fatalf("clamp %d: expected %d, got %d", in, want, got)
		}
	}
}

func TestPreview(t *testing.T) {
	m := loadProject(t, map[string]string{
		"docs/input/a.md":    "# title\n",
		"docs/input/big.txt": strings.Repeat("z", 32),
		"docs/input/b.bin":   "a\x00b",
	})
	ix := New(Options{PreviewMaxBytes: 16})

	text, err := ix.Preview(m, "docs/input/a.md", 0)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !text.IsText || text.Content != "# title\n" || text.Truncated || text.MIME != "text/markdown" {
		t.Fatalf("unexpected text preview %+v", text)
	}

	big, err := ix.Preview(m, "docs/input/big.txt", 0)
	if err != nil {
		t.Fatalf("preview big: %v", err)
	}
	if !big.Truncated || len(big.Content) != 16 || big.Size != 32 {
		t.Fatalf("unexpected truncated preview %+v", big)
	}

	bin, err := ix.Preview(m, "docs/input/b.bin", 0)
	if err != nil {
		t.Fatalf("preview binary: %v", err)
	}
	if bin.IsText || bin.Content != "" || bin.Note == "" {
		t.Fatalf("unexpected binary preview %+v", bin)
	}

	if _, err := ix.Preview(m, "", 0); !errors.Is(err, sandbox.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for empty path, got %v", err)
	}
	if _, err := ix.Preview(m, "docs/input/none.md", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := ix.Preview(m, "docs/input", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
	if _, err := ix.Preview(m, "manifest.json", 0); !errors.Is(err, sandbox.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for manifest, got %v", err)
	}
}
