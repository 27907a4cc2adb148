package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filegate/gateway/internal/project"
)

func setupProjects(t *testing.T) (string, string) {
	t.Helper()
	t.Setenv("FILEGATE_DATA_DIR", t.TempDir())
	t.Setenv("FILEGATE_ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	projectsDir := t.TempDir()
	root := filepath.Join(projectsDir, "demo")
	if err := os.MkdirAll(filepath.Join(root, "docs", "input"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "input", "report.txt"), []byte("report\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	manifest := `{"name":"Demo","read_dirs":["docs/input"],"write_dir":"output","aliases":{"input":"docs/input"}}`
	if err := os.WriteFile(filepath.Join(root, project.ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return projectsDir, root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestProjectsAndListCommands(t *testing.T) {
	projectsDir, _ := setupProjects(t)
	out, err := run(t, "--projects-dir", projectsDir, "-o", "text", "projects")
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if !strings.Contains(out, "demo") || !strings.Contains(out, "Demo") {
		t.Fatalf("unexpected projects output:\n%s", out)
	}

	out, err = run(t, "--projects-dir", projectsDir, "-o", "text", "ls", "demo", "docs/input")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if strings.TrimSpace(out) != "docs/input/report.txt" {
		t.Fatalf("unexpected ls output:\n%s", out)
	}

	out, err = run(t, "--projects-dir", projectsDir, "-o", "text", "mentions", "demo", "read", "@input/report.txt")
	if err != nil {
		t.Fatalf("mentions: %v", err)
	}
	if strings.TrimSpace(out) != "@input/report.txt\tdocs/input/report.txt" {
		t.Fatalf("unexpected mentions output:\n%s", out)
	}
}

func TestPromoteCommand(t *testing.T) {
	projectsDir, root := setupProjects(t)
	staged := filepath.Join(root, "output_pending", "notes.md")
	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(staged, []byte("notes\n"), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	out, err := run(t, "--projects-dir", projectsDir, "-o", "json", "promote", "demo", "output_pending/notes.md")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if record["promoted_to"] != "output/notes.md" {
		t.Fatalf("unexpected record %v", record)
	}
	if _, err := os.Stat(filepath.Join(root, "output", "notes.md")); err != nil {
		t.Fatalf("expected promoted file: %v", err)
	}
}

func TestCommandReportsStructuredError(t *testing.T) {
	projectsDir, _ := setupProjects(t)
	_, err := run(t, "--projects-dir", projectsDir, "-o", "text", "cat", "demo", "../../etc/passwd")
	if err == nil || !strings.Contains(err.Error(), "INVALID_PATH") {
		t.Fatalf("expected INVALID_PATH error, got %v", err)
	}
}

func TestConfigSetApprovalPersists(t *testing.T) {
	projectsDir, _ := setupProjects(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := run(t, "--config", cfgPath, "--projects-dir", projectsDir, "-o", "text", "config", "set-approval", "off"); err != nil {
		t.Fatalf("set-approval: %v", err)
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "require_approval: false") {
		t.Fatalf("expected approval off in config:\n%s", data)
	}
	if _, err := run(t, "--config", cfgPath, "--projects-dir", projectsDir, "-o", "text", "config", "set-approval", "maybe"); err == nil {
		t.Fatalf("expected error for unrecognized value")
	}
}
