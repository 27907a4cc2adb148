package appdirs

import (
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	t.Setenv("FILEGATE_DATA_DIR", "/tmp/filegate-test")
	path, err := DataDir()
	if err != nil {
		t.Fatalf("data dir: %v", err)
	}
	if path != "/tmp/filegate-test" {
		t.Fatalf("expected override path, got %s", path)
	}

	if projects := ProjectsDir(path); projects != "/tmp/filegate-test/projects" {
		t.Fatalf("expected projects dir, got %s", projects)
	}
	if cfg := ConfigPath(path); cfg != "/tmp/filegate-test/config.yaml" {
		t.Fatalf("expected config path, got %s", cfg)
	}
}
