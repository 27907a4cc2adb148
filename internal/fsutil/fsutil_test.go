package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAtomicWriteCreatesParents(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a", "b", "c.txt")
	if err := AtomicWrite(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("atomic write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestCopyFilePreservesModeAndTime(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.sh")
	dest := filepath.Join(root, "out", "dest.sh")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := os.Chmod(src, 0o750); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(src, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := CopyFile(src, dest); err != nil {
		t.Fatalf("copy: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat dest: %v", err)
	}
	if info.Mode().Perm() != 0o750 {
		t.Fatalf("expected mode 0750, got %v", info.Mode().Perm())
	}
	if !info.ModTime().Equal(stamp) {
		t.Fatalf("expected mtime %v, got %v", stamp, info.ModTime())
	}
	if !IsRegular(src) {
		t.Fatalf("expected source to remain")
	}
}

func TestCopyFileMissingSourceLeavesDest(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "dest.txt")
	if err := os.WriteFile(dest, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write dest: %v", err)
	}
	if err := CopyFile(filepath.Join(root, "missing"), dest); err == nil {
		t.Fatalf("expected error for missing source")
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "keep" {
		t.Fatalf("expected destination unchanged, got %q (%v)", data, err)
	}
}
