// Package fsutil holds the file primitives shared by staging and promotion.
package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"time"
)

// AtomicWrite writes data to a temp file in the destination directory and
// renames it into place. Parent directories are created.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		return err
	}
	return os.Rename(name, path)
}

// CopyFile copies bytes, permission bits and modification time from src to
// dest through a temp file next to dest. dest is replaced only after the
// copy has been written and synced.
func CopyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Chtimes(name, accessTime(info), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(name, dest)
}

// IsRegular reports whether path exists and is a regular file. Symlinks are
// followed.
func IsRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// accessTime falls back to the modification time; portable atime needs
// platform-specific stat fields.
func accessTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
