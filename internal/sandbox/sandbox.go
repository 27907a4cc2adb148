// Package sandbox resolves project-relative paths into canonical absolute
// paths and rejects anything that escapes the project root or the roots an
// operation is allowed to touch.
package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrInvalidPath marks malformed input or a path that canonicalizes
	// outside the project root.
	ErrInvalidPath = errors.New("invalid path")
	// ErrForbidden marks a path inside the project root but outside every
	// allowed root of the operation.
	ErrForbidden = errors.New("path outside allowed roots")
)

// PathError reports a rejected input. Path is always the caller's relative
// input, never the canonical host path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return "sandbox: " + e.Op + " " + strconv.Quote(e.Path) + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

const maxLinkHops = 255

const sep = string(filepath.Separator)

// Resolve joins rel onto projectRoot and returns the canonical absolute path.
// Backslashes are treated as separators and leading separators are dropped,
// so "/etc/passwd" means "<root>/etc/passwd". Symlinks are followed through
// every existing prefix, including dangling links. When allowedRoots is
// non-empty the result must also sit inside one of them.
func Resolve(projectRoot, rel string, allowedRoots ...string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", &PathError{Op: "resolve", Path: rel, Err: ErrInvalidPath}
	}
	root, err := Canonical(projectRoot)
	if err != nil {
		return "", &PathError{Op: "resolve", Path: rel, Err: ErrInvalidPath}
	}
	normalized := strings.TrimLeft(Normalize(rel), "/")
	full := root
	if normalized != "" {
		full, err = canonicalize(root + sep + filepath.FromSlash(normalized))
		if err != nil {
			return "", &PathError{Op: "resolve", Path: rel, Err: ErrInvalidPath}
		}
	}
	if !Contains(full, root) {
		return "", &PathError{Op: "resolve", Path: rel, Err: ErrInvalidPath}
	}
	if len(allowedRoots) == 0 {
		return full, nil
	}
	canonicalRoots := make([]string, 0, len(allowedRoots))
	for _, allowed := range allowedRoots {
		c, err := Canonical(allowed)
		if err != nil {
			continue
		}
		canonicalRoots = append(canonicalRoots, c)
	}
	if !Contains(full, canonicalRoots...) {
		return "", &PathError{Op: "resolve", Path: rel, Err: ErrForbidden}
	}
	return full, nil
}

// Normalize converts backslashes to forward slashes. It does not clean the
// path; ".." segments are left for canonicalization to evaluate.
func Normalize(rel string) string {
	return strings.ReplaceAll(rel, `\`, "/")
}

// Contains reports whether child equals or descends from any root. Both sides
// must already be canonical; the check is lexical on a separator boundary.
func Contains(child string, roots ...string) bool {
	for _, root := range roots {
		if root == "" {
			continue
		}
		if child == root {
			return true
		}
		prefix := root
		if !strings.HasSuffix(prefix, sep) {
			prefix += sep
		}
		if strings.HasPrefix(child, prefix) {
			return true
		}
	}
	return false
}

// Canonical returns the absolute, symlink-resolved form of path. Missing
// trailing components are kept literally.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return canonicalize(abs)
}

// Relative returns target relative to root with forward slashes. The empty
// string means target is root itself.
func Relative(root, target string) string {
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

var errLinkLoop = errors.New("too many levels of symbolic links")

// canonicalize walks an absolute path one component at a time, following
// symlinks with lstat/readlink. Components that cannot be stat'ed are kept
// as-is, which covers not-yet-created files and dangling links alike.
func canonicalize(path string) (string, error) {
	volume := filepath.VolumeName(path)
	resolved := volume + sep
	pending := strings.Split(path[len(volume):], sep)
	hops := 0
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		switch name {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}
		next := filepath.Join(resolved, name)
		info, err := os.Lstat(next)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			resolved = next
			continue
		}
		hops++
		if hops > maxLinkHops {
			return "", errLinkLoop
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(target) {
			resolved = filepath.VolumeName(target) + sep
			target = target[len(filepath.VolumeName(target)):]
		}
		pending = append(strings.Split(target, sep), pending...)
	}
	return resolved, nil
}
