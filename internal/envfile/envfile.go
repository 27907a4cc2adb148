package envfile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Result struct {
	Path   string
	Loaded bool
	Keys   int
	Err    error
}

// Load applies the first .env found: FILEGATE_ENV_PATH, then the working
// directory and its parents, then each fallback directory in order.
// Variables already present in the environment win.
func Load(fallbackDirs ...string) Result {
	if override := strings.TrimSpace(os.Getenv("FILEGATE_ENV_PATH")); override != "" {
		return LoadPath(override)
	}
	if cwd, err := os.Getwd(); err == nil {
		if path := findUpwards(cwd, ".env"); path != "" {
			return LoadPath(path)
		}
	}
	for _, dir := range fallbackDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			return LoadPath(candidate)
		}
	}
	return Result{}
}

func LoadPath(path string) Result {
	res := Result{Path: path}
	file, err := os.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer file.Close()
	res.Loaded = true
	pairs, err := Parse(file)
	if err != nil {
		res.Err = err
	}
	for _, pair := range pairs {
		if _, exists := os.LookupEnv(pair[0]); exists {
			continue
		}
		if err := os.Setenv(pair[0], pair[1]); err != nil {
			res.Err = err
			return res
		}
		res.Keys++
	}
	return res
}

// Parse reads KEY=VALUE lines in file order. Comments, blank lines and lines
// without a key are skipped; an `export ` prefix and matching quotes are
// stripped.
func Parse(r io.Reader) ([][2]string, error) {
	var pairs [][2]string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		pairs = append(pairs, [2]string{key, unquote(strings.TrimSpace(value))})
	}
	return pairs, scanner.Err()
}

func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first == last && (first == '"' || first == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}

func findUpwards(start, filename string) string {
	for dir := start; ; {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
