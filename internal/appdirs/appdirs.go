package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "filegate"
)

// DataDir is where config.yaml, logs and (by default) projects live.
func DataDir() (string, error) {
	if override := os.Getenv("FILEGATE_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

func ProjectsDir(dataDir string) string {
	return filepath.Join(dataDir, "projects")
}

func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}
