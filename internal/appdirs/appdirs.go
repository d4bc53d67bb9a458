package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "forgebench"
)

func DataDir() (string, error) {
	if override := os.Getenv("FORGEBENCH_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// ConfigPath is the YAML configuration file inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "forgebench.yaml")
}

// SessionsDir holds exported session archives by default.
func SessionsDir(dataDir string) string {
	return filepath.Join(dataDir, "sessions")
}

// SandboxDir is the default root of the local sandbox.
func SandboxDir(dataDir string) string {
	return filepath.Join(dataDir, "sandbox")
}
