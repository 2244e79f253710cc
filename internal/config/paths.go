package config

import (
	"os"
	"path/filepath"
)

// SprintdPath returns the root directory for sprintd data.
// It uses $SPRINTD_PATH if set, otherwise defaults to ~/.sprintd.
func SprintdPath() string {
	if v := os.Getenv("SPRINTD_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sprintd")
	}
	return filepath.Join(home, ".sprintd")
}

// ConfigPath returns the path to the sprintd config file.
func ConfigPath() string {
	return filepath.Join(SprintdPath(), "config.jsonc")
}

// DotenvPath returns the path to the sprintd .env file.
func DotenvPath() string {
	return filepath.Join(SprintdPath(), ".env")
}
