package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns $SAGECELL_HOME or ~/.sagecell.
func DefaultConfigDir() string {
	if v := os.Getenv("SAGECELL_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sagecell"
	}
	return filepath.Join(home, ".sagecell")
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
