//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"nutwatch.yaml",
		filepath.Join(home, ".config", "nutwatch", "nutwatch.yaml"),
		"/etc/nutwatch/nutwatch.yaml",
	}
}
