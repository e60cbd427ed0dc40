//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	local := os.Getenv("LOCALAPPDATA")
	programData := os.Getenv("ProgramData")
	return []string{
		"nutwatch.yaml",
		filepath.Join(local, "nutwatch", "nutwatch.yaml"),
		filepath.Join(programData, "nutwatch", "nutwatch.yaml"),
	}
}
