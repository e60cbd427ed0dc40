// Package autostart installs nutwatch as a boot-time service: a systemd unit
// on Linux, a launchd daemon on macOS and an SCM service on Windows.
package autostart

import "strings"

// Manager provides platform-specific autostart installation.
type Manager interface {
	IsInstalled() (bool, error)
	Install(execPath string, args ...string) error
	Uninstall() error
	ServiceName() string
}

// commandLine quotes arguments containing spaces.
func commandLine(execPath string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, p := range append([]string{execPath}, args...) {
		if strings.ContainsAny(p, " \t") {
			p = `"` + p + `"`
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
