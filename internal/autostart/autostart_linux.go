//go:build linux

package autostart

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	serviceName = "nutwatch"
	unitPath    = "/etc/systemd/system/nutwatch.service"
	dataDir     = "/var/lib/nutwatch"
)

// unitTemplate is the systemd unit file written during installation.
// NUT_*, sink and NUTWATCH_* variables come from the optional env file.
const unitTemplate = `[Unit]
Description=nutwatch UPS agent
After=network-online.target nut-server.service
Wants=network-online.target

[Service]
Type=simple
ExecStart={command}
WorkingDirectory={dataDir}
EnvironmentFile=-/etc/nutwatch/nutwatch.env
Restart=always
RestartSec=10
StandardOutput=journal
StandardError=journal
SyslogIdentifier=nutwatch

# Security hardening
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=true
ReadWritePaths={dataDir}
PrivateTmp=true

[Install]
WantedBy=multi-user.target
`

// linuxManager implements Manager for Linux using systemd.
type linuxManager struct{}

// New returns a Manager that uses systemd for service management.
func New() Manager {
	return &linuxManager{}
}

func (l *linuxManager) ServiceName() string { return serviceName }

// IsInstalled checks whether the systemd unit file exists.
func (l *linuxManager) IsInstalled() (bool, error) {
	_, err := os.Stat(unitPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking unit file: %w", err)
	}
	return true, nil
}

func renderUnit(execPath string, args []string) string {
	unit := strings.ReplaceAll(unitTemplate, "{command}", commandLine(execPath, args))
	return strings.ReplaceAll(unit, "{dataDir}", dataDir)
}

// Install writes the unit file, reloads the daemon, enables and starts the
// service. The data directory doubles as the working directory, so the http
// sink's relative buffer directory lands there.
func (l *linuxManager) Install(execPath string, args ...string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if err := os.WriteFile(unitPath, []byte(renderUnit(execPath, args)), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	commands := [][]string{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", serviceName},
		{"systemctl", "start", serviceName},
	}
	for _, c := range commands {
		if err := exec.Command(c[0], c[1:]...).Run(); err != nil {
			return fmt.Errorf("running %s: %w", strings.Join(c, " "), err)
		}
	}

	return nil
}

// Uninstall stops, disables, and removes the systemd service.
func (l *linuxManager) Uninstall() error {
	// Best effort: the service may already be inactive.
	_ = exec.Command("systemctl", "stop", serviceName).Run()
	_ = exec.Command("systemctl", "disable", serviceName).Run()

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}

	_ = exec.Command("systemctl", "daemon-reload").Run()
	return nil
}
