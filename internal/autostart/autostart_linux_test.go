//go:build linux

package autostart

import (
	"strings"
	"testing"
)

func TestRenderUnit(t *testing.T) {
	unit := renderUnit("/usr/local/bin/nutwatch", []string{"-config", "/etc/nutwatch/my config.yaml"})

	want := `ExecStart=/usr/local/bin/nutwatch -config "/etc/nutwatch/my config.yaml"`
	if !strings.Contains(unit, want) {
		t.Errorf("unit missing %q:\n%s", want, unit)
	}
	if !strings.Contains(unit, "ReadWritePaths=/var/lib/nutwatch") {
		t.Error("data directory not substituted")
	}
	if strings.Contains(unit, "{") {
		t.Errorf("unit has unreplaced placeholders:\n%s", unit)
	}
	if New().ServiceName() != "nutwatch" {
		t.Errorf("ServiceName() = %q", New().ServiceName())
	}
}
