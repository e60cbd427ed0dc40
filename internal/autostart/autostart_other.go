//go:build !linux && !darwin && !windows

package autostart

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("autostart is not supported on " + runtime.GOOS)

type unsupported struct{}

func New() Manager { return unsupported{} }

func (unsupported) ServiceName() string             { return "nutwatch" }
func (unsupported) IsInstalled() (bool, error)      { return false, errUnsupported }
func (unsupported) Install(string, ...string) error { return errUnsupported }
func (unsupported) Uninstall() error                { return errUnsupported }
