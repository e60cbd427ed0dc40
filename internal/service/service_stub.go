//go:build !windows

// Package service provides a stub for non-Windows platforms, where the agent
// always runs as a foreground process (typically under systemd).
package service

import (
	"context"

	"go.uber.org/zap"
)

// AgentService runs startFn directly.
type AgentService struct {
	logger  *zap.Logger
	startFn func(ctx context.Context)
}

func New(logger *zap.Logger, startFn func(ctx context.Context)) *AgentService {
	return &AgentService{
		logger:  logger,
		startFn: startFn,
	}
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

// Run executes the agent in the foreground.
func (s *AgentService) Run() error {
	s.startFn(context.Background())
	return nil
}
