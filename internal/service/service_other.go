//go:build !windows

// Package service runs the agent under the Windows Service Control Manager.
// Elsewhere the agent runs in the foreground and this package is inert.
package service

import (
	"context"

	"go.uber.org/zap"
)

const ServiceName = "DrSprinto"

// Handler wraps the agent's main loop.
type Handler struct {
	RunFunc func(ctx context.Context) error
	Log     *zap.Logger
}

// IsWindowsService always returns false off Windows.
func IsWindowsService() bool { return false }

// Run is a no-op off Windows.
func Run(h *Handler) error { return nil }
