//go:build windows

// Package service runs the agent under the Windows Service Control Manager.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

const ServiceName = "DrSprinto"

// StopTimeout bounds how long a stop request waits for RunFunc to return.
const StopTimeout = 15 * time.Second

// Handler implements svc.Handler around RunFunc.
type Handler struct {
	RunFunc func(ctx context.Context) error
	Log     *zap.Logger
}

// exitAgentFailed is the service-specific exit code when RunFunc fails.
const exitAgentFailed = 1

// Execute is called by the SCM and drives the service lifecycle.
func (h *Handler) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	log := h.logger()
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.RunFunc(ctx) }()

	changes <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}
	log.Info("windows service running", zap.Strings("args", args))

	for {
		select {
		case err := <-done:
			return exitStatus(log, err)
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				log.Info("stop requested", zap.Uint32("cmd", uint32(c.Cmd)))
				changes <- svc.Status{State: svc.StopPending, WaitHint: uint32(StopTimeout / time.Millisecond)}
				cancel()
				return h.drain(log, done)
			default:
				log.Warn("unexpected control request", zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}

// drain waits up to StopTimeout for RunFunc after cancellation.
func (h *Handler) drain(log *zap.Logger, done <-chan error) (bool, uint32) {
	timer := time.NewTimer(StopTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return exitStatus(log, err)
		}
		return false, 0
	case <-timer.C:
		log.Warn("graceful shutdown timed out", zap.Duration("timeout", StopTimeout))
		return false, 0
	}
}

func exitStatus(log *zap.Logger, err error) (bool, uint32) {
	if err != nil {
		log.Error("agent exited with error", zap.Error(err))
		return true, exitAgentFailed
	}
	return false, 0
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log.Named("service")
}

// IsWindowsService reports whether the process was started by the SCM.
func IsWindowsService() bool {
	inService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return inService
}

// Run hands control to the SCM until the service stops.
func Run(h *Handler) error {
	return svc.Run(ServiceName, h)
}
