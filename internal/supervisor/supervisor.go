// Package supervisor ties the liveness monitor, the bootstrapper and the
// launcher together in startup order.
package supervisor

import (
	"context"
	"errors"
	"fmt"

	"dprint-plugin-yapf/internal/bootstrap"
	"dprint-plugin-yapf/internal/config"
	"dprint-plugin-yapf/internal/launcher"
	"dprint-plugin-yapf/internal/liveness"
	"dprint-plugin-yapf/internal/logging"
)

// Monitor is the background parent watcher.
type Monitor interface {
	Start(ctx context.Context)
}

// Bootstrapper installs the worker dependency.
type Bootstrapper interface {
	Run(ctx context.Context) (*bootstrap.Manifest, error)
}

// Launcher runs the worker for the rest of the supervisor's life. Check
// reports a missing runtime before any other work is done.
type Launcher interface {
	Check() error
	Run(ctx context.Context) error
}

type Supervisor struct {
	Init      bool
	Monitor   Monitor
	Bootstrap Bootstrapper
	Launch    Launcher
	Logger    *logging.Logger
}

// New wires the production components for cfg.
func New(cfg *config.Config) (*Supervisor, error) {
	mon, err := liveness.NewMonitor(cfg.ParentPID, cfg.PollInterval)
	if err != nil {
		return nil, &config.UsageError{Err: err}
	}
	return &Supervisor{
		Init:      cfg.Init,
		Monitor:   mon,
		Bootstrap: bootstrap.New(cfg, bootstrap.ExecRunner{}),
		Launch:    launcher.New(cfg),
		Logger:    logging.WithFields(map[string]interface{}{"component": "supervisor", "parent_pid": cfg.ParentPID}),
	}, nil
}

// BootstrapError wraps a failed bootstrap so callers can tell it apart from
// launch failures.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string { return fmt.Sprintf("bootstrap failed: %v", e.Err) }
func (e *BootstrapError) Unwrap() error { return e.Err }

// Run starts the monitor, bootstraps if requested and then blocks on the
// worker. The worker's exit is returned as a *launcher.ExitError.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if s.Monitor == nil || s.Launch == nil {
		return errors.New("supervisor is missing a monitor or launcher")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Monitor.Start(ctx)

	if err := s.Launch.Check(); err != nil {
		return err
	}

	if s.Init {
		if s.Bootstrap == nil {
			return &BootstrapError{Err: errors.New("no bootstrapper configured")}
		}
		m, err := s.Bootstrap.Run(ctx)
		if err != nil {
			logger.Error("dependency bootstrap failed", map[string]interface{}{"error": err})
			return &BootstrapError{Err: err}
		}
		logger.Info("dependency ready", map[string]interface{}{"requirement": m.Requirement, "strategy": m.Strategy})
	}

	return s.Launch.Run(ctx)
}
