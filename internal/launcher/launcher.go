// Package launcher starts the Python worker with the supervisor's own
// standard streams, so the plugin host talks to the worker directly.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"

	"dprint-plugin-yapf/internal/config"
	"dprint-plugin-yapf/internal/logging"
	"dprint-plugin-yapf/internal/util"
)

// NotFoundError means the worker runtime executable could not be located.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("worker runtime %q not found (set %s to override): %v", e.Name, config.EnvRuntime, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// StartError means the worker process could not be spawned.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start worker %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ExitError reports a worker that exited with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker exited with status %d", e.Code)
}

// Resolve finds runtime on PATH, or checks it directly when it is a path.
func Resolve(runtime string) (string, error) {
	path, err := exec.LookPath(runtime)
	if err != nil {
		return "", &NotFoundError{Name: runtime, Err: err}
	}
	return path, nil
}

type Launcher struct {
	Runtime     string
	Script      string
	InstallDir  string
	PackagesDir string
	ParentPID   int
	// Args replaces the default "-u <Script> --parent-pid <pid>" when set.
	Args []string
	// Env is added on top of the supervisor's environment.
	Env map[string]string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *logging.Logger
}

// New returns a Launcher wired to the supervisor's own standard streams.
func New(cfg *config.Config) *Launcher {
	return &Launcher{
		Runtime:     cfg.Runtime,
		Script:      cfg.WorkerScript,
		InstallDir:  cfg.InstallDir,
		PackagesDir: cfg.PackagesPath(),
		ParentPID:   cfg.ParentPID,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Logger:      logging.WithFields(map[string]interface{}{"component": "launcher"}),
	}
}

func (l *Launcher) args() []string {
	if l.Args != nil {
		return l.Args
	}
	// -u: unbuffered binary stdio, the protocol deadlocks otherwise.
	args := []string{"-u", l.Script}
	if l.ParentPID > 0 {
		args = append(args, "--parent-pid", strconv.Itoa(l.ParentPID))
	}
	return args
}

func (l *Launcher) env() []string {
	extra := map[string]string{"PYTHONUNBUFFERED": "1"}
	if l.PackagesDir != "" {
		extra["PYTHONPATH"] = util.PrependPathList(l.PackagesDir, os.Getenv("PYTHONPATH"))
	}
	for k, v := range l.Env {
		extra[k] = v
	}
	return util.MergeEnv(os.Environ(), extra)
}

// Check resolves the runtime without starting anything.
func (l *Launcher) Check() error {
	_, err := Resolve(l.Runtime)
	return err
}

// Command builds the worker command without starting it.
func (l *Launcher) Command() (*exec.Cmd, error) {
	path, err := Resolve(l.Runtime)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, l.args()...)
	cmd.Dir = l.InstallDir
	cmd.Env = l.env()
	// *os.File streams are inherited as-is; nothing is copied or inspected.
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	return cmd, nil
}

// Run starts the worker and blocks until it exits. Termination signals sent
// to the supervisor are forwarded to the worker, and cancelling ctx asks
// the worker to stop. The worker is never restarted.
func (l *Launcher) Run(ctx context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	cmd, err := l.Command()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	if len(forwardedSignals) > 0 {
		signal.Notify(sigCh, forwardedSignals...)
		defer signal.Stop(sigCh)
	}

	if err := cmd.Start(); err != nil {
		return &StartError{Path: cmd.Path, Err: err}
	}
	logger.Debug("worker started", map[string]interface{}{"pid": cmd.Process.Pid, "path": cmd.Path, "args": cmd.Args[1:]})

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				logger.Debug("forwarding signal to worker", map[string]interface{}{"signal": sig.String()})
				_ = cmd.Process.Signal(sig)
			case <-ctx.Done():
				_ = terminate(cmd.Process)
				return
			case <-done:
				return
			}
		}
	}()

	err = cmd.Wait()
	if err == nil {
		logger.Debug("worker exited", nil)
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitCode(exitErr.ProcessState)
		logger.Debug("worker exited", map[string]interface{}{"code": code})
		return &ExitError{Code: code}
	}
	// stdio copy failures for non-file streams
	return fmt.Errorf("waiting for worker: %w", err)
}
