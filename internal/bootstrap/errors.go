package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"dprint-plugin-yapf/internal/util"

	"go.uber.org/multierr"
)

var (
	// ErrInstallerUnavailable means the installer could not be started at all.
	ErrInstallerUnavailable = errors.New("could not reach installer")
	// ErrInstallerFailed means the installer ran and reported failure.
	ErrInstallerFailed = errors.New("installer ran and reported failure")
	// ErrNoStrategy means no install strategy applies to this platform.
	ErrNoStrategy = errors.New("no applicable install strategy")
	// ErrFlagsUnsupported means the installer does not know a strategy's
	// extra flags, so the strategy is skipped rather than attempted.
	ErrFlagsUnsupported = errors.New("installer does not support flags")
)

const outputTailLines = 20

const missingPipMessage = "No module named pip"

// InstallerError describes one failed installer invocation.
type InstallerError struct {
	Kind    error
	Command string
	Output  string
	Err     error
}

func (e *InstallerError) Error() string {
	msg := fmt.Sprintf("%v: %s: %v", e.Kind, e.Command, e.Err)
	if tail := tailLines(e.Output, outputTailLines); tail != "" {
		msg += "\n" + tail
	}
	return msg
}

func (e *InstallerError) Unwrap() []error { return []error{e.Kind, e.Err} }

// classify wraps a Runner error, telling "never started" from "ran and failed".
func classify(ctx context.Context, inv Invocation, output []byte, err error) error {
	kind := ErrInstallerUnavailable
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		kind = ErrInstallerFailed
		// The runtime started but has no pip module to run.
		if exitErr.ExitCode() == 1 && strings.Contains(string(output), missingPipMessage) {
			kind = ErrInstallerUnavailable
		}
	case ctx.Err() != nil:
		kind = ErrInstallerFailed
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return &InstallerError{Kind: kind, Command: inv.String(), Output: util.CleanOutput(output), Err: err}
}

func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Attempt records the outcome of one strategy.
type Attempt struct {
	Strategy string
	Err      error
}

// Error is returned when every strategy failed.
type Error struct {
	Requirement string
	Attempts    []Attempt
}

func (e *Error) combined() error {
	var err error
	for _, a := range e.Attempts {
		err = multierr.Append(err, fmt.Errorf("%s: %w", a.Strategy, a.Err))
	}
	if err == nil {
		return ErrNoStrategy
	}
	return err
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to install %s: %v", e.Requirement, e.combined())
}

func (e *Error) Unwrap() []error { return multierr.Errors(e.combined()) }
