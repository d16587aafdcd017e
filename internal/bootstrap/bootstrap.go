// Package bootstrap installs the worker's Python dependency into the
// supervisor's private packages directory.
//
// Strategies are tried in order until one succeeds. Each one installs into
// a fresh staging directory; only a complete install replaces the packages
// directory, so a failed attempt never leaves it half written.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dprint-plugin-yapf/internal/config"
	"dprint-plugin-yapf/internal/logging"
	"dprint-plugin-yapf/internal/util"

	"github.com/google/uuid"
)

const (
	stagingPrefix = ".packages-staging-"
	retiredPrefix = ".packages-old-"
)

type Bootstrapper struct {
	PackagesDir string
	Requirement string
	Runtime     string
	Strategies  []Strategy
	// Timeout bounds each strategy; zero means no limit.
	Timeout time.Duration
	Logger  *logging.Logger

	now func() time.Time
}

// New builds a Bootstrapper with the default strategy order for cfg.
func New(cfg *config.Config, runner Runner) *Bootstrapper {
	opts := Options{
		Runtime:     cfg.Runtime,
		Requirement: cfg.Dependency.Requirement(),
		CompatFlags: cfg.PlatformCompatFlags(),
		ScratchRoot: cfg.InstallDir,
		Runner:      runner,
	}
	return &Bootstrapper{
		PackagesDir: cfg.PackagesPath(),
		Requirement: opts.Requirement,
		Runtime:     cfg.Runtime,
		Strategies:  DefaultStrategies(opts),
		Timeout:     cfg.InstallTimeout,
		Logger:      logging.WithFields(map[string]interface{}{"component": "bootstrap"}),
	}
}

// Run installs the dependency, returning the manifest of the install that
// succeeded or an *Error listing every failed attempt.
func (b *Bootstrapper) Run(ctx context.Context) (*Manifest, error) {
	logger := b.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if err := util.EnsureDir(filepath.Dir(b.PackagesDir), 0o755); err != nil {
		return nil, err
	}

	failure := &Error{Requirement: b.Requirement}
	for _, s := range b.Strategies {
		if !s.Applicable() {
			logger.Debug("skipping install strategy", map[string]interface{}{"strategy": s.Name()})
			continue
		}
		logger.Info("installing dependency", map[string]interface{}{
			"strategy":    s.Name(),
			"requirement": b.Requirement,
			"target":      b.PackagesDir,
		})

		m, err := b.attempt(ctx, s)
		if err == nil {
			logger.Info("dependency installed", map[string]interface{}{"strategy": s.Name()})
			return m, nil
		}
		if errors.Is(err, ErrFlagsUnsupported) {
			logger.Info("skipping install strategy", map[string]interface{}{"strategy": s.Name(), "reason": err.Error()})
			continue
		}
		logger.Warn("install strategy failed", map[string]interface{}{"strategy": s.Name(), "error": err})
		failure.Attempts = append(failure.Attempts, Attempt{Strategy: s.Name(), Err: err})

		if ctx.Err() != nil {
			break
		}
	}
	return nil, failure
}

func (b *Bootstrapper) attempt(ctx context.Context, s Strategy) (*Manifest, error) {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	staging := filepath.Join(filepath.Dir(b.PackagesDir), stagingPrefix+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	// After a successful swap the staging path no longer exists.
	defer os.RemoveAll(staging)

	if err := s.TryInstall(ctx, staging); err != nil {
		return nil, err
	}

	m := Manifest{
		Requirement: b.Requirement,
		Strategy:    s.Name(),
		Runtime:     b.Runtime,
		InstalledAt: b.timeNow().UTC(),
	}
	if err := writeManifest(staging, m); err != nil {
		return nil, err
	}
	if err := replaceDir(staging, b.PackagesDir); err != nil {
		return nil, err
	}
	return &m, nil
}

func (b *Bootstrapper) timeNow() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// replaceDir moves src to dst. An existing dst is moved aside first and
// restored if the final rename fails.
func replaceDir(src, dst string) error {
	retired := ""
	if _, err := os.Stat(dst); err == nil {
		retired = filepath.Join(filepath.Dir(dst), retiredPrefix+uuid.NewString())
		if err := os.Rename(dst, retired); err != nil {
			return fmt.Errorf("failed to move previous install aside: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access %s: %w", dst, err)
	}

	if err := os.Rename(src, dst); err != nil {
		if retired != "" {
			_ = os.Rename(retired, dst)
		}
		return fmt.Errorf("failed to activate new install: %w", err)
	}
	if retired != "" {
		_ = os.RemoveAll(retired)
	}
	return nil
}
