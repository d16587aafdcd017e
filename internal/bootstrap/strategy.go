package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Strategy is one way of installing the dependency into target.
type Strategy interface {
	Name() string
	Applicable() bool
	TryInstall(ctx context.Context, target string) error
}

// Options configures the pip-based strategies.
type Options struct {
	// Runtime is the Python interpreter; pip runs as "<Runtime> -m pip".
	Runtime     string
	Requirement string
	CompatFlags []string
	// ScratchRoot is where the throwaway pip install goes.
	ScratchRoot string
	Runner      Runner
}

const (
	StrategyDirect      = "direct"
	StrategyCompat      = "compat"
	StrategyUpgradedPip = "upgraded-pip"

	scratchPrefix = ".pip-scratch-"
)

// DefaultStrategies returns the install strategies in the order they are tried.
func DefaultStrategies(opts Options) []Strategy {
	return []Strategy{
		&pipStrategy{name: StrategyDirect, opts: opts},
		&pipStrategy{name: StrategyCompat, opts: opts, flags: opts.CompatFlags},
		&upgradedPipStrategy{opts: opts},
	}
}

func installArgs(target, requirement string, flags []string) []string {
	args := []string{
		"-m", "pip", "install",
		"--ignore-installed",
		"--no-input",
		"--disable-pip-version-check",
		"--target", target,
	}
	args = append(args, flags...)
	return append(args, requirement)
}

func run(ctx context.Context, opts Options, args []string, env map[string]string) error {
	inv := Invocation{
		Path: opts.Runtime,
		Args: args,
		Dir:  opts.ScratchRoot,
		Env:  env,
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	out, err := runner.Run(ctx, inv)
	if err != nil {
		return classify(ctx, inv, out, err)
	}
	return nil
}

// pipStrategy runs "pip install --target" with optional extra flags. With
// no flags configured for a compat variant it does not apply.
type pipStrategy struct {
	name  string
	opts  Options
	flags []string
}

func (s *pipStrategy) Name() string { return s.name }

func (s *pipStrategy) Applicable() bool {
	return s.name == StrategyDirect || len(s.flags) > 0
}

func (s *pipStrategy) TryInstall(ctx context.Context, target string) error {
	if missing := s.unsupportedFlags(ctx); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrFlagsUnsupported, strings.Join(missing, " "))
	}
	return run(ctx, s.opts, installArgs(target, s.opts.Requirement, s.flags), nil)
}

// unsupportedFlags returns the extra flags "pip install --help" does not
// list. When the help output cannot be read, the flags are tried anyway.
func (s *pipStrategy) unsupportedFlags(ctx context.Context) []string {
	if len(s.flags) == 0 {
		return nil
	}
	runner := s.opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	out, err := runner.Run(ctx, Invocation{
		Path: s.opts.Runtime,
		Args: []string{"-m", "pip", "install", "--help", "--disable-pip-version-check"},
		Dir:  s.opts.ScratchRoot,
	})
	if err != nil {
		return nil
	}
	var missing []string
	for _, flag := range s.flags {
		name, _, _ := strings.Cut(flag, "=")
		if strings.HasPrefix(name, "-") && !listsOption(string(out), name) {
			missing = append(missing, flag)
		}
	}
	return missing
}

// listsOption reports whether help text mentions option as a whole token.
func listsOption(help, option string) bool {
	for rest := help; ; {
		i := strings.Index(rest, option)
		if i < 0 {
			return false
		}
		end := i + len(option)
		if end == len(rest) || !isOptionChar(rest[end]) {
			return true
		}
		rest = rest[end:]
	}
}

func isOptionChar(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// upgradedPipStrategy installs a current pip into a scratch user base and
// uses it for the targeted install. The scratch directory never outlives
// TryInstall.
type upgradedPipStrategy struct {
	opts Options
}

func (s *upgradedPipStrategy) Name() string     { return StrategyUpgradedPip }
func (s *upgradedPipStrategy) Applicable() bool { return true }

func (s *upgradedPipStrategy) TryInstall(ctx context.Context, target string) (err error) {
	scratch := filepath.Join(s.opts.ScratchRoot, scratchPrefix+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil && err == nil {
			err = fmt.Errorf("failed to remove scratch directory %s: %w", scratch, rmErr)
		}
	}()

	env := map[string]string{"PYTHONUSERBASE": scratch}
	upgrade := []string{
		"-m", "pip", "install",
		"--user", "--upgrade",
		"--no-input",
		"--disable-pip-version-check",
		"pip",
	}
	if err := run(ctx, s.opts, upgrade, env); err != nil {
		return fmt.Errorf("upgrading pip: %w", err)
	}
	return run(ctx, s.opts, installArgs(target, s.opts.Requirement, nil), env)
}
