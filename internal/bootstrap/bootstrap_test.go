package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"dprint-plugin-yapf/internal/logging"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRequirement = "yapf==0.30.0"
	strategyHelp    = "help"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []Invocation
	handle func(ctx context.Context, inv Invocation) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, inv Invocation) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.handle == nil {
		return installInto(inv)
	}
	return f.handle(ctx, inv)
}

func targetOf(inv Invocation) string {
	for i, a := range inv.Args {
		if a == "--target" && i+1 < len(inv.Args) {
			return inv.Args[i+1]
		}
	}
	return ""
}

const pipInstallHelp = `Install Options:
  -t, --target <dir>          Install packages into <dir>.
  --user                      Install to the Python user install directory.
  --system                    Install using the system scheme.
  --ignore-installed          Ignore the installed packages.
`

// installInto mimics a successful pip run.
func installInto(inv Invocation) ([]byte, error) {
	if contains(inv.Args, "--help") {
		return []byte(pipInstallHelp), nil
	}
	target := targetOf(inv)
	if target == "" {
		return []byte("Successfully installed pip\n"), nil
	}
	pkg := filepath.Join(target, "yapf")
	if err := os.MkdirAll(pkg, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(pkg, "__init__.py"), []byte("__version__ = '0.30.0'\n"), 0o644); err != nil {
		return nil, err
	}
	return []byte("Successfully installed yapf-0.30.0\n"), nil
}

func failRun(output string) ([]byte, error) {
	return []byte(output), &exec.ExitError{}
}

func strategyOf(inv Invocation) string {
	switch {
	case contains(inv.Args, "--help"):
		return strategyHelp
	case inv.Env["PYTHONUSERBASE"] != "":
		return StrategyUpgradedPip
	case contains(inv.Args, "--system"):
		return StrategyCompat
	default:
		return StrategyDirect
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func newTestBootstrapper(t *testing.T, root string, runner Runner, compat []string) *Bootstrapper {
	t.Helper()
	opts := Options{
		Runtime:     "python",
		Requirement: testRequirement,
		CompatFlags: compat,
		ScratchRoot: root,
		Runner:      runner,
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &Bootstrapper{
		PackagesDir: filepath.Join(root, "packages"),
		Requirement: testRequirement,
		Runtime:     "python",
		Strategies:  DefaultStrategies(opts),
		Logger:      logging.Nop(),
		now:         func() time.Time { return fixed },
	}
}

// snapshot lists every file under dir with its content.
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

// leftovers returns transient directories still present under root.
func leftovers(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, scratchPrefix) || strings.HasPrefix(name, stagingPrefix) || strings.HasPrefix(name, retiredPrefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func TestRunDirectInstall(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	b := newTestBootstrapper(t, root, runner, []string{"--system"})

	m, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, m.Strategy)
	assert.Equal(t, testRequirement, m.Requirement)

	require.Len(t, runner.calls, 1)
	args := runner.calls[0].Args
	assert.Equal(t, []string{"-m", "pip", "install"}, args[:3])
	assert.Contains(t, args, "--ignore-installed")
	assert.Equal(t, testRequirement, args[len(args)-1])
	assert.Empty(t, runner.calls[0].Env)

	assert.FileExists(t, filepath.Join(root, "packages", "yapf", "__init__.py"))
	assert.Empty(t, leftovers(t, root))

	read, err := ReadManifest(filepath.Join(root, "packages"))
	require.NoError(t, err)
	assert.Equal(t, *m, *read)
}

func TestRunTwiceConverges(t *testing.T) {
	root := t.TempDir()
	b := newTestBootstrapper(t, root, &fakeRunner{}, nil)

	_, err := b.Run(context.Background())
	require.NoError(t, err)
	first := snapshot(t, filepath.Join(root, "packages"))
	assert.Empty(t, leftovers(t, root))

	// Stray file from a manual edit must not survive a fresh install.
	require.NoError(t, os.WriteFile(filepath.Join(root, "packages", "stray.py"), []byte("x"), 0o644))

	_, err = b.Run(context.Background())
	require.NoError(t, err)
	second := snapshot(t, filepath.Join(root, "packages"))

	assert.Equal(t, first, second)
	assert.Empty(t, leftovers(t, root))
}

func TestFallsBackToCompatFlags(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{handle: func(_ context.Context, inv Invocation) ([]byte, error) {
		if strategyOf(inv) == StrategyDirect {
			return failRun("error: can't combine user with prefix, exec_prefix/home, or install_(plat)base")
		}
		return installInto(inv)
	}}
	b := newTestBootstrapper(t, root, runner, []string{"--system"})

	m, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StrategyCompat, m.Strategy)
	require.Len(t, runner.calls, 3)
	assert.Contains(t, runner.calls[1].Args, "--help")
	assert.Contains(t, runner.calls[2].Args, "--system")
	assert.NotEqual(t, targetOf(runner.calls[0]), targetOf(runner.calls[2]), "each attempt gets a fresh staging dir")
	assert.Empty(t, leftovers(t, root))
}

func TestCompatSkippedWhenPipLacksFlags(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{handle: func(_ context.Context, inv Invocation) ([]byte, error) {
		switch strategyOf(inv) {
		case StrategyDirect:
			return failRun("no such option: --target")
		case strategyHelp:
			return []byte("Install Options:\n  --system-site-packages  unrelated\n  --user\n"), nil
		case StrategyCompat:
			t.Fatalf("compat install attempted with unsupported flags: %v", inv.Args)
		}
		return installInto(inv)
	}}
	b := newTestBootstrapper(t, root, runner, []string{"--system"})

	m, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StrategyUpgradedPip, m.Strategy)
	assert.Empty(t, leftovers(t, root))
}

func TestCompatSkipIsNotAnAttempt(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{handle: func(_ context.Context, inv Invocation) ([]byte, error) {
		if strategyOf(inv) == strategyHelp {
			return []byte("Install Options:\n  --user\n"), nil
		}
		return failRun("ERROR: Could not find a version that satisfies the requirement")
	}}
	b := newTestBootstrapper(t, root, runner, []string{"--system"})

	_, err := b.Run(context.Background())
	var bootErr *Error
	require.True(t, errors.As(err, &bootErr))
	require.Len(t, bootErr.Attempts, 2)
	assert.Equal(t, StrategyDirect, bootErr.Attempts[0].Strategy)
	assert.Equal(t, StrategyUpgradedPip, bootErr.Attempts[1].Strategy)
	assert.NotErrorIs(t, err, ErrFlagsUnsupported)
}

func TestListsOption(t *testing.T) {
	assert.True(t, listsOption(pipInstallHelp, "--system"))
	assert.True(t, listsOption("  --user\n", "--user"))
	assert.False(t, listsOption("  --system-site-packages\n", "--system"))
	assert.False(t, listsOption("", "--system"))
}

func TestCompatSkippedWithoutFlags(t *testing.T) {
	root := t.TempDir()
	var scratchSeen []string
	runner := &fakeRunner{handle: func(_ context.Context, inv Invocation) ([]byte, error) {
		if strategyOf(inv) == StrategyDirect {
			return failRun("no such option: --target")
		}
		scratch := inv.Env["PYTHONUSERBASE"]
		if _, err := os.Stat(scratch); err == nil {
			scratchSeen = append(scratchSeen, scratch)
		}
		return installInto(inv)
	}}
	b := newTestBootstrapper(t, root, runner, nil)

	m, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StrategyUpgradedPip, m.Strategy)

	require.Len(t, runner.calls, 3)
	upgrade := runner.calls[1]
	assert.Contains(t, upgrade.Args, "--user")
	assert.Equal(t, "pip", upgrade.Args[len(upgrade.Args)-1])
	assert.Equal(t, upgrade.Env["PYTHONUSERBASE"], runner.calls[2].Env["PYTHONUSERBASE"])

	require.Len(t, scratchSeen, 2)
	assert.Equal(t, root, filepath.Dir(scratchSeen[0]))
	assert.NoDirExists(t, scratchSeen[0])
	assert.Empty(t, leftovers(t, root))
}

func TestAllStrategiesFailKeepsPreviousInstall(t *testing.T) {
	root := t.TempDir()
	packages := filepath.Join(root, "packages")
	require.NoError(t, os.MkdirAll(filepath.Join(packages, "yapf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(packages, "yapf", "__init__.py"), []byte("old"), 0o644))
	before := snapshot(t, packages)

	runner := &fakeRunner{handle: func(_ context.Context, inv Invocation) ([]byte, error) {
		if target := targetOf(inv); target != "" {
			// partial write before failing
			_ = os.WriteFile(filepath.Join(target, "half.py"), []byte("x"), 0o644)
		}
		return failRun("ERROR: Could not find a version that satisfies the requirement")
	}}
	b := newTestBootstrapper(t, root, runner, []string{"--system"})

	_, err := b.Run(context.Background())
	require.Error(t, err)

	var bootErr *Error
	require.True(t, errors.As(err, &bootErr))
	require.Len(t, bootErr.Attempts, 3)
	assert.Equal(t, StrategyDirect, bootErr.Attempts[0].Strategy)
	assert.Equal(t, StrategyCompat, bootErr.Attempts[1].Strategy)
	assert.Equal(t, StrategyUpgradedPip, bootErr.Attempts[2].Strategy)
	assert.ErrorIs(t, err, ErrInstallerFailed)
	assert.NotErrorIs(t, err, ErrInstallerUnavailable)
	assert.Contains(t, err.Error(), "Could not find a version")
	assert.Contains(t, err.Error(), testRequirement)

	assert.Equal(t, before, snapshot(t, packages))
	assert.Empty(t, leftovers(t, root))
}

func TestMissingInstallerIsUnavailable(t *testing.T) {
	root := t.TempDir()
	b := newTestBootstrapper(t, root, ExecRunner{}, nil)
	for _, s := range b.Strategies {
		switch st := s.(type) {
		case *pipStrategy:
			st.opts.Runtime = "dprint-plugin-yapf-no-such-python"
		case *upgradedPipStrategy:
			st.opts.Runtime = "dprint-plugin-yapf-no-such-python"
		}
	}

	_, err := b.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstallerUnavailable)
	assert.NotErrorIs(t, err, ErrInstallerFailed)
	assert.Contains(t, err.Error(), "dprint-plugin-yapf-no-such-python")
	assert.NoDirExists(t, filepath.Join(root, "packages"))
	assert.Empty(t, leftovers(t, root))
}

func TestTimeoutBoundsEachStrategy(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{handle: func(ctx context.Context, inv Invocation) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	b := newTestBootstrapper(t, root, runner, nil)
	b.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := b.Run(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrInstallerFailed)
	assert.Empty(t, leftovers(t, root))
}

func TestCancelledContextStopsFallback(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{handle: func(ctx context.Context, inv Invocation) ([]byte, error) {
		cancel()
		return nil, ctx.Err()
	}}
	b := newTestBootstrapper(t, root, runner, []string{"--system"})

	_, err := b.Run(ctx)
	require.Error(t, err)
	assert.Len(t, runner.calls, 1)
}

func TestNoApplicableStrategy(t *testing.T) {
	root := t.TempDir()
	b := newTestBootstrapper(t, root, &fakeRunner{}, nil)
	b.Strategies = []Strategy{&pipStrategy{name: StrategyCompat}}

	_, err := b.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoStrategy)
}

func TestRunFailsWhenInstallDirIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "install")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	runner := &fakeRunner{}
	b := newTestBootstrapper(t, file, runner, nil)

	_, err := b.Run(context.Background())
	assert.ErrorContains(t, err, "not a directory")
	assert.Empty(t, runner.calls)
}

func TestReadManifestNotInstalled(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestPropertyFirstSucceedingStrategyWins(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	order := []string{StrategyDirect, StrategyCompat, StrategyUpgradedPip}

	properties.Property("bootstrap stops at the first strategy that succeeds", prop.ForAll(
		func(fails []bool) bool {
			root, err := os.MkdirTemp("", "bootstrap-prop-")
			if err != nil {
				return false
			}
			defer os.RemoveAll(root)

			failing := map[string]bool{}
			for i, f := range fails {
				failing[order[i]] = f
			}
			runner := &fakeRunner{handle: func(_ context.Context, inv Invocation) ([]byte, error) {
				if failing[strategyOf(inv)] {
					return failRun("failed")
				}
				return installInto(inv)
			}}
			b := newTestBootstrapper(t, root, runner, []string{"--system"})
			m, err := b.Run(context.Background())

			want := ""
			for i, f := range fails {
				if !f {
					want = order[i]
					break
				}
			}
			if len(leftovers(t, root)) != 0 {
				return false
			}
			if want == "" {
				_, statErr := os.Stat(filepath.Join(root, "packages"))
				return err != nil && os.IsNotExist(statErr)
			}
			return err == nil && m.Strategy == want
		},
		gen.SliceOfN(3, gen.Bool()),
	))

	properties.TestingRun(t)
}
