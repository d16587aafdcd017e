package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"dprint-plugin-yapf/internal/bootstrap"
	"dprint-plugin-yapf/internal/config"
	"dprint-plugin-yapf/internal/launcher"
	"dprint-plugin-yapf/internal/logging"
	"dprint-plugin-yapf/internal/supervisor"

	"github.com/spf13/cobra"
)

const appName = "dprint-plugin-yapf"

// Exit codes for failures the supervisor itself detects. A worker exit is
// passed through unchanged.
const (
	ExitUsage     = 2
	ExitBootstrap = 3
	ExitLaunch    = 4
)

// deps holds the operations commands perform, replaceable in tests.
type deps struct {
	supervise func(ctx context.Context, cfg *config.Config) error
	install   func(ctx context.Context, cfg *config.Config) (*bootstrap.Manifest, error)
	stdout    io.Writer
	stderr    io.Writer
	stdin     io.Reader
}

func defaultDeps() deps {
	return deps{
		supervise: func(ctx context.Context, cfg *config.Config) error {
			s, err := supervisor.New(cfg)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
		install: func(ctx context.Context, cfg *config.Config) (*bootstrap.Manifest, error) {
			return bootstrap.New(cfg, bootstrap.ExecRunner{}).Run(ctx)
		},
		stdout: os.Stdout,
		stderr: os.Stderr,
		stdin:  os.Stdin,
	}
}

type globalFlags struct {
	configFile string
	installDir string
	logLevel   string
	logFile    string
}

func (g *globalFlags) load(f config.Flags) (*config.Config, error) {
	f.ConfigFile = g.configFile
	f.InstallDir = g.installDir
	f.LogLevel = g.logLevel
	f.LogFile = g.logFile
	cfg, err := config.Load(f)
	if err != nil {
		return nil, err
	}
	initLogging(cfg)
	return cfg, nil
}

func initLogging(cfg *config.Config) {
	lvl, ok := logging.ParseLevel(cfg.LogLevel)
	logging.Init(logging.Options{
		Level:  lvl,
		File:   cfg.LogFile,
		Fields: map[string]interface{}{"app": appName, "pid": os.Getpid()},
	})
	if !ok {
		logging.Warn("unknown log level, using warn", map[string]interface{}{"log_level": cfg.LogLevel})
	}
}

func newRootCmd(d deps) *cobra.Command {
	var (
		g         globalFlags
		parentPID int
		initFlag  bool
	)

	root := &cobra.Command{
		Use:   appName,
		Short: "Supervisor for the yapf dprint process plugin",
		Long: `Runs the yapf worker for dprint, forwarding its standard streams, and
exits when the dprint process given by --parent-pid goes away.`,
		// Values of unknown flags land in args and are ignored too.
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("parent-pid") {
				return &config.UsageError{Err: config.ErrNoParentPID}
			}
			cfg, err := g.load(config.Flags{ParentPID: parentPID, Init: initFlag})
			if err != nil {
				return err
			}
			return d.supervise(cmd.Context(), cfg)
		},
	}
	// Hosts may pass flags of their own; they must not break startup.
	root.FParseErrWhitelist.UnknownFlags = true
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &config.UsageError{Err: err}
	})

	root.Flags().IntVar(&parentPID, "parent-pid", 0, "Process id of the plugin host; the supervisor exits when it does")
	root.Flags().BoolVar(&initFlag, "init", false, "Install the worker dependency before starting the worker")

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "Config file path (default <install dir>/"+config.ConfigFileName+")")
	root.PersistentFlags().StringVar(&g.installDir, "install-dir", "", "Override the install directory")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "Also write logs to this file, rotated")
	_ = root.PersistentFlags().MarkHidden("install-dir")

	root.SetOut(d.stdout)
	root.SetErr(d.stderr)
	root.SetIn(d.stdin)

	root.AddCommand(newInstallCmd(d, &g))
	root.AddCommand(newStatusCmd(d, &g))
	return root
}

func Execute() error {
	err := newRootCmd(defaultDeps()).ExecuteContext(context.Background())
	logging.Sync()
	if err != nil {
		report(os.Stderr, err)
	}
	return err
}

// report prints fatal errors for the operator. A worker's own exit status
// is not reported; the worker already wrote to stderr.
func report(w io.Writer, err error) {
	var exitErr *launcher.ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fmt.Fprintf(w, "[%s]: %v\n", appName, err)
}

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var (
		usage    *config.UsageError
		bootErr  *supervisor.BootstrapError
		allFail  *bootstrap.Error
		notFound *launcher.NotFoundError
		startErr *launcher.StartError
		exitErr  *launcher.ExitError
	)
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &usage):
		return ExitUsage
	case errors.As(err, &bootErr), errors.As(err, &allFail):
		return ExitBootstrap
	case errors.As(err, &notFound), errors.As(err, &startErr):
		return ExitLaunch
	default:
		return 1
	}
}
