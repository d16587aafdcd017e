package cmd

import (
	"errors"
	"fmt"
	"os"

	"dprint-plugin-yapf/internal/config"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errInstallAborted = errors.New("install aborted")

// newInstallCmd runs the bootstrap by hand, outside of a plugin host.
func newInstallCmd(d deps, g *globalFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the pinned yapf version into the packages directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(config.Flags{SkipParentPID: true})
			if err != nil {
				return err
			}

			if !yes && isInteractive(d) {
				prompt := promptui.Prompt{
					Label:     fmt.Sprintf("Install %s into %s", cfg.Dependency.Requirement(), cfg.PackagesPath()),
					IsConfirm: true,
				}
				if _, err := prompt.Run(); err != nil {
					return errInstallAborted
				}
			}

			m, err := d.install(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Installed %s into %s (strategy: %s)\n", m.Requirement, cfg.PackagesPath(), m.Strategy)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func isInteractive(d deps) bool {
	f, ok := d.stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
