package cmd

import (
	"errors"
	"fmt"

	"dprint-plugin-yapf/internal/bootstrap"
	"dprint-plugin-yapf/internal/config"
	"dprint-plugin-yapf/internal/launcher"

	"github.com/spf13/cobra"
)

// newStatusCmd prints what the supervisor would run and what is installed.
func newStatusCmd(d deps, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resolved worker runtime and the installed dependency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(config.Flags{SkipParentPID: true})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Install dir: %s\n", cfg.InstallDir)
			if path, err := launcher.Resolve(cfg.Runtime); err != nil {
				fmt.Fprintf(out, "❌ Runtime:   %v\n", err)
			} else {
				fmt.Fprintf(out, "✅ Runtime:   %s\n", path)
			}

			m, err := bootstrap.ReadManifest(cfg.PackagesPath())
			switch {
			case errors.Is(err, bootstrap.ErrNotInstalled):
				fmt.Fprintf(out, "❌ Packages:  %s not installed in %s (run with --init or 'install')\n", cfg.Dependency.Requirement(), cfg.PackagesPath())
			case err != nil:
				return err
			default:
				mark := "✅"
				if m.Requirement != cfg.Dependency.Requirement() {
					mark = "⚠️ "
				}
				fmt.Fprintf(out, "%s Packages:  %s via %s at %s\n", mark, m.Requirement, m.Strategy, m.InstalledAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}
