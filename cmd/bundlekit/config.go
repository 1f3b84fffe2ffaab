// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/config"
)

// newConfigCommand creates the `bundlekit config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect bundlekit configuration",
		Long: `Inspect bundlekit configuration.

Configuration is stored in:
  - Linux: ~/.config/bundlekit/config.cue
  - macOS: ~/Library/Application Support/bundlekit/config.cue
  - Windows: %APPDATA%\bundlekit\config.cue

BUNDLEKIT_* environment variables (e.g. BUNDLEKIT_HOME) override file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			source := "(using defaults)"
			if app.flags.configPath != "" {
				source = app.flags.configPath
			} else if dir, err := config.ConfigDir(); err == nil {
				source = filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt) + " (if present)"
			}
			fmt.Fprintf(out, "// source: %s\n", source)
			fmt.Fprint(out, config.GenerateCUE(cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	return cfgCmd
}
