// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/issue"
	"github.com/bundlekit/bundlekit/pkg/bundle"
)

func newPrepareCommand(app *App) *cobra.Command {
	var installDeps bool
	cmd := &cobra.Command{
		Use:   "prepare [name|uri]",
		Short: "Fetch every module source a bundle references",
		Long: `Load a bundle, fetch the source of every provider, tool, and hook that
declares one, and print where each module landed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			target, err := s.target(args)
			if err != nil {
				return err
			}

			b, err := s.reg.Load(cmd.Context(), target)
			if err != nil {
				return issue.Wrap(err, "load bundle", target)
			}
			if err := s.save(); err != nil {
				return err
			}

			prepared, err := b.Prepare(cmd.Context(), bundle.NewSourceActivator(s.reg.Resolver()), bundle.PrepareOptions{
				InstallDeps: installDeps,
			})
			if err != nil {
				return issue.Wrap(err, "prepare bundle", target)
			}

			out := cmd.OutOrStdout()
			paths := prepared.Resolver.Paths()
			if len(paths) == 0 {
				fmt.Fprintln(out, SubtitleStyle.Render("No module sources to fetch."))
			}
			for _, id := range slices.Sorted(maps.Keys(paths)) {
				fmt.Fprintf(out, "%s\t%s\n", TitleStyle.Render(id), paths[id])
			}
			for _, p := range prepared.PackagePaths {
				s.logger.Debug("bundle package", "path", p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&installDeps, "install-deps", false, "also activate packages provided by the bundle directories")
	return cmd
}
