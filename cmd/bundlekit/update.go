// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/issue"
)

func newUpdateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "update <name>",
		Short: "Refetch a registered bundle and reload it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			name := args[0]
			b, err := s.reg.Update(cmd.Context(), name)
			if err != nil {
				return issue.Wrap(err, "update bundle", name)
			}
			if err := s.save(); err != nil {
				return err
			}
			msg := SuccessStyle.Render("Updated") + " " + TitleStyle.Render(name)
			if b.Version != "" {
				msg += " " + SubtitleStyle.Render(b.Version)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}
