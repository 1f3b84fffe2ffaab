// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/issue"
	"github.com/bundlekit/bundlekit/pkg/bundleerr"
)

func newRegisterCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "register <name> <uri>",
		Short: "Bind a name to a bundle URI",
		Long: `Bind a name to a bundle URI.

The name can then be used with load, show, prepare, status, and update, and
as the namespace in "name:path" includes. Re-registering a name with a
different URI drops its recorded load state.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			name, uri := args[0], args[1]
			if err := s.reg.Register(map[string]string{name: uri}); err != nil {
				return issue.Wrap(err, "register bundle", name)
			}
			if err := s.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
				SuccessStyle.Render("Registered"), TitleStyle.Render(name), SubtitleStyle.Render(uri))
			return nil
		},
	}
}

func newUnregisterCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <name>",
		Short: "Remove a registered bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			name := args[0]
			if !s.reg.Unregister(name) {
				return issue.Wrap(&bundleerr.NotFoundError{Resource: name, Detail: "bundle not registered"}, "unregister bundle", name)
			}
			if err := s.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("Unregistered"), TitleStyle.Render(name))
			return nil
		},
	}
}
