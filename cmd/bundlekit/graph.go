// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/issue"
)

func newGraphCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print registered bundles in include order",
		Long: `Print registered bundles so that every bundle follows the bundles it
includes, as recorded by previous loads.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			order, err := s.reg.IncludeOrder()
			if err != nil {
				return issue.NewErrorContext().
					WithOperation("order include graph").
					WithIssue(issue.IncludeCycleId).
					Wrap(err).
					BuildError()
			}

			out := cmd.OutOrStdout()
			for _, name := range order {
				st, _ := s.reg.State(name)
				line := TitleStyle.Render(name)
				if len(st.Includes) > 0 {
					line += SubtitleStyle.Render(" <- " + strings.Join(st.Includes, ", "))
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
