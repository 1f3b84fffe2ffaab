// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/issue"
	"github.com/bundlekit/bundlekit/pkg/registry"
)

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list [glob]",
		Short: "List registered bundles",
		Long: `List registered bundles, optionally filtered by a glob over names
(for example "team-*" or "{dev,prod}-*").`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}
			if !doublestar.ValidatePattern(pattern) {
				return issue.NewErrorContext().
					WithOperation("list bundles").
					WithResource(pattern).
					WithSuggestion("Check brackets and braces in the pattern").
					Wrap(doublestar.ErrBadPattern).
					BuildError()
			}

			s, err := app.open(cmd.Context())
			if err != nil {
				return err
			}

			var matched []registry.BundleState
			for _, st := range s.reg.States() {
				if ok, _ := doublestar.Match(pattern, st.Name); ok {
					matched = append(matched, st)
				}
			}

			out := cmd.OutOrStdout()
			if len(matched) == 0 {
				fmt.Fprintln(out, SubtitleStyle.Render("No bundles registered."))
				return nil
			}
			for _, st := range matched {
				writeStateLine(out, st)
			}
			return nil
		},
	}
}

func writeStateLine(w io.Writer, st registry.BundleState) {
	var tags []string
	if st.AppBundle {
		tags = append(tags, "app")
	}
	if !st.IsRoot && st.RootName != "" {
		tags = append(tags, "in "+st.RootName)
	}
	if st.LocalPath == "" {
		tags = append(tags, "not loaded")
	} else if st.Version != "" {
		tags = append(tags, "v"+strings.TrimPrefix(st.Version, "v"))
	}

	line := TitleStyle.Render(st.Name) + "  " + SubtitleStyle.Render(st.URI)
	if len(tags) > 0 {
		line += "  " + KeyStyle.Render("["+strings.Join(tags, ", ")+"]")
	}
	fmt.Fprintln(w, line)
}
