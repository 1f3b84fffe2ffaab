// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/issue"
	"github.com/bundlekit/bundlekit/pkg/source"
)

func newStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Check registered bundles for upstream changes",
		Long: `Compare the cached commit of each git-sourced bundle with its remote ref.
Nothing is fetched. Pinned refs (commit SHAs and version tags) never report
updates; local paths and downloads are not tracked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.open(cmd.Context())
			if err != nil {
				return err
			}

			var (
				statuses map[string]*source.Status
				checkErr error
			)
			if len(args) == 1 {
				st, err := s.reg.CheckUpdate(cmd.Context(), args[0])
				if err != nil {
					return issue.Wrap(err, "check bundle", args[0])
				}
				statuses = map[string]*source.Status{args[0]: st}
			} else {
				statuses, checkErr = s.reg.CheckUpdates(cmd.Context())
			}
			if err := s.save(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(statuses) == 0 && checkErr == nil {
				fmt.Fprintln(out, SubtitleStyle.Render("No bundles registered."))
			}
			for _, name := range slices.Sorted(maps.Keys(statuses)) {
				writeStatusLine(out, name, statuses[name])
			}
			if checkErr != nil {
				return issue.Wrap(checkErr, "check bundles", "")
			}
			return nil
		},
	}
}

func writeStatusLine(w io.Writer, name string, st *source.Status) {
	var state string
	switch {
	case !st.Supported:
		state = SubtitleStyle.Render("not tracked")
	case st.Error != "":
		state = WarningStyle.Render("status unknown: " + st.Error)
	case st.IsPinned && !st.Cached:
		state = SuccessStyle.Render("pinned") + SubtitleStyle.Render(", not cached")
	case st.IsPinned:
		state = SuccessStyle.Render("pinned")
	case !st.Cached:
		state = SubtitleStyle.Render("not cached")
	case st.HasUpdate:
		state = WarningStyle.Render(fmt.Sprintf("update available (%s -> %s)", short(st.CachedCommit), short(st.RemoteCommit)))
	default:
		state = SuccessStyle.Render("up to date")
	}
	fmt.Fprintf(w, "%s  %s\n", TitleStyle.Render(name), state)
}

func short(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
