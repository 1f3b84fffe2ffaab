// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "bundlekit",
		Short: "Compose agent bundles from local, git, and HTTP sources",
		Long: TitleStyle.Render("bundlekit") + SubtitleStyle.Render(" - compose agent bundles from local, git, and HTTP sources") + `

A bundle is a Markdown file with YAML frontmatter (or a YAML document)
declaring providers, tools, hooks, and context. Bundles include other
bundles by URI or by "namespace:path"; bundlekit fetches, caches, and
composes them into a single mount plan.

` + SubtitleStyle.Render("Examples:") + `
  bundlekit register dev git+https://github.com/org/dev@main
  bundlekit load dev --format json
  bundlekit show ./bundles/app.md
  bundlekit status`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable debug logging and full error chains")
	pf.StringVar(&app.flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/bundlekit/config.cue)")
	pf.StringVar(&app.flags.home, "home", "", "registry home directory (default is ~/.bundlekit)")
	pf.BoolVar(&app.flags.strict, "strict", false, "fail on unregistered namespaces and broken includes")

	root.AddCommand(
		newRegisterCommand(app),
		newUnregisterCommand(app),
		newListCommand(app),
		newLoadCommand(app),
		newShowCommand(app),
		newPrepareCommand(app),
		newStatusCommand(app),
		newUpdateCommand(app),
		newGraphCommand(app),
		newConfigCommand(app),
	)
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, app.flags.verbose))
		}),
	); err != nil {
		os.Exit(1)
	}
}

// formatErrorForDisplay uses ActionableError.Format when available so
// suggestions reach the user.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}
