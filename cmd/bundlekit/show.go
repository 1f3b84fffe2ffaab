// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/bundlekit/bundlekit/internal/issue"
	"github.com/bundlekit/bundlekit/pkg/bundle"
)

func newShowCommand(app *App) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show [name|uri]",
		Short: "Describe a bundle and render its instruction",
		Args:  cobra.MaximumNArgs(1),
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

			out := cmd.OutOrStdout()
			writeSummary(out, b)
			if strings.TrimSpace(b.Instruction) == "" {
				return nil
			}
			fmt.Fprintln(out)
			if raw {
				fmt.Fprintln(out, b.Instruction)
				return nil
			}
			rendered, err := renderMarkdown(b.Instruction)
			if err != nil {
				return issue.Wrap(err, "render instruction", b.Name)
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the instruction as plain Markdown")
	return cmd
}

func writeSummary(w io.Writer, b *bundle.Bundle) {
	title := TitleStyle.Render(b.Name)
	if b.Version != "" {
		title += " " + SubtitleStyle.Render(b.Version)
	}
	fmt.Fprintln(w, title)
	if b.Description != "" {
		fmt.Fprintln(w, b.Description)
	}
	fmt.Fprintln(w)

	kv := func(key, value string) {
		fmt.Fprintf(w, "%s %s\n", KeyStyle.Render(fmt.Sprintf("%-10s", key+":")), value)
	}
	kv("path", b.BasePath)
	if len(b.Includes) > 0 {
		kv("includes", strings.Join(b.Includes, ", "))
	}
	for _, group := range []struct {
		label string
		specs []bundle.ModuleSpec
	}{
		{"providers", b.Providers},
		{"tools", b.Tools},
		{"hooks", b.Hooks},
	} {
		if len(group.specs) == 0 {
			continue
		}
		ids := make([]string, len(group.specs))
		for i, m := range group.specs {
			ids[i] = m.Module
		}
		kv(group.label, strings.Join(ids, ", "))
	}
	if len(b.Context) > 0 {
		kv("context", strings.Join(slices.Sorted(maps.Keys(b.Context)), ", "))
	}
	if len(b.PendingContext) > 0 {
		kv("pending", strings.Join(slices.Sorted(maps.Keys(b.PendingContext)), ", "))
	}
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
