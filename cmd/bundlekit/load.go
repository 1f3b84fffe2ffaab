// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bundlekit/bundlekit/internal/issue"
)

// Mount plan output formats.
const (
	formatYAML = "yaml"
	formatJSON = "json"
	formatTOML = "toml"
)

var errUnknownFormat = fmt.Errorf("unknown output format (valid: %s, %s, %s)", formatYAML, formatJSON, formatTOML)

func newLoadCommand(app *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "load [name|uri]",
		Short: "Load a bundle and print its mount plan",
		Long: `Load a bundle with its includes composed in and print the resulting
mount plan. Without an argument the configured default_bundle is loaded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatYAML && format != formatJSON && format != formatTOML {
				return issue.Wrap(errUnknownFormat, "print mount plan", format)
			}

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
			return writeMountPlan(cmd.OutOrStdout(), b.ToMountPlan(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatYAML, "output format: yaml, json, or toml")
	return cmd
}

func writeMountPlan(w io.Writer, plan map[string]any, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case formatJSON:
		data, err = json.MarshalIndent(plan, "", "  ")
		data = append(data, '\n')
	case formatTOML:
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		err = enc.Encode(plan)
		data = buf.Bytes()
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		err = enc.Encode(plan)
		if err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	}
	if err != nil {
		return issue.Wrap(fmt.Errorf("encode %s: %w", format, err), "print mount plan", "")
	}
	_, err = w.Write(data)
	return err
}
