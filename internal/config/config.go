// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"
	"mvdan.cc/sh/v3/shell"

	"github.com/bundlekit/bundlekit/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "bundlekit"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. BUNDLEKIT_HOME.
	EnvPrefix = "BUNDLEKIT"
	// DefaultHome is the registry home before ~ expansion.
	DefaultHome = "~/.bundlekit"

	maxConfigSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the bundlekit configuration directory: %APPDATA% on
// Windows, ~/Library/Application Support on macOS, and $XDG_CONFIG_HOME
// (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// loadWithOptions layers defaults, the CUE file, and BUNDLEKIT_* variables,
// then expands and validates the result. It also returns the config file
// path that was read, or "" when none was found.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("home", defaults.Home)
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("strict", defaults.Strict)
	v.SetDefault("log_level", string(defaults.LogLevel))
	v.SetDefault("http_timeout", defaults.HTTPTimeout.String())
	v.SetDefault("git_timeout", defaults.GitTimeout.String())
	v.SetDefault("bundles", map[string]string{})
	v.SetDefault("default_bundle", defaults.DefaultBundle)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := configPath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithIssue(issue.ConfigInvalidId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.expand(opts.lookupEnv()); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("expand configuration").
			WithResource(path).
			WithIssue(issue.ConfigInvalidId).
			Wrap(err).
			BuildError()
	}
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithIssue(issue.ConfigInvalidId).
			Wrap(errs[0]).
			BuildError()
	}
	return &cfg, path, nil
}

// configPath picks the file to read. An explicit path must exist; the
// default location is optional.
func configPath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the --config path is correct").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	p := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(p) {
		return p, nil
	}
	return "", nil
}

// loadCUEIntoViper validates a CUE file against #Config and merges its
// values into v. Fields are optional, so validation is non-concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigSize)
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// formatCUEError flattens CUE errors into "<file>: <path>: <message>" lines,
// rendering list indices as [n].
func formatCUEError(err error, path string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("%s: %w", path, err)
	}

	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		field := cuePath(cueerrors.Path(e))
		msg := e.Error()
		if field != "" {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, field), ":"))
			msg = field + ": " + msg
		}
		lines = append(lines, msg)
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", path, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", path, strings.Join(lines, "\n  "))
}

func cuePath(parts []string) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 && p != "" && strings.Trim(p, "0123456789") == "" {
			sb.WriteString("[" + p + "]")
			continue
		}
		if i > 0 {
			sb.WriteString(".")
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// expand applies $VAR and ~ expansion to path-like values and bundle URIs.
func (c *Config) expand(env func(string) string) error {
	var err error
	if c.Home, err = expandValue(c.Home, env); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	if c.CacheDir, err = expandValue(c.CacheDir, env); err != nil {
		return fmt.Errorf("cache_dir: %w", err)
	}
	for name, uri := range c.Bundles {
		if c.Bundles[name], err = expandValue(uri, env); err != nil {
			return fmt.Errorf("bundles[%q]: %w", name, err)
		}
	}
	return nil
}

func expandValue(s string, env func(string) string) (string, error) {
	if s == "" {
		return "", nil
	}
	out, err := shell.Expand(s, env)
	if err != nil {
		return "", err
	}
	if out == "~" || strings.HasPrefix(out, "~/") {
		home := env("HOME")
		if home == "" {
			if home, err = os.UserHomeDir(); err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
		}
		out = filepath.Join(home, strings.TrimPrefix(out, "~"))
	}
	return out, nil
}

func joinHome(home, name string) string {
	if home == "" {
		return ""
	}
	return filepath.Join(home, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg in the config file format.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// bundlekit configuration\n\n")
	fmt.Fprintf(&sb, "home: %q\n", cfg.Home)
	if cfg.CacheDir != "" {
		fmt.Fprintf(&sb, "cache_dir: %q\n", cfg.CacheDir)
	}
	fmt.Fprintf(&sb, "strict: %v\n", cfg.Strict)
	fmt.Fprintf(&sb, "log_level: %q\n", cfg.LogLevel)
	fmt.Fprintf(&sb, "http_timeout: %q\n", durationString(cfg.HTTPTimeout))
	fmt.Fprintf(&sb, "git_timeout: %q\n", durationString(cfg.GitTimeout))
	if cfg.DefaultBundle != "" {
		fmt.Fprintf(&sb, "default_bundle: %q\n", cfg.DefaultBundle)
	}
	if len(cfg.Bundles) > 0 {
		sb.WriteString("\nbundles: {\n")
		for _, name := range slices.Sorted(maps.Keys(cfg.Bundles)) {
			fmt.Fprintf(&sb, "\t%q: %q\n", name, cfg.Bundles[name])
		}
		sb.WriteString("}\n")
	}
	return sb.String()
}

// durationString drops the zero minute and second units time.Duration
// prints ("1m0s" becomes "1m").
func durationString(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
