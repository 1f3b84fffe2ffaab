// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/bundlekit/bundlekit/internal/config"
	"github.com/bundlekit/bundlekit/internal/issue"
	"github.com/bundlekit/bundlekit/pkg/registry"
	"github.com/bundlekit/bundlekit/pkg/source"
)

type (
	// App wires CLI services. Command handlers receive an App reference and
	// open a session per invocation.
	App struct {
		Config config.Provider
		stderr io.Writer
		flags  globalFlags
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stderr io.Writer
	}

	globalFlags struct {
		verbose    bool
		configPath string
		home       string
		strict     bool
	}

	// session is the state one command invocation works with.
	session struct {
		cfg    *config.Config
		logger *log.Logger
		reg    *registry.Registry
	}
)

var errNoTarget = errors.New("no bundle given and no default_bundle configured")

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	return &App{Config: deps.Config, stderr: deps.Stderr}
}

// loadConfig reads the configuration and applies global flag overrides.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.flags.configPath})
	if err != nil {
		return nil, err
	}
	if a.flags.home != "" {
		cfg.Home = a.flags.home
	}
	if a.flags.strict {
		cfg.Strict = true
	}
	if a.flags.verbose {
		cfg.LogLevel = config.LogLevelDebug
	}
	return cfg, nil
}

// open loads the configuration, builds the resolver and registry, and
// registers the configured application bundles.
func (a *App) open(ctx context.Context) (*session, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix: config.AppName,
		Level:  cfg.LogLevel.Level(),
	})

	cacheDir := cfg.ResolvedCacheDir()
	resolver := source.NewResolver(cacheDir,
		source.WithHTTPTimeout(cfg.HTTPTimeout),
		source.WithGitTimeout(cfg.GitTimeout),
		source.WithLogger(logger),
	)

	reg, err := registry.New(cfg.Home,
		registry.WithCacheDir(cacheDir),
		registry.WithLogger(logger),
		registry.WithStrict(cfg.Strict),
		registry.WithResolver(resolver),
	)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("open registry").
			WithResource(cfg.Home).
			WithIssue(issue.RegistryCorruptId).
			Wrap(err).
			BuildError()
	}

	if len(cfg.Bundles) > 0 {
		if err := reg.RegisterApp(cfg.Bundles); err != nil {
			return nil, issue.Wrap(err, "register configured bundles", "")
		}
	}
	logger.Debug("registry opened", "home", reg.Home(), "cache", reg.CacheDir(), "bundles", len(reg.Names()))

	return &session{cfg: cfg, logger: logger, reg: reg}, nil
}

// target picks the bundle a command operates on: the argument when given,
// otherwise default_bundle.
func (s *session) target(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if s.cfg.DefaultBundle != "" {
		return s.cfg.DefaultBundle, nil
	}
	return "", issue.NewErrorContext().
		WithOperation("select bundle").
		WithSuggestion("Pass a bundle name or URI").
		WithSuggestion("Set default_bundle in the config file").
		Wrap(errNoTarget).
		BuildError()
}

// save persists the registry, reporting failures as actionable errors.
func (s *session) save() error {
	if err := s.reg.Save(); err != nil {
		return issue.Wrap(err, "save registry", s.reg.Home())
	}
	return nil
}
