// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidLogLevel is the sentinel wrapped by InvalidLogLevelError.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidTimeout is the sentinel wrapped by InvalidTimeoutError.
	ErrInvalidTimeout = errors.New("invalid timeout")
	// ErrInvalidBundleEntry is the sentinel wrapped by InvalidBundleEntryError.
	ErrInvalidBundleEntry = errors.New("invalid bundle entry")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level written to stderr.
	LogLevel string

	// InvalidLogLevelError is returned for an unknown LogLevel.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidTimeoutError is returned for a non-positive timeout.
	InvalidTimeoutError struct {
		Field string
		Value time.Duration
	}

	// InvalidBundleEntryError is returned when a configured app bundle has an
	// unusable name or URI.
	InvalidBundleEntryError struct {
		Name   string
		Reason string
		Err    error
	}

	// InvalidConfigError collects every field error found by Config.IsValid.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Home holds registry.json and, by default, the source cache.
		Home string `json:"home" mapstructure:"home"`
		// CacheDir overrides <Home>/cache when set.
		CacheDir string `json:"cache_dir,omitempty" mapstructure:"cache_dir"`
		// Strict turns skipped includes into load failures.
		Strict      bool          `json:"strict" mapstructure:"strict"`
		LogLevel    LogLevel      `json:"log_level" mapstructure:"log_level"`
		HTTPTimeout time.Duration `json:"http_timeout" mapstructure:"http_timeout"`
		GitTimeout  time.Duration `json:"git_timeout" mapstructure:"git_timeout"`
		// Bundles are application bundles registered on every start.
		Bundles map[string]string `json:"bundles,omitempty" mapstructure:"bundles"`
		// DefaultBundle is used when a command is given no bundle name.
		DefaultBundle string `json:"default_bundle,omitempty" mapstructure:"default_bundle"`
	}
)

// DefaultConfig returns the built-in configuration. Home is left unexpanded.
func DefaultConfig() *Config {
	return &Config{
		Home:        DefaultHome,
		LogLevel:    LogLevelWarn,
		HTTPTimeout: 60 * time.Second,
		GitTimeout:  30 * time.Second,
	}
}

// ResolvedCacheDir returns CacheDir, or <Home>/cache when unset.
func (c *Config) ResolvedCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return joinHome(c.Home, "cache")
}

// IsValid checks constraints the CUE schema cannot express.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.LogLevel.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, &InvalidTimeoutError{Field: "http_timeout", Value: c.HTTPTimeout})
	}
	if c.GitTimeout <= 0 {
		errs = append(errs, &InvalidTimeoutError{Field: "git_timeout", Value: c.GitTimeout})
	}
	for name, uri := range c.Bundles {
		if err := validateBundleEntry(name, uri); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

func validateBundleEntry(name, uri string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, ":/ \t") {
		return &InvalidBundleEntryError{Name: name, Reason: "name must be non-empty and free of ':', '/' and whitespace"}
	}
	if _, err := bundleuri.Parse(uri); err != nil {
		return &InvalidBundleEntryError{Name: name, Reason: "invalid URI", Err: err}
	}
	return nil
}

// IsValid reports whether l names a known level.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Level converts l to a charmbracelet/log level, falling back to warn.
func (l LogLevel) Level() log.Level {
	switch l {
	case LogLevelDebug:
		return log.DebugLevel
	case LogLevelInfo:
		return log.InfoLevel
	case LogLevelError:
		return log.ErrorLevel
	default:
		return log.WarnLevel
	}
}

func (l LogLevel) String() string { return string(l) }

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

func (e *InvalidTimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout must be positive, got %s", e.Field, e.Value)
}

func (e *InvalidTimeoutError) Unwrap() error { return ErrInvalidTimeout }

func (e *InvalidBundleEntryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bundles[%q]: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("bundles[%q]: %s", e.Name, e.Reason)
}

func (e *InvalidBundleEntryError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidBundleEntry}
	}
	return []error{ErrInvalidBundleEntry, e.Err}
}

func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return "invalid config: " + e.FieldErrors[0].Error()
	}
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap exposes ErrInvalidConfig and every field error.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
