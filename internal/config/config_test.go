// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bundlekit/bundlekit/internal/issue"
	"github.com/bundlekit/bundlekit/internal/testutil"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

var testEnv = envMap(map[string]string{"HOME": "/home/test"})

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), content)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Home != "~/.bundlekit" {
		t.Errorf("Home = %q, want %q", cfg.Home, "~/.bundlekit")
	}
	if cfg.LogLevel != LogLevelWarn || cfg.Strict {
		t.Errorf("LogLevel = %q, Strict = %v", cfg.LogLevel, cfg.Strict)
	}
	if cfg.HTTPTimeout != time.Minute || cfg.GitTimeout != 30*time.Second {
		t.Errorf("timeouts = %s / %s", cfg.HTTPTimeout, cfg.GitTimeout)
	}
	if valid, errs := cfg.IsValid(); !valid {
		t.Errorf("DefaultConfig().IsValid() = %v", errs)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	loaded, err := LoadWithPath(context.Background(), LoadOptions{
		ConfigDirPath: t.TempDir(),
		LookupEnv:     envMap(map[string]string{"HOME": "/home/alice"}),
	})
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}
	if loaded.Path != "" {
		t.Errorf("Path = %q, want empty", loaded.Path)
	}
	if loaded.Home != "/home/alice/.bundlekit" {
		t.Errorf("Home = %q, want %q", loaded.Home, "/home/alice/.bundlekit")
	}
	if got := loaded.ResolvedCacheDir(); got != "/home/alice/.bundlekit/cache" {
		t.Errorf("ResolvedCacheDir() = %q", got)
	}
	if loaded.HTTPTimeout != time.Minute {
		t.Errorf("HTTPTimeout = %s, want 1m", loaded.HTTPTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `
home: "$DATA/bundlekit"
cache_dir: "~/cache/bk"
strict: true
log_level: "debug"
http_timeout: "90s"
git_timeout: "5s"
bundles: {
	app: "${REPOS}/app"
	dev: "git+https://github.com/org/dev@main#subdirectory=behaviors/dev"
}
default_bundle: "app"
`)
	env := envMap(map[string]string{"HOME": "/home/alice", "DATA": "/data", "REPOS": "/src"})

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, LookupEnv: env})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"home", cfg.Home, "/data/bundlekit"},
		{"cache_dir", cfg.CacheDir, "/home/alice/cache/bk"},
		{"strict", cfg.Strict, true},
		{"log_level", cfg.LogLevel, LogLevelDebug},
		{"http_timeout", cfg.HTTPTimeout, 90 * time.Second},
		{"git_timeout", cfg.GitTimeout, 5 * time.Second},
		{"bundles.app", cfg.Bundles["app"], "/src/app"},
		{"bundles.dev", cfg.Bundles["dev"], "git+https://github.com/org/dev@main#subdirectory=behaviors/dev"},
		{"default_bundle", cfg.DefaultBundle, "app"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestLoadExplicitFile(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `log_level: "error"`)
	path := filepath.Join(dir, "config.cue")

	loaded, err := LoadWithPath(context.Background(), LoadOptions{ConfigFilePath: path, LookupEnv: testEnv})
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}
	if loaded.Path != path || loaded.LogLevel != LogLevelError {
		t.Errorf("LoadWithPath() = (%q, %q)", loaded.Path, loaded.LogLevel)
	}

	_, err = LoadWithPath(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(dir, "missing.cue")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("missing explicit file error = %v", err)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax error", `home: "unterminated`, "config.cue"},
		{"schema violation", `log_level: "loud"`, "log_level"},
		{"unknown key", `editor: "vim"`, "editor"},
		{"zero timeout", `http_timeout: "0s"`, "http_timeout"},
		{"bad bundle uri", `bundles: {x: "ftp://host/x"}`, `bundles["x"]`},
		{"bad bundle name", `bundles: {"a:b": "/x"}`, "name must be non-empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := writeConfig(t, tt.content)
			_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, LookupEnv: testEnv})
			if err == nil {
				t.Fatal("Load() error = nil, want failure")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || ae.Issue != issue.ConfigInvalidId {
				t.Errorf("error %v is not a ConfigInvalid actionable error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := writeConfig(t, `
home: "/from/file"
strict: false
`)
	t.Setenv("BUNDLEKIT_HOME", "/from/env")
	t.Setenv("BUNDLEKIT_STRICT", "true")
	t.Setenv("BUNDLEKIT_GIT_TIMEOUT", "45s")

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Home != "/from/env" {
		t.Errorf("Home = %q, want /from/env", cfg.Home)
	}
	if !cfg.Strict {
		t.Error("Strict = false, want true from BUNDLEKIT_STRICT")
	}
	if cfg.GitTimeout != 45*time.Second {
		t.Errorf("GitTimeout = %s, want 45s", cfg.GitTimeout)
	}
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestGenerateCUERoundTrip(t *testing.T) {
	t.Parallel()

	want := &Config{
		Home:          "/srv/bk",
		Strict:        true,
		LogLevel:      LogLevelInfo,
		HTTPTimeout:   2 * time.Minute,
		GitTimeout:    90 * time.Second,
		Bundles:       map[string]string{"app": "/opt/app", "dev": "git+https://h/dev@v1.2.0"},
		DefaultBundle: "app",
	}
	src := GenerateCUE(want)
	if !strings.Contains(src, `http_timeout: "2m"`) {
		t.Errorf("GenerateCUE() durations not normalized:\n%s", src)
	}

	dir := writeConfig(t, src)
	got, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, LookupEnv: testEnv})
	if err != nil {
		t.Fatalf("Load(GenerateCUE()) error = %v\n%s", err, src)
	}
	if got.Home != want.Home || got.Strict != want.Strict || got.LogLevel != want.LogLevel ||
		got.HTTPTimeout != want.HTTPTimeout || got.GitTimeout != want.GitTimeout ||
		got.DefaultBundle != want.DefaultBundle || len(got.Bundles) != 2 || got.Bundles["dev"] != want.Bundles["dev"] {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	if valid, errs := LogLevel("trace").IsValid(); valid || !errors.Is(errs[0], ErrInvalidLogLevel) {
		t.Errorf("IsValid(trace) = (%v, %v)", valid, errs)
	}
	if got := LogLevelDebug.Level().String(); got != "debug" {
		t.Errorf("Level() = %q, want debug", got)
	}
	if got := LogLevel("").Level().String(); got != "warn" {
		t.Errorf("empty Level() = %q, want warn", got)
	}
}

func TestIsValidCollectsFieldErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.GitTimeout = -time.Second
	cfg.Bundles = map[string]string{"ok": "/x", "": "/y"}

	valid, errs := cfg.IsValid()
	if valid {
		t.Fatal("IsValid() = true")
	}
	var ice *InvalidConfigError
	if !errors.As(errs[0], &ice) || len(ice.FieldErrors) != 3 {
		t.Fatalf("IsValid() errors = %v", errs)
	}
	for _, sentinel := range []error{ErrInvalidConfig, ErrInvalidLogLevel, ErrInvalidTimeout, ErrInvalidBundleEntry} {
		if !errors.Is(errs[0], sentinel) {
			t.Errorf("errors.Is(%v) = false", sentinel)
		}
	}
}
