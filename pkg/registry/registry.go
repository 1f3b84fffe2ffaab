// SPDX-License-Identifier: MPL-2.0

// Package registry binds bundle names to URIs and loads bundles with their
// include graphs.
//
// A Registry is an explicit object with its own home directory; there is no
// process-wide instance. It persists its state to {home}/registry.json only
// when Save is called.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bundlekit/bundlekit/internal/dag"
	"github.com/bundlekit/bundlekit/pkg/bundle"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
	"github.com/bundlekit/bundlekit/pkg/source"
)

const (
	// FileName is the registry state file inside the home directory.
	FileName = "registry.json"
	// CacheDirName is the default cache directory inside the home directory.
	CacheDirName = "cache"
)

type (
	// Registry tracks registered bundles and loads them on demand.
	Registry struct {
		home     string
		cacheDir string
		logger   *log.Logger
		strict   bool
		resolver *source.Resolver
		now      func() time.Time

		// saveMu serializes writers of registry.json.
		saveMu sync.Mutex

		// mu guards everything below.
		mu       sync.Mutex
		states   map[string]*BundleState
		loaded   map[string]*bundle.Bundle
		inflight map[string]*future
		waits    waitGraph
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithCacheDir overrides the cache directory (default {home}/cache).
func WithCacheDir(dir string) Option {
	return func(r *Registry) { r.cacheDir = dir }
}

// WithLogger sets the logger for include warnings and cache maintenance.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithStrict makes include failures that are normally skipped fatal.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

// WithResolver replaces the source resolver, e.g. to add custom handlers.
func WithResolver(res *source.Resolver) Option {
	return func(r *Registry) { r.resolver = res }
}

// WithClock sets the time source for LoadedAt and CheckedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// DefaultLogger returns the logger used when none is configured.
func DefaultLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "bundlekit",
		Level:  log.WarnLevel,
	})
}

// New opens the registry rooted at home. Persisted state is read back, and
// local paths that no longer exist are cleared and the file re-saved.
func New(home string, opts ...Option) (*Registry, error) {
	abs, err := filepath.Abs(home)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registry home: %w", err)
	}

	r := &Registry{
		home:     abs,
		cacheDir: filepath.Join(abs, CacheDirName),
		now:      time.Now,
		loaded:   make(map[string]*bundle.Bundle),
		inflight: make(map[string]*future),
		waits:    make(waitGraph),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = DefaultLogger()
	}
	if r.resolver == nil {
		r.resolver = source.NewResolver(r.cacheDir, source.WithLogger(r.logger))
	}

	states, err := readStates(r.path())
	if err != nil {
		return nil, err
	}
	r.states = states

	if healed := r.selfHeal(); len(healed) > 0 {
		r.logger.Info("cleared stale local paths", "bundles", healed)
		if err := r.Save(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Home returns the registry home directory.
func (r *Registry) Home() string { return r.home }

// CacheDir returns the directory remote sources are cached under.
func (r *Registry) CacheDir() string { return r.cacheDir }

// Resolver returns the source resolver used for loads.
func (r *Registry) Resolver() *source.Resolver { return r.resolver }

// Logger returns the registry logger.
func (r *Registry) Logger() *log.Logger { return r.logger }

func (r *Registry) path() string {
	return filepath.Join(r.home, FileName)
}

// selfHeal clears local paths that vanished and returns the affected names.
func (r *Registry) selfHeal() []string {
	var healed []string
	for _, name := range slices.Sorted(maps.Keys(r.states)) {
		s := r.states[name]
		if s.LocalPath == "" {
			continue
		}
		if _, err := os.Stat(s.LocalPath); os.IsNotExist(err) {
			s.LocalPath = ""
			healed = append(healed, name)
		}
	}
	return healed
}

// Register binds names to URIs. Rebinding a name to a different URI resets
// its load state.
func (r *Registry) Register(bindings map[string]string) error {
	return r.register(bindings, false)
}

// RegisterApp is Register for bundles declared by application configuration.
func (r *Registry) RegisterApp(bindings map[string]string) error {
	return r.register(bindings, true)
}

func (r *Registry) register(bindings map[string]string, app bool) error {
	for _, name := range slices.Sorted(maps.Keys(bindings)) {
		if name == "" {
			return errors.New("bundle name must not be empty")
		}
		if _, err := bundleuri.Parse(bindings[name]); err != nil {
			return fmt.Errorf("failed to register %q: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, uri := range bindings {
		// load keys states on the parsed form, which drops surrounding space
		uri = strings.TrimSpace(uri)
		s, ok := r.states[name]
		if !ok || s.URI != uri {
			s = &BundleState{URI: uri, Name: name, IsRoot: true}
			r.states[name] = s
		}
		if app {
			s.AppBundle = true
		}
	}
	return nil
}

// Unregister removes name and scrubs it from every other bundle's edges.
// It reports whether the name was registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[name]; !ok {
		return false
	}
	delete(r.states, name)
	for _, s := range r.states {
		s.Includes = slices.DeleteFunc(s.Includes, func(n string) bool { return n == name })
		s.IncludedBy = slices.DeleteFunc(s.IncludedBy, func(n string) bool { return n == name })
		if len(s.Includes) == 0 {
			s.Includes = nil
		}
		if len(s.IncludedBy) == 0 {
			s.IncludedBy = nil
		}
	}
	return true
}

// Find returns the URI registered under name.
func (r *Registry) Find(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[name]
	if !ok {
		return "", false
	}
	return s.URI, true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.states))
}

// State returns a copy of the state registered under name.
func (r *Registry) State(name string) (BundleState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[name]
	if !ok {
		return BundleState{}, false
	}
	return s.clone(), true
}

// States returns copies of every state, sorted by name.
func (r *Registry) States() []BundleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BundleState, 0, len(r.states))
	for _, name := range slices.Sorted(maps.Keys(r.states)) {
		out = append(out, r.states[name].clone())
	}
	return out
}

// IncludeOrder returns registered names ordered so that every bundle comes
// after the bundles it includes.
func (r *Registry) IncludeOrder() ([]string, error) {
	r.mu.Lock()
	g := dag.New()
	for _, name := range slices.Sorted(maps.Keys(r.states)) {
		g.AddNode(name)
	}
	for _, name := range slices.Sorted(maps.Keys(r.states)) {
		for _, inc := range r.states[name].Includes {
			g.AddEdge(inc, name)
		}
	}
	r.mu.Unlock()

	return g.TopologicalSort()
}

// Save writes the registry state to {home}/registry.json.
func (r *Registry) Save() error {
	r.mu.Lock()
	snapshot := make(map[string]*BundleState, len(r.states))
	for name, s := range r.states {
		c := s.clone()
		snapshot[name] = &c
	}
	r.mu.Unlock()

	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	return writeStates(r.path(), snapshot)
}

// nameForURILocked returns the registered name bound to uri. r.mu must be held.
func (r *Registry) nameForURILocked(uri string) (string, bool) {
	for _, name := range slices.Sorted(maps.Keys(r.states)) {
		if r.states[name].URI == uri {
			return name, true
		}
	}
	return "", false
}
