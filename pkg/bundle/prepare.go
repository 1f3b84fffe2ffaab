// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/source"
)

type (
	// ModuleActivator makes module sources available locally. Installing
	// language packages is the activator's business, not the bundle's.
	ModuleActivator interface {
		// ActivateBundlePackage installs the package a bundle directory itself provides.
		ActivateBundlePackage(ctx context.Context, path string) error
		// ActivateAll activates every spec and returns module id → local path.
		ActivateAll(ctx context.Context, specs []ModuleSpec) (map[string]string, error)
		// Activate activates a single module on demand.
		Activate(ctx context.Context, spec ModuleSpec) (string, error)
		// Finalize is called once after all activations of a Prepare call.
		Finalize(ctx context.Context) error
	}

	// PrepareOptions tunes Prepare.
	PrepareOptions struct {
		// InstallDeps activates the packages provided by the bundle directories themselves.
		InstallDeps bool
		// SourceOverride may replace a module's source. Returning "" keeps the original.
		SourceOverride func(moduleID, source string) string
	}

	// PreparedBundle is a bundle ready to hand to a session runtime.
	PreparedBundle struct {
		MountPlan    map[string]any
		Resolver     *ModuleResolver
		Bundle       *Bundle
		PackagePaths []string
	}

	// ModuleResolver maps module ids to local paths. Modules missing from the
	// prepared set can be activated lazily through ResolveContext.
	ModuleResolver struct {
		activator ModuleActivator

		mu    sync.RWMutex
		paths map[string]string

		// activateMu serializes lazy activations so concurrent requests for
		// the same module activate it once.
		activateMu sync.Mutex
	}
)

// Prepare activates every module that carries a source and returns the
// mount plan together with a resolver for module paths.
func (b *Bundle) Prepare(ctx context.Context, activator ModuleActivator, opts PrepareOptions) (*PreparedBundle, error) {
	specs := b.SourcedModules()
	if opts.SourceOverride != nil {
		for i := range specs {
			if s := opts.SourceOverride(specs[i].Module, specs[i].Source); s != "" {
				specs[i].Source = s
			}
		}
	}

	packages := b.PackagePaths()
	if opts.InstallDeps {
		for _, p := range packages {
			if err := activator.ActivateBundlePackage(ctx, p); err != nil {
				return nil, fmt.Errorf("failed to activate bundle package %s: %w", p, err)
			}
		}
	}

	paths, err := activator.ActivateAll(ctx, specs)
	if err != nil {
		return nil, fmt.Errorf("failed to activate modules for bundle %q: %w", b.Name, err)
	}
	if err := activator.Finalize(ctx); err != nil {
		return nil, fmt.Errorf("failed to finalize activation: %w", err)
	}

	return &PreparedBundle{
		MountPlan:    b.ToMountPlan(),
		Resolver:     NewModuleResolver(paths, activator),
		Bundle:       b,
		PackagePaths: packages,
	}, nil
}

// SourcedModules collects every module reference that carries a source, from
// the session orchestrator and context manager, then providers, tools, and
// hooks. The first reference to a module id wins.
func (b *Bundle) SourcedModules() []ModuleSpec {
	var out []ModuleSpec
	seen := make(map[string]bool)
	add := func(m ModuleSpec) {
		if m.Source == "" || m.Module == "" || seen[m.Module] {
			return
		}
		seen[m.Module] = true
		out = append(out, m.Clone())
	}

	for _, kind := range []ModuleKind{KindOrchestrator, KindContext, KindProvider, KindTool, KindHook} {
		for _, m := range b.modules(kind) {
			add(m)
		}
	}
	return out
}

// PackagePaths returns the bundle directories (own and namespaced) that carry a package manifest.
func (b *Bundle) PackagePaths() []string {
	candidates := []string{b.BasePath}
	for _, ns := range sortedKeys(b.SourceBasePaths) {
		candidates = append(candidates, b.SourceBasePaths[ns])
	}
	var out []string
	for _, p := range candidates {
		if p == "" || slices.Contains(out, p) {
			continue
		}
		if source.HasPackageMarker(p) {
			out = append(out, p)
		}
	}
	return out
}

func sessionModule(session map[string]any, key string) (ModuleSpec, bool) {
	m, ok := session[key].(map[string]any)
	if !ok {
		return ModuleSpec{}, false
	}
	id, _ := m["module"].(string)
	src, _ := m["source"].(string)
	cfg, _ := m["config"].(map[string]any)
	return ModuleSpec{Module: id, Source: src, Config: cfg}, id != ""
}

// NewModuleResolver wraps an id → path map. activator may be nil, in which
// case only the given paths resolve.
func NewModuleResolver(paths map[string]string, activator ModuleActivator) *ModuleResolver {
	p := maps.Clone(paths)
	if p == nil {
		p = make(map[string]string)
	}
	return &ModuleResolver{activator: activator, paths: p}
}

// Resolve returns the path of an already activated module.
func (r *ModuleResolver) Resolve(id string) (string, error) {
	if p, ok := r.lookup(id); ok {
		return p, nil
	}
	return "", &bundleerr.NotFoundError{Resource: id, Detail: "module not activated"}
}

// ResolveContext returns the path of a module, activating it from sourceHint
// when it was not part of the prepared set.
func (r *ModuleResolver) ResolveContext(ctx context.Context, id, sourceHint string) (string, error) {
	if p, ok := r.lookup(id); ok {
		return p, nil
	}

	r.activateMu.Lock()
	defer r.activateMu.Unlock()

	if p, ok := r.lookup(id); ok {
		return p, nil
	}
	if r.activator == nil || sourceHint == "" {
		return "", &bundleerr.NotFoundError{Resource: id, Detail: "module not activated and no source to activate it from"}
	}

	p, err := r.activator.Activate(ctx, ModuleSpec{Module: id, Source: sourceHint})
	if err != nil {
		return "", fmt.Errorf("failed to activate module %q: %w", id, err)
	}

	r.mu.Lock()
	r.paths[id] = p
	r.mu.Unlock()
	return p, nil
}

// Paths returns a snapshot of id → path.
func (r *ModuleResolver) Paths() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.paths)
}

func (r *ModuleResolver) lookup(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.paths[id]
	return p, ok
}
