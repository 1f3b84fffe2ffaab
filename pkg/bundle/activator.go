// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bundlekit/bundlekit/pkg/source"
)

// SourceActivator fetches module sources through a source.Resolver and
// reports where they landed. It installs nothing.
type SourceActivator struct {
	resolver *source.Resolver
}

// NewSourceActivator creates an activator backed by r.
func NewSourceActivator(r *source.Resolver) *SourceActivator {
	return &SourceActivator{resolver: r}
}

// ActivateBundlePackage is a no-op: fetching is all this activator does.
func (a *SourceActivator) ActivateBundlePackage(context.Context, string) error { return nil }

// ActivateAll fetches every spec concurrently.
func (a *SourceActivator) ActivateAll(ctx context.Context, specs []ModuleSpec) (map[string]string, error) {
	var mu sync.Mutex
	paths := make(map[string]string, len(specs))

	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		g.Go(func() error {
			p, err := a.Activate(ctx, spec)
			if err != nil {
				return err
			}
			mu.Lock()
			paths[spec.Module] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// Activate fetches one module source and returns its local path.
func (a *SourceActivator) Activate(ctx context.Context, spec ModuleSpec) (string, error) {
	if spec.Source == "" {
		return "", fmt.Errorf("module %q has no source", spec.Module)
	}
	rs, err := a.resolver.Resolve(ctx, spec.Source)
	if err != nil {
		return "", err
	}
	return rs.ActivePath, nil
}

// Finalize is a no-op.
func (a *SourceActivator) Finalize(context.Context) error { return nil }
