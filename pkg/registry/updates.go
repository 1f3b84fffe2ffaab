// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bundlekit/bundlekit/pkg/bundle"
	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
	"github.com/bundlekit/bundlekit/pkg/source"
)

// CheckUpdate reports whether the source of a registered bundle has changed
// upstream. It never fetches; remote failures surface in Status.Error.
func (r *Registry) CheckUpdate(ctx context.Context, name string) (*source.Status, error) {
	p, err := r.parsedURIFor(name)
	if err != nil {
		return nil, err
	}

	st, err := r.resolver.Status(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to check %q: %w", name, err)
	}

	r.mu.Lock()
	if s, ok := r.states[name]; ok {
		s.CheckedAt = r.now()
	}
	r.mu.Unlock()
	return st, nil
}

// CheckUpdates runs CheckUpdate for every registered bundle concurrently.
func (r *Registry) CheckUpdates(ctx context.Context) (map[string]*source.Status, error) {
	names := r.Names()

	var (
		mu   sync.Mutex
		out  = make(map[string]*source.Status, len(names))
		errs []error
		g    errgroup.Group
	)
	for _, name := range names {
		g.Go(func() error {
			st, err := r.CheckUpdate(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			out[name] = st
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

// Update refetches the source of a registered bundle, drops every cached
// load, and loads the bundle again.
func (r *Registry) Update(ctx context.Context, name string) (*bundle.Bundle, error) {
	p, err := r.parsedURIFor(name)
	if err != nil {
		return nil, err
	}

	if _, err := r.resolver.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update %q: %w", name, err)
	}

	r.mu.Lock()
	clear(r.loaded)
	r.mu.Unlock()

	return r.Load(ctx, name)
}

func (r *Registry) parsedURIFor(name string) (*bundleuri.ParsedURI, error) {
	uri, ok := r.Find(name)
	if !ok {
		return nil, &bundleerr.NotFoundError{Resource: name, Detail: "bundle not registered"}
	}
	return bundleuri.Parse(uri)
}
