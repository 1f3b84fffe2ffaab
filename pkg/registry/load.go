// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bundlekit/bundlekit/pkg/bundle"
	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
	"github.com/bundlekit/bundlekit/pkg/source"
)

// rootInfo describes the enclosing bundle found above a nested bundle.
type rootInfo struct {
	name    string
	version string
	dir     string
	uri     string
	paths   map[string]string
}

// Load returns the bundle registered under nameOrURI (or the bundle at the
// URI itself) with its includes composed in. Failures of the target always
// propagate; failures of includes follow the registry's strictness.
func (r *Registry) Load(ctx context.Context, nameOrURI string) (*bundle.Bundle, error) {
	uri := nameOrURI
	if registered, ok := r.Find(nameOrURI); ok {
		uri = registered
	} else if _, err := bundleuri.Parse(uri); err != nil {
		return nil, fmt.Errorf("%q is neither a registered bundle nor a valid URI: %w", nameOrURI, err)
	}

	b, err := r.load(ctx, uri, nil, "")
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if name, ok := r.nameForURILocked(uri); ok {
		r.states[name].ExplicitlyRequested = true
	}
	r.mu.Unlock()
	return b, nil
}

// LoadAll loads every registered bundle concurrently. It returns the bundles
// that loaded and the joined errors of those that did not.
func (r *Registry) LoadAll(ctx context.Context) (map[string]*bundle.Bundle, error) {
	names := r.Names()

	var (
		mu   sync.Mutex
		out  = make(map[string]*bundle.Bundle, len(names))
		errs = make(map[string]error)
		g    errgroup.Group
	)
	for _, name := range names {
		g.Go(func() error {
			b, err := r.Load(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[name] = err
				return nil
			}
			out[name] = b
			return nil
		})
	}
	_ = g.Wait()

	var joined []error
	for _, name := range names {
		if err, ok := errs[name]; ok {
			joined = append(joined, fmt.Errorf("bundle %q: %w", name, err))
		}
	}
	return out, errors.Join(joined...)
}

// load runs the per-URI state machine: cached, revisiting the chain,
// in flight elsewhere, or started here. requester is the URI whose load is
// asking, empty for top-level calls.
func (r *Registry) load(ctx context.Context, uri string, ch chain, requester string) (*bundle.Bundle, error) {
	p, err := bundleuri.Parse(uri)
	if err != nil {
		return nil, err
	}
	key := p.Raw

	for {
		r.mu.Lock()
		if b, ok := r.loaded[key]; ok {
			r.mu.Unlock()
			return b, nil
		}
		if ch.revisits(p) {
			r.mu.Unlock()
			return nil, &bundleerr.DependencyError{Kind: bundleerr.DependencyCycle, URI: key, Chain: ch.uris()}
		}

		if f, ok := r.inflight[key]; ok {
			if requester != "" && r.waits.reaches(key, requester) {
				r.mu.Unlock()
				return nil, &bundleerr.DependencyError{Kind: bundleerr.DependencyCycle, URI: key, Chain: ch.uris()}
			}
			r.waits.add(requester, key)
			r.mu.Unlock()

			b, err := f.wait(ctx)

			r.mu.Lock()
			r.waits.remove(requester, key)
			r.mu.Unlock()

			if err != nil {
				return nil, err
			}
			if b != nil {
				return b, nil
			}
			// The other attempt failed; try again ourselves.
			continue
		}

		f := newFuture()
		r.inflight[key] = f
		r.waits.add(requester, key)
		r.mu.Unlock()

		b, err := r.doLoad(ctx, p, ch.with(p))

		r.mu.Lock()
		delete(r.inflight, key)
		r.waits.remove(requester, key)
		if err == nil {
			r.loaded[key] = b
		}
		r.mu.Unlock()

		if err != nil {
			f.settle(nil)
			return nil, err
		}
		f.settle(b)
		return b, nil
	}
}

func (r *Registry) doLoad(ctx context.Context, p *bundleuri.ParsedURI, ch chain) (*bundle.Bundle, error) {
	rs, err := r.resolver.ResolveParsed(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", p.Raw, err)
	}
	b, err := bundle.LoadPath(rs.ActivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", p.Raw, err)
	}

	root := r.detectRoot(p, rs, b)
	if root != nil {
		b = b.WithSourceBasePaths(root.paths)
	}

	name := r.recordLoad(p, rs, b, root)

	composed, included, err := r.composeIncludes(ctx, b, ch)
	if err != nil {
		return nil, err
	}
	r.recordEdges(name, included)

	return r.resolvePending(composed), nil
}

// detectRoot looks above the bundle directory, within its source root, for
// the nearest enclosing bundle. It returns nil when the bundle is its own root.
func (r *Registry) detectRoot(p *bundleuri.ParsedURI, rs *source.ResolvedSource, b *bundle.Bundle) *rootInfo {
	if rs.SourceRoot == "" || b.BasePath == rs.SourceRoot {
		return nil
	}
	rel, err := filepath.Rel(rs.SourceRoot, b.BasePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}

	for dir := filepath.Dir(b.BasePath); ; {
		if source.HasBundleMarker(dir) {
			rb, err := bundle.LoadPath(dir)
			if err != nil {
				r.logger.Warn("ignoring unreadable root bundle", "dir", dir, "err", err)
				return nil
			}
			if rb.Name == b.Name {
				return nil
			}
			info := &rootInfo{
				name:    rb.Name,
				version: rb.Version,
				dir:     dir,
				uri:     rootURI(p, rs.SourceRoot, dir),
				paths:   map[string]string{rb.Name: dir, b.Name: b.BasePath},
			}
			return info
		}
		if dir == rs.SourceRoot {
			return nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

// rootURI addresses dir, a directory inside the source of p.
func rootURI(p *bundleuri.ParsedURI, sourceRoot, dir string) string {
	if p.IsFile() {
		return "file://" + filepath.ToSlash(dir)
	}
	rel, err := filepath.Rel(sourceRoot, dir)
	if err != nil || rel == "." {
		return p.BaseURI()
	}
	return p.WithSubpath(filepath.ToSlash(rel))
}

// recordLoad creates or updates the state for a freshly loaded bundle and
// returns its name. An empty name means the bundle is not tracked because
// its name is bound to another URI.
func (r *Registry) recordLoad(p *bundleuri.ParsedURI, rs *source.ResolvedSource, b *bundle.Bundle, root *rootInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.nameForURILocked(p.Raw)
	if !ok {
		name = b.Name
		if existing, taken := r.states[name]; taken && existing.URI != p.Raw {
			r.logger.Debug("not tracking bundle, name is bound elsewhere", "name", name, "uri", p.Raw, "bound", existing.URI)
			return ""
		}
	}

	s := r.states[name]
	if s == nil {
		s = &BundleState{URI: p.Raw, Name: name}
		r.states[name] = s
	}
	s.Version = b.Version
	s.LoadedAt = r.now()
	s.LocalPath = rs.ActivePath
	s.IsRoot = root == nil
	s.RootName = ""

	if root != nil {
		s.RootName = root.name
		_, named := r.states[root.name]
		_, bound := r.nameForURILocked(root.uri)
		if !named && !bound {
			r.states[root.name] = &BundleState{
				URI:       root.uri,
				Name:      root.name,
				Version:   root.version,
				LocalPath: root.dir,
				IsRoot:    true,
			}
		}
	}
	return name
}

// composeIncludes loads the includes of b and composes them left to right
// with b itself last. It also returns the URIs that contributed.
func (r *Registry) composeIncludes(ctx context.Context, b *bundle.Bundle, ch chain) (*bundle.Bundle, []string, error) {
	if len(b.Includes) == 0 {
		return b, nil, nil
	}
	self := ch[len(ch)-1].uri

	// Namespaced includes are resolved in order: resolving one may load a
	// namespace a later include depends on.
	targets := make([]string, len(b.Includes))
	for i, ref := range b.Includes {
		uri, err := r.includeURI(ctx, ref, b, ch)
		if err != nil {
			if err := r.includeFailed(ref, ch, err); err != nil {
				return nil, nil, err
			}
			continue
		}
		targets[i] = uri
	}

	results := make([]*bundle.Bundle, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range targets {
		if uri == "" {
			continue
		}
		g.Go(func() error {
			inc, err := r.load(gctx, uri, ch, self)
			if err != nil {
				return r.includeFailed(b.Includes[i], ch, err)
			}
			results[i] = inc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		parts    []*bundle.Bundle
		included []string
	)
	for i, inc := range results {
		if inc != nil {
			parts = append(parts, inc)
			included = append(included, targets[i])
		}
	}
	if len(parts) == 0 {
		return b, nil, nil
	}
	return parts[0].Compose(append(parts[1:], b)...), included, nil
}

// includeURI turns an include reference into a loadable URI. Namespaced
// references resolve against the namespace's directory.
func (r *Registry) includeURI(ctx context.Context, ref string, b *bundle.Bundle, ch chain) (string, error) {
	ns, rel, ok := bundleuri.SplitNamespacedRef(ref)
	if !ok {
		if _, err := bundleuri.Parse(ref); err != nil {
			return "", err
		}
		return ref, nil
	}

	base, err := r.namespaceBase(ctx, ns, ref, b, ch)
	if err != nil {
		return "", err
	}
	target, found := findIncludeTarget(base, rel)
	if !found {
		return "", &bundleerr.DependencyError{
			Kind:  bundleerr.DependencyUnresolvable,
			URI:   ref,
			Chain: ch.uris(),
			Err:   &bundleerr.NotFoundError{Resource: filepath.Join(base, filepath.FromSlash(rel))},
		}
	}
	return "file://" + filepath.ToSlash(target), nil
}

// namespaceBase returns the directory a namespace refers to, loading the
// namespace's bundle first when it has not been loaded yet.
func (r *Registry) namespaceBase(ctx context.Context, ns, ref string, b *bundle.Bundle, ch chain) (string, error) {
	if p, ok := b.SourceBasePaths[ns]; ok {
		return p, nil
	}
	if ns == b.Name {
		return b.BasePath, nil
	}

	lookup := func() (uri, local string, ok bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		s, ok := r.states[ns]
		if !ok {
			return "", "", false
		}
		return s.URI, s.LocalPath, true
	}

	uri, local, ok := lookup()
	if !ok {
		return "", &bundleerr.DependencyError{Kind: bundleerr.DependencyUnregistered, URI: ref, Chain: ch.uris()}
	}
	if local != "" && isDir(local) {
		return local, nil
	}

	if _, err := r.load(ctx, uri, ch, ch[len(ch)-1].uri); err != nil {
		return "", fmt.Errorf("failed to load namespace %q: %w", ns, err)
	}
	if _, local, _ = lookup(); local == "" || !isDir(local) {
		return "", &bundleerr.DependencyError{
			Kind:  bundleerr.DependencyUnresolvable,
			URI:   ref,
			Chain: ch.uris(),
			Err:   fmt.Errorf("namespace %q has no local directory", ns),
		}
	}
	return local, nil
}

// findIncludeTarget looks for rel under base as given or with a bundle file
// extension. Directories only qualify when they hold a bundle file.
func findIncludeTarget(base, rel string) (string, bool) {
	candidate := filepath.Join(base, filepath.FromSlash(rel))
	for _, c := range []string{candidate, candidate + ".md", candidate + ".yaml", candidate + ".yml"} {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if info.IsDir() && !source.HasBundleMarker(c) {
			continue
		}
		return c, true
	}
	return "", false
}

// includeFailed applies the include failure policy. A nil return means the
// include is skipped.
func (r *Registry) includeFailed(ref string, ch chain, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var de *bundleerr.DependencyError
	if errors.As(err, &de) {
		switch de.Kind {
		case bundleerr.DependencyCycle:
			r.logger.Warn("skipping circular include", "include", ref, "chain", de.ChainString())
			return nil
		case bundleerr.DependencyUnresolvable:
			return err
		case bundleerr.DependencyUnregistered:
			if r.strict {
				return err
			}
			r.logger.Warn("skipping include from unregistered namespace", "include", ref)
			return nil
		}
	}

	if r.strict {
		return &bundleerr.DependencyError{Kind: bundleerr.DependencyFailed, URI: ref, Chain: ch.uris(), Err: err}
	}
	r.logger.Warn("skipping include that failed to load", "include", ref, "err", err)
	return nil
}

// recordEdges replaces the include edges of name with the bundles behind uris.
func (r *Registry) recordEdges(name string, uris []string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[name]
	if !ok {
		return
	}

	var includes []string
	for _, uri := range uris {
		child, ok := r.nameForURILocked(uri)
		if !ok || child == name || slices.Contains(includes, child) {
			continue
		}
		includes = append(includes, child)
		if cs := r.states[child]; !slices.Contains(cs.IncludedBy, name) {
			cs.IncludedBy = append(cs.IncludedBy, name)
		}
	}

	for _, old := range s.Includes {
		if slices.Contains(includes, old) {
			continue
		}
		if cs, ok := r.states[old]; ok {
			cs.IncludedBy = slices.DeleteFunc(cs.IncludedBy, func(n string) bool { return n == name })
			if len(cs.IncludedBy) == 0 {
				cs.IncludedBy = nil
			}
		}
	}
	s.Includes = includes
}

// resolvePending resolves deferred context entries, borrowing directories
// of registered namespaces the composition did not map.
func (r *Registry) resolvePending(b *bundle.Bundle) *bundle.Bundle {
	if len(b.PendingContext) > 0 {
		extra := make(map[string]string)
		r.mu.Lock()
		for _, ref := range b.PendingContext {
			ns, _, ok := bundleuri.SplitNamespacedRef(ref)
			if !ok {
				continue
			}
			if s, ok := r.states[ns]; ok && s.LocalPath != "" {
				extra[ns] = s.LocalPath
			}
		}
		r.mu.Unlock()

		for ns, p := range extra {
			if !isDir(p) {
				delete(extra, ns)
			}
		}
		if len(extra) > 0 {
			b = b.WithSourceBasePaths(extra)
		}
	}
	return b.ResolvePendingContext()
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
