// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

type (
	// Resolver dispatches parsed URIs to the first accepting handler.
	// Custom handlers are consulted before the built-ins, in the order they
	// were added. Built-ins are tried as File, Git, Zip, then HTTP.
	Resolver struct {
		cacheDir string

		file *FileHandler
		git  *GitHandler
		zip  *ZipHandler
		http *HTTPHandler

		mu     sync.RWMutex
		custom []Handler
	}

	// Option configures a Resolver.
	Option func(*Resolver)
)

// WithBaseDir anchors relative local paths at dir.
func WithBaseDir(dir string) Option {
	return func(r *Resolver) {
		r.file.BaseDir = dir
		r.zip.BaseDir = dir
	}
}

// WithHTTPClient sets the client used for http and zip downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.http.Client = c
		r.zip.Client = c
	}
}

// WithHTTPTimeout replaces the download client with one bounded by d.
func WithHTTPTimeout(d time.Duration) Option {
	return WithHTTPClient(&http.Client{Timeout: d})
}

// WithGitTimeout bounds remote ref queries.
func WithGitTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.git.RemoteTimeout = d }
}

// WithLogger sets the logger used by handlers that report cache maintenance.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.git.Logger = l }
}

// NewResolver creates a resolver that caches remote sources under cacheDir.
func NewResolver(cacheDir string, opts ...Option) *Resolver {
	r := &Resolver{
		cacheDir: cacheDir,
		file:     &FileHandler{},
		git:      NewGitHandler(nil),
		zip:      &ZipHandler{},
		http:     &HTTPHandler{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CacheDir returns the directory remote sources are cached under.
func (r *Resolver) CacheDir() string { return r.cacheDir }

// AddHandler registers a custom handler ahead of the built-ins.
func (r *Resolver) AddHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom = append(r.custom, h)
}

// Resolve parses uri and resolves it.
func (r *Resolver) Resolve(ctx context.Context, uri string) (*ResolvedSource, error) {
	p, err := bundleuri.Parse(uri)
	if err != nil {
		return nil, err
	}
	return r.ResolveParsed(ctx, p)
}

// ResolveParsed resolves p with the first handler that accepts it.
// Handler errors are returned unchanged.
func (r *Resolver) ResolveParsed(ctx context.Context, p *bundleuri.ParsedURI) (*ResolvedSource, error) {
	h, err := r.handlerFor(p)
	if err != nil {
		return nil, err
	}
	return h.Resolve(ctx, p, r.cacheDir)
}

// Status reports the freshness of p. Sources that cannot go stale report Supported=false.
func (r *Resolver) Status(ctx context.Context, p *bundleuri.ParsedURI) (*Status, error) {
	h, err := r.handlerFor(p)
	if err != nil {
		return nil, err
	}
	if u, ok := h.(Updater); ok {
		return u.Status(ctx, p, r.cacheDir)
	}
	return &Status{URI: p.Raw}, nil
}

// Update refreshes p. Sources that cannot go stale are simply resolved again.
func (r *Resolver) Update(ctx context.Context, p *bundleuri.ParsedURI) (*ResolvedSource, error) {
	h, err := r.handlerFor(p)
	if err != nil {
		return nil, err
	}
	if u, ok := h.(Updater); ok {
		return u.Update(ctx, p, r.cacheDir)
	}
	return h.Resolve(ctx, p, r.cacheDir)
}

func (r *Resolver) handlerFor(p *bundleuri.ParsedURI) (Handler, error) {
	r.mu.RLock()
	custom := r.custom
	r.mu.RUnlock()

	for _, h := range custom {
		if h.CanHandle(p) {
			return h, nil
		}
	}
	for _, h := range []Handler{r.file, r.git, r.zip, r.http} {
		if h.CanHandle(p) {
			return h, nil
		}
	}
	return nil, &bundleerr.InvalidURIError{URI: p.Raw, Reason: "no handler accepts this URI"}
}
