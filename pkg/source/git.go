// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

const (
	// DefaultGitTimeout bounds remote ref queries made by Status.
	DefaultGitTimeout = 30 * time.Second

	// MetadataFile is the sidecar written at the root of every clone.
	MetadataFile = ".bundlekit-cache.json"
)

type (
	// GitHandler clones git+http(s) repositories into the cache with go-git.
	GitHandler struct {
		// Logger receives cache maintenance messages. Nil discards them.
		Logger *log.Logger
		// RemoteTimeout bounds Status queries. Zero means DefaultGitTimeout.
		RemoteTimeout time.Duration

		auth transport.AuthMethod
	}

	// cloneMetadata is the JSON sidecar stored inside each clone.
	cloneMetadata struct {
		CachedAt time.Time `json:"cached_at"`
		Ref      string    `json:"ref"`
		Commit   string    `json:"commit"`
		GitURL   string    `json:"git_url"`
	}
)

// NewGitHandler creates a git handler with credentials taken from the environment.
func NewGitHandler(logger *log.Logger) *GitHandler {
	return &GitHandler{Logger: logger, auth: httpAuthFromEnv(os.Getenv)}
}

// CanHandle accepts git+http(s) URIs.
func (h *GitHandler) CanHandle(p *bundleuri.ParsedURI) bool {
	return p.IsGit()
}

// CachePath returns the clone directory for p: {cacheDir}/{repo}-{sha256(url@ref)[:16]}.
func (h *GitHandler) CachePath(p *bundleuri.ParsedURI, cacheDir string) string {
	return filepath.Join(cacheDir, p.RepoName()+"-"+cacheKey(p.GitURL()+"@"+p.Ref))
}

// Resolve reuses a valid clone or performs a fresh shallow clone.
func (h *GitHandler) Resolve(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (*ResolvedSource, error) {
	dir := h.CachePath(p, cacheDir)

	verifyErr := verifyClone(dir, p.Subpath)
	if verifyErr == nil {
		return descend(dir, p.Subpath)
	}
	if _, err := os.Stat(dir); err == nil {
		h.logger().Warn("discarding invalid cache entry", "dir", dir, "reason", verifyErr)
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to remove invalid cache entry: %w", err)
		}
	}

	if err := h.clone(ctx, p, dir); err != nil {
		return nil, err
	}
	return descend(dir, p.Subpath)
}

// Status compares the cached commit against the remote ref without cloning.
// Remote failures are reported in Status.Error, never as an error.
func (h *GitHandler) Status(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (*Status, error) {
	st := &Status{URI: p.Raw, Supported: true, IsPinned: IsPinnedRef(p.Ref)}

	meta, err := readMetadata(h.CachePath(p, cacheDir))
	if err == nil {
		st.Cached = true
		st.CachedCommit = meta.Commit
		st.CachedAt = meta.CachedAt
	}
	if st.IsPinned || !st.Cached {
		return st, nil
	}

	remote, err := h.remoteCommit(ctx, p)
	if err != nil {
		st.Error = "status unknown: " + err.Error()
		return st, nil
	}
	st.RemoteCommit = remote
	st.HasUpdate = remote != meta.Commit
	return st, nil
}

// Update deletes the clone and fetches it again.
func (h *GitHandler) Update(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (*ResolvedSource, error) {
	if err := os.RemoveAll(h.CachePath(p, cacheDir)); err != nil {
		return nil, fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return h.Resolve(ctx, p, cacheDir)
}

// clone fetches p into a temporary sibling of dest, verifies it, records the
// metadata sidecar, and renames it into place.
func (h *GitHandler) clone(ctx context.Context, p *bundleuri.ParsedURI, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary clone directory: %w", err)
	}

	commit, err := h.cloneInto(ctx, p, tmp)
	if err != nil {
		_ = os.RemoveAll(tmp) // Best-effort cleanup of partial clone
		return &bundleerr.TransportError{Op: "clone", URI: p.Raw, Err: err}
	}

	if err := verifyClone(tmp, p.Subpath); err != nil {
		_ = os.RemoveAll(tmp)
		return &bundleerr.TransportError{Op: "verify", URI: p.Raw, Err: err}
	}

	meta := cloneMetadata{CachedAt: time.Now().UTC(), Ref: p.Ref, Commit: commit, GitURL: p.GitURL()}
	if err := writeMetadata(tmp, meta); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}

	if err := placeDir(tmp, dest); err != nil {
		return &bundleerr.TransportError{Op: "clone", URI: p.Raw, Err: err}
	}
	h.logger().Debug("cloned repository", "url", p.GitURL(), "ref", p.Ref, "commit", commit)
	return nil
}

// cloneInto performs the clone for the requested ref and returns the checked-out commit.
// HEAD clones the default branch; a commit SHA needs full history; any other
// ref is tried as a branch, then as a tag.
func (h *GitHandler) cloneInto(ctx context.Context, p *bundleuri.ParsedURI, dir string) (string, error) {
	opts := &git.CloneOptions{
		URL:          p.GitURL(),
		Auth:         h.auth,
		SingleBranch: true,
		Depth:        1,
	}

	switch {
	case p.Ref == bundleuri.DefaultRef:
		repo, err := git.PlainCloneContext(ctx, dir, false, opts)
		if err != nil {
			return "", err
		}
		return headCommit(repo)

	case commitSHAPattern.MatchString(p.Ref):
		repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: p.GitURL(), Auth: h.auth})
		if err != nil {
			return "", err
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("failed to get worktree: %w", err)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(p.Ref), Force: true}); err != nil {
			return "", fmt.Errorf("failed to checkout %s: %w", p.Ref, err)
		}
		return headCommit(repo)
	}

	var lastErr error
	for _, refName := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(p.Ref),
		plumbing.NewTagReferenceName(p.Ref),
	} {
		opts.ReferenceName = refName
		repo, err := git.PlainCloneContext(ctx, dir, false, opts)
		if err != nil {
			lastErr = err
			// Reset the directory for the next attempt
			_ = os.RemoveAll(dir)
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return "", mkErr
			}
			continue
		}
		return headCommit(repo)
	}
	return "", fmt.Errorf("ref %q not found as branch or tag: %w", p.Ref, lastErr)
}

// remoteCommit lists the remote refs in memory and returns the commit for p.Ref.
func (h *GitHandler) remoteCommit(ctx context.Context, p *bundleuri.ParsedURI) (string, error) {
	timeout := h.RemoteTimeout
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{p.GitURL()},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: h.auth})
	if err != nil {
		return "", fmt.Errorf("failed to list remote refs: %w", err)
	}

	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, ref := range refs {
		byName[ref.Name()] = ref
	}

	var candidates []plumbing.ReferenceName
	if p.Ref == bundleuri.DefaultRef {
		candidates = []plumbing.ReferenceName{plumbing.HEAD}
	} else {
		candidates = []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(p.Ref),
			plumbing.NewTagReferenceName(p.Ref),
		}
	}

	for _, name := range candidates {
		ref, ok := byName[name]
		if !ok {
			continue
		}
		// HEAD is usually advertised as a symbolic ref to the default branch
		for range 5 {
			if ref.Type() != plumbing.SymbolicReference {
				break
			}
			target, ok := byName[ref.Target()]
			if !ok {
				return "", fmt.Errorf("remote ref %s points at unknown %s", ref.Name(), ref.Target())
			}
			ref = target
		}
		return ref.Hash().String(), nil
	}
	return "", fmt.Errorf("ref %q not found on remote", p.Ref)
}

func (h *GitHandler) logger() *log.Logger {
	if h.Logger == nil {
		return log.New(io.Discard)
	}
	return h.Logger
}

func headCommit(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// verifyClone checks that dir is a git checkout carrying a bundle or package
// marker at its root or at the requested subpath.
func verifyClone(dir, subpath string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return errors.New("missing .git directory")
	}
	candidates := []string{dir}
	if subpath != "" {
		candidates = append(candidates, filepath.Join(dir, filepath.FromSlash(subpath)))
	}
	for _, c := range candidates {
		if HasBundleMarker(c) || HasPackageMarker(c) {
			return nil
		}
	}
	return errors.New("no bundle or package marker found")
}

func readMetadata(dir string) (*cloneMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	var meta cloneMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("invalid cache metadata: %w", err)
	}
	return &meta, nil
}

func writeMetadata(dir string, meta cloneMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}
	return nil
}

// httpAuthFromEnv picks HTTPS credentials from well-known token variables.
func httpAuthFromEnv(getenv func(string) string) transport.AuthMethod {
	if token := getenv("GITHUB_TOKEN"); token != "" {
		return &http.BasicAuth{Username: "x-access-token", Password: token}
	}
	if token := getenv("GITLAB_TOKEN"); token != "" {
		return &http.BasicAuth{Username: "gitlab-ci-token", Password: token}
	}
	if token := getenv("GIT_TOKEN"); token != "" {
		return &http.BasicAuth{Username: "git", Password: token}
	}
	return nil
}
