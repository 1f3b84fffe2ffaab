// SPDX-License-Identifier: MPL-2.0

// Package source fetches bundle sources to the local filesystem.
//
// Each transport (local paths, git repositories, plain HTTP downloads, zip
// archives) is served by a Handler. The Resolver dispatches a parsed URI to
// the first Handler that accepts it. Handlers are idempotent given unchanged
// remote state and do not deduplicate concurrent identical requests; callers
// that need single-flight semantics (the registry) provide them.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

// cacheKeyLength is the number of hex characters of sha256 used in cache directory names.
const cacheKeyLength = 16

var (
	// BundleMarkers are the file names that mark a directory as a bundle, in lookup order.
	BundleMarkers = []string{"bundle.md", "bundle.yaml", "bundle.yml"}

	// PackageMarkers are the file names that mark a directory as an installable package.
	PackageMarkers = []string{"pyproject.toml", "setup.py", "package.json", "go.mod"}

	commitSHAPattern  = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
	versionTagPattern = regexp.MustCompile(`^v\d`)
)

type (
	// ResolvedSource is the local result of fetching a source.
	// ActivePath is always SourceRoot itself or a descendant of it.
	ResolvedSource struct {
		// ActivePath is what was requested, possibly a subdirectory of SourceRoot.
		ActivePath string
		// SourceRoot is the full fetched, cloned, or extracted root.
		SourceRoot string
	}

	// Handler fetches one family of URIs into the cache.
	Handler interface {
		// CanHandle reports whether the handler accepts p.
		CanHandle(p *bundleuri.ParsedURI) bool
		// Resolve makes p available on disk, using cacheDir for remote content.
		Resolve(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (*ResolvedSource, error)
	}

	// Updater is implemented by handlers whose cached content can go stale.
	Updater interface {
		Handler
		// Status reports whether the cached copy is behind the remote without fetching it.
		Status(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (*Status, error)
		// Update discards the cached copy and fetches it again.
		Update(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (*ResolvedSource, error)
	}

	// Status describes the freshness of a cached source.
	Status struct {
		// URI is the source that was checked.
		URI string
		// Supported is false for sources that cannot go stale (local paths, downloads).
		Supported bool
		// Cached reports whether a cache entry exists.
		Cached bool
		// IsPinned is true for commit SHAs and version tags; pinned sources never update.
		IsPinned bool
		// HasUpdate is true when the remote ref points at a different commit than the cache.
		HasUpdate bool
		// CachedCommit is the commit recorded when the cache entry was created.
		CachedCommit string
		// RemoteCommit is the commit the remote ref currently points at.
		RemoteCommit string
		// CachedAt is when the cache entry was created.
		CachedAt time.Time
		// Error is set when the remote could not be queried ("status unknown").
		Error string
	}
)

// IsPinnedRef reports whether ref names an immutable revision: a full commit
// SHA or a tag shaped like "v1", "v1.2.3".
func IsPinnedRef(ref string) bool {
	return commitSHAPattern.MatchString(ref) || versionTagPattern.MatchString(ref)
}

// FindBundleFile returns the first bundle marker file present in dir.
func FindBundleFile(dir string) (string, bool) {
	for _, name := range BundleMarkers {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// HasBundleMarker reports whether dir contains a bundle file.
func HasBundleMarker(dir string) bool {
	_, ok := FindBundleFile(dir)
	return ok
}

// HasPackageMarker reports whether dir contains a package manifest.
func HasPackageMarker(dir string) bool {
	for _, name := range PackageMarkers {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// cacheKey returns the content-addressed key for a source identity.
func cacheKey(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])[:cacheKeyLength]
}

// descend returns the resolved source for subpath within root.
func descend(root, subpath string) (*ResolvedSource, error) {
	if subpath == "" {
		return &ResolvedSource{ActivePath: root, SourceRoot: root}, nil
	}
	active := filepath.Join(root, filepath.FromSlash(subpath))
	if _, err := os.Stat(active); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &bundleerr.NotFoundError{Resource: subpath, Detail: "subdirectory of " + root}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", active, err)
	}
	return &ResolvedSource{ActivePath: active, SourceRoot: root}, nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// placeDir renames a freshly populated temporary directory into its final
// cache location. When another process won the race and the destination
// already exists, the temporary copy is discarded and the winner's reused.
func placeDir(tmp, dest string) error {
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp) // Best-effort cleanup of the losing copy
		if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("failed to move %s into cache: %w", filepath.Base(dest), err)
	}
	return nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
