// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

// FileHandler resolves local paths. It never copies anything into the cache.
type FileHandler struct {
	// BaseDir anchors relative paths. Empty means the working directory.
	BaseDir string
}

// CanHandle accepts file:// URIs and bare paths.
func (h *FileHandler) CanHandle(p *bundleuri.ParsedURI) bool {
	return p.IsFile()
}

// Resolve locates the path on disk and determines its source root.
//
// With a subdirectory fragment the fragment-less path is the root. Paths
// inside cacheDir belong to the cached source they live in. Anything else is
// rooted at the topmost enclosing bundle directory below a .git boundary.
func (h *FileHandler) Resolve(_ context.Context, p *bundleuri.ParsedURI, cacheDir string) (*ResolvedSource, error) {
	target, err := h.absPath(p.Path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &bundleerr.NotFoundError{Resource: target}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", target, err)
	}

	if p.Subpath != "" {
		return descend(target, p.Subpath)
	}

	return &ResolvedSource{ActivePath: target, SourceRoot: sourceRootFor(target, cacheDir)}, nil
}

func (h *FileHandler) absPath(p string) (string, error) {
	expanded, err := expandHome(filepath.FromSlash(p))
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	base := h.BaseDir
	if base == "" {
		if base, err = os.Getwd(); err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	return filepath.Join(base, expanded), nil
}

// sourceRootFor computes the source root of an existing local path.
func sourceRootFor(target, cacheDir string) string {
	if root, ok := cacheEntryRoot(target, cacheDir); ok {
		return root
	}

	dir := target
	if !isDir(target) {
		dir = filepath.Dir(target)
	}

	top := ""
	for cur := dir; ; {
		if HasBundleMarker(cur) {
			top = cur
		}
		if _, err := os.Stat(filepath.Join(cur, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	if top == "" {
		return dir
	}
	return top
}

// cacheEntryRoot returns the cache entry containing target, if any.
func cacheEntryRoot(target, cacheDir string) (string, bool) {
	if cacheDir == "" {
		return "", false
	}
	absCache, err := filepath.Abs(cacheDir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absCache, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	first, _, _ := strings.Cut(rel, string(filepath.Separator))
	return filepath.Join(absCache, first), true
}
