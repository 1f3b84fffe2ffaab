// SPDX-License-Identifier: MPL-2.0

package source

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

// ZipHandler downloads or opens zip archives and extracts them into the cache.
type ZipHandler struct {
	// Client performs downloads for zip+http(s). Nil uses a client with DefaultHTTPTimeout.
	Client *http.Client
	// BaseDir anchors relative zip+file paths. Empty means the working directory.
	BaseDir string
}

// CanHandle accepts zip+http, zip+https, and zip+file URIs.
func (h *ZipHandler) CanHandle(p *bundleuri.ParsedURI) bool {
	return p.IsZip()
}

// CachePath returns the extraction directory for p: {cacheDir}/{stem}-{sha256(url)[:16]}.
func (h *ZipHandler) CachePath(p *bundleuri.ParsedURI, cacheDir string) (string, error) {
	identity, err := h.identity(p)
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(downloadName(p), filepath.Ext(downloadName(p)))
	return filepath.Join(cacheDir, stem+"-"+cacheKey(identity)), nil
}

// Resolve extracts the archive once and descends into the requested subpath.
func (h *ZipHandler) Resolve(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (*ResolvedSource, error) {
	dir, err := h.CachePath(p, cacheDir)
	if err != nil {
		return nil, err
	}
	if isDir(dir) {
		return descend(dir, p.Subpath)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	archive, cleanup, err := h.fetchArchive(ctx, p, cacheDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	tmp, err := os.MkdirTemp(cacheDir, filepath.Base(dir)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary extraction directory: %w", err)
	}
	if err := extractArchive(archive, tmp); err != nil {
		_ = os.RemoveAll(tmp) // Best-effort cleanup of partial extraction
		return nil, &bundleerr.TransportError{Op: "extract", URI: p.Raw, Err: err}
	}
	if err := placeDir(tmp, dir); err != nil {
		return nil, &bundleerr.TransportError{Op: "extract", URI: p.Raw, Err: err}
	}
	return descend(dir, p.Subpath)
}

// fetchArchive returns a local path to the archive and a cleanup func for temporary downloads.
func (h *ZipHandler) fetchArchive(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (string, func(), error) {
	if p.Transport == "file" {
		local, err := h.identity(p)
		if err != nil {
			return "", nil, err
		}
		if _, err := os.Stat(local); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", nil, &bundleerr.NotFoundError{Resource: local}
			}
			return "", nil, fmt.Errorf("failed to stat %s: %w", local, err)
		}
		return local, func() {}, nil
	}

	tmpFile, err := os.CreateTemp(cacheDir, "download-*.zip")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if err := download(ctx, client, p.FetchURL(), tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", nil, &bundleerr.TransportError{Op: "download", URI: p.Raw, Err: err}
	}
	return tmpPath, func() { _ = os.Remove(tmpPath) }, nil
}

// identity is the cache identity of an archive: its URL, or its absolute path for zip+file.
func (h *ZipHandler) identity(p *bundleuri.ParsedURI) (string, error) {
	if p.Transport != "file" {
		return p.FetchURL(), nil
	}
	local := &FileHandler{BaseDir: h.BaseDir}
	return local.absPath(p.Path)
}

// extractArchive extracts every entry of the archive into destDir, rejecting
// entries that would land outside it.
func extractArchive(archive, destDir string) (err error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open ZIP file: %w", err)
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, file := range zr.File {
		destPath := filepath.Join(destDir, filepath.FromSlash(file.Name))

		relPath, relErr := filepath.Rel(destDir, destPath)
		if relErr != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
			return fmt.Errorf("invalid path in ZIP: %s", file.Name)
		}

		if file.FileInfo().IsDir() {
			if mkErr := os.MkdirAll(destPath, 0o755); mkErr != nil {
				return fmt.Errorf("failed to create directory: %w", mkErr)
			}
			continue
		}

		if mkErr := os.MkdirAll(filepath.Dir(destPath), 0o755); mkErr != nil {
			return fmt.Errorf("failed to create parent directory: %w", mkErr)
		}
		if exErr := extractFile(file, destPath); exErr != nil {
			return fmt.Errorf("failed to extract %s: %w", file.Name, exErr)
		}
	}
	return nil
}

func extractFile(file *zip.File, destPath string) (err error) {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	//nolint:gosec // G110: archives come from sources the user registered
	_, err = io.Copy(out, rc)
	return err
}
