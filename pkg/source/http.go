// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

// DefaultHTTPTimeout bounds a single download.
const DefaultHTTPTimeout = 60 * time.Second

// HTTPHandler downloads plain http(s) URLs verbatim into the cache.
type HTTPHandler struct {
	// Client performs the download. Nil uses a client with DefaultHTTPTimeout.
	Client *http.Client
}

// CanHandle accepts plain http and https URIs.
func (h *HTTPHandler) CanHandle(p *bundleuri.ParsedURI) bool {
	return p.IsHTTP()
}

// CachePath returns the directory holding the download for p:
// {cacheDir}/{filename}-{sha256(url)[:16]}. The entry is a directory rather
// than a flat {filename}-{key} file: the file inside keeps its own name so its
// extension still selects the bundle format, and the directory is the source
// root for relative includes.
func (h *HTTPHandler) CachePath(p *bundleuri.ParsedURI, cacheDir string) string {
	return filepath.Join(cacheDir, downloadName(p)+"-"+cacheKey(p.FetchURL()))
}

// Resolve returns the cached download, fetching it first when absent.
func (h *HTTPHandler) Resolve(ctx context.Context, p *bundleuri.ParsedURI, cacheDir string) (*ResolvedSource, error) {
	dir := h.CachePath(p, cacheDir)
	file := filepath.Join(dir, downloadName(p))

	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		return &ResolvedSource{ActivePath: file, SourceRoot: dir}, nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.MkdirTemp(cacheDir, filepath.Base(dir)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary download directory: %w", err)
	}
	if err := download(ctx, h.client(), p.FetchURL(), filepath.Join(tmp, downloadName(p))); err != nil {
		_ = os.RemoveAll(tmp) // Best-effort cleanup of partial download
		return nil, &bundleerr.TransportError{Op: "download", URI: p.Raw, Err: err}
	}
	if err := placeDir(tmp, dir); err != nil {
		return nil, &bundleerr.TransportError{Op: "download", URI: p.Raw, Err: err}
	}
	return &ResolvedSource{ActivePath: file, SourceRoot: dir}, nil
}

func (h *HTTPHandler) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

// downloadName is the last path segment of the URL, or "download" when the path is empty.
func downloadName(p *bundleuri.ParsedURI) string {
	name := path.Base(p.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

// download fetches url into dest. dest is removed when the transfer fails.
func download(ctx context.Context, client *http.Client, url, dest string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(dest), err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	if _, err = io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to save download: %w", err)
	}
	return nil
}
