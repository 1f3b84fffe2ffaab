// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustParse(t *testing.T, uri string) *bundleuri.ParsedURI {
	t.Helper()
	p, err := bundleuri.Parse(uri)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", uri, err)
	}
	return p
}

func TestFileHandlerResolve(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	repo := filepath.Join(tmp, "repo")
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(repo, "bundle.md"), "---\nbundle:\n  name: root\n---\n")
	writeFile(t, filepath.Join(repo, "behaviors", "x", "bundle.yaml"), "bundle:\n  name: x\n")
	writeFile(t, filepath.Join(tmp, "loose", "dev.md"), "---\nbundle:\n  name: dev\n---\n")
	cache := filepath.Join(tmp, "cache")
	writeFile(t, filepath.Join(cache, "pack-0123456789abcdef", "nested", "bundle.md"), "")

	tests := []struct {
		name       string
		uri        string
		wantActive string
		wantRoot   string
	}{
		{
			name:       "nested bundle is rooted at the topmost marker",
			uri:        "file://" + filepath.Join(repo, "behaviors", "x"),
			wantActive: filepath.Join(repo, "behaviors", "x"),
			wantRoot:   repo,
		},
		{
			name:       "subdirectory fragment keeps the path as root",
			uri:        "file://" + repo + "#subdirectory=behaviors/x",
			wantActive: filepath.Join(repo, "behaviors", "x"),
			wantRoot:   repo,
		},
		{
			name:       "file without marker falls back to its directory",
			uri:        filepath.Join(tmp, "loose", "dev.md"),
			wantActive: filepath.Join(tmp, "loose", "dev.md"),
			wantRoot:   filepath.Join(tmp, "loose"),
		},
		{
			name:       "path inside the cache belongs to its cache entry",
			uri:        "file://" + filepath.Join(cache, "pack-0123456789abcdef", "nested"),
			wantActive: filepath.Join(cache, "pack-0123456789abcdef", "nested"),
			wantRoot:   filepath.Join(cache, "pack-0123456789abcdef"),
		},
	}

	h := &FileHandler{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := h.Resolve(context.Background(), mustParse(t, tt.uri), cache)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got.ActivePath != tt.wantActive {
				t.Errorf("ActivePath = %q, want %q", got.ActivePath, tt.wantActive)
			}
			if got.SourceRoot != tt.wantRoot {
				t.Errorf("SourceRoot = %q, want %q", got.SourceRoot, tt.wantRoot)
			}
		})
	}
}

func TestFileHandlerRelativeToBaseDir(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "bundles", "a", "bundle.md"), "")

	h := &FileHandler{BaseDir: base}
	got, err := h.Resolve(context.Background(), mustParse(t, "./bundles/a"), "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if want := filepath.Join(base, "bundles", "a"); got.ActivePath != want {
		t.Errorf("ActivePath = %q, want %q", got.ActivePath, want)
	}
}

func TestFileHandlerNotFound(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "repo", "bundle.md"), "")

	for _, uri := range []string{
		"file://" + filepath.Join(tmp, "missing"),
		"file://" + filepath.Join(tmp, "repo") + "#subdirectory=nope",
	} {
		_, err := (&FileHandler{}).Resolve(context.Background(), mustParse(t, uri), "")
		if !errors.Is(err, bundleerr.ErrNotFound) {
			t.Errorf("Resolve(%q) error = %v, want ErrNotFound", uri, err)
		}
	}
}

func TestFileHandlerIdempotent(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "a", "bundle.md"), "")
	p := mustParse(t, "file://"+filepath.Join(tmp, "a"))

	h := &FileHandler{}
	first, err := h.Resolve(context.Background(), p, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.Resolve(context.Background(), p, "")
	if err != nil {
		t.Fatal(err)
	}
	if first.SourceRoot != second.SourceRoot {
		t.Errorf("SourceRoot changed between calls: %q then %q", first.SourceRoot, second.SourceRoot)
	}
}
