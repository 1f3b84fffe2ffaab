// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()
	MustMkdirAll(t, filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// WriteBundle writes dir/bundle.md with the given YAML frontmatter and
// markdown body and returns dir.
func WriteBundle(t testing.TB, dir, frontmatter, body string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.WriteString(frontmatter)
	if !strings.HasSuffix(frontmatter, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("---\n")
	sb.WriteString(body)
	WriteFile(t, filepath.Join(dir, "bundle.md"), sb.String())
	return dir
}

// WriteBundleYAML writes dir/bundle.yaml and returns dir.
func WriteBundleYAML(t testing.TB, dir, content string) string {
	t.Helper()
	WriteFile(t, filepath.Join(dir, "bundle.yaml"), content)
	return dir
}

// FileURI returns the file:// URI of an absolute path.
func FileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}
