// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteBundle(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "dev")
	tests := []struct {
		name        string
		frontmatter string
		want        string
	}{
		{"trailing newline kept", "bundle:\n  name: dev\n", "---\nbundle:\n  name: dev\n---\nbody\n"},
		{"newline added", "bundle:\n  name: dev", "---\nbundle:\n  name: dev\n---\nbody\n"},
	}

	for _, tt := range tests {
		WriteBundle(t, dir, tt.frontmatter, "body\n")
		data, err := os.ReadFile(filepath.Join(dir, "bundle.md"))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != tt.want {
			t.Errorf("%s: bundle.md = %q, want %q", tt.name, data, tt.want)
		}
	}
}

func TestWriteBundleYAML(t *testing.T) {
	t.Parallel()

	dir := WriteBundleYAML(t, filepath.Join(t.TempDir(), "y"), "tools: []\n")
	if _, err := os.Stat(filepath.Join(dir, "bundle.yaml")); err != nil {
		t.Errorf("bundle.yaml missing: %v", err)
	}
}

func TestFileURI(t *testing.T) {
	t.Parallel()

	if got, want := FileURI("/tmp/bundles/a"), "file:///tmp/bundles/a"; filepath.Separator == '/' && got != want {
		t.Errorf("FileURI() = %q, want %q", got, want)
	}
}
