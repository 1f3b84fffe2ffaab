// SPDX-License-Identifier: MPL-2.0

package bundleuri

import (
	"errors"
	"testing"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		uri       string
		scheme    Scheme
		transport string
		host      string
		path      string
		ref       string
		subpath   string
	}{
		{
			name:   "file scheme",
			uri:    "file:///tmp/bundles/a",
			scheme: SchemeFile,
			path:   "/tmp/bundles/a",
			ref:    DefaultRef,
		},
		{
			name:    "file scheme with subdirectory",
			uri:     "file:///tmp/repo#subdirectory=behaviors/x",
			scheme:  SchemeFile,
			path:    "/tmp/repo",
			ref:     DefaultRef,
			subpath: "behaviors/x",
		},
		{
			name:   "bare absolute path",
			uri:    "/srv/bundles/foundation",
			scheme: SchemeFile,
			path:   "/srv/bundles/foundation",
			ref:    DefaultRef,
		},
		{
			name:   "bare relative path",
			uri:    "./bundles/dev.md",
			scheme: SchemeFile,
			path:   "./bundles/dev.md",
			ref:    DefaultRef,
		},
		{
			name:      "git default ref",
			uri:       "git+https://github.com/org/bundles",
			scheme:    SchemeGit,
			transport: "https",
			host:      "github.com",
			path:      "/org/bundles",
			ref:       DefaultRef,
		},
		{
			name:      "git with ref and subdirectory",
			uri:       "git+https://github.com/org/bundles@main#subdirectory=behaviors/review",
			scheme:    SchemeGit,
			transport: "https",
			host:      "github.com",
			path:      "/org/bundles",
			ref:       "main",
			subpath:   "behaviors/review",
		},
		{
			name:      "git with tag",
			uri:       "git+http://git.internal/team/repo.git@v1.2.0",
			scheme:    SchemeGit,
			transport: "http",
			host:      "git.internal",
			path:      "/team/repo.git",
			ref:       "v1.2.0",
		},
		{
			name:      "plain https",
			uri:       "https://example.com/bundles/dev.md",
			scheme:    SchemeHTTPS,
			transport: "https",
			host:      "example.com",
			path:      "/bundles/dev.md",
			ref:       DefaultRef,
		},
		{
			name:      "zip over https with subdirectory",
			uri:       "zip+https://example.com/pack.zip#subdirectory=pack/core",
			scheme:    SchemeZip,
			transport: "https",
			host:      "example.com",
			path:      "/pack.zip",
			ref:       DefaultRef,
			subpath:   "pack/core",
		},
		{
			name:      "zip from file",
			uri:       "zip+file:///tmp/pack.zip",
			scheme:    SchemeZip,
			transport: "file",
			path:      "/tmp/pack.zip",
			ref:       DefaultRef,
		},
		{
			name:    "subdirectory is cleaned",
			uri:     "file:///tmp/repo#subdirectory=a/./b/",
			scheme:  SchemeFile,
			path:    "/tmp/repo",
			ref:     DefaultRef,
			subpath: "a/b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := Parse(tt.uri)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.uri, err)
			}
			if p.Scheme != tt.scheme {
				t.Errorf("Scheme = %q, want %q", p.Scheme, tt.scheme)
			}
			if p.Transport != tt.transport {
				t.Errorf("Transport = %q, want %q", p.Transport, tt.transport)
			}
			if p.Host != tt.host {
				t.Errorf("Host = %q, want %q", p.Host, tt.host)
			}
			if p.Path != tt.path {
				t.Errorf("Path = %q, want %q", p.Path, tt.path)
			}
			if p.Ref != tt.ref {
				t.Errorf("Ref = %q, want %q", p.Ref, tt.ref)
			}
			if p.Subpath != tt.subpath {
				t.Errorf("Subpath = %q, want %q", p.Subpath, tt.subpath)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		uri  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"unsupported scheme", "ftp://example.com/b.md"},
		{"git over ssh", "git+ssh://github.com/org/repo"},
		{"git without host", "git+https:///org/repo"},
		{"git without path", "git+https://github.com"},
		{"zip unsupported transport", "zip+ftp://example.com/b.zip"},
		{"http without host", "https:///b.md"},
		{"subdirectory escapes root", "file:///tmp/repo#subdirectory=../etc"},
		{"absolute subdirectory", "file:///tmp/repo#subdirectory=/etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tt.uri)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.uri)
			}
			if !errors.Is(err, bundleerr.ErrInvalidURI) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidURI", tt.uri, err)
			}
		})
	}
}

func TestParsedURIHelpers(t *testing.T) {
	t.Parallel()

	p, err := Parse("git+https://github.com/org/bundles.git@main#subdirectory=x")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := p.BaseURI(); got != "git+https://github.com/org/bundles.git@main" {
		t.Errorf("BaseURI() = %q", got)
	}
	if got := p.GitURL(); got != "https://github.com/org/bundles.git" {
		t.Errorf("GitURL() = %q", got)
	}
	if got := p.RepoName(); got != "bundles" {
		t.Errorf("RepoName() = %q, want %q", got, "bundles")
	}
	if got := p.WithSubpath("y/z"); got != "git+https://github.com/org/bundles.git@main#subdirectory=y/z" {
		t.Errorf("WithSubpath() = %q", got)
	}
	if got := p.WithSubpath(""); got != p.BaseURI() {
		t.Errorf("WithSubpath(\"\") = %q, want BaseURI", got)
	}

	z, err := Parse("zip+https://example.com/dl/pack.zip?token=abc")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := z.FetchURL(); got != "https://example.com/dl/pack.zip?token=abc" {
		t.Errorf("FetchURL() = %q", got)
	}
}

func TestSplitNamespacedRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		ns   string
		rel  string
		isNS bool
	}{
		{"foundation:behaviors/review", "foundation", "behaviors/review", true},
		{"my-bundle:context/guide.md", "my-bundle", "context/guide.md", true},
		{"file:///tmp/x", "", "", false},
		{"git+https://h/r", "", "", false},
		{`C:\bundles\x`, "", "", false},
		{"./local:odd", "", "", false},
		{"/abs/path", "", "", false},
		{"noprefix", "", "", false},
		{"ns:", "", "", false},
	}

	for _, tt := range tests {
		ns, rel, ok := SplitNamespacedRef(tt.in)
		if ok != tt.isNS || ns != tt.ns || rel != tt.rel {
			t.Errorf("SplitNamespacedRef(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.in, ns, rel, ok, tt.ns, tt.rel, tt.isNS)
		}
		if IsNamespacedRef(tt.in) != tt.isNS {
			t.Errorf("IsNamespacedRef(%q) = %v, want %v", tt.in, !tt.isNS, tt.isNS)
		}
	}
}
