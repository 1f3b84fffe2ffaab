// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
)

func TestCatalogIsComplete(t *testing.T) {
	t.Parallel()

	values := Values()
	if len(values) != int(RegistryCorruptId) {
		t.Fatalf("Values() has %d entries, want %d", len(values), RegistryCorruptId)
	}
	for i, iss := range values {
		if iss.Id() != Id(i+1) {
			t.Errorf("Values()[%d].Id() = %d, want %d", i, iss.Id(), i+1)
		}
		if iss.Title() == "" || strings.TrimSpace(iss.body) == "" {
			t.Errorf("issue %d has no title or body", iss.Id())
		}
		if len(iss.Suggestions()) == 0 {
			t.Errorf("issue %d has no suggestions", iss.Id())
		}
	}
	if Get(0) != nil {
		t.Error("Get(0) should be nil")
	}
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	md := Get(IncludeCycleId).Markdown()
	for _, want := range []string{"# Circular include\n", "## Things you can try", "- Run `bundlekit graph`"} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown() missing %q in %q", want, md)
		}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	for _, iss := range Values() {
		out, err := iss.Render("notty")
		if err != nil {
			t.Errorf("Render(%d) error = %v", iss.Id(), err)
			continue
		}
		if !strings.Contains(out, iss.Title()) {
			t.Errorf("Render(%d) output lacks title %q", iss.Id(), iss.Title())
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Id
	}{
		{"not found", &bundleerr.NotFoundError{Resource: "x"}, BundleNotFoundId},
		{"invalid uri", &bundleerr.InvalidURIError{URI: "ftp://x"}, InvalidURIId},
		{"unknown format", &bundleerr.UnknownFormatError{Path: "a.txt"}, UnknownFormatId},
		{"validation", &bundleerr.ValidationError{Bundle: "a", Field: "tools", Index: 0, Reason: "missing id"}, ValidationFailedId},
		{"transport", &bundleerr.TransportError{Op: "clone", URI: "git+https://h/r", Err: context.DeadlineExceeded}, TransportFailedId},
		{"cycle", &bundleerr.DependencyError{Kind: bundleerr.DependencyCycle}, IncludeCycleId},
		{"unregistered", &bundleerr.DependencyError{Kind: bundleerr.DependencyUnregistered}, UnregisteredNamespaceId},
		{"unresolvable", &bundleerr.DependencyError{Kind: bundleerr.DependencyUnresolvable}, UnresolvableIncludeId},
		{
			name: "failed include wins over its transport cause",
			err: &bundleerr.DependencyError{
				Kind: bundleerr.DependencyFailed,
				Err:  &bundleerr.TransportError{Op: "fetch", URI: "https://h/b.md", Err: errors.New("404")},
			},
			want: IncludeFailedId,
		},
		{"wrapped", fmt.Errorf("bundle %q: %w", "a", &bundleerr.NotFoundError{Resource: "a"}), BundleNotFoundId},
		{"unclassified", errors.New("boom"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %d, want %d", got, tt.want)
			}
		})
	}
}
