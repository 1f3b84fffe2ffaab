// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bundlekit/bundlekit/internal/testutil"
	"github.com/bundlekit/bundlekit/pkg/bundleerr"
)

func newTestRegistry(t *testing.T, home string, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithLogger(log.New(io.Discard))}, opts...)
	r, err := New(home, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func readRegistryJSON(t *testing.T, home string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(home, FileName))
	if err != nil {
		t.Fatalf("failed to read registry.json: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("registry.json is not JSON: %v", err)
	}
	return doc
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	r := newTestRegistry(t, home)
	if err := r.Register(map[string]string{"n": "git+https://github.com/org/n@main"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.RegisterApp(map[string]string{"app": "/opt/bundles/app"}); err != nil {
		t.Fatalf("RegisterApp() error = %v", err)
	}
	if err := r.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	fresh := newTestRegistry(t, home)
	if uri, ok := fresh.Find("n"); !ok || uri != "git+https://github.com/org/n@main" {
		t.Errorf("Find(n) = (%q, %v)", uri, ok)
	}
	if st, _ := fresh.State("app"); !st.AppBundle {
		t.Error("AppBundle flag lost across save")
	}
	if names := fresh.Names(); !slices.Equal(names, []string{"app", "n"}) {
		t.Errorf("Names() = %v", names)
	}

	doc := readRegistryJSON(t, home)
	if doc["version"] != float64(FileVersion) {
		t.Errorf("version = %v, want %d", doc["version"], FileVersion)
	}
	entry := doc["bundles"].(map[string]any)["n"].(map[string]any)
	for _, key := range []string{"loaded_at", "checked_at", "local_path"} {
		v, present := entry[key]
		if !present || v != nil {
			t.Errorf("%s = (%v, present=%v), want null", key, v, present)
		}
	}
	for _, key := range []string{"includes", "included_by", "root_name"} {
		if _, present := entry[key]; present {
			t.Errorf("empty optional key %q must be omitted", key)
		}
	}
	if _, err := os.Stat(filepath.Join(home, FileName+".tmp")); !os.IsNotExist(err) {
		t.Error("temporary file left behind after Save")
	}
}

func TestSelfHeal(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	kept := t.TempDir()
	gone := filepath.Join(home, CacheDirName, "gone-0123456789abcdef")
	testutil.MustMkdirAll(t, gone, 0o755)

	loadedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := newTestRegistry(t, home)
	r.states["kept"] = &BundleState{URI: testutil.FileURI(kept), Name: "kept", LocalPath: kept, LoadedAt: loadedAt}
	r.states["gone"] = &BundleState{URI: "git+https://h/gone", Name: "gone", LocalPath: gone, LoadedAt: loadedAt}
	if err := r.Save(); err != nil {
		t.Fatal(err)
	}

	testutil.MustRemoveAll(t, gone)

	fresh := newTestRegistry(t, home)
	if st, _ := fresh.State("gone"); st.LocalPath != "" {
		t.Errorf("LocalPath of vanished cache = %q, want cleared", st.LocalPath)
	}
	if st, _ := fresh.State("kept"); st.LocalPath != kept || !st.LoadedAt.Equal(loadedAt) {
		t.Errorf("kept state = %+v", st)
	}

	entries := readRegistryJSON(t, home)["bundles"].(map[string]any)
	if v := entries["gone"].(map[string]any)["local_path"]; v != nil {
		t.Errorf("persisted local_path = %v, want null", v)
	}
	if v := entries["kept"].(map[string]any)["local_path"]; v != kept {
		t.Errorf("persisted local_path = %v, want %q", v, kept)
	}
}

func TestNewRejectsCorruptRegistry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"future version", `{"version": 99, "bundles": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			home := t.TempDir()
			testutil.WriteFile(t, filepath.Join(home, FileName), tt.content)
			if _, err := New(home, WithLogger(log.New(io.Discard))); err == nil {
				t.Error("New() error = nil, want failure")
			}
		})
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, t.TempDir())

	if err := r.Register(map[string]string{"bad": "ftp://example.com/x"}); !errors.Is(err, bundleerr.ErrInvalidURI) {
		t.Errorf("Register(ftp) error = %v, want ErrInvalidURI", err)
	}
	if err := r.Register(map[string]string{"": "/x"}); err == nil {
		t.Error("Register with empty name should fail")
	}
	if len(r.Names()) != 0 {
		t.Errorf("failed Register left names behind: %v", r.Names())
	}

	if err := r.Register(map[string]string{"a": "/bundles/a"}); err != nil {
		t.Fatal(err)
	}
	r.states["a"].LocalPath = "/bundles/a"
	if err := r.Register(map[string]string{"a": "/bundles/a"}); err != nil {
		t.Fatal(err)
	}
	if st, _ := r.State("a"); st.LocalPath != "/bundles/a" {
		t.Error("re-registering the same URI must keep load state")
	}
	if err := r.Register(map[string]string{"a": "/bundles/a2"}); err != nil {
		t.Fatal(err)
	}
	if st, _ := r.State("a"); st.LocalPath != "" || st.URI != "/bundles/a2" {
		t.Errorf("rebinding must reset state, got %+v", st)
	}

	if _, ok := r.Find("missing"); ok {
		t.Error("Find(missing) reported a binding")
	}
}

func TestUnregisterScrubsEdges(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, t.TempDir())
	r.states["a"] = &BundleState{URI: "/a", Name: "a", Includes: []string{"b", "c"}}
	r.states["b"] = &BundleState{URI: "/b", Name: "b", Includes: []string{"c"}, IncludedBy: []string{"a"}}
	r.states["c"] = &BundleState{URI: "/c", Name: "c", IncludedBy: []string{"a", "b"}}

	if !r.Unregister("b") {
		t.Fatal("Unregister(b) = false")
	}
	if r.Unregister("b") {
		t.Error("second Unregister(b) = true")
	}

	a, _ := r.State("a")
	c, _ := r.State("c")
	if !slices.Equal(a.Includes, []string{"c"}) {
		t.Errorf("a.Includes = %v, want [c]", a.Includes)
	}
	if !slices.Equal(c.IncludedBy, []string{"a"}) {
		t.Errorf("c.IncludedBy = %v, want [a]", c.IncludedBy)
	}
}

func TestIncludeOrder(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, t.TempDir())
	r.states["app"] = &BundleState{Name: "app", Includes: []string{"dev", "base"}}
	r.states["dev"] = &BundleState{Name: "dev", Includes: []string{"base"}}
	r.states["base"] = &BundleState{Name: "base"}

	order, err := r.IncludeOrder()
	if err != nil {
		t.Fatalf("IncludeOrder() error = %v", err)
	}
	if want := []string{"base", "dev", "app"}; !slices.Equal(order, want) {
		t.Errorf("IncludeOrder() = %v, want %v", order, want)
	}

	r.states["base"].Includes = []string{"app"}
	if _, err := r.IncludeOrder(); err == nil {
		t.Error("IncludeOrder() with a cycle should fail")
	}
}

func TestStatesAreCopies(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, t.TempDir())
	r.states["a"] = &BundleState{Name: "a", Includes: []string{"b"}}

	states := r.States()
	states[0].Includes[0] = "mutated"
	if st, _ := r.State("a"); st.Includes[0] != "b" {
		t.Error("States() exposed internal slices")
	}
}
