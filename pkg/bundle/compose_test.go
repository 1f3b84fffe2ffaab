// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"fmt"
	"reflect"
	"slices"
	"testing"

	"pgregory.net/rapid"
)

func TestComposePrecedence(t *testing.T) {
	t.Parallel()

	base := &Bundle{
		Name:        "foundation",
		Version:     "1.0.0",
		Description: "shared base",
		Includes:    []string{"file:///x", "file:///y"},
		Session: map[string]any{
			"orchestrator": map[string]any{"module": "loop-basic", "config": map[string]any{"max_turns": 10, "verbose": false}},
		},
		Tools: []ModuleSpec{
			{Module: "tool-fs", Source: "git+https://h/fs@v1", Config: map[string]any{"root": "/", "limits": map[string]any{"size": 1}}},
			{Module: "tool-web", Source: "git+https://h/web@v1"},
		},
		Agents:      map[string]any{"explorer": map[string]any{"model": "small"}},
		Context:     map[string]string{"guide": "/f/guide.md"},
		Instruction: "base instruction",
		BasePath:    "/f",
	}
	top := &Bundle{
		Name:     "developer",
		Includes: []string{"file:///y", "file:///z"},
		Session: map[string]any{
			"orchestrator": map[string]any{"config": map[string]any{"max_turns": 50}},
		},
		Tools: []ModuleSpec{
			{Module: "tool-fs", Source: "git+https://h/fs@v2", Config: map[string]any{"limits": map[string]any{"depth": 3}}, Extra: map[string]any{"note": "x"}},
			{Module: "tool-bash"},
		},
		Agents:   map[string]any{"explorer": map[string]any{"tools": []any{"fs"}}},
		Context:  map[string]string{"style": "/d/style.md", "foundation:guide": "/d/override.md"},
		BasePath: "/d",
	}

	got := base.Compose(top)

	if got.Name != "developer" || got.Version != "1.0.0" || got.Description != "shared base" {
		t.Errorf("header = (%q, %q, %q)", got.Name, got.Version, got.Description)
	}
	if want := []string{"file:///x", "file:///y", "file:///z"}; !slices.Equal(got.Includes, want) {
		t.Errorf("Includes = %v, want %v", got.Includes, want)
	}

	orch := got.Session["orchestrator"].(map[string]any)
	if orch["module"] != "loop-basic" {
		t.Errorf("orchestrator module lost in merge: %v", orch)
	}
	if cfg := orch["config"].(map[string]any); cfg["max_turns"] != 50 || cfg["verbose"] != false {
		t.Errorf("orchestrator config = %v", cfg)
	}

	if ids := moduleIDs(got.Tools); !slices.Equal(ids, []string{"tool-fs", "tool-web", "tool-bash"}) {
		t.Errorf("tool order = %v", ids)
	}
	fs, _ := got.Module(KindTool, "tool-fs")
	if fs.Source != "git+https://h/fs@v2" {
		t.Errorf("tool-fs source = %q, want later source", fs.Source)
	}
	wantCfg := map[string]any{"root": "/", "limits": map[string]any{"size": 1, "depth": 3}}
	if !reflect.DeepEqual(fs.Config, wantCfg) {
		t.Errorf("tool-fs config = %v, want %v", fs.Config, wantCfg)
	}
	if fs.Extra["note"] != "x" {
		t.Errorf("tool-fs extra = %v", fs.Extra)
	}

	if agent := got.Agents["explorer"].(map[string]any); agent["model"] != nil {
		t.Errorf("agents must be replaced by key, got %v", agent)
	}

	wantContext := map[string]string{
		"guide":            "/f/guide.md",
		"developer:style":  "/d/style.md",
		"foundation:guide": "/d/override.md",
	}
	if !reflect.DeepEqual(got.Context, wantContext) {
		t.Errorf("Context = %v, want %v", got.Context, wantContext)
	}
	if got.Instruction != "base instruction" {
		t.Errorf("empty instruction must not replace earlier one, got %q", got.Instruction)
	}
	if got.BasePath != "/d" {
		t.Errorf("BasePath = %q, want last bundle's", got.BasePath)
	}
	wantPaths := map[string]string{"foundation": "/f", "developer": "/d"}
	if !reflect.DeepEqual(got.SourceBasePaths, wantPaths) {
		t.Errorf("SourceBasePaths = %v, want %v", got.SourceBasePaths, wantPaths)
	}

	// Inputs untouched
	if base.Tools[0].Source != "git+https://h/fs@v1" || len(base.Tools) != 2 {
		t.Error("Compose mutated its receiver")
	}
	if _, ok := base.Tools[0].Config["limits"].(map[string]any)["depth"]; ok {
		t.Error("Compose mutated nested receiver config")
	}
}

func TestComposeSourceBasePathsFirstWriterWins(t *testing.T) {
	t.Parallel()

	a := &Bundle{Name: "a", BasePath: "/a", SourceBasePaths: map[string]string{"shared": "/registry/shared"}}
	b := &Bundle{Name: "b", BasePath: "/b", SourceBasePaths: map[string]string{"shared": "/elsewhere", "a": "/not-a"}}

	got := a.Compose(b)
	want := map[string]string{"shared": "/registry/shared", "a": "/a", "b": "/b"}
	if !reflect.DeepEqual(got.SourceBasePaths, want) {
		t.Errorf("SourceBasePaths = %v, want %v", got.SourceBasePaths, want)
	}

	extended := got.WithSourceBasePaths(map[string]string{"b": "/other", "c": "/c"})
	if extended.SourceBasePaths["b"] != "/b" || extended.SourceBasePaths["c"] != "/c" {
		t.Errorf("WithSourceBasePaths() = %v", extended.SourceBasePaths)
	}
	if _, ok := got.SourceBasePaths["c"]; ok {
		t.Error("WithSourceBasePaths mutated its receiver")
	}
}

func TestResolvePendingContext(t *testing.T) {
	t.Parallel()

	b := &Bundle{
		Name:            "app",
		BasePath:        "/app",
		SourceBasePaths: map[string]string{"foundation": "/cache/foundation-1234"},
		PendingContext: map[string]string{
			"shared": "foundation:context/shared.md",
			"own":    "app:notes/own.md",
			"later":  "unknown:x.md",
		},
	}

	got := b.ResolvePendingContext()
	if want := "/cache/foundation-1234/context/shared.md"; got.Context["shared"] != want {
		t.Errorf("Context[shared] = %q, want %q", got.Context["shared"], want)
	}
	if want := "/app/notes/own.md"; got.Context["own"] != want {
		t.Errorf("Context[own] = %q, want %q", got.Context["own"], want)
	}
	if !reflect.DeepEqual(got.PendingContext, map[string]string{"later": "unknown:x.md"}) {
		t.Errorf("PendingContext = %v, want only the unresolvable entry", got.PendingContext)
	}
	if len(b.PendingContext) != 3 {
		t.Error("ResolvePendingContext mutated its receiver")
	}
}

func TestToMountPlan(t *testing.T) {
	t.Parallel()

	empty := (&Bundle{Name: "empty"}).ToMountPlan()
	if len(empty) != 0 {
		t.Errorf("ToMountPlan() of empty bundle = %v, want no sections", empty)
	}

	b := &Bundle{
		Session: map[string]any{"orchestrator": "loop-basic"},
		Tools:   []ModuleSpec{{Module: "tool-fs", Source: "/x", Config: map[string]any{"a": 1}, Extra: map[string]any{"tag": "t"}}},
		Agents:  map[string]any{"helper": map[string]any{}},
	}
	plan := b.ToMountPlan()
	for _, section := range []string{SectionProviders, SectionHooks, SectionSpawn} {
		if _, ok := plan[section]; ok {
			t.Errorf("empty section %q emitted", section)
		}
	}
	tools := plan[SectionTools].([]any)
	want := map[string]any{"module": "tool-fs", "source": "/x", "config": map[string]any{"a": 1}, "tag": "t"}
	if !reflect.DeepEqual(tools[0], want) {
		t.Errorf("tools[0] = %v, want %v", tools[0], want)
	}
	if plan[SectionSession].(map[string]any)["orchestrator"] != "loop-basic" {
		t.Errorf("session = %v", plan[SectionSession])
	}
}

func moduleIDs(specs []ModuleSpec) []string {
	ids := make([]string, len(specs))
	for i, m := range specs {
		ids[i] = m.Module
	}
	return ids
}

// genConfig draws a small nested config map.
func genConfig(t *rapid.T, label string) map[string]any {
	n := rapid.IntRange(0, 3).Draw(t, label+"_n")
	if n == 0 {
		return nil
	}
	cfg := make(map[string]any, n)
	for i := range n {
		key := rapid.SampledFrom([]string{"a", "b", "c", "d"}).Draw(t, fmt.Sprintf("%s_key%d", label, i))
		if rapid.Bool().Draw(t, fmt.Sprintf("%s_nested%d", label, i)) {
			cfg[key] = map[string]any{
				rapid.SampledFrom([]string{"x", "y"}).Draw(t, fmt.Sprintf("%s_nk%d", label, i)): rapid.IntRange(0, 9).Draw(t, fmt.Sprintf("%s_nv%d", label, i)),
			}
		} else {
			cfg[key] = rapid.IntRange(0, 9).Draw(t, fmt.Sprintf("%s_v%d", label, i))
		}
	}
	return cfg
}

func genSpecs(t *rapid.T, label string) []ModuleSpec {
	ids := rapid.SliceOfNDistinct(rapid.SampledFrom([]string{"m1", "m2", "m3", "m4", "m5"}), 0, 4, rapid.ID[string]).Draw(t, label+"_ids")
	specs := make([]ModuleSpec, len(ids))
	for i, id := range ids {
		specs[i] = ModuleSpec{
			Module: id,
			Source: rapid.SampledFrom([]string{"", "/s1", "/s2"}).Draw(t, fmt.Sprintf("%s_src%d", label, i)),
			Config: genConfig(t, fmt.Sprintf("%s_cfg%d", label, i)),
		}
	}
	return specs
}

func TestComposeModuleMergeProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		a := &Bundle{Name: "a", Tools: genSpecs(t, "a")}
		b := &Bundle{Name: "b", Tools: genSpecs(t, "b")}

		got := a.Compose(b)

		for _, side := range [][]ModuleSpec{a.Tools, b.Tools} {
			for _, m := range side {
				if _, ok := got.Module(KindTool, m.Module); !ok {
					t.Fatalf("module %q missing after compose", m.Module)
				}
			}
		}

		for _, bm := range b.Tools {
			gm, _ := got.Module(KindTool, bm.Module)
			if gm.Source != bm.Source {
				t.Fatalf("module %q source = %q, want later %q", bm.Module, gm.Source, bm.Source)
			}
			am, inA := a.Module(KindTool, bm.Module)
			want := bm.Config
			if inA {
				want = deepMerge(am.Config, bm.Config)
			}
			if !reflect.DeepEqual(gm.Config, want) {
				t.Fatalf("module %q config = %v, want %v", bm.Module, gm.Config, want)
			}
		}

		if len(got.Tools) != len(unionStrings(moduleIDs(a.Tools), moduleIDs(b.Tools))) {
			t.Fatalf("duplicate module ids after compose: %v", moduleIDs(got.Tools))
		}
	})
}
