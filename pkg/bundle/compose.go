// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

// Compose merges others into a copy of b. Later arguments win:
//   - session, spawn: recursive map merge
//   - providers, tools, hooks: merged by module id; Config deep-merges, every
//     other field comes from the later entry; new ids append in order
//   - agents: replaced by key
//   - context: later entries are prefixed "{name}:" unless already namespaced
//   - name, version, description, instruction: later non-empty value wins
//   - includes: union in first-appearance order
//   - basePath: taken from the last bundle
//   - sourceBasePaths: first writer for a namespace wins
//
// b itself is never modified.
func (b *Bundle) Compose(others ...*Bundle) *Bundle {
	out := b.Clone()
	out.claimNamespace(b.Name, b.BasePath)

	for _, o := range others {
		if o == nil {
			continue
		}
		out.absorb(o)
	}
	return out
}

func (b *Bundle) absorb(o *Bundle) {
	if o.Name != "" {
		b.Name = o.Name
	}
	if o.Version != "" {
		b.Version = o.Version
	}
	if o.Description != "" {
		b.Description = o.Description
	}
	if o.Instruction != "" {
		b.Instruction = o.Instruction
	}
	if o.BasePath != "" {
		b.BasePath = o.BasePath
	}

	b.Includes = unionStrings(b.Includes, o.Includes)
	b.Session = deepMerge(b.Session, o.Session)
	b.Spawn = deepMerge(b.Spawn, o.Spawn)

	b.Providers = mergeModules(b.Providers, o.Providers)
	b.Tools = mergeModules(b.Tools, o.Tools)
	b.Hooks = mergeModules(b.Hooks, o.Hooks)

	if len(o.Agents) > 0 {
		if b.Agents == nil {
			b.Agents = make(map[string]any, len(o.Agents))
		}
		for k, v := range o.Agents {
			b.Agents[k] = copyValue(v)
		}
	}

	if len(o.Context) > 0 && b.Context == nil {
		b.Context = make(map[string]string, len(o.Context))
	}
	for k, v := range o.Context {
		b.Context[namespacedKey(o.Name, k)] = v
	}
	if len(o.PendingContext) > 0 && b.PendingContext == nil {
		b.PendingContext = make(map[string]string, len(o.PendingContext))
	}
	for k, v := range o.PendingContext {
		b.PendingContext[namespacedKey(o.Name, k)] = v
	}

	for ns, p := range o.SourceBasePaths {
		b.claimNamespace(ns, p)
	}
	b.claimNamespace(o.Name, o.BasePath)
}

// claimNamespace records ns→path unless ns is already mapped.
func (b *Bundle) claimNamespace(ns, path string) {
	if ns == "" || path == "" {
		return
	}
	if _, taken := b.SourceBasePaths[ns]; taken {
		return
	}
	if b.SourceBasePaths == nil {
		b.SourceBasePaths = make(map[string]string)
	}
	b.SourceBasePaths[ns] = path
}

// WithSourceBasePaths returns a copy with the extra namespace mappings added.
// Existing mappings are kept.
func (b *Bundle) WithSourceBasePaths(extra map[string]string) *Bundle {
	out := b.Clone()
	for _, ns := range sortedKeys(extra) {
		out.claimNamespace(ns, extra[ns])
	}
	return out
}

// ResolvePendingContext returns a copy in which deferred "namespace:path"
// context entries are resolved through SourceBasePaths, or through BasePath
// when the namespace is the bundle's own name. Entries that still cannot be
// resolved stay pending.
func (b *Bundle) ResolvePendingContext() *Bundle {
	out := b.Clone()
	for key, ref := range b.PendingContext {
		ns, rel, ok := bundleuri.SplitNamespacedRef(ref)
		if !ok {
			continue
		}
		base, found := out.SourceBasePaths[ns]
		if !found && ns == out.Name && out.BasePath != "" {
			base, found = out.BasePath, true
		}
		if !found {
			continue
		}
		if out.Context == nil {
			out.Context = make(map[string]string)
		}
		out.Context[key] = filepath.Join(base, filepath.FromSlash(rel))
		delete(out.PendingContext, key)
	}
	if len(out.PendingContext) == 0 {
		out.PendingContext = nil
	}
	return out
}

func mergeModules(base, incoming []ModuleSpec) []ModuleSpec {
	if len(incoming) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	for i, m := range base {
		index[m.Module] = i
	}
	for _, m := range incoming {
		if i, ok := index[m.Module]; ok {
			merged := m.Clone()
			merged.Config = deepMerge(base[i].Config, m.Config)
			base[i] = merged
			continue
		}
		index[m.Module] = len(base)
		base = append(base, m.Clone())
	}
	return base
}

func unionStrings(base, incoming []string) []string {
	if len(incoming) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base)+len(incoming))
	for _, s := range base {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			base = append(base, s)
			seen[s] = true
		}
	}
	return base
}

func namespacedKey(ns, key string) string {
	if ns == "" || strings.Contains(key, ":") {
		return key
	}
	return ns + ":" + key
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
