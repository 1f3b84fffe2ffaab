// SPDX-License-Identifier: MPL-2.0

// Package bundle holds the bundle data model: loading a bundle file,
// composing bundles with defined precedence, flattening the result into a
// mount plan, and preparing it for a session by activating module sources.
//
// A *Bundle is treated as immutable. Compose, ResolvePendingContext, and
// WithSourceBasePaths return new values with deep-copied maps.
package bundle

import (
	"maps"
	"slices"
)

const (
	// KindProvider tags provider entries.
	KindProvider ModuleKind = "provider"
	// KindTool tags tool entries.
	KindTool ModuleKind = "tool"
	// KindHook tags hook entries.
	KindHook ModuleKind = "hook"
	// KindOrchestrator tags the session orchestrator.
	KindOrchestrator ModuleKind = "orchestrator"
	// KindContext tags the session context manager.
	KindContext ModuleKind = "context"
)

type (
	// ModuleKind identifies the section a module reference came from.
	ModuleKind string

	// ModuleSpec is one provider, tool, or hook entry.
	ModuleSpec struct {
		// Module is the module id; unique within its list after composition.
		Module string
		// Source is where the module is fetched from. Relative paths are made
		// absolute against the declaring bundle's directory at load time.
		Source string
		// Config is deep-merged when two bundles declare the same module.
		Config map[string]any
		// Extra carries keys the model does not know about. They are replaced,
		// not merged, and re-emitted in the mount plan.
		Extra map[string]any
	}

	// Bundle is one composable unit of agent configuration.
	Bundle struct {
		Name        string
		Version     string
		Description string

		// Includes lists URIs or "namespace:path" references, in declaration order.
		Includes []string

		Session   map[string]any
		Providers []ModuleSpec
		Tools     []ModuleSpec
		Hooks     []ModuleSpec
		Spawn     map[string]any
		Agents    map[string]any

		// Context maps a context name to an absolute file path.
		Context map[string]string
		// Instruction is the markdown body of a bundle.md file.
		Instruction string

		// BasePath is the directory the bundle was loaded from.
		BasePath string
		// SourceBasePaths maps namespaces to directories for cross-bundle file references.
		SourceBasePaths map[string]string
		// PendingContext holds namespaced context references not yet resolvable.
		PendingContext map[string]string
	}
)

// Clone returns a deep copy of the module spec.
func (m ModuleSpec) Clone() ModuleSpec {
	return ModuleSpec{
		Module: m.Module,
		Source: m.Source,
		Config: copyMap(m.Config),
		Extra:  copyMap(m.Extra),
	}
}

// ToMap renders the spec as it appears in the mount plan.
func (m ModuleSpec) ToMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = copyValue(v)
	}
	out["module"] = m.Module
	if m.Source != "" {
		out["source"] = m.Source
	}
	if len(m.Config) > 0 {
		out["config"] = copyMap(m.Config)
	}
	return out
}

// Clone returns a deep copy of the bundle.
func (b *Bundle) Clone() *Bundle {
	return &Bundle{
		Name:            b.Name,
		Version:         b.Version,
		Description:     b.Description,
		Includes:        slices.Clone(b.Includes),
		Session:         copyMap(b.Session),
		Providers:       cloneSpecs(b.Providers),
		Tools:           cloneSpecs(b.Tools),
		Hooks:           cloneSpecs(b.Hooks),
		Spawn:           copyMap(b.Spawn),
		Agents:          copyMap(b.Agents),
		Context:         maps.Clone(b.Context),
		Instruction:     b.Instruction,
		BasePath:        b.BasePath,
		SourceBasePaths: maps.Clone(b.SourceBasePaths),
		PendingContext:  maps.Clone(b.PendingContext),
	}
}

// Module returns the entry with the given id from the list for kind.
func (b *Bundle) Module(kind ModuleKind, id string) (ModuleSpec, bool) {
	for _, m := range b.modules(kind) {
		if m.Module == id {
			return m, true
		}
	}
	return ModuleSpec{}, false
}

func (b *Bundle) modules(kind ModuleKind) []ModuleSpec {
	switch kind {
	case KindProvider:
		return b.Providers
	case KindTool:
		return b.Tools
	case KindHook:
		return b.Hooks
	case KindOrchestrator, KindContext:
		if m, ok := sessionModule(b.Session, string(kind)); ok {
			return []ModuleSpec{m}
		}
		return nil
	default:
		return nil
	}
}

func cloneSpecs(in []ModuleSpec) []ModuleSpec {
	if in == nil {
		return nil
	}
	out := make([]ModuleSpec, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// copyMap deep-copies nested maps and slices produced by YAML decoding.
func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// deepMerge merges override into a copy of base. Nested maps merge
// recursively; any other override value replaces the base value. Nil
// override values leave the base untouched.
func deepMerge(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	result := copyMap(base)
	if result == nil {
		result = make(map[string]any, len(override))
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := result[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = copyValue(v)
	}
	return result
}
