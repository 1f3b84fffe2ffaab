// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
	"github.com/bundlekit/bundlekit/pkg/source"
)

// document is the on-disk shape of a bundle file.
type document struct {
	Bundle struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
	} `yaml:"bundle"`
	Includes    []any          `yaml:"includes"`
	Session     map[string]any `yaml:"session"`
	Providers   []any          `yaml:"providers"`
	Tools       []any          `yaml:"tools"`
	Hooks       []any          `yaml:"hooks"`
	Spawn       map[string]any `yaml:"spawn"`
	Agents      map[string]any `yaml:"agents"`
	Context     any            `yaml:"context"`
	Instruction string         `yaml:"instruction"`
}

// LoadPath reads a bundle from a directory (bundle.md, bundle.yaml, or
// bundle.yml inside it) or directly from a .md, .yaml, or .yml file.
func LoadPath(path string) (*Bundle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bundle path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &bundleerr.NotFoundError{Resource: abs}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
	}

	file := abs
	if info.IsDir() {
		found, ok := source.FindBundleFile(abs)
		if !ok {
			return nil, &bundleerr.NotFoundError{Resource: abs, Detail: "no bundle.md, bundle.yaml or bundle.yml"}
		}
		file = found
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle file: %w", err)
	}

	var (
		doc  document
		body string
	)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".md":
		front, rest := splitFrontmatter(data)
		body = strings.TrimSpace(rest)
		if err := decodeYAML(front, &doc); err != nil {
			return nil, fmt.Errorf("%s: invalid frontmatter: %w", file, err)
		}
	case ".yaml", ".yml":
		if err := decodeYAML(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: invalid YAML: %w", file, err)
		}
		body = strings.TrimSpace(doc.Instruction)
	default:
		return nil, &bundleerr.UnknownFormatError{Path: file}
	}

	return fromDocument(&doc, file, body)
}

// splitFrontmatter separates a leading "---" delimited YAML block from the markdown body.
func splitFrontmatter(data []byte) (front []byte, body string) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return nil, text
	}
	rest := text[len("---\n"):]
	if strings.HasPrefix(rest, "---\n") || rest == "---" {
		return nil, strings.TrimPrefix(rest, "---")
	}
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, text
	}
	front = []byte(rest[:end+1])
	after := rest[end+len("\n---"):]
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		after = after[nl+1:]
	} else {
		after = ""
	}
	return front, after
}

func decodeYAML(data []byte, doc *document) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, doc)
}

// fromDocument validates the decoded document and builds the Bundle.
func fromDocument(doc *document, file, body string) (*Bundle, error) {
	dir := filepath.Dir(file)

	name := doc.Bundle.Name
	if name == "" {
		base := filepath.Base(file)
		if strings.HasPrefix(base, "bundle.") {
			name = filepath.Base(dir)
		} else {
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}

	b := &Bundle{
		Name:        name,
		Version:     doc.Bundle.Version,
		Description: doc.Bundle.Description,
		Session:     normalizeMap(doc.Session),
		Spawn:       normalizeMap(doc.Spawn),
		Agents:      normalizeMap(doc.Agents),
		Instruction: body,
		BasePath:    dir,
	}

	includes, err := parseIncludes(name, doc.Includes, dir)
	if err != nil {
		return nil, err
	}
	b.Includes = includes

	for _, section := range []struct {
		field string
		raw   []any
		dest  *[]ModuleSpec
	}{
		{"providers", doc.Providers, &b.Providers},
		{"tools", doc.Tools, &b.Tools},
		{"hooks", doc.Hooks, &b.Hooks},
	} {
		specs, err := parseModules(name, section.field, section.raw, dir)
		if err != nil {
			return nil, err
		}
		*section.dest = specs
	}

	for _, kind := range []ModuleKind{KindOrchestrator, KindContext} {
		if m, ok := b.Session[string(kind)].(map[string]any); ok {
			if src, ok := m["source"].(string); ok {
				m["source"] = absSource(src, dir)
			}
		}
	}

	if err := parseContext(b, doc.Context, dir); err != nil {
		return nil, err
	}
	return b, nil
}

func parseIncludes(bundleName string, raw []any, dir string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for i, item := range raw {
		var ref string
		switch v := normalize(item).(type) {
		case string:
			ref = v
		case map[string]any:
			s, ok := v["bundle"].(string)
			if !ok {
				return nil, &bundleerr.ValidationError{Bundle: bundleName, Field: "includes", Index: i, Reason: "mapping entries need a string 'bundle' key"}
			}
			ref = s
		default:
			return nil, &bundleerr.ValidationError{Bundle: bundleName, Field: "includes", Index: i, Reason: "entry must be a string or a mapping"}
		}
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, &bundleerr.ValidationError{Bundle: bundleName, Field: "includes", Index: i, Reason: "empty include"}
		}
		if isRelative(ref) {
			ref = "file://" + filepath.ToSlash(filepath.Join(dir, filepath.FromSlash(ref)))
		}
		out = append(out, ref)
	}
	return out, nil
}

func parseModules(bundleName, field string, raw []any, dir string) ([]ModuleSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]ModuleSpec, 0, len(raw))
	for i, item := range raw {
		entry, ok := normalize(item).(map[string]any)
		if !ok {
			return nil, &bundleerr.ValidationError{Bundle: bundleName, Field: field, Index: i, Reason: "entry must be a mapping"}
		}
		id, ok := entry["module"].(string)
		if !ok || strings.TrimSpace(id) == "" {
			return nil, &bundleerr.ValidationError{Bundle: bundleName, Field: field, Index: i, Reason: "missing 'module' key"}
		}
		spec := ModuleSpec{Module: id}
		for k, v := range entry {
			switch k {
			case "module":
			case "source":
				if v == nil {
					continue
				}
				src, ok := v.(string)
				if !ok {
					return nil, &bundleerr.ValidationError{Bundle: bundleName, Field: field, Index: i, Reason: "'source' must be a string"}
				}
				spec.Source = absSource(src, dir)
			case "config":
				if v == nil {
					continue
				}
				cfg, ok := v.(map[string]any)
				if !ok {
					return nil, &bundleerr.ValidationError{Bundle: bundleName, Field: field, Index: i, Reason: "'config' must be a mapping"}
				}
				spec.Config = cfg
			default:
				if spec.Extra == nil {
					spec.Extra = make(map[string]any)
				}
				spec.Extra[k] = v
			}
		}
		out = append(out, spec)
	}
	return out, nil
}

// parseContext accepts either {name: path} or {include: [path, ...]}.
// Namespaced references are deferred; everything else resolves against dir.
func parseContext(b *Bundle, raw any, dir string) error {
	if raw == nil {
		return nil
	}
	m, ok := normalize(raw).(map[string]any)
	if !ok {
		return &bundleerr.ValidationError{Bundle: b.Name, Field: "context", Index: -1, Reason: "must be a mapping"}
	}

	entries := make(map[string]string, len(m))
	if list, ok := m["include"].([]any); ok && len(m) == 1 {
		for i, item := range list {
			ref, ok := item.(string)
			if !ok || ref == "" {
				return &bundleerr.ValidationError{Bundle: b.Name, Field: "context.include", Index: i, Reason: "entry must be a path"}
			}
			entries[ref] = ref
		}
	} else {
		for name, v := range m {
			ref, ok := v.(string)
			if !ok || ref == "" {
				return &bundleerr.ValidationError{Bundle: b.Name, Field: "context." + name, Index: -1, Reason: "must be a path"}
			}
			entries[name] = ref
		}
	}

	for name, ref := range entries {
		if bundleuri.IsNamespacedRef(ref) {
			if b.PendingContext == nil {
				b.PendingContext = make(map[string]string)
			}
			b.PendingContext[name] = ref
			continue
		}
		if b.Context == nil {
			b.Context = make(map[string]string)
		}
		p := filepath.FromSlash(ref)
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		b.Context[name] = p
	}
	return nil
}

func isRelative(ref string) bool {
	return strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") || ref == "." || ref == ".."
}

// absSource anchors "./" and "../" module sources at dir.
func absSource(src, dir string) string {
	if !isRelative(src) {
		return src
	}
	return filepath.Join(dir, filepath.FromSlash(src))
}

// normalize converts map[any]any (produced for non-string YAML keys) into map[string]any, recursively.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return normalize(m).(map[string]any)
}
