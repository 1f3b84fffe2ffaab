// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
)

// Id identifies a catalog entry. The zero Id means "unclassified".
type Id int

const (
	BundleNotFoundId Id = iota + 1
	InvalidURIId
	UnknownFormatId
	ValidationFailedId
	IncludeCycleId
	UnregisteredNamespaceId
	UnresolvableIncludeId
	IncludeFailedId
	TransportFailedId
	ConfigInvalidId
	RegistryCorruptId
)

// Issue is a catalog entry: a short title, Markdown guidance, and the
// suggestions attached to errors classified under it.
type Issue struct {
	id          Id
	title       string
	body        string
	suggestions []string
}

func (i *Issue) Id() Id { return i.id }

func (i *Issue) Title() string { return i.title }

// Suggestions returns a copy of the entry's hints.
func (i *Issue) Suggestions() []string { return slices.Clone(i.suggestions) }

// Markdown assembles the full guidance document.
func (i *Issue) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(i.title)
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(i.body))
	if len(i.suggestions) > 0 {
		sb.WriteString("\n\n## Things you can try\n")
		for _, s := range i.suggestions {
			sb.WriteString("\n- ")
			sb.WriteString(s)
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// Render formats Markdown for the terminal. stylePath is a glamour style
// name ("dark", "light", "notty") or a path to a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	return glamour.Render(i.Markdown(), stylePath)
}

var issues = map[Id]*Issue{
	BundleNotFoundId: {
		id:    BundleNotFoundId,
		title: "Bundle not found",
		body: `
The name is not registered and does not parse as a bundle URI, or the
path it points to does not exist.`,
		suggestions: []string{
			"Run `bundlekit list` to see registered names",
			"Register it first: `bundlekit register <name> <uri>`",
			"Pass a full URI such as `git+https://github.com/org/repo@main`",
		},
	},
	InvalidURIId: {
		id:    InvalidURIId,
		title: "Invalid bundle URI",
		body: `
Supported forms are local paths, ` + "`file://`" + `, ` + "`git+https://host/path[@ref]`" + `,
` + "`https://...`" + ` and ` + "`zip+https://...`" + `, each optionally followed by
` + "`#subdirectory=<path>`" + `.`,
		suggestions: []string{
			"Quote URIs containing `#` so the shell keeps the fragment",
			"Use `git+https://` rather than `git@host:` SSH syntax",
		},
	},
	UnknownFormatId: {
		id:    UnknownFormatId,
		title: "Unknown bundle format",
		body: `
A bundle is a Markdown file with YAML frontmatter (` + "`.md`" + `) or a YAML
document (` + "`.yaml`" + `, ` + "`.yml`" + `). A directory needs a ` + "`bundle.md`" + ` or
` + "`bundle.yaml`" + ` marker file.`,
		suggestions: []string{"Rename the file to use a supported extension"},
	},
	ValidationFailedId: {
		id:    ValidationFailedId,
		title: "Bundle failed validation",
		body: `
The bundle parsed but a field has the wrong shape, for example a tool without
an ` + "`id`" + ` or a frontmatter block that is not a mapping.`,
		suggestions: []string{"Fix the field named in the message and load again"},
	},
	IncludeCycleId: {
		id:    IncludeCycleId,
		title: "Circular include",
		body: `
Bundles include each other in a loop. The loop is skipped during loading, but
ordering the registry's include graph is impossible until it is broken.`,
		suggestions: []string{
			"Run `bundlekit graph` to see which bundles form the loop",
			"Move shared pieces into a separate bundle both can include",
		},
	},
	UnregisteredNamespaceId: {
		id:    UnregisteredNamespaceId,
		title: "Include references an unregistered namespace",
		body: `
An include of the form ` + "`namespace:path`" + ` names a bundle that is not
registered.`,
		suggestions: []string{
			"Register the namespace: `bundlekit register <namespace> <uri>`",
			"Run without `--strict` to skip such includes",
		},
	},
	UnresolvableIncludeId: {
		id:    UnresolvableIncludeId,
		title: "Include path cannot be resolved",
		body: `
The namespace is known but none of ` + "`path`" + `, ` + "`path.md`" + `, ` + "`path.yaml`" + ` or
` + "`path.yml`" + ` exists under its source root.`,
		suggestions: []string{"Check the path is relative to the namespace's repository root"},
	},
	IncludeFailedId: {
		id:    IncludeFailedId,
		title: "Included bundle failed to load",
		body: `
One of the bundle's includes could not be loaded. In strict mode this fails the
whole load; otherwise the include is skipped with a warning.`,
		suggestions: []string{"Load the included bundle on its own to see its error"},
	},
	TransportFailedId: {
		id:    TransportFailedId,
		title: "Could not fetch bundle source",
		body: `
A clone, ref query, or download failed. Partially written cache directories
were removed.`,
		suggestions: []string{
			"Check network access to the host",
			"For private repositories set `GITHUB_TOKEN`, `GITLAB_TOKEN` or `GIT_TOKEN`",
			"Raise `git_timeout` or `http_timeout` in the config file",
		},
	},
	ConfigInvalidId: {
		id:    ConfigInvalidId,
		title: "Configuration is invalid",
		body: `
The config file did not match the schema.`,
		suggestions: []string{
			"Run `bundlekit config show` to print the effective configuration",
			"Remove the file to fall back to defaults",
		},
	},
	RegistryCorruptId: {
		id:    RegistryCorruptId,
		title: "Registry file cannot be read",
		body: `
` + "`registry.json`" + ` in the bundlekit home is not valid JSON or was written by a
newer release.`,
		suggestions: []string{
			"Move `registry.json` aside and re-register your bundles",
			"Point `--home` at a different directory",
		},
	},
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, id := range slices.Sorted(maps.Keys(issues)) {
		out = append(out, issues[id])
	}
	return out
}

// Classify maps err onto a catalog entry using the bundleerr taxonomy.
// It returns 0 when nothing matches.
func Classify(err error) Id {
	var de *bundleerr.DependencyError
	if errors.As(err, &de) {
		switch de.Kind {
		case bundleerr.DependencyCycle:
			return IncludeCycleId
		case bundleerr.DependencyUnregistered:
			return UnregisteredNamespaceId
		case bundleerr.DependencyUnresolvable:
			return UnresolvableIncludeId
		default:
			return IncludeFailedId
		}
	}
	switch {
	case errors.Is(err, bundleerr.ErrInvalidURI):
		return InvalidURIId
	case errors.Is(err, bundleerr.ErrUnknownFormat):
		return UnknownFormatId
	case errors.Is(err, bundleerr.ErrValidation):
		return ValidationFailedId
	case errors.Is(err, bundleerr.ErrTransport):
		return TransportFailedId
	case errors.Is(err, bundleerr.ErrNotFound):
		return BundleNotFoundId
	}
	return 0
}
