// SPDX-License-Identifier: MPL-2.0

// Package bundleuri parses bundle source URIs into structured references.
//
// Supported forms:
//
//	file:///abs/path              local file or directory
//	./relative/path, /abs/path    bare local paths
//	git+https://host/org/repo@ref git repository at a branch, tag, or commit
//	https://host/bundle.md        plain HTTP download
//	zip+https://host/b.zip        zip archive fetched over HTTP
//	zip+file:///abs/b.zip         local zip archive
//
// Any form may carry a "#subdirectory=<path>" fragment selecting a subpath of
// the fetched root.
package bundleuri

import (
	"net/url"
	"path"
	"strings"

	"github.com/bundlekit/bundlekit/pkg/bundleerr"
)

const (
	// SchemeFile is the scheme for local paths.
	SchemeFile Scheme = "file"
	// SchemeGit is the scheme for git+http(s) repositories.
	SchemeGit Scheme = "git"
	// SchemeHTTP is the scheme for plain http downloads.
	SchemeHTTP Scheme = "http"
	// SchemeHTTPS is the scheme for plain https downloads.
	SchemeHTTPS Scheme = "https"
	// SchemeZip is the scheme for zip archives (zip+http, zip+https, zip+file).
	SchemeZip Scheme = "zip"

	// DefaultRef is the symbolic ref used when a git URI carries no @ref.
	DefaultRef = "HEAD"

	// SubdirectoryKey is the fragment key selecting a subpath of the fetched root.
	SubdirectoryKey = "subdirectory"
)

type (
	// Scheme identifies the transport family of a ParsedURI.
	Scheme string

	// ParsedURI is the structured form of a bundle source URI.
	ParsedURI struct {
		// Raw is the original input, trimmed.
		Raw string
		// Scheme is the transport family.
		Scheme Scheme
		// Transport is the inner scheme of git+ and zip+ URIs (http, https, file),
		// and the scheme itself for plain http(s). Empty for local paths.
		Transport string
		// Host is the network host, empty for local sources.
		Host string
		// Path is the URL path, or the filesystem path for local sources.
		Path string
		// RawQuery is preserved for http(s) fetches.
		RawQuery string
		// Ref is the git branch, tag, or commit. Defaults to DefaultRef.
		Ref string
		// Subpath is the cleaned "#subdirectory=" value, empty when absent.
		Subpath string
	}
)

// Parse converts a URI string into a ParsedURI.
// It returns an *bundleerr.InvalidURIError when no supported scheme matches.
func Parse(uri string) (*ParsedURI, error) {
	raw := strings.TrimSpace(uri)
	if raw == "" {
		return nil, &bundleerr.InvalidURIError{URI: uri, Reason: "empty"}
	}

	body, fragment, _ := strings.Cut(raw, "#")
	subpath, err := parseFragment(fragment)
	if err != nil {
		return nil, &bundleerr.InvalidURIError{URI: raw, Reason: err.Error()}
	}

	p := &ParsedURI{Raw: raw, Ref: DefaultRef, Subpath: subpath}

	switch {
	case strings.HasPrefix(body, "git+"):
		if err := p.parseGit(body[len("git+"):]); err != nil {
			return nil, err
		}
	case strings.HasPrefix(body, "zip+"):
		if err := p.parseZip(body[len("zip+"):]); err != nil {
			return nil, err
		}
	case strings.HasPrefix(body, "http://"), strings.HasPrefix(body, "https://"):
		u, err := url.Parse(body)
		if err != nil {
			return nil, &bundleerr.InvalidURIError{URI: raw, Reason: err.Error()}
		}
		if u.Host == "" {
			return nil, &bundleerr.InvalidURIError{URI: raw, Reason: "missing host"}
		}
		p.Scheme = Scheme(u.Scheme)
		p.Transport = u.Scheme
		p.Host = u.Host
		p.Path = u.Path
		p.RawQuery = u.RawQuery
	case strings.HasPrefix(body, "file://"):
		p.Scheme = SchemeFile
		p.Path = body[len("file://"):]
		if rest, ok := strings.CutPrefix(p.Path, "localhost/"); ok {
			p.Path = "/" + rest
		}
		if p.Path == "" {
			return nil, &bundleerr.InvalidURIError{URI: raw, Reason: "missing path"}
		}
	case strings.Contains(body, "://"):
		scheme, _, _ := strings.Cut(body, "://")
		return nil, &bundleerr.InvalidURIError{URI: raw, Reason: "unsupported scheme " + scheme}
	default:
		p.Scheme = SchemeFile
		p.Path = body
	}

	return p, nil
}

// parseGit handles the part after "git+".
func (p *ParsedURI) parseGit(inner string) error {
	u, err := url.Parse(inner)
	if err != nil {
		return &bundleerr.InvalidURIError{URI: p.Raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &bundleerr.InvalidURIError{URI: p.Raw, Reason: "git transport must be http or https"}
	}
	if u.Host == "" {
		return &bundleerr.InvalidURIError{URI: p.Raw, Reason: "missing host"}
	}

	repoPath := u.Path
	if idx := strings.LastIndex(repoPath, "@"); idx >= 0 {
		if ref := repoPath[idx+1:]; ref != "" {
			p.Ref = ref
		}
		repoPath = repoPath[:idx]
	}
	if strings.Trim(repoPath, "/") == "" {
		return &bundleerr.InvalidURIError{URI: p.Raw, Reason: "missing repository path"}
	}

	p.Scheme = SchemeGit
	p.Transport = u.Scheme
	p.Host = u.Host
	p.Path = repoPath
	return nil
}

// parseZip handles the part after "zip+".
func (p *ParsedURI) parseZip(inner string) error {
	switch {
	case strings.HasPrefix(inner, "file://"):
		p.Transport = "file"
		p.Path = inner[len("file://"):]
		if p.Path == "" {
			return &bundleerr.InvalidURIError{URI: p.Raw, Reason: "missing path"}
		}
	case strings.HasPrefix(inner, "http://"), strings.HasPrefix(inner, "https://"):
		u, err := url.Parse(inner)
		if err != nil {
			return &bundleerr.InvalidURIError{URI: p.Raw, Reason: err.Error()}
		}
		if u.Host == "" {
			return &bundleerr.InvalidURIError{URI: p.Raw, Reason: "missing host"}
		}
		p.Transport = u.Scheme
		p.Host = u.Host
		p.Path = u.Path
		p.RawQuery = u.RawQuery
	default:
		return &bundleerr.InvalidURIError{URI: p.Raw, Reason: "zip transport must be http, https or file"}
	}
	p.Scheme = SchemeZip
	return nil
}

// parseFragment extracts and cleans the subdirectory value from a URI fragment.
// Unknown fragment keys are ignored.
func parseFragment(fragment string) (string, error) {
	if fragment == "" {
		return "", nil
	}
	for part := range strings.SplitSeq(fragment, "&") {
		key, value, _ := strings.Cut(part, "=")
		if key != SubdirectoryKey {
			continue
		}
		if unescaped, err := url.PathUnescape(value); err == nil {
			value = unescaped
		}
		return cleanSubpath(value)
	}
	return "", nil
}

func cleanSubpath(value string) (string, error) {
	value = strings.ReplaceAll(value, `\`, "/")
	if strings.HasPrefix(value, "/") {
		return "", errSubpath("subdirectory must be relative")
	}
	cleaned := path.Clean(value)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errSubpath("subdirectory escapes the source root")
	}
	return cleaned, nil
}

type errSubpath string

func (e errSubpath) Error() string { return string(e) }

// IsFile reports whether the URI names a local path.
func (p *ParsedURI) IsFile() bool { return p.Scheme == SchemeFile }

// IsGit reports whether the URI names a git repository.
func (p *ParsedURI) IsGit() bool { return p.Scheme == SchemeGit }

// IsHTTP reports whether the URI names a plain http(s) download.
func (p *ParsedURI) IsHTTP() bool { return p.Scheme == SchemeHTTP || p.Scheme == SchemeHTTPS }

// IsZip reports whether the URI names a zip archive.
func (p *ParsedURI) IsZip() bool { return p.Scheme == SchemeZip }

// BaseURI returns the URI without its fragment.
func (p *ParsedURI) BaseURI() string {
	base, _, _ := strings.Cut(p.Raw, "#")
	return base
}

// WithSubpath returns the URI string pointing at sub within the same source.
// An empty sub yields BaseURI.
func (p *ParsedURI) WithSubpath(sub string) string {
	if sub == "" || sub == "." {
		return p.BaseURI()
	}
	return p.BaseURI() + "#" + SubdirectoryKey + "=" + sub
}

// GitURL returns the clone URL (transport, host, and path) without the git+
// prefix and without the @ref suffix.
func (p *ParsedURI) GitURL() string {
	return p.Transport + "://" + p.Host + p.Path
}

// FetchURL returns the URL (or local path for zip+file) that a download should use.
func (p *ParsedURI) FetchURL() string {
	if p.Transport == "file" {
		return p.Path
	}
	u := url.URL{Scheme: p.Transport, Host: p.Host, Path: p.Path, RawQuery: p.RawQuery}
	return u.String()
}

// RepoName returns the last path segment without a ".git" suffix.
// It is used to build human-readable cache directory names.
func (p *ParsedURI) RepoName() string {
	name := path.Base(strings.TrimRight(strings.ReplaceAll(p.Path, `\`, "/"), "/"))
	name = strings.TrimSuffix(name, ".git")
	if name == "" || name == "." || name == "/" {
		return "source"
	}
	return name
}

// String returns the original URI.
func (p *ParsedURI) String() string { return p.Raw }

// IsNamespacedRef reports whether s is a "namespace:path" reference rather than a URI or local path.
func IsNamespacedRef(s string) bool {
	_, _, ok := SplitNamespacedRef(s)
	return ok
}

// SplitNamespacedRef splits "namespace:path" into its parts.
// Windows drive paths ("C:\x"), URIs, and local paths are not namespaced references.
func SplitNamespacedRef(s string) (namespace, rel string, ok bool) {
	if strings.Contains(s, "://") {
		return "", "", false
	}
	namespace, rel, found := strings.Cut(s, ":")
	if !found || namespace == "" || rel == "" {
		return "", "", false
	}
	if len(namespace) == 1 {
		return "", "", false
	}
	if strings.ContainsAny(namespace, `/\`) || strings.HasPrefix(namespace, ".") || strings.HasPrefix(namespace, "~") {
		return "", "", false
	}
	return namespace, rel, true
}
