// SPDX-License-Identifier: MPL-2.0

// Package bundleerr defines the error taxonomy shared by the URI parser, the
// source handlers, the bundle loader, and the registry.
//
// Every typed error unwraps to a package-level sentinel so callers can use
// errors.Is for classification and errors.As for details:
//
//	var nf *bundleerr.NotFoundError
//	if errors.As(err, &nf) {
//		fmt.Println("missing:", nf.Resource)
//	}
package bundleerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is the sentinel error wrapped by NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrValidation is the sentinel error wrapped by ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrDependency is the sentinel error wrapped by DependencyError.
	ErrDependency = errors.New("dependency error")
	// ErrTransport is the sentinel error wrapped by TransportError.
	ErrTransport = errors.New("transport error")
	// ErrInvalidURI is the sentinel error wrapped by InvalidURIError.
	ErrInvalidURI = errors.New("invalid URI")
	// ErrUnknownFormat is the sentinel error wrapped by UnknownFormatError.
	ErrUnknownFormat = errors.New("unknown bundle format")
)

type (
	// NotFoundError is returned when a file, URI target, or subpath does not exist.
	// It is fatal and never retried automatically.
	NotFoundError struct {
		// Resource is the path or URI that could not be found.
		Resource string
		// Detail optionally explains where the lookup happened.
		Detail string
	}

	// ValidationError is returned when a bundle declares a malformed module-list entry.
	ValidationError struct {
		// Bundle is the name of the offending bundle (or its path when unnamed).
		Bundle string
		// Field is the section that failed validation (providers, tools, hooks, ...).
		Field string
		// Index is the position of the entry within Field; -1 when not applicable.
		Index int
		// Reason describes the violation.
		Reason string
	}

	// DependencyKind classifies a DependencyError.
	DependencyKind string

	// DependencyError is returned for include-graph failures: cycles, unregistered
	// namespaces, and include loads that failed in strict mode.
	DependencyError struct {
		// Kind classifies the failure.
		Kind DependencyKind
		// URI is the include that could not be satisfied.
		URI string
		// Chain is the load chain leading to the failure, outermost first.
		Chain []string
		// Err is the underlying cause, if any.
		Err error
	}

	// TransportError is returned when a clone, download, or extraction fails.
	// The handler removes any partial cache entry before returning it.
	TransportError struct {
		// Op is the transport operation (clone, download, extract, verify).
		Op string
		// URI is the source being fetched.
		URI string
		// Err is the underlying cause.
		Err error
	}

	// InvalidURIError is returned when a string matches no supported URI scheme.
	InvalidURIError struct {
		// URI is the rejected input.
		URI string
		// Reason describes why it was rejected.
		Reason string
	}

	// UnknownFormatError is returned when a bundle file has an unsupported extension.
	UnknownFormatError struct {
		// Path is the rejected file.
		Path string
	}
)

const (
	// DependencyCycle marks an include that re-enters its own load chain.
	DependencyCycle DependencyKind = "cycle"
	// DependencyUnregistered marks a namespaced include whose namespace is not registered.
	DependencyUnregistered DependencyKind = "unregistered"
	// DependencyUnresolvable marks a namespaced include whose path does not exist.
	DependencyUnresolvable DependencyKind = "unresolvable"
	// DependencyFailed marks an include whose load failed.
	DependencyFailed DependencyKind = "failed"
)

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("not found: %s (%s)", e.Resource, e.Detail)
	}
	return fmt.Sprintf("not found: %s", e.Resource)
}

// Unwrap returns ErrNotFound so callers can use errors.Is for programmatic detection.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("bundle %q: %s[%d]: %s", e.Bundle, e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("bundle %q: %s: %s", e.Bundle, e.Field, e.Reason)
}

// Unwrap returns ErrValidation so callers can use errors.Is for programmatic detection.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Error implements the error interface.
func (e *DependencyError) Error() string {
	var sb strings.Builder
	switch e.Kind {
	case DependencyCycle:
		sb.WriteString("circular include detected: ")
		sb.WriteString(e.ChainString())
	case DependencyUnregistered:
		fmt.Fprintf(&sb, "include %q references an unregistered namespace", e.URI)
	case DependencyUnresolvable:
		fmt.Fprintf(&sb, "include %q cannot be resolved", e.URI)
	default:
		fmt.Fprintf(&sb, "include %q failed to load", e.URI)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// ChainString renders the load chain as "a -> b -> c", ending with URI.
func (e *DependencyError) ChainString() string {
	parts := make([]string, 0, len(e.Chain)+1)
	parts = append(parts, e.Chain...)
	if e.URI != "" {
		parts = append(parts, e.URI)
	}
	return strings.Join(parts, " -> ")
}

// Unwrap returns both ErrDependency and the underlying cause.
func (e *DependencyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDependency}
	}
	return []error{ErrDependency, e.Err}
}

// IsCycle reports whether err is (or wraps) a DependencyError of kind DependencyCycle.
func IsCycle(err error) bool {
	var de *DependencyError
	return errors.As(err, &de) && de.Kind == DependencyCycle
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

// Unwrap returns both ErrTransport and the underlying cause.
func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

// Error implements the error interface.
func (e *InvalidURIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid URI %q: %s", e.URI, e.Reason)
	}
	return fmt.Sprintf("invalid URI %q", e.URI)
}

// Unwrap returns ErrInvalidURI so callers can use errors.Is for programmatic detection.
func (e *InvalidURIError) Unwrap() error { return ErrInvalidURI }

// Error implements the error interface.
func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown bundle format: %s (expected .md, .yaml or .yml)", e.Path)
}

// Unwrap returns ErrUnknownFormat so callers can use errors.Is for programmatic detection.
func (e *UnknownFormatError) Unwrap() error { return ErrUnknownFormat }
