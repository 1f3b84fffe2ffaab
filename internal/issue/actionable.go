// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError wraps a failure with the operation that was attempted,
	// the bundle name or URI involved, and hints for fixing it.
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("load bundle").
	//		WithResource("git+https://github.com/org/dev@main").
	//		WithSuggestion("Check the ref exists").
	//		Wrap(cause).
	//		Build()
	ActionableError struct {
		// Operation is a verb phrase such as "load bundle" or "register bundle".
		Operation string
		// Resource is the bundle name, URI, or path involved (optional).
		Resource string
		// Suggestions are shown as a bullet list under the message.
		Suggestions []string
		// Issue links the error to a catalog entry; zero when unclassified.
		Issue Id
		// Cause is the underlying error.
		Cause error
	}

	// ErrorContext incrementally builds an ActionableError.
	ErrorContext struct {
		err ActionableError
	}
)

// NewErrorContext returns an empty builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Wrap classifies err against the issue catalog and attaches the catalog's
// suggestions. It returns nil for a nil err. An err that already is an
// ActionableError is returned unchanged.
func Wrap(err error, operation, resource string) *ActionableError {
	if err == nil {
		return nil
	}
	var ae *ActionableError
	if errors.As(err, &ae) {
		return ae
	}
	id := Classify(err)
	out := &ActionableError{
		Operation: operation,
		Resource:  resource,
		Issue:     id,
		Cause:     err,
	}
	if iss := Get(id); iss != nil {
		out.Suggestions = iss.Suggestions()
	}
	return out
}

func (e *ActionableError) Error() string {
	var sb strings.Builder
	sb.WriteString("failed to ")
	sb.WriteString(e.Operation)
	if e.Resource != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Resource)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format renders the message with its suggestions. In verbose mode every
// error in the cause chain is listed as well; joined errors are expanded.
func (e *ActionableError) Format(verbose bool) string {
	var sb strings.Builder
	sb.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n")
		for _, s := range e.Suggestions {
			sb.WriteString("\n  • ")
			sb.WriteString(s)
		}
	}

	if verbose && e.Cause != nil {
		sb.WriteString("\n\nError chain:")
		depth := 0
		var walk func(err error, indent string)
		walk = func(err error, indent string) {
			for err != nil {
				depth++
				fmt.Fprintf(&sb, "\n%s%d. %s", indent, depth, err.Error())
				if multi, ok := err.(interface{ Unwrap() []error }); ok {
					for _, inner := range multi.Unwrap() {
						walk(inner, indent+"  ")
					}
					return
				}
				err = errors.Unwrap(err)
			}
		}
		walk(e.Cause, "  ")
	}
	return sb.String()
}

// WithOperation sets the operation verb phrase.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

// WithResource sets the bundle name, URI, or path.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

// WithSuggestion appends one hint.
func (c *ErrorContext) WithSuggestion(s string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, s)
	return c
}

// WithIssue links a catalog entry and appends its suggestions.
func (c *ErrorContext) WithIssue(id Id) *ErrorContext {
	c.err.Issue = id
	if iss := Get(id); iss != nil {
		c.err.Suggestions = append(c.err.Suggestions, iss.Suggestions()...)
	}
	return c
}

// Wrap sets the underlying cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// Build returns the error, or nil when no operation was set. The builder may
// be reused afterwards without affecting errors it already built.
func (c *ErrorContext) Build() *ActionableError {
	if c.err.Operation == "" {
		return nil
	}
	out := c.err
	out.Suggestions = append([]string(nil), c.err.Suggestions...)
	return &out
}

// BuildError is Build typed as error, so a missing operation yields a true
// nil interface.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}
