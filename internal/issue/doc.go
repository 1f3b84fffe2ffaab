// SPDX-License-Identifier: MPL-2.0

// Package issue turns bundlekit failures into messages a user can act on.
//
// ActionableError carries what was attempted, on which bundle or URI, and
// what to try next. The issue catalog pairs each failure class from
// pkg/bundleerr with Markdown guidance rendered through glamour.
package issue
