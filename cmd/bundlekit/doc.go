// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the bundlekit CLI.
//
// Every command opens the registry through App, which layers the config
// file, BUNDLEKIT_* variables and global flags, then delegates to
// pkg/registry and pkg/bundle. Errors are returned as
// issue.ActionableError values and rendered by the fang error handler.
package cmd
