// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by tests: bundle fixture writers,
// environment and working-directory overrides that restore themselves, and a
// fake clock.
//
// Helpers fail the test immediately on setup errors, so call sites stay free
// of error plumbing.
package testutil
