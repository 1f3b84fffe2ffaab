// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is read from config.cue in the platform config directory
// (XDG on Linux, ~/Library/Application Support on macOS, %APPDATA% on
// Windows) or from an explicit path, and validated against the embedded
// config_schema.cue. BUNDLEKIT_* environment variables override file values.
// Path values and bundle URIs undergo $VAR and ~ expansion.
package config
