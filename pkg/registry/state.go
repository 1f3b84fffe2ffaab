// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// FileVersion is the registry.json schema version.
const FileVersion = 1

type (
	// BundleState is the persisted record of one registered bundle.
	BundleState struct {
		URI     string
		Name    string
		Version string

		// LoadedAt and CheckedAt are zero until the first load or update check.
		LoadedAt  time.Time
		CheckedAt time.Time
		// LocalPath is the directory the bundle was last loaded from.
		LocalPath string

		// Includes and IncludedBy are the include-graph edges, by bundle name.
		Includes   []string
		IncludedBy []string

		IsRoot   bool
		RootName string

		// ExplicitlyRequested is set once the bundle was the target of Load.
		ExplicitlyRequested bool
		// AppBundle marks bundles registered from application configuration.
		AppBundle bool
	}

	registryFile struct {
		Version int                    `json:"version"`
		Bundles map[string]stateRecord `json:"bundles"`
	}

	// stateRecord is the wire form of BundleState. Unset timestamps and the
	// local path serialize as null; empty edge lists and root_name are omitted.
	stateRecord struct {
		URI                 string     `json:"uri"`
		Name                string     `json:"name"`
		Version             string     `json:"version"`
		LoadedAt            *time.Time `json:"loaded_at"`
		CheckedAt           *time.Time `json:"checked_at"`
		LocalPath           *string    `json:"local_path"`
		IsRoot              bool       `json:"is_root"`
		ExplicitlyRequested bool       `json:"explicitly_requested"`
		AppBundle           bool       `json:"app_bundle"`
		Includes            []string   `json:"includes,omitempty"`
		IncludedBy          []string   `json:"included_by,omitempty"`
		RootName            string     `json:"root_name,omitempty"`
	}
)

func (s *BundleState) clone() BundleState {
	out := *s
	out.Includes = slices.Clone(s.Includes)
	out.IncludedBy = slices.Clone(s.IncludedBy)
	return out
}

func (s *BundleState) record() stateRecord {
	rec := stateRecord{
		URI:                 s.URI,
		Name:                s.Name,
		Version:             s.Version,
		IsRoot:              s.IsRoot,
		ExplicitlyRequested: s.ExplicitlyRequested,
		AppBundle:           s.AppBundle,
		Includes:            slices.Clone(s.Includes),
		IncludedBy:          slices.Clone(s.IncludedBy),
		RootName:            s.RootName,
	}
	if !s.LoadedAt.IsZero() {
		t := s.LoadedAt.UTC()
		rec.LoadedAt = &t
	}
	if !s.CheckedAt.IsZero() {
		t := s.CheckedAt.UTC()
		rec.CheckedAt = &t
	}
	if s.LocalPath != "" {
		p := s.LocalPath
		rec.LocalPath = &p
	}
	return rec
}

func (rec stateRecord) state(key string) *BundleState {
	s := &BundleState{
		URI:                 rec.URI,
		Name:                rec.Name,
		Version:             rec.Version,
		IsRoot:              rec.IsRoot,
		ExplicitlyRequested: rec.ExplicitlyRequested,
		AppBundle:           rec.AppBundle,
		Includes:            rec.Includes,
		IncludedBy:          rec.IncludedBy,
		RootName:            rec.RootName,
	}
	if s.Name == "" {
		s.Name = key
	}
	if rec.LoadedAt != nil {
		s.LoadedAt = *rec.LoadedAt
	}
	if rec.CheckedAt != nil {
		s.CheckedAt = *rec.CheckedAt
	}
	if rec.LocalPath != nil {
		s.LocalPath = *rec.LocalPath
	}
	return s
}

// readStates parses registry.json. A missing file yields an empty map.
func readStates(path string) (map[string]*BundleState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]*BundleState), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	if file.Version > FileVersion {
		return nil, fmt.Errorf("registry %s has version %d, this build understands up to %d", path, file.Version, FileVersion)
	}

	states := make(map[string]*BundleState, len(file.Bundles))
	for name, rec := range file.Bundles {
		states[name] = rec.state(name)
	}
	return states, nil
}

// writeStates persists states atomically via a temporary file and rename.
func writeStates(path string, states map[string]*BundleState) error {
	file := registryFile{Version: FileVersion, Bundles: make(map[string]stateRecord, len(states))}
	for name, s := range states {
		file.Bundles[name] = s.record()
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to rename registry: %w", err)
	}
	return nil
}
