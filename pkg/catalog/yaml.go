package catalog

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SchemaMajor is the catalog file format major version this build accepts.
const SchemaMajor = 1

// File is the on-disk YAML layout of a catalog file.
type File struct {
	SchemaVersion string             `yaml:"schema_version"`
	Actions       []ActionDefinition `yaml:"actions"`
}

// LoadFile reads action definitions from a YAML catalog file.
//
// The file carries a semver schema_version; a major version other than
// SchemaMajor is rejected so an old binary never misreads a newer format.
func LoadFile(path string) ([]ActionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return parseFile(path, data)
}

func parseFile(path string, data []byte) ([]ActionDefinition, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	if f.SchemaVersion == "" {
		return nil, fmt.Errorf("catalog: %s: schema_version is required", path)
	}
	v, err := semver.NewVersion(f.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: bad schema_version %q: %w", path, f.SchemaVersion, err)
	}
	if v.Major() != SchemaMajor {
		return nil, fmt.Errorf("catalog: %s: schema_version %s not supported (want major %d)", path, f.SchemaVersion, SchemaMajor)
	}
	for i := range f.Actions {
		if err := f.Actions[i].Validate(); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", path, err)
		}
	}
	return f.Actions, nil
}

// Load builds a catalog from builtin definitions plus an optional YAML file.
// File definitions may not redeclare builtin names.
func Load(path string, builtin ...ActionDefinition) (*Catalog, error) {
	defs := append([]ActionDefinition(nil), builtin...)
	if path != "" {
		fromFile, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fromFile...)
	}
	return New(defs...)
}
