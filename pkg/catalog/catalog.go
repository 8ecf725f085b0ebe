package catalog

import (
	"fmt"
)

// Catalog is the read-only registry of known actions. Built once at startup;
// no runtime mutation.
type Catalog struct {
	defs  map[string]ActionDefinition
	names []string
}

// New builds a catalog from the given definitions. Every definition is
// validated and names must be unique.
func New(defs ...ActionDefinition) (*Catalog, error) {
	byName := make(map[string]ActionDefinition, len(defs))
	for i := range defs {
		d := defs[i]
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate action %q", d.Name)
		}
		byName[d.Name] = d
	}
	return &Catalog{defs: byName, names: sortedNames(byName)}, nil
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (ActionDefinition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

// Names returns all known action names, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Definitions returns all definitions sorted by name.
func (c *Catalog) Definitions() []ActionDefinition {
	out := make([]ActionDefinition, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.defs[n])
	}
	return out
}

// Len returns the number of registered actions.
func (c *Catalog) Len() int {
	return len(c.defs)
}
