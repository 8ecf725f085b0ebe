// Package catalog holds the static registry of actions the gate may be asked
// to run: one ActionDefinition per action name, loaded once at process start
// and read-only afterwards.
package catalog

import (
	"fmt"
	"sort"
)

// ValueKind constrains the JSON type an argument value must have.
type ValueKind string

const (
	KindString  ValueKind = "string"
	KindNumber  ValueKind = "number"
	KindInteger ValueKind = "integer"
	KindBoolean ValueKind = "boolean"
	KindObject  ValueKind = "object"
	KindArray   ValueKind = "array"
)

// IsValid reports whether k is one of the declared kinds.
func (k ValueKind) IsValid() bool {
	switch k {
	case KindString, KindNumber, KindInteger, KindBoolean, KindObject, KindArray:
		return true
	}
	return false
}

// ArgumentSpec describes one argument of an action.
type ArgumentSpec struct {
	Name     string    `yaml:"name" json:"name"`
	Required bool      `yaml:"required" json:"required"`
	Kind     ValueKind `yaml:"kind" json:"kind"`
	// Enum restricts a string argument to a fixed set of values.
	Enum []string `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// ContextSpec declares what the session must already know before the action
// may run. RequiredFacts are session fact keys that must be present; Rule is
// an optional CEL expression over {facts, args} that must evaluate to true.
type ContextSpec struct {
	RequiredFacts     []string `yaml:"required_facts,omitempty" json:"required_facts,omitempty"`
	Rule              string   `yaml:"rule,omitempty" json:"rule,omitempty"`
	ClarificationHint string   `yaml:"clarification_hint,omitempty" json:"clarification_hint,omitempty"`
}

// ActionDefinition is the immutable declaration of one action: its argument
// contract, its context requirements, and whether it needs human confirmation
// before executing.
type ActionDefinition struct {
	Name      string         `yaml:"name" json:"name"`
	Summary   string         `yaml:"summary" json:"summary"`
	Sensitive bool           `yaml:"sensitive" json:"sensitive"`
	Args      []ArgumentSpec `yaml:"args,omitempty" json:"args,omitempty"`
	Context   ContextSpec    `yaml:"context,omitempty" json:"context,omitempty"`
}

// Validate checks structural sanity of the definition. It does not compile
// schemas or rules; that happens in the validators at load time.
func (d *ActionDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("action name is required")
	}
	seen := make(map[string]bool, len(d.Args))
	for i, a := range d.Args {
		if a.Name == "" {
			return fmt.Errorf("action %q: argument %d has no name", d.Name, i)
		}
		if seen[a.Name] {
			return fmt.Errorf("action %q: duplicate argument %q", d.Name, a.Name)
		}
		seen[a.Name] = true
		if !a.Kind.IsValid() {
			return fmt.Errorf("action %q: argument %q has unknown kind %q", d.Name, a.Name, a.Kind)
		}
		if len(a.Enum) > 0 && a.Kind != KindString {
			return fmt.Errorf("action %q: argument %q: enum is only supported for string arguments", d.Name, a.Name)
		}
	}
	for i, f := range d.Context.RequiredFacts {
		if f == "" {
			return fmt.Errorf("action %q: required fact %d is empty", d.Name, i)
		}
	}
	return nil
}

// RequiredArgs returns the names of required arguments in declaration order.
func (d *ActionDefinition) RequiredArgs() []string {
	var out []string
	for _, a := range d.Args {
		if a.Required {
			out = append(out, a.Name)
		}
	}
	return out
}

// Arg returns the spec for the named argument.
func (d *ActionDefinition) Arg(name string) (ArgumentSpec, bool) {
	for _, a := range d.Args {
		if a.Name == name {
			return a, true
		}
	}
	return ArgumentSpec{}, false
}

func sortedNames(defs map[string]ActionDefinition) []string {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
