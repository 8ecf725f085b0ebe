// Package validate implements the two pre-persistence checks the gate runs on
// every proposed action: contract validation (arguments against the catalog
// schema) and context validation (session facts and rules). Both return typed
// failures instead of errors — a bad proposal is the expected case here.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/airlock-labs/airlock/pkg/catalog"
)

// FailureKind tells the caller which stage rejected the proposal.
type FailureKind string

const (
	// FailureContract marks malformed or missing arguments. Recoverable by
	// resubmitting with corrected arguments.
	FailureContract FailureKind = "contract"
	// FailureContext marks a well-formed action whose session lacks needed
	// context. Surfaced as a clarification request, not a hard error.
	FailureContext FailureKind = "context"
)

// Failure describes the first violated constraint of a rejected proposal.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// ContractValidator checks argument payloads against per-action JSON Schemas
// compiled once at construction. Validation is a pure function of the
// definition and the payload: no I/O, no side effects.
type ContractValidator struct {
	cat     *catalog.Catalog
	schemas map[string]*jsonschema.Schema
}

// NewContractValidator compiles one schema per catalog action. A definition
// whose schema does not compile is a startup error: the gate refuses to run
// with an action it cannot validate.
func NewContractValidator(cat *catalog.Catalog) (*ContractValidator, error) {
	v := &ContractValidator{
		cat:     cat,
		schemas: make(map[string]*jsonschema.Schema, cat.Len()),
	}
	for _, def := range cat.Definitions() {
		doc, err := schemaDocument(def)
		if err != nil {
			return nil, fmt.Errorf("validate: schema for action %q: %w", def.Name, err)
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		url := "airlock://actions/" + def.Name + "/args.json"
		if err := compiler.AddResource(url, strings.NewReader(string(doc))); err != nil {
			return nil, fmt.Errorf("validate: add schema for action %q: %w", def.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("validate: compile schema for action %q: %w", def.Name, err)
		}
		v.schemas[def.Name] = schema
	}
	return v, nil
}

// Validate returns nil when args satisfy the action's contract, or a Failure
// describing the first violated constraint. Unknown actions fail closed.
func (v *ContractValidator) Validate(actionName string, args map[string]any) *Failure {
	def, ok := v.cat.Lookup(actionName)
	if !ok {
		return &Failure{Kind: FailureContract, Reason: fmt.Sprintf("unknown action %q", actionName)}
	}

	// Report missing required arguments in declaration order before handing
	// off to the schema, so the caller always hears about the same one first.
	for _, name := range def.RequiredArgs() {
		if _, present := args[name]; !present {
			return &Failure{
				Kind:   FailureContract,
				Reason: fmt.Sprintf("missing required argument %q", name),
			}
		}
	}

	schema := v.schemas[actionName]
	payload := args
	if payload == nil {
		payload = map[string]any{}
	}
	if err := schema.Validate(map[string]any(payload)); err != nil {
		return &Failure{Kind: FailureContract, Reason: renderSchemaError(err)}
	}
	return nil
}

// schemaDocument builds the draft 2020-12 schema for an action's arguments.
// Unknown arguments are rejected: the gate forwards nothing it cannot name.
func schemaDocument(def catalog.ActionDefinition) ([]byte, error) {
	props := make(map[string]any, len(def.Args))
	for _, a := range def.Args {
		p := map[string]any{"type": string(a.Kind)}
		if len(a.Enum) > 0 {
			p["enum"] = a.Enum
		}
		props[a.Name] = p
	}
	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if req := def.RequiredArgs(); len(req) > 0 {
		doc["required"] = req
	}
	return json.Marshal(doc)
}

// renderSchemaError flattens a jsonschema validation error into one sentence
// naming the offending argument.
func renderSchemaError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return leaf.Message
	}
	return fmt.Sprintf("argument %q: %s", loc, leaf.Message)
}
