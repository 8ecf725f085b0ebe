package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/airlock-labs/airlock/pkg/catalog"
	"github.com/airlock-labs/airlock/pkg/session"
)

// ContextValidator checks that the session already carries what an action
// needs: first the declared required facts, then the optional CEL context
// rule. It holds the read-only side of the session store and never writes.
type ContextValidator struct {
	cat      *catalog.Catalog
	sessions session.Reader
	programs map[string]cel.Program
}

// NewContextValidator compiles every catalog context rule once. Rules must
// pass the determinism check (no time-dependent calls, no float literals) —
// the same inputs must always yield the same verdict, or replaying a
// proposal becomes ambiguous.
func NewContextValidator(cat *catalog.Catalog, sessions session.Reader) (*ContextValidator, error) {
	env, err := cel.NewEnv(
		cel.Variable("facts", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("validate: cel environment: %w", err)
	}

	v := &ContextValidator{
		cat:      cat,
		sessions: sessions,
		programs: make(map[string]cel.Program),
	}
	for _, def := range cat.Definitions() {
		rule := def.Context.Rule
		if rule == "" {
			continue
		}
		ast, iss := env.Compile(rule)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("validate: action %q context rule: %w", def.Name, iss.Err())
		}
		if err := checkDeterministic(ast); err != nil {
			return nil, fmt.Errorf("validate: action %q context rule: %w", def.Name, err)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("validate: action %q context rule program: %w", def.Name, err)
		}
		v.programs[def.Name] = prg
	}
	return v, nil
}

// Validate returns nil when the session satisfies the action's context
// requirements, a Failure carrying the clarification to relay otherwise. The
// error return is for session store I/O only.
func (v *ContextValidator) Validate(ctx context.Context, actionName string, args map[string]any, sessionID string) (*Failure, error) {
	def, ok := v.cat.Lookup(actionName)
	if !ok {
		return &Failure{Kind: FailureContext, Reason: fmt.Sprintf("unknown action %q", actionName)}, nil
	}

	for _, fact := range def.Context.RequiredFacts {
		_, present, err := v.sessions.Fact(ctx, sessionID, fact)
		if err != nil {
			return nil, fmt.Errorf("validate: read session fact %q: %w", fact, err)
		}
		if !present {
			return &Failure{Kind: FailureContext, Reason: missingFactReason(def, fact)}, nil
		}
	}

	prg, hasRule := v.programs[actionName]
	if !hasRule {
		return nil, nil
	}

	facts, err := v.sessions.Facts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("validate: read session facts: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"facts": facts,
		"args":  args,
	})
	if err != nil {
		return nil, fmt.Errorf("validate: evaluate context rule for %q: %w", actionName, err)
	}
	verdict, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("validate: context rule for %q returned %T, want bool", actionName, out.Value())
	}
	if !verdict {
		reason := def.Context.ClarificationHint
		if reason == "" {
			reason = fmt.Sprintf("the session is missing context required by %q", actionName)
		}
		return &Failure{Kind: FailureContext, Reason: reason}, nil
	}
	return nil, nil
}

func missingFactReason(def catalog.ActionDefinition, fact string) string {
	if def.Context.ClarificationHint != "" {
		return def.Context.ClarificationHint
	}
	return fmt.Sprintf("no %s; one must be established first", strings.ReplaceAll(fact, "_", " "))
}
