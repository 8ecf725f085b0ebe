package validate

import (
	"fmt"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Context rules must be replayable: the same facts and arguments always
// produce the same verdict. Time-dependent functions break that, and float
// literals invite platform-dependent comparisons, so both are rejected when
// the rule is compiled.
var bannedFunctions = map[string]bool{
	"now": true,
}

func checkDeterministic(ast *cel.Ast) error {
	checked, err := cel.AstToCheckedExpr(ast)
	if err != nil {
		return fmt.Errorf("inspect ast: %w", err)
	}
	return checkExpr(checked.GetExpr())
}

func checkExpr(e *exprpb.Expr) error {
	if e == nil {
		return nil
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, isFloat := k.ConstExpr.GetConstantKind().(*exprpb.Constant_DoubleValue); isFloat {
			return fmt.Errorf("float literals are not allowed in context rules")
		}
	case *exprpb.Expr_CallExpr:
		if bannedFunctions[k.CallExpr.GetFunction()] {
			return fmt.Errorf("function %q is not allowed in context rules", k.CallExpr.GetFunction())
		}
		if err := checkExpr(k.CallExpr.GetTarget()); err != nil {
			return err
		}
		for _, arg := range k.CallExpr.GetArgs() {
			if err := checkExpr(arg); err != nil {
				return err
			}
		}
	case *exprpb.Expr_SelectExpr:
		return checkExpr(k.SelectExpr.GetOperand())
	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.GetElements() {
			if err := checkExpr(el); err != nil {
				return err
			}
		}
	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.GetEntries() {
			if err := checkExpr(entry.GetMapKey()); err != nil {
				return err
			}
			if err := checkExpr(entry.GetValue()); err != nil {
				return err
			}
		}
	case *exprpb.Expr_ComprehensionExpr:
		c := k.ComprehensionExpr
		for _, sub := range []*exprpb.Expr{c.GetIterRange(), c.GetAccuInit(), c.GetLoopCondition(), c.GetLoopStep(), c.GetResult()} {
			if err := checkExpr(sub); err != nil {
				return err
			}
		}
	}
	return nil
}
