// Package conditions evaluates the small predicate expressions used to gate
// step dispatch. Expressions are compiled with expr-lang but restricted by an
// AST whitelist to a minimal grammar: context.KEY references, comparison and
// boolean operators, parentheses, and scalar literals. Anything outside the
// grammar is rejected before compilation.
package conditions

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

var allowedBinaryOps = map[string]bool{
	"==": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"and": true, "or": true, "&&": true, "||": true,
}

var allowedUnaryOps = map[string]bool{
	"not": true, "!": true,
}

// Evaluator compiles and evaluates condition expressions against an
// execution context. Thread-safe: compiled programs are cached and reused
// across goroutines.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an empty Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate runs the expression against the given context map and returns
// the boolean outcome. Returns an error on syntax violations, grammar
// violations, or a non-boolean result; callers demote errors to false.
func (e *Evaluator) Evaluate(expression string, context map[string]any) (bool, error) {
	if expression == "" {
		return false, schema.NewError(schema.ErrCodeCondition, "empty condition expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	if context == nil {
		context = map[string]any{}
	}
	env := map[string]any{
		"context": context,
		"null":    nil,
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeCondition,
			"condition evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
	}

	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeCondition,
			"condition %q evaluated to %T, want bool", expression, out)
	}
	return b, nil
}

// Validate checks that the expression parses and stays within the allowed
// grammar, without evaluating it.
func Validate(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeCondition, "empty condition expression")
	}
	tree, err := parser.Parse(expression)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeCondition,
			"condition syntax error in %q: %s", expression, err.Error()).WithCause(err)
	}
	return checkNode(tree.Node)
}

// getOrCompile returns a cached compiled program or validates, compiles and
// caches a new one.
func (e *Evaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	if err := Validate(expression); err != nil {
		return nil, err
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCondition,
			"condition compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	e.cache[expression] = prg
	return prg, nil
}

// checkNode recursively enforces the grammar whitelist.
func checkNode(node ast.Node) error {
	switch n := node.(type) {
	case *ast.NilNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode, *ast.StringNode:
		return nil

	case *ast.IdentifierNode:
		// "null" resolves to nil at runtime; bare "context" is legal only
		// as the base of a member access but harmless on its own.
		if n.Value == "context" || n.Value == "null" {
			return nil
		}
		return grammarError(node, fmt.Sprintf("unknown identifier %q", n.Value))

	case *ast.MemberNode:
		base, ok := n.Node.(*ast.IdentifierNode)
		if !ok || base.Value != "context" {
			return grammarError(node, "member access is limited to context.KEY")
		}
		if _, ok := n.Property.(*ast.StringNode); !ok {
			return grammarError(node, "context key must be a plain identifier")
		}
		return nil

	case *ast.UnaryNode:
		if !allowedUnaryOps[n.Operator] {
			return grammarError(node, fmt.Sprintf("operator %q not allowed", n.Operator))
		}
		return checkNode(n.Node)

	case *ast.BinaryNode:
		if !allowedBinaryOps[n.Operator] {
			return grammarError(node, fmt.Sprintf("operator %q not allowed", n.Operator))
		}
		if err := checkNode(n.Left); err != nil {
			return err
		}
		return checkNode(n.Right)

	default:
		return grammarError(node, fmt.Sprintf("construct %T not allowed", node))
	}
}

func grammarError(node ast.Node, msg string) error {
	return schema.NewErrorf(schema.ErrCodeCondition, "condition grammar: %s", msg).
		WithDetails(map[string]any{"node": fmt.Sprintf("%v", node)})
}
