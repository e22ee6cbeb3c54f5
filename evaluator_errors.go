package tablestate

import (
	"errors"
	"fmt"
	"strings"
)

// RuleError captures rule metadata alongside the originating error.
type RuleError struct {
	Engine string
	Expr   string
	Column string
	Err    error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	column := e.Column
	if column == "" {
		column = "<none>"
	}
	return fmt.Sprintf("tablestate: %s rule %s column=%s: %v", e.Engine, describeExpression(e.Expr), column, e.Err)
}

func (e *RuleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}

	var ruleErr *RuleError
	if errors.As(err, &ruleErr) {
		return err
	}

	if strings.HasPrefix(err.Error(), "tablestate:") {
		return err
	}
	return fmt.Errorf("tablestate: %s evaluator: %w", engine, err)
}

func wrapRuleError(engine, expr, column string, err error) error {
	if err == nil {
		return nil
	}

	var ruleErr *RuleError
	if errors.As(err, &ruleErr) {
		if ruleErr.Engine == "" {
			ruleErr.Engine = engine
		}
		if ruleErr.Expr == "" {
			ruleErr.Expr = expr
		}
		if ruleErr.Column == "" {
			ruleErr.Column = column
		}
		return ruleErr
	}

	return &RuleError{
		Engine: engine,
		Expr:   expr,
		Column: column,
		Err:    err,
	}
}
