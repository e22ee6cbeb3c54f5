package tablestate

import (
	"fmt"
	"time"
)

// StatusRuleExpr gates the status column on paid plans with partial
// submissions enabled.
const StatusRuleExpr = "is_pro && enable_partial_submissions"

// ColumnRule appends Column to the table when When evaluates to true against
// the form's rule snapshot.
type ColumnRule struct {
	Column Column
	When   string
}

// StatusColumn is the synthetic submission status column.
func StatusColumn() Column {
	return Column{
		ID:                 ColumnStatus,
		AccessorKey:        ColumnStatus,
		Header:             "Status",
		Type:               "status",
		EnableColumnFilter: true,
		FilterFn:           "equals",
		EnableResizing:     true,
		MinSize:            DataColumnMinSize,
		MaxSize:            DataColumnMaxSize,
	}
}

// ActionsColumn is the fixed row actions column, always pinned right.
func ActionsColumn() Column {
	return Column{
		ID:          ColumnActions,
		AccessorKey: ColumnActions,
		Header:      "",
		Size:        ActionsColumnSize,
	}
}

// StatusRule is the built-in rule for StatusColumn.
func StatusRule() ColumnRule {
	return ColumnRule{Column: StatusColumn(), When: StatusRuleExpr}
}

// RuleColumn builds a plain synthetic data column for configured rules.
func RuleColumn(id, header, columnType string) Column {
	return Column{
		ID:             id,
		AccessorKey:    id,
		Header:         header,
		Type:           columnType,
		EnableResizing: true,
		MinSize:        DataColumnMinSize,
		MaxSize:        DataColumnMaxSize,
	}
}

// evaluateRule reports whether rule holds for form. Failures and non-boolean
// results count as false; both are reported to the rule logger.
func (m *Manager) evaluateRule(rule ColumnRule, form Form) bool {
	evaluator, err := m.ruleEvaluator()
	if err != nil {
		m.cfg.ruleLogger.LogEvaluation(RuleLogEvent{Expr: rule.When, Column: rule.Column.ID, Err: err})
		return false
	}

	ctx := RuleContext{Snapshot: form.RuleSnapshot(), Column: rule.Column.ID}
	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	var value any
	compiled, evalErr := m.compiledRule(evaluator, rule.When)
	if evalErr == nil {
		value, evalErr = compiled.Evaluate(ctx)
	}
	duration := time.Since(start)

	result, ok := value.(bool)
	if evalErr == nil && !ok {
		evalErr = fmt.Errorf("rule must return bool, got %T", value)
	}
	evalErr = wrapRuleError(engine, rule.When, rule.Column.ID, evalErr)
	m.cfg.ruleLogger.LogEvaluation(RuleLogEvent{
		Engine:   engine,
		Expr:     rule.When,
		Column:   rule.Column.ID,
		Result:   result && evalErr == nil,
		Duration: duration,
		Err:      evalErr,
	})
	return evalErr == nil && result
}

// compiledRule compiles expr once per manager. Compile errors are not kept,
// so a failing rule reports its error on every evaluation.
func (m *Manager) compiledRule(evaluator Evaluator, expr string) (CompiledRule, error) {
	if hit, ok := m.compiled.Load(expr); ok {
		return hit.(CompiledRule), nil
	}
	rule, err := evaluator.Compile(expr)
	if err != nil {
		return nil, err
	}
	actual, _ := m.compiled.LoadOrStore(expr, rule)
	return actual.(CompiledRule), nil
}

func (m *Manager) ruleEvaluator() (Evaluator, error) {
	m.evalOnce.Do(func() {
		if m.cfg.evaluator != nil {
			m.evaluator = m.cfg.evaluator
			return
		}
		m.evaluator, m.evaluatorErr = NewEvaluator(m.cfg.engine,
			EvaluatorWithProgramCache(m.cfg.programCache),
			EvaluatorWithFunctionRegistry(m.cfg.functions),
		)
	})
	return m.evaluator, m.evaluatorErr
}
