package tablestate

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ruleLog struct {
	mu     sync.Mutex
	events []RuleLogEvent
}

func (l *ruleLog) LogEvaluation(event RuleLogEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *ruleLog) last(t *testing.T) RuleLogEvent {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.events)
	return l.events[len(l.events)-1]
}

func proForm() Form {
	form := fourColumnForm()
	form.IsPro = true
	form.EnablePartialSubmissions = true
	return form
}

func TestStatusRuleAcrossEngines(t *testing.T) {
	for _, engine := range []string{"", EngineExpr, EngineCEL} {
		t.Run("engine="+engine, func(t *testing.T) {
			log := &ruleLog{}
			m, _ := newManager(t, proForm(), WithEngine(engine), WithRuleLogger(log))

			assert.Contains(t, columnIDs(m.TableColumns()), ColumnStatus)
			event := log.last(t)
			assert.NoError(t, event.Err)
			assert.True(t, event.Result)
			assert.Equal(t, ColumnStatus, event.Column)
			if engine == EngineCEL {
				assert.Equal(t, EngineCEL, event.Engine)
			} else {
				assert.Equal(t, EngineExpr, event.Engine)
			}

			form := proForm()
			form.EnablePartialSubmissions = false
			m.SetForm(form)
			assert.NotContains(t, columnIDs(m.TableColumns()), ColumnStatus)
			assert.False(t, log.last(t).Result)
		})
	}
}

func TestRuleColumnsFollowStatus(t *testing.T) {
	rule := ColumnRule{Column: RuleColumn("trial", "Trial", "badge"), When: "is_trialing"}
	form := proForm()
	form.IsTrialing = true
	m, _ := newManager(t, form, WithRules(rule), WithActions(true), WithClientRendered(true))

	ids := columnIDs(m.TableColumns())
	assert.Equal(t, []string{"name", "email", "age", "legacy", ColumnCreatedAt, ColumnStatus, "trial", ColumnActions}, ids)
	assert.Contains(t, m.Sizing(), "trial")
}

func TestRuleCannotShadowBaseColumn(t *testing.T) {
	rule := ColumnRule{Column: RuleColumn("email", "Shadow", "text"), When: "true"}
	m, _ := newManager(t, fourColumnForm(), WithRules(rule))

	columns := m.TableColumns()
	assert.Len(t, columns, 5)
	assert.Equal(t, "Email", columns[1].Header)
}

func TestNonBooleanRuleCountsAsFalse(t *testing.T) {
	log := &ruleLog{}
	rule := ColumnRule{Column: RuleColumn("count", "Count", "number"), When: "property_count"}
	m, _ := newManager(t, fourColumnForm(), WithRules(rule), WithRuleLogger(log))

	assert.NotContains(t, columnIDs(m.TableColumns()), "count")

	event := log.last(t)
	require.Error(t, event.Err)
	assert.False(t, event.Result)
	var ruleErr *RuleError
	require.True(t, errors.As(event.Err, &ruleErr))
	assert.Equal(t, "count", ruleErr.Column)
	assert.Contains(t, event.Err.Error(), "must return bool")
}

func TestBrokenRuleCountsAsFalse(t *testing.T) {
	log := &ruleLog{}
	rule := ColumnRule{Column: RuleColumn("broken", "Broken", "text"), When: "is_pro &&"}
	m, _ := newManager(t, proForm(), WithRules(rule), WithRuleLogger(log))

	ids := columnIDs(m.TableColumns())
	assert.Contains(t, ids, ColumnStatus)
	assert.NotContains(t, ids, "broken")
	assert.Error(t, log.last(t).Err)
}

func TestUnknownEngineDisablesRules(t *testing.T) {
	log := &ruleLog{}
	m, _ := newManager(t, proForm(), WithEngine("lua"), WithRuleLogger(log))

	assert.NotContains(t, columnIDs(m.TableColumns()), ColumnStatus)
	assert.ErrorIs(t, log.last(t).Err, ErrNoEvaluator)
}

func TestNewEvaluatorEngines(t *testing.T) {
	_, err := NewEvaluator("lua")
	assert.ErrorIs(t, err, ErrNoEvaluator)

	evaluator, err := NewEvaluator(" CEL ")
	require.NoError(t, err)
	assert.Equal(t, EngineCEL, evaluatorEngineName(evaluator))

	evaluator, err = NewEvaluator(EngineJS)
	if JSEvaluatorAvailable() {
		require.NoError(t, err)
		assert.Equal(t, EngineJS, evaluatorEngineName(evaluator))
		return
	}
	assert.ErrorIs(t, err, ErrNoEvaluator)
	assert.Nil(t, evaluator)
}

func TestCustomFunctionInRules(t *testing.T) {
	plans := func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("plan_allows expects one argument")
		}
		name, _ := args[0].(string)
		return strings.HasPrefix(name, "form-"), nil
	}
	rule := ColumnRule{Column: RuleColumn("plan", "Plan", "text"), When: "plan_allows(id)"}
	m, _ := newManager(t, fourColumnForm(), WithRules(rule), WithCustomFunction("plan_allows", plans))

	assert.Contains(t, columnIDs(m.TableColumns()), "plan")

	m.SetForm(Form{ID: "other", Properties: fourColumnForm().Properties})
	assert.NotContains(t, columnIDs(m.TableColumns()), "plan")
}

func TestCompiledRuleReuse(t *testing.T) {
	cache := NewMapProgramCache()
	evaluator, err := NewEvaluator(EngineExpr, EvaluatorWithProgramCache(cache))
	require.NoError(t, err)

	rule, err := evaluator.Compile(StatusRuleExpr)
	require.NoError(t, err)
	_, cached := cache.Get(StatusRuleExpr)
	assert.True(t, cached)

	for _, form := range []Form{proForm(), fourColumnForm()} {
		value, err := rule.Evaluate(RuleContext{Snapshot: form.RuleSnapshot()})
		require.NoError(t, err)
		assert.Equal(t, form.IsPro, value)
	}
}

type countingEvaluator struct {
	Evaluator
	mu       sync.Mutex
	compiles map[string]int
}

func (c *countingEvaluator) Compile(expr string) (CompiledRule, error) {
	c.mu.Lock()
	c.compiles[expr]++
	c.mu.Unlock()
	return c.Evaluator.Compile(expr)
}

func TestManagerCompilesEachRuleOnce(t *testing.T) {
	counter := &countingEvaluator{Evaluator: NewExprEvaluator(), compiles: map[string]int{}}
	trial := ColumnRule{Column: RuleColumn("trial", "Trial", "badge"), When: "is_trialing"}
	m, _ := newManager(t, proForm(), WithEvaluator(counter), WithRules(trial))

	for range 3 {
		assert.Contains(t, columnIDs(m.TableColumns()), ColumnStatus)
	}
	m.SetForm(fourColumnForm())
	assert.NotContains(t, columnIDs(m.TableColumns()), ColumnStatus)

	assert.Equal(t, map[string]int{StatusRuleExpr: 1, "is_trialing": 1}, counter.compiles)
}

func TestCustomEvaluatorOverridesEngine(t *testing.T) {
	evaluator := NewCELEvaluator()
	log := &ruleLog{}
	m, _ := newManager(t, proForm(), WithEngine("lua"), WithEvaluator(evaluator), WithRuleLogger(log))

	assert.Contains(t, columnIDs(m.TableColumns()), ColumnStatus)
	assert.Equal(t, EngineCEL, log.last(t).Engine)
}
