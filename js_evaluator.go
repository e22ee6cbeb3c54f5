//go:build js_eval

package tablestate

import (
	"fmt"

	"github.com/dop251/goja"
)

// jsEvaluator runs rules as JavaScript expressions on goja.
type jsEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	cfg := applyJSEvaluatorOptions(opts)
	return &jsEvaluator{cache: cfg.cache, registry: cfg.registry}
}

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, wrapRuleError(EngineJS, expression, ctx.Column, err)
	}
	return e.run(ctx, expression, program)
}

func (e *jsEvaluator) Compile(expression string) (CompiledRule, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, wrapRuleError(EngineJS, expression, "", err)
	}
	return compiledFunc(func(ctx RuleContext) (any, error) {
		return e.run(ctx, expression, program)
	}), nil
}

func (e *jsEvaluator) program(expression string) (*goja.Program, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineJS, errEmptyExpression)
	}
	return cachedProgram(e.cache, "js:"+expression, func() (*goja.Program, error) {
		return goja.Compile("rule", fmt.Sprintf("(function(){ return (%s); })()", expression), false)
	})
}

// run uses a fresh runtime per evaluation; a goja.Runtime is not safe for
// concurrent use.
func (e *jsEvaluator) run(ctx RuleContext, expression string, program *goja.Program) (any, error) {
	ctx = ctx.withDefaults()
	vm := goja.New()

	bindings := ctx.variables()
	if e.registry != nil {
		bindings["call"] = e.registry.Call
		for _, name := range e.registry.Names() {
			bindings[name] = e.registry.bind(name)
		}
	}
	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return nil, wrapRuleError(EngineJS, expression, ctx.Column, err)
		}
	}

	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, wrapRuleError(EngineJS, expression, ctx.Column, err)
	}
	return value.Export(), nil
}

func jsEvaluatorAvailable() bool {
	return true
}

func isJSEvaluator(e Evaluator) bool {
	_, ok := e.(*jsEvaluator)
	return ok
}
