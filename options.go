package tablestate

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/jonboulle/clockwork"
)

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	withActions    bool
	clientRendered bool
	logger         logr.Logger
	clock          clockwork.Clock
	debounce       time.Duration
	rules          []ColumnRule
	engine         string
	evaluator      Evaluator
	programCache   ProgramCache
	functions      *FunctionRegistry
	ruleLogger     RuleLogger
}

func applyOptions(opts []Option) managerConfig {
	cfg := managerConfig{
		logger:       logr.Discard(),
		clock:        clockwork.NewRealClock(),
		debounce:     ResizeDebounce,
		rules:        []ColumnRule{StatusRule()},
		programCache: NewMapProgramCache(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ruleLogger == nil {
		cfg.ruleLogger = LogrRuleLogger(cfg.logger.WithName("rules"))
	}
	return cfg
}

// WithActions opts the table into the row actions column. The column is only
// added when the manager is also client rendered.
func WithActions(enabled bool) Option {
	return func(cfg *managerConfig) {
		cfg.withActions = enabled
	}
}

// WithClientRendered marks the table as rendered in an interactive client.
func WithClientRendered(enabled bool) Option {
	return func(cfg *managerConfig) {
		cfg.clientRendered = enabled
	}
}

// WithLogger sets the logger for derivation faults and store failures.
func WithLogger(logger logr.Logger) Option {
	return func(cfg *managerConfig) {
		cfg.logger = logger
	}
}

// WithClock replaces the clock driving the resize debounce.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *managerConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithDebounce overrides ResizeDebounce.
func WithDebounce(wait time.Duration) Option {
	return func(cfg *managerConfig) {
		if wait > 0 {
			cfg.debounce = wait
		}
	}
}

// WithRules appends column rules after the built-in status rule.
func WithRules(rules ...ColumnRule) Option {
	return func(cfg *managerConfig) {
		cfg.rules = append(cfg.rules, rules...)
	}
}

// WithEngine selects the rule engine by name (expr, cel, js).
func WithEngine(engine string) Option {
	return func(cfg *managerConfig) {
		cfg.engine = engine
	}
}

// WithEvaluator configures the rule evaluator directly, overriding WithEngine.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *managerConfig) {
		cfg.evaluator = e
	}
}

// WithProgramCache replaces the default program cache.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *managerConfig) {
		cfg.programCache = cache
	}
}

// WithFunctionRegistry exposes registry functions to rules.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *managerConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name for rules.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *managerConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		_ = cfg.functions.Register(name, fn)
	}
}

// WithRuleLogger records every rule evaluation.
func WithRuleLogger(logger RuleLogger) Option {
	return func(cfg *managerConfig) {
		if logger == nil {
			cfg.ruleLogger = noopRuleLogger{}
			return
		}
		cfg.ruleLogger = logger
	}
}
