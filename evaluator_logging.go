package tablestate

import (
	"time"

	"github.com/go-logr/logr"
)

// RuleLogEvent describes a rule evaluation for logging.
type RuleLogEvent struct {
	Engine   string
	Expr     string
	Column   string
	Result   bool
	Duration time.Duration
	Err      error
}

// RuleLogger records rule evaluations.
type RuleLogger interface {
	LogEvaluation(RuleLogEvent)
}

// RuleLoggerFunc adapts a function to RuleLogger.
type RuleLoggerFunc func(RuleLogEvent)

// LogEvaluation implements RuleLogger.
func (f RuleLoggerFunc) LogEvaluation(event RuleLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopRuleLogger struct{}

func (noopRuleLogger) LogEvaluation(RuleLogEvent) {}

// LogrRuleLogger writes successful evaluations at V(1) and failures as errors.
func LogrRuleLogger(log logr.Logger) RuleLogger {
	return RuleLoggerFunc(func(event RuleLogEvent) {
		kv := []any{"engine", event.Engine, "expr", event.Expr, "column", event.Column, "duration", event.Duration}
		if event.Err != nil {
			log.Error(event.Err, "column rule failed", kv...)
			return
		}
		log.V(1).Info("column rule evaluated", append(kv, "result", event.Result)...)
	})
}
