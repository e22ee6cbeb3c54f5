//go:build !js_eval

package tablestate

// NewJSEvaluator returns nil: the goja engine is only compiled in with the
// js_eval build tag.
func NewJSEvaluator(...JSEvaluatorOption) Evaluator {
	return nil
}

func jsEvaluatorAvailable() bool { return false }

func isJSEvaluator(Evaluator) bool { return false }
