package tablestate

import "errors"

var (
	// ErrMalformedForm indicates form input the column derivation cannot use.
	ErrMalformedForm = errors.New("tablestate: malformed form definition")
	// ErrUnknownColumn indicates a column id that is not part of the table.
	ErrUnknownColumn = errors.New("tablestate: unknown column")
	// ErrNoEvaluator indicates the requested rule engine is unavailable.
	ErrNoEvaluator = errors.New("tablestate: evaluator not configured")
	// ErrNoStore indicates a manager constructed without a preference store.
	ErrNoStore = errors.New("tablestate: preference store is required")
)
