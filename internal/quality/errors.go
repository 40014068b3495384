package quality

import "errors"

// EvaluationError reports a draft that could not be scored: empty input,
// an assessment call that failed, or an unparseable assessment. Refinement
// treats it as recoverable and keeps its best draft.
type EvaluationError struct {
	Check string
	Err   error
}

func (e *EvaluationError) Error() string {
	if e.Check == "" {
		return "quality: evaluation failed: " + e.Err.Error()
	}
	return "quality: " + e.Check + " check failed: " + e.Err.Error()
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsEvaluation reports whether err carries an EvaluationError.
func IsEvaluation(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}
