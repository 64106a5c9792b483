package pipeline

import (
	"errors"
	"fmt"
)

// InferenceError is returned when a stage's model call produced empty,
// unparsable, or invariant-violating output. It is fatal for the request;
// usage for stages that already completed is retained.
type InferenceError struct {
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("pipeline: inference failed at stage %s: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsInferenceError reports whether err originated from a model call rather
// than the record store.
func IsInferenceError(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie)
}
