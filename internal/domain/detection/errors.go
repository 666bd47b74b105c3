package detection

import (
	"errors"
	"fmt"
)

// ErrInferenceFailure marks a batch aborted by a model invocation failure.
var ErrInferenceFailure = errors.New("inference failure")

// Pipeline stages reported in InferenceError.
const (
	StageDetect   = "detect"
	StageClassify = "classify"
	StageAnnotate = "annotate"
	StageLabel    = "label"
)

// InferenceError reports which stage aborted a batch and on which image.
type InferenceError struct {
	Stage    string
	Filename string
	Err      error
}

func (e *InferenceError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.Filename, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrInferenceFailure for any stage.
func (e *InferenceError) Is(target error) bool {
	return target == ErrInferenceFailure
}
