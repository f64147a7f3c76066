package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound means a record could not be located for reselection.
	ErrRecordNotFound = errors.New("record not found")
	// ErrBatchGenerationFailed means the portal did not generate a batch document.
	ErrBatchGenerationFailed = errors.New("batch generation failed")
	// ErrArtifactRetrievalFailed means a generated document could not be downloaded.
	ErrArtifactRetrievalFailed = errors.New("artifact retrieval failed")
)

// StepError ties a failure to the unit step that produced it.
type StepError struct {
	Unit string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("unit %s: %s: %v", e.Unit, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
