package automation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the interaction layer.
var (
	// ErrElementNotFound means no candidate resolved in any searched context.
	ErrElementNotFound = errors.New("element not found")
	// ErrActivationFailed means every technique of the activation chain failed.
	ErrActivationFailed = errors.New("activation failed")
)

// ElementNotFoundError reports which candidates were tried and where.
type ElementNotFoundError struct {
	Candidates []Locator
	Scope      Scope
	// FramesSearched counts the embedded frames visited after the root document.
	FramesSearched int
}

func (e *ElementNotFoundError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = c.String()
	}
	return fmt.Sprintf("element not found in %s (frames searched: %d): [%s]",
		e.Scope, e.FramesSearched, strings.Join(parts, ", "))
}

func (e *ElementNotFoundError) Unwrap() error { return ErrElementNotFound }

// AttemptError is the failure of one activation technique.
type AttemptError struct {
	Technique string
	Err       error
}

func (a AttemptError) Error() string { return a.Technique + ": " + a.Err.Error() }

// ActivationFailedError carries the error of every technique that was tried.
type ActivationFailedError struct {
	Target   string
	Attempts []AttemptError
}

func (e *ActivationFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("activation of %s failed after %d techniques: %s",
		e.Target, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *ActivationFailedError) Unwrap() error { return ErrActivationFailed }
