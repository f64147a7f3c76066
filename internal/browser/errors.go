// internal/browser/errors.go
package browser

import "errors"

var (
	// ErrSessionUnavailable means a browser could not be launched after every
	// configured attempt. It is fatal for the run that asked for the session.
	ErrSessionUnavailable = errors.New("browser session unavailable")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("browser session closed")
	// ErrNoLayout is returned when an element has no box to click.
	ErrNoLayout = errors.New("element has no layout box")
)
