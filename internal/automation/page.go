package automation

import (
	"context"
	"time"
)

// Frame identifies an embedded frame of the root document.
// Index is the frame's position among the root document's frames.
type Frame struct {
	Index int
	Name  string
	ID    string
}

// Matches reports whether the frame carries the given name or id.
func (f Frame) Matches(name string) bool {
	return name != "" && (f.Name == name || f.ID == name)
}

// Page is the set of document-level primitives the resolver, actuator and
// scanner need from a live UI session.
type Page interface {
	// Frames lists the first-level embedded frames of the root document, in document order.
	Frames(ctx context.Context) ([]Frame, error)
	// Find returns every element matching loc. A nil frame means the root document.
	Find(ctx context.Context, frame *Frame, loc Locator) ([]Element, error)
}

// Element is a handle to one node of the page. Implementations must tolerate
// the node disappearing and report that as an error, never a panic.
type Element interface {
	// Describe returns a short human readable description for logs.
	Describe() string
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	// Connected reports whether the node is still attached to its document.
	Connected(ctx context.Context) (bool, error)
	// Matches reports whether the node matches a CSS selector.
	Matches(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Find queries descendants of this element.
	Find(ctx context.Context, loc Locator) ([]Element, error)

	ScrollIntoView(ctx context.Context) error
	// NativeClick presses and releases the primary button at the element centre.
	NativeClick(ctx context.Context) error
	// PointerClick moves the pointer onto the element, pauses for settle, then clicks.
	PointerClick(ctx context.Context, settle time.Duration) error
	// ScriptClick calls the element's click() method.
	ScriptClick(ctx context.Context) error
	// DispatchClick dispatches a synthetic bubbling MouseEvent.
	DispatchClick(ctx context.Context) error

	// Type focuses the element, clears it and sends text as key events.
	Type(ctx context.Context, text string) error
	// SetValue assigns the value property and fires input and change events.
	SetValue(ctx context.Context, text string) error
}
