// File: internal/mocks/page.go
package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/settle-cli/internal/automation"
)

// ErrDetached is returned by FakeElement operations once the element is detached.
var ErrDetached = errors.New("fake element detached from document")

// -- Element Fake --

// FakeElement is a stateful, in-memory automation.Element.
// Failures injects an error per operation; keys are "scroll", "native",
// "pointer", "script", "dispatch", "type", "set-value", "text" and "visible".
type FakeElement struct {
	mu sync.Mutex

	Name      string
	TextValue string
	Attrs     map[string]string
	Hidden    bool
	Disabled  bool
	Detached  bool
	// Selectors lists the CSS selectors Matches answers true for.
	Selectors []string
	Children  map[automation.Locator][]*FakeElement
	Failures  map[string]error
	// OnClick runs after any successful click technique, outside the element lock.
	OnClick func(technique string)

	clicks []string
	value  string
}

// NewFakeElement creates a visible, enabled, attached element.
func NewFakeElement(name string) *FakeElement {
	return &FakeElement{
		Name:     name,
		Attrs:    map[string]string{},
		Children: map[automation.Locator][]*FakeElement{},
		Failures: map[string]error{},
	}
}

// WithText sets the text content and returns the element for chaining.
func (e *FakeElement) WithText(text string) *FakeElement {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TextValue = text
	return e
}

// AddChild registers descendants reachable through loc.
func (e *FakeElement) AddChild(loc automation.Locator, children ...*FakeElement) *FakeElement {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Children[loc] = append(e.Children[loc], children...)
	return e
}

// SetHidden toggles visibility.
func (e *FakeElement) SetHidden(hidden bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Hidden = hidden
}

// SetDisabled toggles the enabled state.
func (e *FakeElement) SetDisabled(disabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Disabled = disabled
}

// Detach marks the element as removed from its document.
func (e *FakeElement) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Detached = true
}

// SetMatch adds or removes selector from the set Matches answers true for.
func (e *FakeElement) SetMatch(selector string, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.Selectors[:0]
	for _, s := range e.Selectors {
		if s != selector {
			kept = append(kept, s)
		}
	}
	e.Selectors = kept
	if on {
		e.Selectors = append(e.Selectors, selector)
	}
}

// Fail injects err for the named operation. A nil err clears it.
func (e *FakeElement) Fail(op string, err error) *FakeElement {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.Failures, op)
	} else {
		e.Failures[op] = err
	}
	return e
}

// Clicks returns the techniques that clicked the element successfully, in order.
func (e *FakeElement) Clicks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.clicks...)
}

// Value returns the text entered through Type or SetValue.
func (e *FakeElement) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

func (e *FakeElement) check(op string) error {
	if e.Detached {
		return ErrDetached
	}
	return e.Failures[op]
}

func (e *FakeElement) Describe() string {
	if e.Name == "" {
		return "<fake>"
	}
	return "<" + e.Name + ">"
}

func (e *FakeElement) Visible(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("visible"); err != nil {
		return false, err
	}
	return !e.Hidden, nil
}

func (e *FakeElement) Enabled(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Detached {
		return false, ErrDetached
	}
	return !e.Disabled, nil
}

func (e *FakeElement) Connected(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Detached, nil
}

func (e *FakeElement) Matches(ctx context.Context, selector string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Detached {
		return false, ErrDetached
	}
	for _, s := range e.Selectors {
		if s == selector {
			return true, nil
		}
	}
	return false, nil
}

func (e *FakeElement) Text(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("text"); err != nil {
		return "", err
	}
	return e.TextValue, nil
}

func (e *FakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Detached {
		return "", false, ErrDetached
	}
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *FakeElement) Find(ctx context.Context, loc automation.Locator) ([]automation.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Detached {
		return nil, ErrDetached
	}
	return toElements(e.Children[loc]), nil
}

func (e *FakeElement) ScrollIntoView(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.check("scroll")
}

func (e *FakeElement) NativeClick(ctx context.Context) error { return e.click("native") }

func (e *FakeElement) PointerClick(ctx context.Context, settle time.Duration) error {
	return e.click("pointer")
}

func (e *FakeElement) ScriptClick(ctx context.Context) error { return e.click("script") }

func (e *FakeElement) DispatchClick(ctx context.Context) error { return e.click("dispatch") }

func (e *FakeElement) click(technique string) error {
	e.mu.Lock()
	if err := e.check(technique); err != nil {
		e.mu.Unlock()
		return err
	}
	e.clicks = append(e.clicks, technique)
	hook := e.OnClick
	e.mu.Unlock()

	if hook != nil {
		hook(technique)
	}
	return nil
}

func (e *FakeElement) Type(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("type"); err != nil {
		return err
	}
	e.value = text
	return nil
}

func (e *FakeElement) SetValue(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("set-value"); err != nil {
		return err
	}
	e.value = text
	return nil
}

var _ automation.Element = (*FakeElement)(nil)

// -- Page Fake --

// Query records one Find call made against a FakePage. Frame is -1 for the root document.
type Query struct {
	Frame   int
	Locator automation.Locator
}

// FakePage is an in-memory automation.Page holding a root document and any
// number of first-level frames.
type FakePage struct {
	mu            sync.Mutex
	root          map[automation.Locator][]*FakeElement
	frames        []automation.Frame
	frameElements map[int]map[automation.Locator][]*FakeElement
	queries       []Query

	// FindHook, when set, is consulted before the static element maps. If it
	// reports handled, its result is returned as is.
	FindHook func(frame *automation.Frame, loc automation.Locator) (elements []automation.Element, handled bool)
	// FramesErr makes Frames fail.
	FramesErr error
}

// NewFakePage returns an empty page.
func NewFakePage() *FakePage {
	return &FakePage{
		root:          map[automation.Locator][]*FakeElement{},
		frameElements: map[int]map[automation.Locator][]*FakeElement{},
	}
}

// Put places elements in the root document under loc.
func (p *FakePage) Put(loc automation.Locator, elements ...*FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root[loc] = append(p.root[loc], elements...)
}

// Replace swaps the elements stored under loc in the root document.
func (p *FakePage) Replace(loc automation.Locator, elements ...*FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(elements) == 0 {
		delete(p.root, loc)
		return
	}
	p.root[loc] = elements
}

// AddFrame appends a frame to the root document and returns its index.
func (p *FakePage) AddFrame(name, id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.frames)
	p.frames = append(p.frames, automation.Frame{Index: idx, Name: name, ID: id})
	p.frameElements[idx] = map[automation.Locator][]*FakeElement{}
	return idx
}

// PutInFrame places elements inside the frame with the given index.
func (p *FakePage) PutInFrame(index int, loc automation.Locator, elements ...*FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.frameElements[index]
	if !ok {
		panic(fmt.Sprintf("fake page: unknown frame %d", index))
	}
	m[loc] = append(m[loc], elements...)
}

// Queries returns every Find call seen so far.
func (p *FakePage) Queries() []Query {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Query(nil), p.queries...)
}

// QueriedFrames returns the distinct frame indexes queried, in first-seen order.
func (p *FakePage) QueriedFrames() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := map[int]bool{}
	var out []int
	for _, q := range p.queries {
		if q.Frame >= 0 && !seen[q.Frame] {
			seen[q.Frame] = true
			out = append(out, q.Frame)
		}
	}
	return out
}

func (p *FakePage) Frames(ctx context.Context) ([]automation.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FramesErr != nil {
		return nil, p.FramesErr
	}
	return append([]automation.Frame(nil), p.frames...), nil
}

func (p *FakePage) Find(ctx context.Context, frame *automation.Frame, loc automation.Locator) ([]automation.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	idx := -1
	if frame != nil {
		idx = frame.Index
	}
	p.queries = append(p.queries, Query{Frame: idx, Locator: loc})
	hook := p.FindHook
	p.mu.Unlock()

	if hook != nil {
		if els, handled := hook(frame, loc); handled {
			return els, nil
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if frame == nil {
		return toElements(p.root[loc]), nil
	}
	return toElements(p.frameElements[idx][loc]), nil
}

var _ automation.Page = (*FakePage)(nil)

func toElements(in []*FakeElement) []automation.Element {
	if len(in) == 0 {
		return nil
	}
	out := make([]automation.Element, len(in))
	for i, e := range in {
		out[i] = e
	}
	return out
}
