// internal/browser/element.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/settle-cli/internal/automation"
)

// element is a handle to a DOM node held as a remote object. Once the node is
// detached the handle keeps working for reads, which is how staleness is
// detected.
type element struct {
	session *ChromeSession
	id      runtime.RemoteObjectID
	desc    string
}

var _ automation.Element = (*element)(nil)

func (e *element) Describe() string { return e.desc }

// callIn invokes fn on the node using an executor context. A non-nil res
// receives the JSON result.
func (e *element) callIn(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	callArguments, err := callArgs(args...)
	if err != nil {
		return err
	}
	obj, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(e.id).
		WithArguments(callArguments).
		WithReturnByValue(true).
		Do(ctx)
	if err != nil {
		return err
	}
	if exc != nil {
		return fmt.Errorf("%s: %w", e.desc, exc)
	}
	if res == nil || obj == nil || len(obj.Value) == 0 {
		return nil
	}
	return json.Unmarshal(obj.Value, res)
}

func (e *element) call(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	return e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return e.callIn(ctx, fn, res, args...)
	}))
}

func (e *element) boolCall(ctx context.Context, fn string, args ...interface{}) (bool, error) {
	var out bool
	err := e.call(ctx, fn, &out, args...)
	return out, err
}

func (e *element) Visible(ctx context.Context) (bool, error)   { return e.boolCall(ctx, jsVisible) }
func (e *element) Enabled(ctx context.Context) (bool, error)   { return e.boolCall(ctx, jsEnabled) }
func (e *element) Connected(ctx context.Context) (bool, error) { return e.boolCall(ctx, jsConnected) }

func (e *element) Matches(ctx context.Context, selector string) (bool, error) {
	return e.boolCall(ctx, jsMatches, selector)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var out string
	err := e.call(ctx, jsText, &out)
	return out, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var out struct {
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}
	if err := e.call(ctx, jsAttribute, &out, name); err != nil {
		return "", false, err
	}
	return out.Value, out.OK, nil
}

func (e *element) Find(ctx context.Context, loc automation.Locator) ([]automation.Element, error) {
	var found []automation.Element
	err := e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		found, err = e.session.queryAll(ctx, e.id, loc)
		return err
	}))
	return found, err
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithObjectID(e.id).Do(ctx); err != nil {
			return e.callIn(ctx, jsScrollIntoView, nil)
		}
		return nil
	}))
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (e *element) centre(ctx context.Context) (point, error) {
	var p point
	if err := e.callIn(ctx, jsCentre, &p); err != nil {
		return p, err
	}
	if p.W <= 0 || p.H <= 0 {
		return p, fmt.Errorf("%s: %w", e.desc, ErrNoLayout)
	}
	return p, nil
}

// NativeClick presses and releases the left button at the element centre.
func (e *element) NativeClick(ctx context.Context) error {
	return e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		p, err := e.centre(ctx)
		if err != nil {
			return err
		}
		return chromedp.MouseClickXY(p.X, p.Y).Do(ctx)
	}))
}

// PointerClick moves onto the element, waits for hover effects, then clicks.
func (e *element) PointerClick(ctx context.Context, settle time.Duration) error {
	return e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		p, err := e.centre(ctx)
		if err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y).Do(ctx); err != nil {
			return err
		}
		if settle > 0 {
			timer := time.NewTimer(settle)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		for _, t := range []input.MouseType{input.MousePressed, input.MouseReleased} {
			if err := input.DispatchMouseEvent(t, p.X, p.Y).
				WithButton(input.Left).
				WithClickCount(1).
				Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (e *element) ScriptClick(ctx context.Context) error {
	return e.call(ctx, jsScriptClick, nil)
}

func (e *element) DispatchClick(ctx context.Context) error {
	return e.call(ctx, jsDispatchClick, nil)
}

// Type focuses and clears the element, then sends text as key events.
func (e *element) Type(ctx context.Context, text string) error {
	return e.session.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := e.callIn(ctx, jsFocusClear, nil); err != nil {
			return err
		}
		return chromedp.KeyEvent(text).Do(ctx)
	}))
}

func (e *element) SetValue(ctx context.Context, text string) error {
	return e.call(ctx, jsSetValue, nil, text)
}
