package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/settle-cli/internal/config"
	"go.uber.org/zap"
)

// ScopeKind selects which documents a resolution may search.
type ScopeKind int

const (
	// ScopeRoot searches the root document only.
	ScopeRoot ScopeKind = iota
	// ScopeAnyFrame searches the root document, then every embedded frame in document order.
	ScopeAnyFrame
	// ScopeNamedFrame searches the root document, then only frames with the given name or id.
	ScopeNamedFrame
)

// Scope bounds a resolution.
type Scope struct {
	Kind  ScopeKind
	Frame string
}

// Root limits resolution to the root document.
func Root() Scope { return Scope{Kind: ScopeRoot} }

// AnyFrame allows resolution to descend into every embedded frame.
func AnyFrame() Scope { return Scope{Kind: ScopeAnyFrame} }

// NamedFrame allows resolution to descend into the named frame only.
func NamedFrame(name string) Scope { return Scope{Kind: ScopeNamedFrame, Frame: name} }

func (s Scope) String() string {
	switch s.Kind {
	case ScopeAnyFrame:
		return "root+frames"
	case ScopeNamedFrame:
		return fmt.Sprintf("root+frame(%s)", s.Frame)
	default:
		return "root"
	}
}

// ResolveOptions tunes a single resolution.
type ResolveOptions struct {
	Scope Scope
	// RequireInteractable waits for the element to be visible and enabled, not merely present.
	RequireInteractable bool
	// Timeout bounds the root document phase. Zero uses the configured element timeout.
	Timeout time.Duration
}

// ElementRef is a resolved element plus where it was found.
type ElementRef struct {
	Element Element
	Locator Locator
	// Frame is nil when the element lives in the root document.
	Frame *Frame
}

// Describe returns a log friendly description of the reference.
func (r *ElementRef) Describe() string {
	where := "root"
	if r.Frame != nil {
		where = fmt.Sprintf("frame[%d]", r.Frame.Index)
	}
	return fmt.Sprintf("%s via %s in %s", r.Element.Describe(), r.Locator, where)
}

// Resolver turns a list of equivalent candidate locators into one element.
type Resolver struct {
	page           Page
	logger         *zap.Logger
	defaultTimeout time.Duration
	pollInterval   time.Duration
	frameRatio     float64
}

// NewResolver creates a resolver over the given page primitives.
func NewResolver(page Page, cfg config.AutomationConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	ratio := cfg.FrameTimeoutRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &Resolver{
		page:           page,
		logger:         logger.Named("resolver"),
		defaultTimeout: cfg.ElementTimeout,
		pollInterval:   poll,
		frameRatio:     ratio,
	}
}

// Resolve tries every candidate against the root document until the timeout,
// then, when the scope allows it, against each embedded frame with a reduced
// timeout. Frame scoping is per query, so the page is never left inside a frame.
func (r *Resolver) Resolve(ctx context.Context, candidates []Locator, opts ResolveOptions) (*ElementRef, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("resolve: no candidate locators given")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	ref, err := r.pollContext(ctx, nil, candidates, opts.RequireInteractable, timeout)
	if err != nil || ref != nil {
		return ref, err
	}

	notFound := &ElementNotFoundError{Candidates: candidates, Scope: opts.Scope}
	if opts.Scope.Kind == ScopeRoot {
		return nil, notFound
	}

	frames, err := r.page.Frames(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Debug("Could not enumerate frames.", zap.Error(err))
		return nil, notFound
	}

	frameTimeout := time.Duration(float64(timeout) * r.frameRatio)
	if frameTimeout < r.pollInterval {
		frameTimeout = r.pollInterval
	}

	for i := range frames {
		frame := frames[i]
		if opts.Scope.Kind == ScopeNamedFrame && !frame.Matches(opts.Scope.Frame) {
			continue
		}
		notFound.FramesSearched++
		ref, err := r.pollContext(ctx, &frame, candidates, opts.RequireInteractable, frameTimeout)
		if err != nil || ref != nil {
			return ref, err
		}
	}

	return nil, notFound
}

// pollContext repeatedly tries the candidate list in one document until the
// timeout elapses. It makes at least one full pass. A nil result with a nil
// error means nothing resolved.
func (r *Resolver) pollContext(ctx context.Context, frame *Frame, candidates []Locator, interactable bool, timeout time.Duration) (*ElementRef, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, loc := range candidates {
			if el := r.tryCandidate(ctx, frame, loc, interactable); el != nil {
				return &ElementRef{Element: el, Locator: loc, Frame: frame}, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		wait := r.pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Resolver) tryCandidate(ctx context.Context, frame *Frame, loc Locator, interactable bool) Element {
	elements, err := r.page.Find(ctx, frame, loc)
	if err != nil {
		r.logger.Debug("Candidate query failed.", zap.Stringer("locator", loc), zap.Error(err))
		return nil
	}
	for _, el := range elements {
		if !interactable {
			return el
		}
		if Interactable(ctx, el) {
			return el
		}
	}
	return nil
}

// Interactable reports whether el is visible and enabled. Query errors count as not interactable.
func Interactable(ctx context.Context, el Element) bool {
	visible, err := el.Visible(ctx)
	if err != nil || !visible {
		return false
	}
	enabled, err := el.Enabled(ctx)
	return err == nil && enabled
}
