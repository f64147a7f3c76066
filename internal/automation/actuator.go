package automation

import (
	"context"
	"time"

	"github.com/xkilldash9x/settle-cli/internal/config"
	"go.uber.org/zap"
)

// Technique is one way of activating an element.
type Technique struct {
	Name  string
	Apply func(ctx context.Context, el Element) error
}

// Actuator performs activations that tolerate overlays and transient DOM churn
// by walking an ordered list of techniques until one succeeds.
type Actuator struct {
	page           Page
	logger         *zap.Logger
	overlays       []Locator
	overlayTimeout time.Duration
	actionTimeout  time.Duration
	pollInterval   time.Duration
	chain          []Technique
}

// NewActuator builds the default click chain: scroll + native click, pointer
// simulation, script click and finally a synthetic event.
func NewActuator(page Page, cfg config.AutomationConfig, logger *zap.Logger) *Actuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	settle := cfg.PointerSettle
	actionTimeout := cfg.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 8 * time.Second
	}

	a := &Actuator{
		page:           page,
		logger:         logger.Named("actuator"),
		overlays:       ParseLocators(cfg.Overlays),
		overlayTimeout: cfg.OverlayTimeout,
		actionTimeout:  actionTimeout,
		pollInterval:   poll,
	}
	a.chain = []Technique{
		{Name: "scroll-native", Apply: func(ctx context.Context, el Element) error {
			if err := el.ScrollIntoView(ctx); err != nil {
				return err
			}
			return el.NativeClick(ctx)
		}},
		{Name: "pointer", Apply: func(ctx context.Context, el Element) error {
			return el.PointerClick(ctx, settle)
		}},
		{Name: "script", Apply: func(ctx context.Context, el Element) error {
			return el.ScriptClick(ctx)
		}},
		{Name: "synthetic", Apply: func(ctx context.Context, el Element) error {
			return el.DispatchClick(ctx)
		}},
	}
	return a
}

// Techniques returns the names of the click chain in evaluation order.
func (a *Actuator) Techniques() []string {
	names := make([]string, len(a.chain))
	for i, t := range a.chain {
		names[i] = t.Name
	}
	return names
}

// Activate clicks the referenced element. It returns an *ActivationFailedError
// only if every technique failed, or the context error if ctx ends first.
func (a *Actuator) Activate(ctx context.Context, ref *ElementRef) error {
	return a.run(ctx, ref, a.chain)
}

// Fill enters text into the referenced element, typing first and falling back
// to assigning the value directly.
func (a *Actuator) Fill(ctx context.Context, ref *ElementRef, text string) error {
	chain := []Technique{
		{Name: "type", Apply: func(ctx context.Context, el Element) error { return el.Type(ctx, text) }},
		{Name: "set-value", Apply: func(ctx context.Context, el Element) error { return el.SetValue(ctx, text) }},
	}
	return a.run(ctx, ref, chain)
}

func (a *Actuator) run(ctx context.Context, ref *ElementRef, chain []Technique) error {
	target := ref.Describe()
	attempts := make([]AttemptError, 0, len(chain))

	for _, technique := range chain {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.WaitForOverlays(ctx); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, a.actionTimeout)
		err := technique.Apply(attemptCtx, ref.Element)
		cancel()

		if err == nil {
			a.logger.Debug("Activation succeeded.", zap.String("target", target), zap.String("technique", technique.Name))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts = append(attempts, AttemptError{Technique: technique.Name, Err: err})
		a.logger.Debug("Activation technique failed; falling back.",
			zap.String("target", target), zap.String("technique", technique.Name), zap.Error(err))
	}

	return &ActivationFailedError{Target: target, Attempts: attempts}
}

// WaitForOverlays blocks until no configured overlay is visible in the root
// document or the overlay timeout elapses. A persisting overlay is logged, not
// returned; only context cancellation produces an error.
func (a *Actuator) WaitForOverlays(ctx context.Context) error {
	if len(a.overlays) == 0 || a.overlayTimeout <= 0 {
		return nil
	}
	deadline := time.Now().Add(a.overlayTimeout)
	for {
		blocking := a.visibleOverlay(ctx)
		if blocking == "" {
			return nil
		}
		if !time.Now().Before(deadline) {
			a.logger.Warn("Overlay still visible after timeout; proceeding.", zap.String("overlay", blocking))
			return nil
		}
		timer := time.NewTimer(a.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (a *Actuator) visibleOverlay(ctx context.Context) string {
	for _, loc := range a.overlays {
		elements, err := a.page.Find(ctx, nil, loc)
		if err != nil {
			continue
		}
		for _, el := range elements {
			if visible, err := el.Visible(ctx); err == nil && visible {
				return loc.String()
			}
		}
	}
	return ""
}
