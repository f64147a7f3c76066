package automation

import (
	"context"

	"github.com/xkilldash9x/settle-cli/internal/config"
	"go.uber.org/zap"
)

// Interactor pairs a Resolver with an Actuator for the common
// "find it, then act on it" flows.
type Interactor struct {
	*Resolver
	*Actuator
}

// NewInteractor wires a resolver and an actuator over the same page.
func NewInteractor(page Page, cfg config.AutomationConfig, logger *zap.Logger) *Interactor {
	return &Interactor{
		Resolver: NewResolver(page, cfg, logger),
		Actuator: NewActuator(page, cfg, logger),
	}
}

// Click resolves the first interactable candidate and activates it.
func (i *Interactor) Click(ctx context.Context, candidates []Locator, opts ResolveOptions) error {
	opts.RequireInteractable = true
	ref, err := i.Resolve(ctx, candidates, opts)
	if err != nil {
		return err
	}
	return i.Activate(ctx, ref)
}

// FillField resolves an input and enters text into it.
func (i *Interactor) FillField(ctx context.Context, candidates []Locator, text string, opts ResolveOptions) error {
	opts.RequireInteractable = true
	ref, err := i.Resolve(ctx, candidates, opts)
	if err != nil {
		return err
	}
	return i.Fill(ctx, ref, text)
}

// Present reports whether any candidate resolves within the timeout in opts.
// Only context errors are returned.
func (i *Interactor) Present(ctx context.Context, candidates []Locator, opts ResolveOptions) (bool, error) {
	_, err := i.Resolve(ctx, candidates, opts)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}
