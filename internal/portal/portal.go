// Package portal drives the settlement portal's own screens: login, module
// navigation, the unit filter, document generation and logout. Every control
// is located through configured fallback candidates.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/automation"
	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/config"
)

var (
	// ErrLoginFailed means the portal did not reach its authenticated state.
	ErrLoginFailed = errors.New("login failed")
	// ErrNavigationFailed means the module or unit filter could not be reached.
	ErrNavigationFailed = errors.New("navigation failed")
)

const maxPopups = 3

// Browser is the part of a UI session the portal flows need.
type Browser interface {
	automation.Page
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	ClearCookies(ctx context.Context) error
}

// Portal runs the portal flows over one browser session.
type Portal struct {
	page   Browser
	in     *automation.Interactor
	cfg    config.PortalConfig
	retry  automation.Retry
	scope  automation.Scope
	logger *zap.Logger

	pollInterval time.Duration
	probeTimeout time.Duration
}

// New creates the portal flows for page.
func New(page Browser, cfg config.PortalConfig, auto config.AutomationConfig, logger *zap.Logger) *Portal {
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := auto.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	probe := auto.ElementTimeout / 5
	if probe < poll {
		probe = poll
	}
	scope := automation.Root()
	if cfg.UseFramesForModule {
		scope = automation.AnyFrame()
	}
	return &Portal{
		page:         page,
		in:           automation.NewInteractor(page, auto, logger),
		cfg:          cfg,
		retry:        automation.RetryFromConfig(auto),
		scope:        scope,
		logger:       logger.Named("portal"),
		pollInterval: poll,
		probeTimeout: probe,
	}
}

// Scope is where module screens are searched for, including the data table.
func (p *Portal) Scope() automation.Scope { return p.scope }

// Login opens the portal and authenticates. It succeeds once the address
// has left the login page and the authenticated marker is present.
func (p *Portal) Login(ctx context.Context, creds schemas.Credentials) error {
	log := p.logger.With(zap.String("username", creds.Username))

	err := p.retry.Do(ctx, func(ctx context.Context) error {
		return retryable(p.page.Navigate(ctx, p.cfg.BaseURL))
	})
	if err != nil {
		return p.fail(ctx, ErrLoginFailed, "open portal", err)
	}

	root := automation.ResolveOptions{Scope: automation.Root()}
	if err := p.in.FillField(ctx, automation.ParseLocators(p.cfg.UsernameField), creds.Username, root); err != nil {
		return p.fail(ctx, ErrLoginFailed, "username field", err)
	}
	if err := p.in.FillField(ctx, automation.ParseLocators(p.cfg.PasswordField), creds.Password, root); err != nil {
		return p.fail(ctx, ErrLoginFailed, "password field", err)
	}
	if err := p.in.Click(ctx, automation.ParseLocators(p.cfg.SubmitButton), root); err != nil {
		return p.fail(ctx, ErrLoginFailed, "submit", err)
	}

	timeout := p.cfg.LoginTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ok, err := p.waitFor(ctx, timeout, p.loggedIn)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: portal still on login page after %s", ErrLoginFailed, timeout)
	}
	log.Info("Logged in.")
	return nil
}

func (p *Portal) loggedIn(ctx context.Context) bool {
	u, err := p.page.CurrentURL(ctx)
	if err != nil {
		return false
	}
	if p.cfg.LoginURLFragment != "" && strings.Contains(u, p.cfg.LoginURLFragment) {
		return false
	}
	markers := automation.ParseLocators(p.cfg.LoggedInMarker)
	if len(markers) == 0 {
		return true
	}
	present, _ := p.in.Present(ctx, markers, automation.ResolveOptions{Scope: automation.Root(), Timeout: p.pollInterval})
	return present
}

// DismissPopups closes up to a few notice dialogs shown after login and
// returns how many were closed. Failures are ignored.
func (p *Portal) DismissPopups(ctx context.Context) int {
	candidates := automation.ParseLocators(p.cfg.PopupClose)
	if len(candidates) == 0 {
		return 0
	}
	closed := 0
	for closed < maxPopups {
		err := p.in.Click(ctx, candidates, automation.ResolveOptions{Scope: automation.Root(), Timeout: p.probeTimeout})
		if err != nil {
			break
		}
		closed++
	}
	if closed > 0 {
		p.logger.Debug("Dismissed popups.", zap.Int("count", closed))
	}
	return closed
}

// OpenModule walks the configured menu path and waits for the module's
// ready marker.
func (p *Portal) OpenModule(ctx context.Context) error {
	opts := automation.ResolveOptions{Scope: p.scope}
	for i, step := range p.cfg.ModuleMenu {
		candidates := automation.ParseLocators(step)
		if len(candidates) == 0 {
			continue
		}
		err := p.retry.Do(ctx, func(ctx context.Context) error {
			return retryable(p.in.Click(ctx, candidates, opts))
		})
		if err != nil {
			return p.fail(ctx, ErrNavigationFailed, fmt.Sprintf("menu step %d", i+1), err)
		}
	}

	ready := automation.ParseLocators(p.cfg.ModuleReadyMarker)
	if len(ready) == 0 {
		return nil
	}
	present, err := p.in.Present(ctx, ready, opts)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("%w: module did not become ready", ErrNavigationFailed)
	}
	p.logger.Debug("Module opened.")
	return nil
}

// FilterUnit narrows the module's listing to one unit by typing a prefix of
// term into the autocomplete, picking the suggestion and searching. An empty
// term or an unconfigured filter is a no-op.
func (p *Portal) FilterUnit(ctx context.Context, term string) error {
	term = strings.TrimSpace(term)
	field := automation.ParseLocators(p.cfg.UnitSearchField)
	if term == "" || len(field) == 0 {
		return nil
	}
	opts := automation.ResolveOptions{Scope: p.scope}

	typed := term
	if n := p.cfg.UnitSearchPrefix; n > 0 {
		if r := []rune(term); len(r) > n {
			typed = string(r[:n])
		}
	}
	if err := p.in.FillField(ctx, field, typed, opts); err != nil {
		return p.fail(ctx, ErrNavigationFailed, "unit search field", err)
	}

	if options := automation.WithAll(automation.ParseLocators(p.cfg.UnitSearchOption), "term", term); len(options) > 0 {
		err := p.retry.Do(ctx, func(ctx context.Context) error {
			return retryable(p.in.Click(ctx, options, opts))
		})
		if err != nil {
			return p.fail(ctx, ErrNavigationFailed, "unit search option", err)
		}
	}

	if button := automation.ParseLocators(p.cfg.SearchButton); len(button) > 0 {
		if err := p.in.Click(ctx, button, opts); err != nil {
			return p.fail(ctx, ErrNavigationFailed, "search button", err)
		}
	}
	if err := p.in.WaitForOverlays(ctx); err != nil {
		return err
	}
	p.logger.Debug("Unit filter applied.", zap.String("term", term))
	return nil
}

// Generate triggers document generation for the current selection and waits,
// up to the generation timeout, for the portal's busy overlay to clear.
func (p *Portal) Generate(ctx context.Context) error {
	opts := automation.ResolveOptions{Scope: p.scope}
	if err := p.in.Click(ctx, automation.ParseLocators(p.cfg.GenerateButton), opts); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if p.cfg.GenerateTimeout <= 0 {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()
	if err := p.in.WaitForOverlays(waitCtx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Download clicks the download control of the generated group whose first
// record is firstID.
func (p *Portal) Download(ctx context.Context, firstID string) error {
	candidates := automation.WithAll(automation.ParseLocators(p.cfg.DownloadButton), "id", firstID)
	if len(candidates) == 0 {
		return fmt.Errorf("download: no download control configured")
	}
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		return retryable(p.in.Click(ctx, candidates, automation.ResolveOptions{Scope: p.scope}))
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", firstID, err)
	}
	return nil
}

// Logout ends the portal session. When the logout control cannot be used it
// clears cookies and returns to the base address instead.
func (p *Portal) Logout(ctx context.Context) error {
	if candidates := automation.ParseLocators(p.cfg.LogoutButton); len(candidates) > 0 {
		err := p.in.Click(ctx, candidates, automation.ResolveOptions{Scope: p.scope, Timeout: p.probeTimeout})
		if err == nil {
			p.logger.Debug("Logged out.")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("Logout control unavailable; clearing session.", zap.Error(err))
	}

	if err := p.page.ClearCookies(ctx); err != nil {
		return fmt.Errorf("logout: clear cookies: %w", err)
	}
	if p.cfg.BaseURL != "" {
		if err := p.page.Navigate(ctx, p.cfg.BaseURL); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	return nil
}

// retryable stops retries once the tab behind the session is gone.
func retryable(err error) error {
	if errors.Is(err, browser.ErrSessionClosed) {
		return backoff.Permanent(err)
	}
	return err
}

// fail wraps err with kind, keeping context errors unwrapped.
func (p *Portal) fail(ctx context.Context, kind error, step string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %w", kind, step, err)
}

// waitFor polls cond until it holds or timeout elapses.
func (p *Portal) waitFor(ctx context.Context, timeout time.Duration, cond func(context.Context) bool) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if cond(ctx) {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}
