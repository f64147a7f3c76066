package portal_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/automation"
	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/mocks"
	"github.com/xkilldash9x/settle-cli/internal/portal"
)

const baseURL = "https://portal.example/#/login"

type fakeBrowser struct {
	*mocks.FakePage

	mu          sync.Mutex
	url         string
	navigations []string
	cookies     int
	navCalls    int
	navErr      error
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{FakePage: mocks.NewFakePage()}
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navCalls++
	if b.navErr != nil {
		return b.navErr
	}
	b.url = url
	b.navigations = append(b.navigations, url)
	return nil
}

func (b *fakeBrowser) CurrentURL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url, nil
}

func (b *fakeBrowser) ClearCookies(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies++
	return nil
}

func (b *fakeBrowser) setURL(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.url = u
}

func portalConfig() config.PortalConfig {
	return config.PortalConfig{
		BaseURL:           baseURL,
		LoginURLFragment:  "login",
		LoginTimeout:      100 * time.Millisecond,
		UsernameField:     []string{"#user"},
		PasswordField:     []string{"#pass"},
		SubmitButton:      []string{"#missing-submit", "#submit"},
		LoggedInMarker:    []string{"app-sidebar"},
		PopupClose:        []string{".dialog-close"},
		ModuleMenu:        [][]string{{"#menu-fidc"}, {"#menu-open"}},
		ModuleReadyMarker: []string{"table"},
		UnitSearchField:   []string{"#unit"},
		UnitSearchOption:  []string{"xpath=//mat-option[contains(., '{term}')]"},
		UnitSearchPrefix:  6,
		SearchButton:      []string{"#search"},
		GenerateButton:    []string{"#generate"},
		GenerateTimeout:   50 * time.Millisecond,
		DownloadButton:    []string{"xpath=//tr[contains(., '{id}')]//button"},
		LogoutButton:      []string{"#logout"},
	}
}

func automationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		ElementTimeout: 40 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		ActionTimeout:  time.Second,
		RetryAttempts:  2,
		RetryBackoff:   time.Millisecond,
	}
}

func newPortal(t *testing.T, b *fakeBrowser, cfg config.PortalConfig) *portal.Portal {
	t.Helper()
	return portal.New(b, cfg, automationConfig(), zaptest.NewLogger(t))
}

// loginForm places a login form whose submit button authenticates when
// accept is true.
func loginForm(b *fakeBrowser, accept bool) (user, pass, submit *mocks.FakeElement) {
	user = mocks.NewFakeElement("user")
	pass = mocks.NewFakeElement("pass")
	submit = mocks.NewFakeElement("submit")
	submit.OnClick = func(string) {
		if !accept {
			return
		}
		b.setURL("https://portal.example/#/home")
		b.Put(automation.CSS("app-sidebar"), mocks.NewFakeElement("sidebar"))
	}
	b.Put(automation.CSS("#user"), user)
	b.Put(automation.CSS("#pass"), pass)
	b.Put(automation.CSS("#submit"), submit)
	return user, pass, submit
}

func TestLogin_Success(t *testing.T) {
	b := newFakeBrowser()
	user, pass, submit := loginForm(b, true)
	p := newPortal(t, b, portalConfig())

	err := p.Login(context.Background(), schemas.Credentials{Username: "unit01", Password: "s3cret"})
	require.NoError(t, err)

	assert.Equal(t, "unit01", user.Value())
	assert.Equal(t, "s3cret", pass.Value())
	assert.Equal(t, []string{"native"}, submit.Clicks())
	assert.Equal(t, []string{baseURL}, b.navigations)
}

func TestLogin_Rejected(t *testing.T) {
	b := newFakeBrowser()
	loginForm(b, false)
	p := newPortal(t, b, portalConfig())

	err := p.Login(context.Background(), schemas.Credentials{Username: "unit01", Password: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrLoginFailed)
}

func TestLogin_MissingField(t *testing.T) {
	b := newFakeBrowser()
	p := newPortal(t, b, portalConfig())

	err := p.Login(context.Background(), schemas.Credentials{Username: "unit01", Password: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrLoginFailed)
	assert.ErrorIs(t, err, automation.ErrElementNotFound)
}

func TestLogin_NavigationRetried(t *testing.T) {
	b := newFakeBrowser()
	b.navErr = errors.New("net::ERR_CONNECTION_RESET")
	p := newPortal(t, b, portalConfig())

	err := p.Login(context.Background(), schemas.Credentials{Username: "unit01"})
	assert.ErrorIs(t, err, portal.ErrLoginFailed)
	assert.ErrorContains(t, err, "ERR_CONNECTION_RESET")
	assert.Equal(t, 2, b.navCalls)
}

func TestLogin_ClosedSessionIsNotRetried(t *testing.T) {
	b := newFakeBrowser()
	b.navErr = fmt.Errorf("navigate: %w", browser.ErrSessionClosed)
	p := newPortal(t, b, portalConfig())

	err := p.Login(context.Background(), schemas.Credentials{Username: "unit01"})
	assert.ErrorIs(t, err, portal.ErrLoginFailed)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	assert.Equal(t, 1, b.navCalls)
}

func TestLogin_Cancelled(t *testing.T) {
	b := newFakeBrowser()
	loginForm(b, false)
	p := newPortal(t, b, portalConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Login(ctx, schemas.Credentials{Username: "unit01"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, portal.ErrLoginFailed)
}

func TestDismissPopups(t *testing.T) {
	b := newFakeBrowser()
	var dialogs []*mocks.FakeElement
	for _, name := range []string{"notice", "survey"} {
		d := mocks.NewFakeElement(name)
		d.OnClick = func(string) { d.SetHidden(true) }
		dialogs = append(dialogs, d)
	}
	b.Put(automation.CSS(".dialog-close"), dialogs...)
	p := newPortal(t, b, portalConfig())

	assert.Equal(t, 2, p.DismissPopups(context.Background()))
	for _, d := range dialogs {
		assert.Len(t, d.Clicks(), 1)
	}
}

func TestDismissPopups_NoneShown(t *testing.T) {
	b := newFakeBrowser()
	p := newPortal(t, b, portalConfig())
	assert.Zero(t, p.DismissPopups(context.Background()))
}

func TestOpenModule(t *testing.T) {
	b := newFakeBrowser()
	fidc := mocks.NewFakeElement("fidc")
	open := mocks.NewFakeElement("open")
	b.Put(automation.CSS("#menu-fidc"), fidc)
	open.OnClick = func(string) { b.Put(automation.CSS("table"), mocks.NewFakeElement("grid")) }
	b.Put(automation.CSS("#menu-open"), open)
	p := newPortal(t, b, portalConfig())

	require.NoError(t, p.OpenModule(context.Background()))
	assert.Len(t, fidc.Clicks(), 1)
	assert.Len(t, open.Clicks(), 1)
}

func TestOpenModule_InFrame(t *testing.T) {
	b := newFakeBrowser()
	idx := b.AddFrame("content", "main")
	b.PutInFrame(idx, automation.CSS("#menu-fidc"), mocks.NewFakeElement("fidc"))
	b.PutInFrame(idx, automation.CSS("#menu-open"), mocks.NewFakeElement("open"))
	b.PutInFrame(idx, automation.CSS("table"), mocks.NewFakeElement("grid"))

	cfg := portalConfig()
	cfg.UseFramesForModule = true
	p := newPortal(t, b, cfg)

	require.NoError(t, p.OpenModule(context.Background()))
	assert.Equal(t, []int{idx}, b.QueriedFrames())
}

func TestOpenModule_MenuMissing(t *testing.T) {
	b := newFakeBrowser()
	b.Put(automation.CSS("#menu-fidc"), mocks.NewFakeElement("fidc"))
	p := newPortal(t, b, portalConfig())

	err := p.OpenModule(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, portal.ErrNavigationFailed)
	assert.ErrorContains(t, err, "menu step 2")
}

func TestOpenModule_NotReady(t *testing.T) {
	b := newFakeBrowser()
	b.Put(automation.CSS("#menu-fidc"), mocks.NewFakeElement("fidc"))
	b.Put(automation.CSS("#menu-open"), mocks.NewFakeElement("open"))
	p := newPortal(t, b, portalConfig())

	assert.ErrorIs(t, p.OpenModule(context.Background()), portal.ErrNavigationFailed)
}

func TestFilterUnit(t *testing.T) {
	b := newFakeBrowser()
	field := mocks.NewFakeElement("unit")
	option := mocks.NewFakeElement("option")
	search := mocks.NewFakeElement("search")
	b.Put(automation.CSS("#unit"), field)
	b.Put(automation.XPath("//mat-option[contains(., 'AUTO NORTE LTDA')]"), option)
	b.Put(automation.CSS("#search"), search)
	p := newPortal(t, b, portalConfig())

	require.NoError(t, p.FilterUnit(context.Background(), "AUTO NORTE LTDA"))
	assert.Equal(t, "AUTO N", field.Value(), "only the configured prefix is typed")
	assert.Len(t, option.Clicks(), 1)
	assert.Len(t, search.Clicks(), 1)
}

func TestFilterUnit_EmptyTerm(t *testing.T) {
	b := newFakeBrowser()
	p := newPortal(t, b, portalConfig())
	require.NoError(t, p.FilterUnit(context.Background(), "  "))
	assert.Empty(t, b.Queries())
}

func TestFilterUnit_OptionMissing(t *testing.T) {
	b := newFakeBrowser()
	b.Put(automation.CSS("#unit"), mocks.NewFakeElement("unit"))
	p := newPortal(t, b, portalConfig())

	assert.ErrorIs(t, p.FilterUnit(context.Background(), "AUTO NORTE"), portal.ErrNavigationFailed)
}

func TestGenerate(t *testing.T) {
	b := newFakeBrowser()
	gen := mocks.NewFakeElement("generate")
	b.Put(automation.CSS("#generate"), gen)
	p := newPortal(t, b, portalConfig())

	require.NoError(t, p.Generate(context.Background()))
	assert.Len(t, gen.Clicks(), 1)

	b.Replace(automation.CSS("#generate"))
	err := p.Generate(context.Background())
	assert.ErrorIs(t, err, automation.ErrElementNotFound)
}

func TestDownload(t *testing.T) {
	b := newFakeBrowser()
	btn := mocks.NewFakeElement("pdf")
	b.Put(automation.XPath("//tr[contains(., '4711')]//button"), btn)
	p := newPortal(t, b, portalConfig())

	require.NoError(t, p.Download(context.Background(), "4711"))
	assert.Len(t, btn.Clicks(), 1)
	assert.Error(t, p.Download(context.Background(), "9999"))
}

func TestLogout(t *testing.T) {
	t.Run("uses logout control", func(t *testing.T) {
		b := newFakeBrowser()
		btn := mocks.NewFakeElement("logout")
		b.Put(automation.CSS("#logout"), btn)
		p := newPortal(t, b, portalConfig())

		require.NoError(t, p.Logout(context.Background()))
		assert.Len(t, btn.Clicks(), 1)
		assert.Zero(t, b.cookies)
	})

	t.Run("falls back to clearing the session", func(t *testing.T) {
		b := newFakeBrowser()
		p := newPortal(t, b, portalConfig())

		require.NoError(t, p.Logout(context.Background()))
		assert.Equal(t, 1, b.cookies)
		assert.Equal(t, []string{baseURL}, b.navigations)
	})
}
