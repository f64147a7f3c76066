// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/internal/automation"
	"github.com/xkilldash9x/settle-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is one live, controllable browser tab.
type Session interface {
	automation.Page

	ID() string
	// Alive runs a cheap evaluation to prove the tab still answers.
	Alive(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	ClearCookies(ctx context.Context) error
	// Close releases the tab and the browser process. It is idempotent.
	Close(ctx context.Context) error
}

// ChromeSession is a Session backed by a chromedp-driven Chrome process.
// Each session owns its own allocator, so closing it terminates the process.
type ChromeSession struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         config.BrowserConfig

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ Session = (*ChromeSession)(nil)

// LaunchChrome starts a new Chrome process and opens one tab in it. The
// process outlives ctx; only Close terminates it. Launch is bounded by the
// configured launch timeout.
func LaunchChrome(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeSession, error) {
	sessionID := uuid.New().String()
	log := logger.With(zap.String("session_id", sessionID))

	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), AllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	s := &ChromeSession{
		id:          sessionID,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      log,
		cfg:         cfg,
	}

	var setup chromedp.Tasks
	if cfg.DownloadDir != "" {
		setup = append(setup, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(cfg.DownloadDir).
			WithEventsEnabled(true))
	}

	timeout := cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// The first Run allocates the browser and must use the tab context itself,
	// so the timeout is enforced from outside.
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx, setup) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errc:
		if err != nil {
			s.teardown()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-timer.C:
		s.teardown()
		<-errc
		return nil, fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		s.teardown()
		<-errc
		return nil, ctx.Err()
	}

	log.Info("Browser session started.")
	return s, nil
}

// ID returns the unique identifier for the session.
func (s *ChromeSession) ID() string {
	return s.id
}

// SetOnClose registers a callback that runs once when the session closes.
func (s *ChromeSession) SetOnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

func (s *ChromeSession) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// Close terminates the tab, then the browser process.
func (s *ChromeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	onClose := s.onClose
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// A graceful close asks the browser to exit; the cancels below make sure
	// the process is gone even if that fails.
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()
	select {
	case err := <-done:
		if err != nil {
			s.logger.Debug("Graceful browser close failed.", zap.Error(err))
		}
	case <-ctx.Done():
		s.logger.Debug("Graceful browser close timed out.")
	}
	s.teardown()

	if onClose != nil {
		onClose()
	}
	return nil
}

func (s *ChromeSession) teardown() {
	s.cancel()
	s.allocCancel()
}

// run executes actions bounded by both the session lifetime and ctx.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed() {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Alive implements Session.
func (s *ChromeSession) Alive(ctx context.Context) error {
	timeout := s.cfg.LivenessTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var state string
	if err := s.run(checkCtx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
		return fmt.Errorf("session %s is not responding: %w", s.id, err)
	}
	return nil
}

// Navigate loads url and waits for the load event.
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if s.cfg.NavTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NavTimeout)
		defer cancel()
	}
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the address of the top-level document.
func (s *ChromeSession) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// ClearCookies drops every browser cookie, ending any portal session.
func (s *ChromeSession) ClearCookies(ctx context.Context) error {
	return s.run(ctx, network.ClearBrowserCookies())
}

type frameInfo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Frames implements automation.Page.
func (s *ChromeSession) Frames(ctx context.Context) ([]automation.Frame, error) {
	var infos []frameInfo
	if err := s.run(ctx, chromedp.Evaluate(jsListFrames, &infos)); err != nil {
		return nil, err
	}
	frames := make([]automation.Frame, len(infos))
	for i, fi := range infos {
		frames[i] = automation.Frame{Index: i, Name: fi.Name, ID: fi.ID}
	}
	return frames, nil
}

// Find implements automation.Page. Frames are addressed per query through
// their content document, so no frame switch state is kept.
func (s *ChromeSession) Find(ctx context.Context, frame *automation.Frame, loc automation.Locator) ([]automation.Element, error) {
	var found []automation.Element
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		scope, err := s.documentObject(ctx, frame)
		if err != nil || scope == "" {
			return err
		}
		found, err = s.queryAll(ctx, scope, loc)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return found, nil
}

// documentObject returns the root document, or a frame's content document.
// An empty id means the frame is gone or cross-origin.
func (s *ChromeSession) documentObject(ctx context.Context, frame *automation.Frame) (runtime.RemoteObjectID, error) {
	doc, exc, err := runtime.Evaluate(`document`).Do(ctx)
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", exc
	}
	if frame == nil {
		return doc.ObjectID, nil
	}

	args, err := callArgs(frame.Index)
	if err != nil {
		return "", err
	}
	res, exc, err := runtime.CallFunctionOn(jsFrameDocument).
		WithObjectID(doc.ObjectID).
		WithArguments(args).
		Do(ctx)
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", exc
	}
	if res == nil || res.Subtype == runtime.SubtypeNull {
		return "", nil
	}
	return res.ObjectID, nil
}

// queryAll runs loc relative to the scope object and returns element handles
// in document order.
func (s *ChromeSession) queryAll(ctx context.Context, scope runtime.RemoteObjectID, loc automation.Locator) ([]automation.Element, error) {
	args, err := callArgs(string(loc.By), loc.Value)
	if err != nil {
		return nil, err
	}
	arr, exc, err := runtime.CallFunctionOn(jsQuery).
		WithObjectID(scope).
		WithArguments(args).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, fmt.Errorf("query %s: %w", loc, exc)
	}
	if arr == nil || arr.ObjectID == "" {
		return nil, nil
	}
	defer func() {
		_ = runtime.ReleaseObject(arr.ObjectID).Do(ctx)
	}()

	props, _, _, exc, err := runtime.GetProperties(arr.ObjectID).WithOwnProperties(true).Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, exc
	}

	type indexed struct {
		index int
		id    runtime.RemoteObjectID
	}
	var items []indexed
	for _, p := range props {
		idx, convErr := strconv.Atoi(p.Name)
		if convErr != nil || p.Value == nil || p.Value.ObjectID == "" {
			continue
		}
		items = append(items, indexed{index: idx, id: p.Value.ObjectID})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })

	out := make([]automation.Element, len(items))
	for i, it := range items {
		out[i] = &element{
			session: s,
			id:      it.id,
			desc:    fmt.Sprintf("%s[%d]", loc, it.index),
		}
	}
	return out, nil
}

func callArgs(values ...interface{}) ([]*runtime.CallArgument, error) {
	out := make([]*runtime.CallArgument, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode call argument %d: %w", i, err)
		}
		out[i] = &runtime.CallArgument{Value: jsontext.Value(raw)}
	}
	return out, nil
}
