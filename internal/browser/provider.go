// internal/browser/provider.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/internal/config"
)

const disposeGracePeriod = 10 * time.Second

// Launcher starts new browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// ChromeLauncher launches local Chrome processes.
type ChromeLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewChromeLauncher creates a launcher for the given browser configuration.
func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger.Named("chrome")}
}

// Launch implements Launcher.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	return LaunchChrome(ctx, l.cfg, l.logger)
}

// Provider hands out one live session per run key, replacing sessions that
// stopped answering. A key must only be driven by one run at a time.
type Provider struct {
	launcher Launcher
	logger   *zap.Logger
	attempts int

	mu       sync.Mutex
	sessions map[string]Session
}

// NewProvider creates a session provider.
func NewProvider(launcher Launcher, cfg config.BrowserConfig, logger *zap.Logger) *Provider {
	attempts := cfg.LaunchAttempts
	if attempts <= 0 {
		attempts = 2
	}
	return &Provider{
		launcher: launcher,
		logger:   logger.Named("session_provider"),
		attempts: attempts,
		sessions: make(map[string]Session),
	}
}

// Acquire returns the live session for key, launching one if needed. When
// every launch attempt fails the error wraps ErrSessionUnavailable.
func (p *Provider) Acquire(ctx context.Context, key string) (Session, error) {
	p.mu.Lock()
	current := p.sessions[key]
	p.mu.Unlock()

	if current != nil {
		err := current.Alive(ctx)
		if err == nil {
			return current, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Session stopped responding; replacing it.",
			zap.String("key", key), zap.String("session_id", current.ID()), zap.Error(err))
		cleanupCtx, cancel := context.WithTimeout(Detach(ctx), disposeGracePeriod)
		_ = p.Dispose(cleanupCtx, current)
		cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := p.launcher.Launch(ctx)
		if err == nil {
			p.mu.Lock()
			p.sessions[key] = s
			p.mu.Unlock()
			p.logger.Debug("Session acquired.", zap.String("key", key), zap.String("session_id", s.ID()), zap.Int("attempt", attempt))
			return s, nil
		}
		lastErr = err
		p.logger.Warn("Browser launch failed.", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrSessionUnavailable, p.attempts, lastErr)
}

// Dispose closes s and forgets it. It is safe to call repeatedly and on dead
// sessions, and never touches a different session registered for the same key.
func (p *Provider) Dispose(ctx context.Context, s Session) error {
	if s == nil {
		return nil
	}
	p.mu.Lock()
	for key, registered := range p.sessions {
		if registered == s {
			delete(p.sessions, key)
		}
	}
	p.mu.Unlock()
	return s.Close(ctx)
}

// Shutdown closes every session still registered.
func (p *Provider) Shutdown(ctx context.Context) {
	p.mu.Lock()
	open := make([]Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		open = append(open, s)
	}
	p.sessions = make(map[string]Session)
	p.mu.Unlock()

	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			p.logger.Warn("Failed to close session during shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
}
