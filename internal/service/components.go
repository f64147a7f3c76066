// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/internal/artifact"
	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/engine"
	"github.com/xkilldash9x/settle-cli/internal/observability"
	"github.com/xkilldash9x/settle-cli/internal/orchestrator"
	"github.com/xkilldash9x/settle-cli/internal/source"
)

const shutdownTimeout = 30 * time.Second

// Stopper is the part of the engine Shutdown needs.
type Stopper interface {
	Stop(ctx context.Context) error
}

// SessionCloser is the part of the browser provider Shutdown needs.
type SessionCloser interface {
	Shutdown(ctx context.Context)
}

// Components holds everything a settlement run needs and releases it in order.
type Components struct {
	Engine       *engine.Engine
	Orchestrator *orchestrator.Orchestrator
	Sessions     *browser.Provider
	Records      source.RecordSource
	Credentials  source.CredentialSource
	Artifacts    *artifact.Collector
	DBPool       *pgxpool.Pool

	// stopper and closer default to Engine and Sessions; tests replace them.
	stopper Stopper
	closer  SessionCloser
}

// Shutdown stops the engine first so no run starts a new browser, then closes
// the browsers, then the database pool.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopper := c.stopper
	if stopper == nil && c.Engine != nil {
		stopper = c.Engine
	}
	if stopper != nil {
		if err := stopper.Stop(ctx); err != nil {
			logger.Warn("Engine did not stop cleanly.", zap.Error(err))
		} else {
			logger.Debug("Engine stopped.")
		}
	}

	closer := c.closer
	if closer == nil && c.Sessions != nil {
		closer = c.Sessions
	}
	if closer != nil {
		closer.Shutdown(ctx)
		logger.Debug("Browser sessions closed.")
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down successfully.")
}
