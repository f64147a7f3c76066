// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/internal/artifact"
	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/engine"
	"github.com/xkilldash9x/settle-cli/internal/orchestrator"
	"github.com/xkilldash9x/settle-cli/internal/source"
)

// ComponentFactory creates the components a command needs. Commands depend on
// the interface so tests can inject fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct {
	launcher func(cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher
}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{
		launcher: func(cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher {
			return browser.NewChromeLauncher(cfg, logger)
		},
	}
}

// Create wires record source, credentials, browser provider, artifact
// collector, orchestrator and engine. No browser is started here; sessions
// are launched lazily by the first run.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Records
	records, pool, err := InitializeRecordSource(ctx, cfg, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize record source: %w", err)
		return nil, initializationErr
	}
	components.Records = records
	components.DBPool = pool

	// 2. Credentials
	components.Credentials = source.NewConfigCredentials(cfg.Units())

	// 3. Browser sessions
	components.Sessions = browser.NewProvider(f.launcher(cfg.Browser(), logger), cfg.Browser(), logger)
	logger.Debug("Browser provider initialized.")

	// 4. Artifacts
	collector, err := artifact.NewCollector(cfg.Browser().DownloadDir, cfg.Artifacts(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize artifact collector: %w", err)
		return nil, initializationErr
	}
	components.Artifacts = collector

	// 5. Orchestrator
	orch, err := orchestrator.New(cfg, logger, orchestrator.Deps{
		Sessions:    components.Sessions,
		Flows:       orchestrator.PortalFlows(cfg, logger),
		Records:     components.Records,
		Credentials: components.Credentials,
		Artifacts:   collector,
	})
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch

	// 6. Engine
	eng, err := engine.New(cfg, logger, orch)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = eng

	logger.Info("All components initialized successfully.")
	return components, nil
}
