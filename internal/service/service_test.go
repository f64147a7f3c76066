package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/observability"
)

func TestMain(m *testing.M) {
	cfg := config.NewDefaultConfig()
	observability.InitializeLogger(cfg.Logger())

	exitCode := m.Run()

	observability.Sync()
	os.Exit(exitCode)
}

const recordsDoc = `
units:
  UNIT01:
    - {id: "4711", value: 1234.56}
    - {id: "4712", value: 99}
`

// testConfig returns a config whose paths all live under a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte(recordsDoc), 0o644))

	cfg := config.NewDefaultConfig()
	cfg.RecordsCfg.Source = "file"
	cfg.RecordsCfg.File = path
	cfg.BrowserCfg.DownloadDir = filepath.Join(dir, "downloads")
	cfg.ArtifactsCfg.OutputDir = filepath.Join(dir, "artifacts")
	return cfg
}

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) Stop(ctx context.Context) error {
	r.calls = append(r.calls, "engine")
	return r.err
}

func (r *recorder) Shutdown(ctx context.Context) {
	r.calls = append(r.calls, "browsers")
}

type nopLauncher struct{}

func (nopLauncher) Launch(ctx context.Context) (browser.Session, error) {
	return nil, errors.New("no browser in tests")
}

func TestComponents_ShutdownOrder(t *testing.T) {
	rec := &recorder{err: errors.New("timeout")}
	c := &Components{stopper: rec, closer: rec}

	c.Shutdown()

	assert.Equal(t, []string{"engine", "browsers"}, rec.calls)
}

func TestComponents_ShutdownEmpty(t *testing.T) {
	assert.NotPanics(t, func() { (&Components{}).Shutdown() })
}

func TestInitializeRecordSource(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("File", func(t *testing.T) {
		cfg := testConfig(t)
		src, pool, err := InitializeRecordSource(ctx, cfg, logger)
		require.NoError(t, err)
		assert.Nil(t, pool)

		units, err := src.Units(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"UNIT01"}, units)
	})

	t.Run("MissingFile", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RecordsCfg.File = ""
		_, _, err := InitializeRecordSource(ctx, cfg, logger)
		assert.ErrorContains(t, err, "records.file")
	})

	t.Run("PostgresWithoutURL", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RecordsCfg.Source = "postgres"
		cfg.DatabaseCfg.URL = ""
		_, _, err := InitializeRecordSource(ctx, cfg, logger)
		assert.ErrorContains(t, err, "database URL is not configured")
	})

	t.Run("Unsupported", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RecordsCfg.Source = "excel"
		_, _, err := InitializeRecordSource(ctx, cfg, logger)
		assert.ErrorContains(t, err, "unsupported record source")
	})
}

func TestCreate(t *testing.T) {
	factory := &concreteFactory{
		launcher: func(config.BrowserConfig, *zap.Logger) browser.Launcher { return nopLauncher{} },
	}

	t.Run("FileSource", func(t *testing.T) {
		cfg := testConfig(t)
		components, err := factory.Create(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer components.Shutdown()

		assert.NotNil(t, components.Engine)
		assert.NotNil(t, components.Orchestrator)
		assert.NotNil(t, components.Sessions)
		assert.NotNil(t, components.Artifacts)
		assert.NotNil(t, components.Credentials)
		assert.Nil(t, components.DBPool)
		assert.DirExists(t, cfg.BrowserCfg.DownloadDir)
	})

	t.Run("BadRecords", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RecordsCfg.File = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := factory.Create(context.Background(), cfg, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "failed to initialize record source")
	})

	t.Run("BadCap", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PlannerCfg.Cap = "-1"
		_, err := factory.Create(context.Background(), cfg, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "failed to create orchestrator")
	})
}

func TestNewComponentFactory(t *testing.T) {
	f, ok := NewComponentFactory().(*concreteFactory)
	require.True(t, ok)
	l := f.launcher(config.NewDefaultConfig().Browser(), zaptest.NewLogger(t))
	assert.IsType(t, &browser.ChromeLauncher{}, l)
}
