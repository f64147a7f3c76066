// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/mocks"
	"github.com/xkilldash9x/settle-cli/internal/orchestrator"
)

// -- Mock Implementations --

// mockRunner simulates the orchestrator.
type mockRunner struct {
	runFunc func(ctx context.Context, req orchestrator.Request) (*schemas.Report, error)

	mu     sync.Mutex
	active int
	peak   int
}

func (m *mockRunner) Run(ctx context.Context, req orchestrator.Request) (*schemas.Report, error) {
	m.mu.Lock()
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.runFunc != nil {
		return m.runFunc(ctx, req)
	}
	return schemas.NewReport(req.RunID, req.Key, time.Now()), nil
}

func (m *mockRunner) peakActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// blockingRunner returns a runner that signals started and then blocks until
// release is closed or its context ends.
func blockingRunner(started chan<- string, release <-chan struct{}) *mockRunner {
	return &mockRunner{
		runFunc: func(ctx context.Context, req orchestrator.Request) (*schemas.Report, error) {
			started <- req.RunID
			select {
			case <-release:
				return schemas.NewReport(req.RunID, req.Key, time.Now()), nil
			case <-ctx.Done():
				r := schemas.NewReport(req.RunID, req.Key, time.Now())
				r.Cancelled = true
				return r, ctx.Err()
			}
		},
	}
}

func newTestEngine(t *testing.T, engineCfg config.EngineConfig, runner Runner) *Engine {
	t.Helper()
	mockCfg := new(mocks.MockConfig)
	mockCfg.On("Engine").Return(engineCfg)

	e, err := New(mockCfg, zaptest.NewLogger(t), runner)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return e
}

// -- Test Suite --

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(nil, zaptest.NewLogger(t), &mockRunner{})
	assert.Error(t, err)
	_, err = New(new(mocks.MockConfig), nil, &mockRunner{})
	assert.Error(t, err)
	_, err = New(new(mocks.MockConfig), zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}

func TestExecute_CompletesAndRecordsStatus(t *testing.T) {
	// -- Setup --
	e := newTestEngine(t, config.EngineConfig{MaxConcurrentRuns: 1, LockTimeout: time.Second}, &mockRunner{})
	e.newID = func() string { return "run-1" }

	// -- Execution --
	report, err := e.Execute(context.Background(), orchestrator.Request{Units: []string{"1001"}})

	// -- Assertions --
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, orchestrator.DefaultKey, report.Key)

	status, err := e.Status("run-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.RunCompleted, status.State)
	assert.Equal(t, []string{"1001"}, status.Units)
	assert.Same(t, report, status.Report)
	assert.False(t, status.FinishedAt.Before(status.StartedAt))
}

func TestExecute_RunnerErrors(t *testing.T) {
	sessionErr := fmt.Errorf("%w: chrome exited", browser.ErrSessionUnavailable)
	runner := &mockRunner{
		runFunc: func(ctx context.Context, req orchestrator.Request) (*schemas.Report, error) {
			r := schemas.NewReport(req.RunID, req.Key, time.Now())
			r.Error = sessionErr.Error()
			return r, sessionErr
		},
	}
	e := newTestEngine(t, config.EngineConfig{LockTimeout: time.Second}, runner)

	report, err := e.Execute(context.Background(), orchestrator.Request{RunID: "r1"})
	assert.ErrorIs(t, err, browser.ErrSessionUnavailable)
	require.NotNil(t, report, "the partial report travels with the error")

	status, err := e.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, schemas.RunFailed, status.State)
	assert.Contains(t, status.Error, "browser session unavailable")
}

func TestDispatch_ReturnsImmediately(t *testing.T) {
	// -- Setup --
	started := make(chan string, 1)
	release := make(chan struct{})
	e := newTestEngine(t, config.EngineConfig{LockTimeout: time.Second}, blockingRunner(started, release))

	// -- Execution --
	runID, err := e.Dispatch(context.Background(), orchestrator.Request{Key: "k"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	<-started

	status, err := e.Status(runID)
	require.NoError(t, err)
	assert.Equal(t, schemas.RunRunning, status.State)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := e.Wait(ctx, runID)

	// -- Assertions --
	require.NoError(t, err)
	assert.Equal(t, schemas.RunCompleted, final.State)
	assert.True(t, final.State.Terminal())
}

func TestDispatch_OutlivesCallerContext(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	e := newTestEngine(t, config.EngineConfig{LockTimeout: time.Second}, blockingRunner(started, release))

	ctx, cancel := context.WithCancel(context.Background())
	runID, err := e.Dispatch(ctx, orchestrator.Request{})
	require.NoError(t, err)
	<-started
	cancel()

	close(release)
	final, err := e.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schemas.RunCompleted, final.State)
}

func TestSameKey_FailsWithRunInProgress(t *testing.T) {
	// -- Setup --
	started := make(chan string, 2)
	release := make(chan struct{})
	e := newTestEngine(t, config.EngineConfig{MaxConcurrentRuns: 4, LockTimeout: 50 * time.Millisecond},
		blockingRunner(started, release))

	first, err := e.Dispatch(context.Background(), orchestrator.Request{RunID: "first", Key: "portal"})
	require.NoError(t, err)
	<-started

	// -- Execution --
	_, err = e.Execute(context.Background(), orchestrator.Request{RunID: "second", Key: "portal"})

	// -- Assertions --
	assert.ErrorIs(t, err, ErrRunInProgress)
	status, _ := e.Status("second")
	assert.Equal(t, schemas.RunFailed, status.State)

	close(release)
	final, err := e.Wait(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, schemas.RunCompleted, final.State)

	// The lock is free again once the first run is done.
	started2 := make(chan string, 1)
	e.runner = blockingRunner(started2, release)
	_, err = e.Execute(context.Background(), orchestrator.Request{RunID: "third", Key: "portal"})
	assert.NoError(t, err)
}

func TestSameKey_WaitsWithinLockTimeout(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})
	e := newTestEngine(t, config.EngineConfig{MaxConcurrentRuns: 4, LockTimeout: 5 * time.Second},
		blockingRunner(started, release))

	_, err := e.Dispatch(context.Background(), orchestrator.Request{RunID: "first", Key: "portal"})
	require.NoError(t, err)
	<-started

	second, err := e.Dispatch(context.Background(), orchestrator.Request{RunID: "second", Key: "portal"})
	require.NoError(t, err)

	select {
	case id := <-started:
		t.Fatalf("run %s started while the key was held", id)
	case <-time.After(50 * time.Millisecond):
	}
	status, _ := e.Status(second)
	assert.Equal(t, schemas.RunPending, status.State)

	close(release)
	final, err := e.Wait(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, schemas.RunCompleted, final.State)
}

func TestDifferentKeys_BoundedByMaxConcurrentRuns(t *testing.T) {
	started := make(chan string, 3)
	release := make(chan struct{})
	runner := blockingRunner(started, release)
	e := newTestEngine(t, config.EngineConfig{MaxConcurrentRuns: 2, LockTimeout: time.Second}, runner)

	var ids []string
	for _, key := range []string{"a", "b", "c"} {
		id, err := e.Dispatch(context.Background(), orchestrator.Request{Key: key})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	<-started
	<-started

	select {
	case id := <-started:
		t.Fatalf("run %s exceeded the concurrency limit", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for _, id := range ids {
		final, err := e.Wait(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, schemas.RunCompleted, final.State)
	}
	assert.Equal(t, 2, runner.peakActive())
}

func TestCancel(t *testing.T) {
	started := make(chan string, 1)
	e := newTestEngine(t, config.EngineConfig{LockTimeout: time.Second}, blockingRunner(started, make(chan struct{})))

	runID, err := e.Dispatch(context.Background(), orchestrator.Request{})
	require.NoError(t, err)
	<-started

	require.NoError(t, e.Cancel(runID))
	final, err := e.Wait(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schemas.RunCancelled, final.State)
	require.NotNil(t, final.Report)
	assert.True(t, final.Report.Cancelled)
}

func TestRunTimeout(t *testing.T) {
	runner := &mockRunner{
		runFunc: func(ctx context.Context, req orchestrator.Request) (*schemas.Report, error) {
			<-ctx.Done()
			return schemas.NewReport(req.RunID, req.Key, time.Now()), ctx.Err()
		},
	}
	e := newTestEngine(t, config.EngineConfig{LockTimeout: time.Second, RunTimeout: 30 * time.Millisecond}, runner)

	_, err := e.Execute(context.Background(), orchestrator.Request{RunID: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	status, _ := e.Status("slow")
	assert.Equal(t, schemas.RunCancelled, status.State)
}

func TestUnknownRun(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{}, &mockRunner{})

	_, err := e.Status("nope")
	assert.ErrorIs(t, err, ErrUnknownRun)
	_, err = e.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownRun)
	assert.ErrorIs(t, e.Cancel("nope"), ErrUnknownRun)
}

func TestDuplicateRunID(t *testing.T) {
	e := newTestEngine(t, config.EngineConfig{LockTimeout: time.Second}, &mockRunner{})
	_, err := e.Execute(context.Background(), orchestrator.Request{RunID: "same"})
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), orchestrator.Request{RunID: "same"})
	assert.Error(t, err)
}

func TestStop_CancelsInFlightRunsWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	// -- Setup --
	started := make(chan string, 2)
	mockCfg := new(mocks.MockConfig)
	mockCfg.On("Engine").Return(config.EngineConfig{MaxConcurrentRuns: 2, LockTimeout: time.Second})
	e, err := New(mockCfg, zaptest.NewLogger(t), blockingRunner(started, make(chan struct{})))
	require.NoError(t, err)

	a, err := e.Dispatch(context.Background(), orchestrator.Request{Key: "a"})
	require.NoError(t, err)
	b, err := e.Dispatch(context.Background(), orchestrator.Request{Key: "b"})
	require.NoError(t, err)
	<-started
	<-started

	// -- Execution --
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))

	// -- Assertions --
	for _, id := range []string{a, b} {
		status, err := e.Status(id)
		require.NoError(t, err)
		assert.Equal(t, schemas.RunCancelled, status.State)
	}
	_, err = e.Dispatch(context.Background(), orchestrator.Request{})
	assert.True(t, errors.Is(err, ErrStopped))
}
