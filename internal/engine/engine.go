// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/orchestrator"
)

var (
	// ErrRunInProgress means another run holds the lock for the same key.
	ErrRunInProgress = errors.New("a run with the same key is already in progress")
	// ErrUnknownRun is returned for run ids the engine never issued.
	ErrUnknownRun = errors.New("unknown run")
	// ErrStopped is returned when work is submitted after Stop.
	ErrStopped = errors.New("engine stopped")
)

const defaultMaxConcurrentRuns = 2

// Runner executes one run. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*schemas.Report, error)
}

type run struct {
	status schemas.RunStatus
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine schedules runs. Runs sharing a key are mutually exclusive because
// they would drive the same browser session; runs with different keys proceed
// in parallel up to the configured limit.
type Engine struct {
	cfg    config.Interface
	logger *zap.Logger
	runner Runner
	slots  *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc
	group      errgroup.Group

	mu      sync.Mutex
	locks   map[string]*semaphore.Weighted
	runs    map[string]*run
	stopped bool

	newID func() string
	now   func() time.Time
}

// New creates an Engine.
func New(cfg config.Interface, logger *zap.Logger, runner Runner) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}

	limit := cfg.Engine().MaxConcurrentRuns
	if limit <= 0 {
		limit = defaultMaxConcurrentRuns
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "engine")),
		runner:     runner,
		slots:      semaphore.NewWeighted(int64(limit)),
		baseCtx:    ctx,
		baseCancel: cancel,
		locks:      make(map[string]*semaphore.Weighted),
		runs:       make(map[string]*run),
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Execute runs req synchronously and returns its report. The run is cancelled
// when ctx is done or the engine stops.
func (e *Engine) Execute(ctx context.Context, req orchestrator.Request) (*schemas.Report, error) {
	r, req, err := e.register(req)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := browser.CombineContext(ctx, r.ctx)
	defer cancel()
	return e.execute(runCtx, r, req)
}

// Dispatch starts req in the background and returns its run id immediately.
// The run outlives ctx; use Cancel or Stop to end it early.
func (e *Engine) Dispatch(ctx context.Context, req orchestrator.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r, req, err := e.register(req)
	if err != nil {
		return "", err
	}
	e.group.Go(func() error {
		_, _ = e.execute(r.ctx, r, req)
		return nil
	})
	e.logger.Info("Run dispatched.", zap.String("run_id", req.RunID), zap.String("key", req.Key))
	return req.RunID, nil
}

func (e *Engine) register(req orchestrator.Request) (*run, orchestrator.Request, error) {
	if req.Key == "" {
		req.Key = orchestrator.DefaultKey
	}
	if req.RunID == "" {
		req.RunID = e.newID()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, req, ErrStopped
	}
	if _, exists := e.runs[req.RunID]; exists {
		return nil, req, fmt.Errorf("run id %q already used", req.RunID)
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	r := &run{
		ctx:    ctx,
		cancel: cancel,
		status: schemas.RunStatus{
			RunID:     req.RunID,
			Key:       req.Key,
			State:     schemas.RunPending,
			Units:     append([]string(nil), req.Units...),
			CreatedAt: e.now(),
		},
		done: make(chan struct{}),
	}
	e.runs[req.RunID] = r
	return r, req, nil
}

func (e *Engine) lockFor(key string) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		e.locks[key] = l
	}
	return l
}

func (e *Engine) execute(ctx context.Context, r *run, req orchestrator.Request) (report *schemas.Report, err error) {
	logger := e.logger.With(zap.String("run_id", req.RunID), zap.String("key", req.Key))
	defer r.cancel()
	defer func() { e.finish(r, report, err, logger) }()

	if err := e.acquireKey(ctx, req.Key); err != nil {
		return nil, err
	}
	defer e.lockFor(req.Key).Release(1)

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.slots.Release(1)

	if timeout := e.cfg.Engine().RunTimeout; timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, timeout)
		defer timeoutCancel()
	}

	e.mu.Lock()
	r.status.State = schemas.RunRunning
	r.status.StartedAt = e.now()
	e.mu.Unlock()
	logger.Info("Run started.")

	return e.runner.Run(ctx, req)
}

// acquireKey takes the per-key lock, waiting at most the configured lock timeout.
func (e *Engine) acquireKey(ctx context.Context, key string) error {
	lock := e.lockFor(key)
	timeout := e.cfg.Engine().LockTimeout
	if timeout <= 0 {
		if !lock.TryAcquire(1) {
			return fmt.Errorf("%w: key %q", ErrRunInProgress, key)
		}
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := lock.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: key %q (waited %s)", ErrRunInProgress, key, timeout)
	}
	return nil
}

func (e *Engine) finish(r *run, report *schemas.Report, err error, logger *zap.Logger) {
	state := schemas.RunCompleted
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		state = schemas.RunCancelled
	case err != nil:
		state = schemas.RunFailed
	case report != nil && report.Cancelled:
		state = schemas.RunCancelled
	}

	e.mu.Lock()
	r.status.State = state
	r.status.FinishedAt = e.now()
	r.status.Report = report
	if err != nil {
		r.status.Error = err.Error()
	}
	e.mu.Unlock()
	close(r.done)

	switch state {
	case schemas.RunFailed:
		logger.Error("Run failed.", zap.Error(err))
	case schemas.RunCancelled:
		logger.Warn("Run cancelled.", zap.Error(err))
	default:
		logger.Info("Run completed.")
	}
}

// Status returns a snapshot of the run's status.
func (e *Engine) Status(runID string) (schemas.RunStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[runID]
	if !ok {
		return schemas.RunStatus{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return r.status, nil
}

// Wait blocks until the run reaches a terminal state or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (schemas.RunStatus, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return schemas.RunStatus{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	select {
	case <-r.done:
		return e.Status(runID)
	case <-ctx.Done():
		return schemas.RunStatus{}, ctx.Err()
	}
}

// Cancel asks a pending or running run to stop.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	r.cancel()
	return nil
}

// Stop cancels every in-flight run and waits for background runs to return.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.logger.Info("Stopping engine... waiting for runs to finish.")
	e.baseCancel()

	done := make(chan struct{})
	go func() {
		_ = e.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("Engine stopped gracefully.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop interrupted: %w", ctx.Err())
	}
}
