// File: internal/orchestrator/orchestrator.go
// Description: Runs the settlement flow unit by unit over one browser session.
// Collaborators are injected as interfaces so the flow can be tested without a browser.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/artifact"
	"github.com/xkilldash9x/settle-cli/internal/batch"
	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/portal"
	"github.com/xkilldash9x/settle-cli/internal/source"
	"github.com/xkilldash9x/settle-cli/internal/table"
)

// DefaultKey is the run key used when a request does not name one.
const DefaultKey = "default"

const (
	cleanupGrace        = 15 * time.Second
	reasonNegativeValue = "negative value"
)

// SessionProvider hands out the browser session for a run key.
type SessionProvider interface {
	Acquire(ctx context.Context, key string) (browser.Session, error)
	Dispose(ctx context.Context, s browser.Session) error
}

// Portal is the set of portal flows a unit goes through.
type Portal interface {
	Login(ctx context.Context, creds schemas.Credentials) error
	DismissPopups(ctx context.Context) int
	OpenModule(ctx context.Context) error
	FilterUnit(ctx context.Context, term string) error
	Generate(ctx context.Context) error
	Download(ctx context.Context, firstID string) error
	Logout(ctx context.Context) error
}

// Scanner searches the module's data table.
type Scanner interface {
	Search(ctx context.Context, recordID string, intent table.Intent) (schemas.SearchOutcome, error)
}

// Flows are the portal and table drivers bound to one session.
type Flows struct {
	Portal  Portal
	Scanner Scanner
}

// FlowFactory binds flows to a session.
type FlowFactory func(s browser.Session) Flows

// PortalFlows returns the factory for the real portal and table drivers.
func PortalFlows(cfg config.Interface, logger *zap.Logger) FlowFactory {
	return func(s browser.Session) Flows {
		p := portal.New(s, cfg.Portal(), cfg.Automation(), logger)
		return Flows{
			Portal:  p,
			Scanner: table.NewScanner(s, cfg.Table(), cfg.Automation(), p.Scope(), logger),
		}
	}
}

// Artifacts collects the document a download trigger produces.
type Artifacts interface {
	Collect(ctx context.Context, n artifact.Name, trigger func(ctx context.Context) error) (string, error)
}

// Deps are the collaborators of the orchestrator. Artifacts is optional;
// without it generated documents are not downloaded.
type Deps struct {
	Sessions    SessionProvider
	Flows       FlowFactory
	Records     source.RecordSource
	Credentials source.CredentialSource
	Artifacts   Artifacts
}

// Request describes one run.
type Request struct {
	RunID string
	// Key identifies the session and lock the run uses.
	Key string
	// Units to process in order; empty means every unit the record source knows.
	Units []string
}

// Orchestrator runs requests.
type Orchestrator struct {
	cfg    config.Interface
	logger *zap.Logger
	deps   Deps
	limit  decimal.Decimal
}

// New creates an orchestrator.
func New(cfg config.Interface, logger *zap.Logger, deps Deps) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		deps.Sessions == nil ||
		deps.Flows == nil ||
		deps.Records == nil ||
		deps.Credentials == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	limit, err := cfg.Planner().CapDecimal()
	if err != nil {
		return nil, err
	}
	if !limit.IsPositive() {
		return nil, batch.ErrInvalidCap
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
		deps:   deps,
		limit:  limit,
	}, nil
}

// Run processes the request's units one after another and returns the
// report. A failed unit never stops the others. The run aborts only when no
// browser session can be obtained; the partial report is returned with the
// error. On cancellation the partial report is returned with the context error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*schemas.Report, error) {
	if req.Key == "" {
		req.Key = DefaultKey
	}
	report := schemas.NewReport(req.RunID, req.Key, time.Now().UTC())
	defer func() { report.FinishedAt = time.Now().UTC() }()
	log := o.logger.With(zap.String("run_id", req.RunID), zap.String("key", req.Key))

	units := req.Units
	if len(units) == 0 {
		var err error
		if units, err = o.deps.Records.Units(ctx); err != nil {
			report.Error = err.Error()
			return report, fmt.Errorf("failed to list units: %w", err)
		}
	}
	for _, u := range units {
		report.Unit(u).Status = schemas.UnitSkipped
	}
	log.Info("Run started.", zap.Strings("units", units))

	var session browser.Session
	defer func() {
		if session != nil {
			o.release(ctx, session)
		}
	}()

	unitPace := rate.NewLimiter(every(o.cfg.Portal().UnitPause), 1)
	for i, unitID := range units {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := unitPace.Wait(ctx); err != nil {
				break
			}
		}

		s, err := o.deps.Sessions.Acquire(ctx, req.Key)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			report.Error = err.Error()
			log.Error("No browser session; aborting run.", zap.Error(err))
			return report, err
		}
		session = s

		ur := report.Unit(unitID)
		o.runUnit(ctx, o.deps.Flows(s), unitID, ur)
		log.Info("Unit finished.",
			zap.String("unit", unitID),
			zap.String("status", string(ur.Status)),
			zap.Int("marked", ur.RecordsMarked),
			zap.Int("batches_generated", ur.BatchesGenerated))
	}

	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		log.Warn("Run cancelled.", zap.Error(err))
		return report, err
	}
	records, marked, batches, artifacts := report.Totals()
	log.Info("Run completed.",
		zap.Int("records", records),
		zap.Int("marked", marked),
		zap.Int("batches", batches),
		zap.Int("artifacts", artifacts))
	return report, nil
}

func (o *Orchestrator) release(ctx context.Context, s browser.Session) {
	cleanupCtx, cancel := context.WithTimeout(browser.Detach(ctx), cleanupGrace)
	defer cancel()
	if err := o.deps.Sessions.Dispose(cleanupCtx, s); err != nil {
		o.logger.Warn("Failed to dispose browser session.", zap.Error(err))
	}
}

// logout leaves the portal at a safe point, even when ctx is already done.
func (o *Orchestrator) logout(ctx context.Context, p Portal, log *zap.Logger) {
	cleanupCtx, cancel := context.WithTimeout(browser.Detach(ctx), cleanupGrace)
	defer cancel()
	if err := p.Logout(cleanupCtx); err != nil {
		log.Warn("Logout failed.", zap.Error(err))
	}
}

// runUnit takes one unit through login, marking, planning and generation.
// The outcome is written into ur.
func (o *Orchestrator) runUnit(ctx context.Context, flows Flows, unitID string, ur *schemas.UnitReport) {
	log := o.logger.With(zap.String("unit", unitID))
	defer func() { ur.Efficiency = efficiency(ur) }()

	uc, status, err := o.unitContext(ctx, unitID)
	if err != nil {
		o.fail(ctx, ur, status, "prepare", err)
		return
	}
	ur.Label = uc.Label
	ur.RecordsTotal = len(uc.Records)

	defer o.logout(ctx, flows.Portal, log)

	if err := flows.Portal.Login(ctx, uc.Credentials); err != nil {
		o.fail(ctx, ur, schemas.UnitLoginError, "login", err)
		return
	}
	flows.Portal.DismissPopups(ctx)

	if err := flows.Portal.OpenModule(ctx); err != nil {
		o.fail(ctx, ur, schemas.UnitNavigationError, "open module", err)
		return
	}
	if err := flows.Portal.FilterUnit(ctx, uc.SearchTerm); err != nil {
		o.fail(ctx, ur, schemas.UnitNavigationError, "filter unit", err)
		return
	}

	marked, selected, err := o.markRecords(ctx, flows.Scanner, uc, ur)
	if err != nil {
		o.fail(ctx, ur, schemas.UnitCancelled, "mark records", err)
		return
	}

	plan, err := batch.New(o.plannable(marked, ur), o.limit)
	if err != nil {
		o.fail(ctx, ur, schemas.UnitCompleted, "plan", err)
		return
	}
	log.Info("Batches planned.", zap.Int("batches", len(plan.Batches)), zap.String("total", plan.Total().String()))

	for i, b := range plan.Batches {
		if ctx.Err() != nil {
			break
		}
		res := o.runBatch(ctx, flows, uc, i+1, b, selected, ur, log)
		ur.Batches = append(ur.Batches, res)
	}
	if err := ctx.Err(); err != nil {
		o.fail(ctx, ur, schemas.UnitCancelled, "generate", err)
		return
	}
	ur.Status = schemas.UnitCompleted
}

// fail records a unit-level failure. A done context always wins.
func (o *Orchestrator) fail(ctx context.Context, ur *schemas.UnitReport, status schemas.UnitStatus, step string, err error) {
	if ctx.Err() != nil {
		status = schemas.UnitCancelled
		err = ctx.Err()
	}
	ur.Status = status
	ur.Error = (&StepError{Unit: ur.UnitID, Step: step, Err: err}).Error()
	o.logger.Warn("Unit step failed.", zap.String("unit", ur.UnitID), zap.String("step", step), zap.Error(err))
}

func (o *Orchestrator) unitContext(ctx context.Context, unitID string) (schemas.UnitContext, schemas.UnitStatus, error) {
	uc := schemas.UnitContext{UnitID: unitID}
	if u, ok := lookupUnit(o.cfg.Units(), unitID); ok {
		uc.Label = u.Label
		uc.SearchTerm = u.SearchTerm
	}

	records, err := o.deps.Records.Records(ctx, unitID)
	if err != nil {
		return uc, schemas.UnitSourceError, err
	}
	uc.Records = records

	creds, err := o.deps.Credentials.Credentials(ctx, unitID)
	if err != nil {
		return uc, schemas.UnitLoginError, err
	}
	uc.Credentials = creds
	return uc, "", nil
}

func lookupUnit(units map[string]config.UnitConfig, unitID string) (config.UnitConfig, bool) {
	if u, ok := units[unitID]; ok {
		return u, true
	}
	u, ok := units[strings.ToLower(unitID)]
	return u, ok
}

// markRecords selects every record of the unit in list order. It returns the
// marked records, carrying the best known value, and the set of ids left
// selected in the table. Only context errors are returned.
func (o *Orchestrator) markRecords(ctx context.Context, scanner Scanner, uc schemas.UnitContext, ur *schemas.UnitReport) ([]schemas.Record, map[string]bool, error) {
	pace := rate.NewLimiter(every(o.cfg.Table().RecordPause), 1)
	selected := make(map[string]bool)
	var marked []schemas.Record

	for _, rec := range uc.Records {
		if err := pace.Wait(ctx); err != nil {
			return nil, nil, err
		}
		// A repeated id is only located; selecting it again could toggle it off.
		intent := table.Select
		if selected[rec.ID] {
			intent = table.Locate
		}
		out, err := scanner.Search(ctx, rec.ID, intent)
		if err != nil {
			return nil, nil, err
		}
		if !out.Found {
			ur.RecordsNotFound = append(ur.RecordsNotFound, rec.ID)
			continue
		}
		ur.RecordsFound++
		if intent == table.Select && !out.Marked {
			ur.AddProblem(rec.ID, out.FailureReason)
			continue
		}
		ur.RecordsMarked++
		selected[rec.ID] = true

		rec.LocatedPage = out.PageFound
		if out.HasValue {
			rec = rec.WithValue(out.Value)
		}
		marked = append(marked, rec)
	}
	return marked, selected, nil
}

// plannable drops duplicates and records without a usable value, reporting
// each as a problem.
func (o *Orchestrator) plannable(marked []schemas.Record, ur *schemas.UnitReport) []schemas.Record {
	seen := make(map[string]bool, len(marked))
	out := make([]schemas.Record, 0, len(marked))
	for _, r := range marked {
		switch {
		case seen[r.ID]:
			ur.AddProblem(r.ID, schemas.ReasonDuplicate)
		case !r.HasValue:
			ur.AddProblem(r.ID, schemas.ReasonNoValue)
		case r.Value.IsNegative():
			ur.AddProblem(r.ID, reasonNegativeValue)
		default:
			out = append(out, r)
		}
		seen[r.ID] = true
	}
	return out
}

// runBatch makes the table selection equal to the batch, generates its
// document and retrieves it. Failures are recorded in the result.
func (o *Orchestrator) runBatch(ctx context.Context, flows Flows, uc schemas.UnitContext, index int, b batch.Batch, selected map[string]bool, ur *schemas.UnitReport, log *zap.Logger) schemas.BatchResult {
	ids := b.IDs()
	res := schemas.BatchResult{Index: index, Records: ids, TotalValue: b.Total}
	log = log.With(zap.Int("batch", index))

	record := func(step string, kind, err error) schemas.BatchResult {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%w: %w", kind, err)
		}
		stepErr := &StepError{Unit: uc.UnitID, Step: step, Err: err}
		res.Error = stepErr.Error()
		log.Warn("Batch step failed.", zap.Error(stepErr))
		return res
	}

	if err := reconcile(ctx, flows.Scanner, selected, ids); err != nil {
		return record("select batch", ErrBatchGenerationFailed, err)
	}
	if err := flows.Portal.Generate(ctx); err != nil {
		return record("generate", ErrBatchGenerationFailed, err)
	}
	res.Generated = true
	ur.BatchesGenerated++
	if o.cfg.Portal().ClearsSelection {
		for _, id := range ids {
			delete(selected, id)
		}
	}
	log.Info("Batch generated.", zap.Strings("records", ids), zap.String("total", b.Total.String()))

	if o.deps.Artifacts == nil {
		return res
	}
	first := ids[0]
	path, err := o.deps.Artifacts.Collect(ctx, artifact.Name{Unit: uc.UnitID, FirstID: first, Batch: index},
		func(ctx context.Context) error { return flows.Portal.Download(ctx, first) })
	if err != nil {
		return record("download", ErrArtifactRetrievalFailed, err)
	}
	res.Artifact = path
	ur.Artifacts = append(ur.Artifacts, path)
	return res
}

// reconcile deselects every selected record outside want and selects every
// record of want that is not selected. selected is kept up to date.
func reconcile(ctx context.Context, scanner Scanner, selected map[string]bool, want []string) error {
	inBatch := make(map[string]bool, len(want))
	for _, id := range want {
		inBatch[id] = true
	}

	var extras []string
	for id := range selected {
		if !inBatch[id] {
			extras = append(extras, id)
		}
	}
	sort.Strings(extras)

	for _, id := range extras {
		out, err := scanner.Search(ctx, id, table.Deselect)
		if err != nil {
			return err
		}
		if out.Found && !out.Marked {
			return fmt.Errorf("deselect %s: %s", id, out.FailureReason)
		}
		delete(selected, id)
	}

	for _, id := range want {
		if selected[id] {
			continue
		}
		out, err := scanner.Search(ctx, id, table.Select)
		if err != nil {
			return err
		}
		if !out.Found {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		if !out.Marked {
			return fmt.Errorf("select %s: %s", id, out.FailureReason)
		}
		selected[id] = true
	}
	return nil
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// IsSessionUnavailable reports whether err means no browser could be started.
func IsSessionUnavailable(err error) bool {
	return errors.Is(err, browser.ErrSessionUnavailable)
}
