// Package table searches a paginated, row-selectable data table.
package table

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/automation"
	"github.com/xkilldash9x/settle-cli/internal/config"
)

// Intent is what a search does once the row is found.
type Intent int

const (
	// Locate only reports where the record is.
	Locate Intent = iota
	// Select marks the row.
	Select
	// Deselect unmarks the row.
	Deselect
)

func (i Intent) String() string {
	switch i {
	case Select:
		return "select"
	case Deselect:
		return "deselect"
	default:
		return "locate"
	}
}

// Scanner finds records in the table. Every search starts from the first page
// because row order is not stable between searches.
type Scanner struct {
	page   automation.Page
	in     *automation.Interactor
	cfg    config.TableConfig
	scope  automation.Scope
	logger *zap.Logger

	rows     automation.Locator
	cells    automation.Locator
	mark     []automation.Locator
	first    []automation.Locator
	previous []automation.Locator
	next     []automation.Locator

	pollInterval time.Duration
	probeTimeout time.Duration
}

// NewScanner creates a scanner for the table described by cfg. scope controls
// whether the table may live inside an embedded frame.
func NewScanner(page automation.Page, cfg config.TableConfig, auto config.AutomationConfig, scope automation.Scope, logger *zap.Logger) *Scanner {
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
	if cfg.PageCeiling <= 0 {
		cfg.PageCeiling = 50
	}
	return &Scanner{
		page:         page,
		in:           automation.NewInteractor(page, auto, logger),
		cfg:          cfg,
		scope:        scope,
		logger:       logger.Named("scanner"),
		rows:         automation.ParseLocator(cfg.Rows),
		cells:        automation.ParseLocator(cfg.Cells),
		mark:         automation.ParseLocators(cfg.MarkControl),
		first:        automation.ParseLocators(cfg.FirstPage),
		previous:     automation.ParseLocators(cfg.PreviousPage),
		next:         automation.ParseLocators(cfg.NextPage),
		pollInterval: poll,
		probeTimeout: probe,
	}
}

// Search resets the table to its first page and scans forward until the
// record's row is found, the paginator is exhausted or the page ceiling is
// hit. A record that is missing or cannot be marked is reported in the
// outcome; only context errors are returned.
func (s *Scanner) Search(ctx context.Context, recordID string, intent Intent) (schemas.SearchOutcome, error) {
	out := schemas.SearchOutcome{RecordID: recordID}
	target := strings.TrimSpace(recordID)
	log := s.logger.With(zap.String("record_id", target), zap.Stringer("intent", intent))

	if err := s.Reset(ctx); err != nil {
		return out, err
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		row, cells := s.findRow(ctx, target)
		if row != nil {
			out.Found = true
			out.PageFound = page
			s.readValue(ctx, cells, &out)
			log.Debug("Record located.", zap.Int("page", page))
			if intent == Locate {
				return out, nil
			}
			return out, s.applyIntent(ctx, row, intent, &out)
		}

		if page >= s.cfg.PageCeiling {
			log.Warn("Page ceiling reached; giving up.", zap.Int("ceiling", s.cfg.PageCeiling))
			break
		}
		advanced, err := s.advance(ctx)
		if err != nil {
			return out, err
		}
		if !advanced {
			break
		}
	}

	out.FailureReason = schemas.ReasonNotFound
	log.Info("Record not found in table.")
	return out, nil
}

// Reset brings the table back to its first page, using the "first" control
// when present and stepping back with "previous" when that control is absent
// or cannot be activated.
func (s *Scanner) Reset(ctx context.Context) error {
	if ref := s.probe(ctx, s.first); ref != nil {
		if !automation.Interactable(ctx, ref.Element) {
			return ctx.Err()
		}
		turned, err := s.turnPage(ctx, ref)
		if err != nil || turned {
			return err
		}
		s.logger.Warn("First page control did not respond; stepping back with previous.")
	} else if err := ctx.Err(); err != nil {
		return err
	}

	for i := 0; i < s.cfg.ResetMaxPrevious; i++ {
		ref := s.probe(ctx, s.previous)
		if ref == nil || !automation.Interactable(ctx, ref.Element) {
			return ctx.Err()
		}
		turned, err := s.turnPage(ctx, ref)
		if err != nil {
			return err
		}
		if !turned {
			break
		}
	}
	s.logger.Warn("Table may not be on its first page after reset.", zap.Int("previous_clicks", s.cfg.ResetMaxPrevious))
	return nil
}

// advance moves to the next page. It reports false when there is no usable
// next control.
func (s *Scanner) advance(ctx context.Context) (bool, error) {
	ref := s.probe(ctx, s.next)
	if ref == nil || !automation.Interactable(ctx, ref.Element) {
		return false, ctx.Err()
	}
	return s.turnPage(ctx, ref)
}

// turnPage activates a paginator control and waits for the rows to change.
// It reports false, with a nil error, when every activation technique failed.
func (s *Scanner) turnPage(ctx context.Context, ref *automation.ElementRef) (bool, error) {
	before := s.snapshot(ctx)
	if err := s.in.Activate(ctx, ref); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.Warn("Paginator activation failed.", zap.String("control", ref.Describe()), zap.Error(err))
		return false, nil
	}
	return true, s.waitForChange(ctx, before)
}

type rowSnapshot struct {
	first automation.Element
	text  string
	count int
}

func (s *Scanner) snapshot(ctx context.Context) rowSnapshot {
	rows := s.currentRows(ctx)
	if len(rows) == 0 {
		return rowSnapshot{}
	}
	text, _ := rows[0].Text(ctx)
	return rowSnapshot{first: rows[0], text: text, count: len(rows)}
}

// waitForChange blocks until the first old row goes stale or the rows look
// different, bounded by the page settle timeout.
func (s *Scanner) waitForChange(ctx context.Context, before rowSnapshot) error {
	deadline := time.Now().Add(s.cfg.PageSettle)
	for {
		if before.first == nil {
			if len(s.currentRows(ctx)) > 0 {
				return nil
			}
		} else {
			if connected, err := before.first.Connected(ctx); err != nil || !connected {
				return ctx.Err()
			}
			if now := s.snapshot(ctx); now.count != before.count || now.text != before.text {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			s.logger.Debug("Rows did not change within page settle timeout.", zap.Duration("timeout", s.cfg.PageSettle))
			return nil
		}
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// probe resolves the first present candidate with a short timeout.
func (s *Scanner) probe(ctx context.Context, candidates []automation.Locator) *automation.ElementRef {
	if len(candidates) == 0 {
		return nil
	}
	ref, err := s.in.Resolve(ctx, candidates, automation.ResolveOptions{Scope: s.scope, Timeout: s.probeTimeout})
	if err != nil {
		return nil
	}
	return ref
}

// currentRows returns the rows of the table wherever it lives.
func (s *Scanner) currentRows(ctx context.Context) []automation.Element {
	ref := s.probe(ctx, []automation.Locator{s.rows})
	if ref == nil {
		return nil
	}
	rows, err := s.page.Find(ctx, ref.Frame, s.rows)
	if err != nil {
		return nil
	}
	return rows
}

func (s *Scanner) findRow(ctx context.Context, target string) (automation.Element, []automation.Element) {
	for _, row := range s.currentRows(ctx) {
		cells, err := row.Find(ctx, s.cells)
		if err != nil || len(cells) < s.cfg.MinCells || len(cells) <= s.cfg.IDColumn {
			continue
		}
		text, err := cells[s.cfg.IDColumn].Text(ctx)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == target {
			return row, cells
		}
	}
	return nil, nil
}

func (s *Scanner) readValue(ctx context.Context, cells []automation.Element, out *schemas.SearchOutcome) {
	if s.cfg.ValueColumn >= len(cells) {
		return
	}
	text, err := cells[s.cfg.ValueColumn].Text(ctx)
	if err != nil {
		return
	}
	value, err := ParseBRL(text)
	if err != nil {
		s.logger.Debug("Value cell is not an amount.", zap.String("record_id", out.RecordID), zap.String("text", text))
		return
	}
	out.Value = value
	out.HasValue = true
}

// applyIntent brings the row's mark control into the requested state.
func (s *Scanner) applyIntent(ctx context.Context, row automation.Element, intent Intent, out *schemas.SearchOutcome) error {
	ref := s.markControl(ctx, row)
	if ref == nil {
		out.FailureReason = schemas.ReasonMarkControlMissing
		return ctx.Err()
	}
	if enabled, err := ref.Element.Enabled(ctx); err != nil || !enabled {
		out.FailureReason = schemas.ReasonMarkControlOff
		return ctx.Err()
	}

	// Without a readable state the caller's view is trusted and the control
	// is toggled.
	want := intent == Select
	if on, known := s.selected(ctx, ref.Element, row); known && on == want {
		out.Marked = true
		return nil
	}

	if err := s.in.Activate(ctx, ref); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Could not toggle mark control.", zap.String("record_id", out.RecordID), zap.Error(err))
		out.FailureReason = schemas.ReasonActivationFailed
		return nil
	}
	out.Marked = true
	return nil
}

func (s *Scanner) markControl(ctx context.Context, row automation.Element) *automation.ElementRef {
	for _, loc := range s.mark {
		controls, err := row.Find(ctx, loc)
		if err != nil || len(controls) == 0 {
			continue
		}
		return &automation.ElementRef{Element: controls[0], Locator: loc}
	}
	return nil
}

// selected reports whether the control or its row carries the selected-state
// selector. known is false when no selector is configured.
func (s *Scanner) selected(ctx context.Context, control, row automation.Element) (on, known bool) {
	if s.cfg.SelectedState == "" {
		return false, false
	}
	for _, el := range []automation.Element{control, row} {
		if ok, err := el.Matches(ctx, s.cfg.SelectedState); err == nil && ok {
			return true, true
		}
	}
	return false, true
}
