package schemas

import (
	"time"

	"github.com/shopspring/decimal"
)

// -- Report Schemas --

// UnitStatus summarizes how far a unit got.
type UnitStatus string

const (
	UnitCompleted       UnitStatus = "completed"
	UnitLoginError      UnitStatus = "login_error"
	UnitNavigationError UnitStatus = "navigation_error"
	UnitSourceError     UnitStatus = "source_error"
	UnitCancelled       UnitStatus = "cancelled"
	UnitSkipped         UnitStatus = "skipped"
)

// RecordProblem explains why a record did not make it into a batch.
type RecordProblem struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult is one planned batch and what happened to it.
type BatchResult struct {
	Index      int             `json:"index"`
	Records    []string        `json:"records"`
	TotalValue decimal.Decimal `json:"total_value"`
	Generated  bool            `json:"generated"`
	Artifact   string          `json:"artifact,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// UnitReport aggregates the outcome of one unit.
type UnitReport struct {
	UnitID             string          `json:"unit_id"`
	Label              string          `json:"label,omitempty"`
	Status             UnitStatus      `json:"status"`
	Error              string          `json:"error,omitempty"`
	RecordsTotal       int             `json:"records_total"`
	RecordsFound       int             `json:"records_found"`
	RecordsMarked      int             `json:"records_marked"`
	RecordsNotFound    []string        `json:"records_not_found"`
	RecordsWithProblem []RecordProblem `json:"records_with_problem"`
	Batches            []BatchResult   `json:"batches"`
	BatchesGenerated   int             `json:"batches_generated"`
	Artifacts          []string        `json:"artifacts"`
	// Efficiency is the percentage of records that were marked.
	Efficiency float64 `json:"efficiency"`
}

// NewUnitReport returns an empty report with non-nil slices so it encodes as [] rather than null.
func NewUnitReport(unitID string) *UnitReport {
	return &UnitReport{
		UnitID:             unitID,
		RecordsNotFound:    []string{},
		RecordsWithProblem: []RecordProblem{},
		Batches:            []BatchResult{},
		Artifacts:          []string{},
	}
}

// AddProblem appends a record problem.
func (u *UnitReport) AddProblem(id, reason string) {
	u.RecordsWithProblem = append(u.RecordsWithProblem, RecordProblem{ID: id, Reason: reason})
}

// Report is the outcome of one orchestration run, keyed by unit id.
type Report struct {
	RunID      string                 `json:"run_id"`
	Key        string                 `json:"key"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Cancelled  bool                   `json:"cancelled"`
	Error      string                 `json:"fatal_error,omitempty"`
	Order      []string               `json:"order"`
	Units      map[string]*UnitReport `json:"units"`
}

// NewReport creates an empty report for a run.
func NewReport(runID, key string, started time.Time) *Report {
	return &Report{
		RunID:     runID,
		Key:       key,
		StartedAt: started,
		Order:     []string{},
		Units:     map[string]*UnitReport{},
	}
}

// Unit returns the report for unitID, creating it on first use.
func (r *Report) Unit(unitID string) *UnitReport {
	if u, ok := r.Units[unitID]; ok {
		return u
	}
	u := NewUnitReport(unitID)
	r.Units[unitID] = u
	r.Order = append(r.Order, unitID)
	return u
}

// Totals sums the per-unit counters.
func (r *Report) Totals() (records, marked, batches, artifacts int) {
	for _, u := range r.Units {
		records += u.RecordsTotal
		marked += u.RecordsMarked
		batches += u.BatchesGenerated
		artifacts += len(u.Artifacts)
	}
	return
}
