package schemas

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// -- Record Schemas --

// Record is one entry of a unit's record list. IDs are not guaranteed to be
// unique; every entry is searched on its own.
type Record struct {
	ID    string          `json:"id" yaml:"id"`
	Label string          `json:"label,omitempty" yaml:"label,omitempty"`
	Value decimal.Decimal `json:"value" yaml:"-"`
	// HasValue distinguishes a zero value from an unknown one.
	HasValue bool `json:"has_value" yaml:"-"`
	// LocatedPage is the 1-based table page the record was last seen on; 0 when unknown.
	LocatedPage int `json:"located_page,omitempty" yaml:"-"`
}

// WithValue returns a copy of the record carrying v.
func (r Record) WithValue(v decimal.Decimal) Record {
	r.Value = v
	r.HasValue = true
	return r
}

// Credentials authenticate one business unit against the portal.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// String masks the password so credentials can be logged safely.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %s, Password: %s}", c.Username, MaskSecret(c.Password))
}

// MaskSecret keeps the length hint of a secret without revealing it.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 8)
}

// -- Search Schemas --

// SearchOutcome is the immutable result of one table search.
type SearchOutcome struct {
	RecordID string `json:"record_id"`
	Found    bool   `json:"found"`
	// Marked reports that the row ended in the requested selection state.
	Marked bool `json:"marked"`
	// PageFound is 1-based; 0 means the record was not located.
	PageFound     int             `json:"page_found,omitempty"`
	Value         decimal.Decimal `json:"value"`
	HasValue      bool            `json:"has_value"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Failure reasons reported in SearchOutcome.FailureReason and RecordProblem.Reason.
const (
	ReasonNotFound           = "record not found"
	ReasonMarkControlMissing = "mark control not found"
	ReasonMarkControlOff     = "mark control disabled"
	ReasonActivationFailed   = "mark activation failed"
	ReasonDuplicate          = "duplicate entry"
	ReasonNoValue            = "value not available"
	ReasonCancelled          = "cancelled"
)

// UnitContext gathers what one unit needs for a run. It is built per unit and
// discarded once the unit completes.
type UnitContext struct {
	UnitID      string
	Label       string
	Credentials Credentials
	SearchTerm  string
	Records     []Record
}
