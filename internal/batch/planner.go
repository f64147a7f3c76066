// Package batch groups records into value-capped batches.
package batch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xkilldash9x/settle-cli/api/schemas"
)

var (
	// ErrInvalidCap is returned when the limit is zero or negative.
	ErrInvalidCap = errors.New("batch limit must be positive")
	// ErrNegativeValue is returned when a record carries a negative value.
	ErrNegativeValue = errors.New("record value must not be negative")
)

// Batch is an ordered group of records and their summed value.
type Batch struct {
	Records []schemas.Record
	Total   decimal.Decimal
}

// IDs returns the record ids of the batch in order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.ID
	}
	return ids
}

// Oversized reports whether the batch is a single record exceeding limit.
func (b Batch) Oversized(limit decimal.Decimal) bool {
	return len(b.Records) == 1 && b.Total.GreaterThan(limit)
}

// Plan is the ordered result of planning.
type Plan struct {
	Cap     decimal.Decimal
	Batches []Batch
}

// Len returns the number of records across all batches.
func (p Plan) Len() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Records)
	}
	return n
}

// Total returns the summed value of every batch.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, b := range p.Batches {
		total = total.Add(b.Total)
	}
	return total
}

// New partitions records into batches whose totals stay within limit.
//
// Records are sorted by value descending; ties keep their input order. Each
// record goes into the first open batch with room for it, otherwise it opens a
// new batch. A record worth more than limit is placed alone in its own batch.
// Batches are returned in creation order. New does no I/O and never mutates
// its input.
func New(records []schemas.Record, limit decimal.Decimal) (Plan, error) {
	if !limit.IsPositive() {
		return Plan{}, fmt.Errorf("%w: %s", ErrInvalidCap, limit)
	}
	for _, r := range records {
		if r.Value.IsNegative() {
			return Plan{}, fmt.Errorf("%w: record %q has value %s", ErrNegativeValue, r.ID, r.Value)
		}
	}

	sorted := make([]schemas.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value.GreaterThan(sorted[j].Value)
	})

	plan := Plan{Cap: limit}
	open := make([]int, 0)

	for _, r := range sorted {
		if r.Value.GreaterThan(limit) {
			plan.Batches = append(plan.Batches, Batch{Records: []schemas.Record{r}, Total: r.Value})
			continue
		}

		placed := false
		for _, idx := range open {
			b := &plan.Batches[idx]
			if next := b.Total.Add(r.Value); next.LessThanOrEqual(limit) {
				b.Records = append(b.Records, r)
				b.Total = next
				placed = true
				break
			}
		}
		if !placed {
			open = append(open, len(plan.Batches))
			plan.Batches = append(plan.Batches, Batch{Records: []schemas.Record{r}, Total: r.Value})
		}
	}

	return plan, nil
}

// Validate re-checks the limit and sum invariants of a plan.
func (p Plan) Validate() error {
	for i, b := range p.Batches {
		if len(b.Records) == 0 {
			return fmt.Errorf("batch %d is empty", i+1)
		}
		sum := decimal.Zero
		for _, r := range b.Records {
			sum = sum.Add(r.Value)
		}
		if !sum.Equal(b.Total) {
			return fmt.Errorf("batch %d total %s does not match record sum %s", i+1, b.Total, sum)
		}
		if b.Total.GreaterThan(p.Cap) && !b.Oversized(p.Cap) {
			return fmt.Errorf("batch %d total %s exceeds limit %s", i+1, b.Total, p.Cap)
		}
	}
	return nil
}
