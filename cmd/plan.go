// File: cmd/plan.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/batch"
	"github.com/xkilldash9x/settle-cli/internal/source"
)

type planBatch struct {
	Records   []string        `json:"records"`
	Total     decimal.Decimal `json:"total"`
	Oversized bool            `json:"oversized,omitempty"`
}

type unitPlan struct {
	Unit    string                  `json:"unit"`
	Cap     decimal.Decimal         `json:"cap"`
	Batches []planBatch             `json:"batches"`
	Skipped []schemas.RecordProblem `json:"skipped"`
}

// newPlanCmd creates the `plan` command, which previews batches offline.
func newPlanCmd() *cobra.Command {
	var (
		units  []string
		asJSON bool
	)

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the batches for a record file without opening the portal",
		Long: `Groups the records of each unit exactly as a run would, using the values
from the record file. Records without a value are listed as skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			limit, err := cfg.Planner().CapDecimal()
			if err != nil {
				return err
			}
			src, err := source.LoadFile(cfg.Records().File)
			if err != nil {
				return err
			}

			plans, err := buildPlans(ctx, src, limit, units)
			if err != nil {
				return err
			}
			if asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plans)
			}
			printPlans(cmd.OutOrStdout(), plans)
			return nil
		},
	}

	planCmd.Flags().StringSliceVarP(&units, "units", "u", nil, "Units to plan. Defaults to every unit in the file.")
	planCmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON.")
	planCmd.Flags().String("records", "", "Record file to read. (Overrides config/env)")
	planCmd.Flags().String("cap", "", "Maximum value per batch. (Overrides config/env)")
	return planCmd
}

// buildPlans plans every requested unit. Duplicate ids, records without a
// value and negative values are skipped the same way a run skips them.
func buildPlans(ctx context.Context, src source.RecordSource, limit decimal.Decimal, units []string) ([]unitPlan, error) {
	if len(units) == 0 {
		var err error
		if units, err = src.Units(ctx); err != nil {
			return nil, err
		}
	}

	plans := make([]unitPlan, 0, len(units))
	for _, unit := range units {
		records, err := src.Records(ctx, unit)
		if err != nil {
			return nil, err
		}

		up := unitPlan{Unit: unit, Cap: limit, Batches: []planBatch{}, Skipped: []schemas.RecordProblem{}}
		seen := make(map[string]bool, len(records))
		usable := make([]schemas.Record, 0, len(records))
		for _, r := range records {
			switch {
			case seen[r.ID]:
				up.Skipped = append(up.Skipped, schemas.RecordProblem{ID: r.ID, Reason: schemas.ReasonDuplicate})
			case !r.HasValue:
				up.Skipped = append(up.Skipped, schemas.RecordProblem{ID: r.ID, Reason: schemas.ReasonNoValue})
			case r.Value.IsNegative():
				up.Skipped = append(up.Skipped, schemas.RecordProblem{ID: r.ID, Reason: "negative value"})
			default:
				usable = append(usable, r)
			}
			seen[r.ID] = true
		}

		plan, err := batch.New(usable, limit)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", unit, err)
		}
		if err := plan.Validate(); err != nil {
			return nil, fmt.Errorf("unit %s: %w", unit, err)
		}
		for _, b := range plan.Batches {
			up.Batches = append(up.Batches, planBatch{Records: b.IDs(), Total: b.Total, Oversized: b.Oversized(limit)})
		}
		plans = append(plans, up)
	}
	return plans, nil
}

func printPlans(w io.Writer, plans []unitPlan) {
	for _, p := range plans {
		fmt.Fprintf(w, "Unit %s (cap %s): %d batch(es)\n", p.Unit, p.Cap.StringFixed(2), len(p.Batches))
		for i, b := range p.Batches {
			note := ""
			if b.Oversized {
				note = "  (over cap)"
			}
			fmt.Fprintf(w, "  #%d  %14s  %s%s\n", i+1, b.Total.StringFixed(2), strings.Join(b.Records, ", "), note)
		}
		for _, s := range p.Skipped {
			fmt.Fprintf(w, "  skipped %s: %s\n", s.ID, s.Reason)
		}
	}
}
