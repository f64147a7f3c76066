// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/config"
	"github.com/xkilldash9x/settle-cli/internal/engine"
	"github.com/xkilldash9x/settle-cli/internal/observability"
	"github.com/xkilldash9x/settle-cli/internal/orchestrator"
	"github.com/xkilldash9x/settle-cli/internal/service"
)

const cancelGrace = 30 * time.Second

type runOptions struct {
	units      []string
	key        string
	reportPath string
	async      bool
	pollEvery  time.Duration
}

// newRunCmd creates the `run` command.
func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	opts := runOptions{pollEvery: 5 * time.Second}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Mark records and generate batches for each unit",
		Long: `Logs into the portal once per unit, marks every record of the unit in the
data table, groups the marked records into batches under the configured cap and
generates (and downloads) one document per batch. A failing unit never stops
the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSettlement(ctx, observability.GetLogger(), cfg, opts, factory, cmd.OutOrStdout())
		},
	}

	runCmd.Flags().StringSliceVarP(&opts.units, "units", "u", nil, "Units to process, in order. Defaults to every unit in the record source.")
	runCmd.Flags().StringVarP(&opts.key, "key", "k", orchestrator.DefaultKey, "Run key; runs sharing a key never overlap.")
	runCmd.Flags().StringVarP(&opts.reportPath, "report", "o", "", "Write the JSON report to this file instead of stdout.")
	runCmd.Flags().BoolVar(&opts.async, "async", false, "Dispatch the run in the background and poll its status.")
	runCmd.Flags().String("records", "", "Record file to read. (Overrides config/env)")
	runCmd.Flags().String("cap", "", "Maximum value per batch. (Overrides config/env)")
	return runCmd
}

// runSettlement contains the testable core of the run command.
func runSettlement(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	opts runOptions,
	factory service.ComponentFactory,
	out io.Writer,
) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	req := orchestrator.Request{Key: opts.key, Units: opts.units}
	var (
		report *schemas.Report
		runErr error
	)
	if opts.async {
		report, runErr = dispatchAndWait(ctx, components.Engine, req, opts.pollEvery)
	} else {
		report, runErr = components.Engine.Execute(ctx, req)
	}

	if report != nil {
		if err := emitReport(report, opts.reportPath, out); err != nil {
			return err
		}
		logSummary(logger, report)
	}
	return runErr
}

// dispatchAndWait starts the run in the background and polls until it ends.
// When ctx is cancelled the run is cancelled too and its partial report kept.
func dispatchAndWait(ctx context.Context, eng *engine.Engine, req orchestrator.Request, every time.Duration) (*schemas.Report, error) {
	runID, err := eng.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := observability.ForRun(runID, req.Key)
	logger.Info("Waiting for dispatched run.")

	for {
		waitCtx, cancel := context.WithTimeout(ctx, every)
		status, err := eng.Wait(waitCtx, runID)
		cancel()
		if err == nil {
			return status.Report, statusError(status)
		}

		if ctx.Err() != nil {
			_ = eng.Cancel(runID)
			graceCtx, graceCancel := context.WithTimeout(context.Background(), cancelGrace)
			status, _ = eng.Wait(graceCtx, runID)
			graceCancel()
			return status.Report, ctx.Err()
		}
		if st, err := eng.Status(runID); err == nil {
			logger.Info("Run in progress.", zap.String("state", string(st.State)))
		}
	}
}

func statusError(s schemas.RunStatus) error {
	switch s.State {
	case schemas.RunFailed:
		return errors.New(s.Error)
	case schemas.RunCancelled:
		return context.Canceled
	}
	return nil
}

func emitReport(report *schemas.Report, path string, out io.Writer) error {
	if path == "" {
		return orchestrator.EncodeReport(out, report)
	}
	if err := orchestrator.WriteReport(path, report); err != nil {
		return err
	}
	observability.GetLogger().Info("Report written.", zap.String("path", path))
	return nil
}

func logSummary(logger *zap.Logger, report *schemas.Report) {
	for _, id := range report.Order {
		u := report.Units[id]
		logger.Info("Unit summary.",
			zap.String("unit", id),
			zap.String("status", string(u.Status)),
			zap.Int("marked", u.RecordsMarked),
			zap.Int("total", u.RecordsTotal),
			zap.Int("batches_generated", u.BatchesGenerated),
			zap.Int("artifacts", len(u.Artifacts)),
			zap.Float64("efficiency", u.Efficiency))
	}
	records, marked, batches, artifacts := report.Totals()
	logger.Info("Run summary.",
		zap.String("run_id", report.RunID),
		zap.Bool("cancelled", report.Cancelled),
		zap.Int("records", records),
		zap.Int("marked", marked),
		zap.Int("batches", batches),
		zap.Int("artifacts", artifacts))
}
