// File: cmd/check.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/settle-cli/internal/browser"
	"github.com/xkilldash9x/settle-cli/internal/observability"
	"github.com/xkilldash9x/settle-cli/internal/orchestrator"
	"github.com/xkilldash9x/settle-cli/internal/service"
	"github.com/xkilldash9x/settle-cli/internal/source"
)

// newCheckCmd creates the `check` command, which verifies each unit's login.
func newCheckCmd(factory service.ComponentFactory) *cobra.Command {
	var units []string

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Log into the portal with each unit's credentials and log out again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			if len(units) == 0 {
				for id := range cfg.Units() {
					units = append(units, id)
				}
				sort.Strings(units)
			}
			if len(units) == 0 {
				return fmt.Errorf("no units configured")
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			return runCheck(ctx, components.Sessions, orchestrator.PortalFlows(cfg, logger),
				components.Credentials, units, cmd.OutOrStdout(), logger)
		},
	}

	checkCmd.Flags().StringSliceVarP(&units, "units", "u", nil, "Units to check. Defaults to every configured unit.")
	return checkCmd
}

// runCheck logs in and out once per unit over a single session.
func runCheck(
	ctx context.Context,
	sessions orchestrator.SessionProvider,
	flows orchestrator.FlowFactory,
	creds source.CredentialSource,
	units []string,
	out io.Writer,
	logger *zap.Logger,
) error {
	s, err := sessions.Acquire(ctx, orchestrator.DefaultKey)
	if err != nil {
		return err
	}
	defer func() {
		if err := sessions.Dispose(browser.Detach(ctx), s); err != nil {
			logger.Warn("Failed to dispose session.", zap.Error(err))
		}
	}()

	p := flows(s).Portal
	failed := 0
	for _, unit := range units {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := checkUnit(ctx, p, creds, unit); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %s: %v\n", unit, err)
			logger.Warn("Login check failed.", zap.String("unit", unit), zap.Error(err))
			if orchestrator.IsSessionUnavailable(err) {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "OK    %s\n", unit)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d unit(s) failed the login check", failed, len(units))
	}
	return nil
}

func checkUnit(ctx context.Context, p orchestrator.Portal, creds source.CredentialSource, unit string) error {
	c, err := creds.Credentials(ctx, unit)
	if err != nil {
		return err
	}
	if err := p.Login(ctx, c); err != nil {
		return err
	}
	p.DismissPopups(ctx)
	return p.Logout(ctx)
}
