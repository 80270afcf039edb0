package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oabridge/depositd/pkg/dispatcher"
	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/model"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one status refresh pass and exit",
	Long: `Refresh probes every deposit still in the submitted state and applies
the resolved status. With --uri (repeatable) only the named deposits are
probed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.close()

		ctx := cmd.Context()
		disp := dispatcher.New(eng.registry, eng.critical, eng.runner, eng.resolver, nil, nil)

		if uris, _ := cmd.Flags().GetStringArray("uri"); len(uris) > 0 {
			var failed int
			for _, uri := range uris {
				if err := disp.RefreshDeposit(ctx, uri); err != nil {
					log.WithDeposit(uri).Warn().Err(err).Msg("refresh failed")
					failed++
				}
			}
			if failed > 0 {
				return exitWith(exitTransient, fmt.Errorf("%d of %d probes failed", failed, len(uris)))
			}
			return nil
		}

		deposits, err := eng.store.ListDepositsByStatus(ctx, model.DepositSubmitted)
		if err != nil {
			return exitWith(exitTransient, err)
		}
		var failed int
		for _, dep := range deposits {
			if err := disp.RefreshDeposit(ctx, dep.ID); err != nil {
				log.WithDeposit(dep.ID).Warn().Err(err).Msg("refresh failed")
				failed++
			}
		}
		log.WithComponent("refresh").Info().
			Int("probed", len(deposits)).
			Int("failed", failed).
			Msg("refresh pass complete")
		if failed > 0 {
			return exitWith(exitTransient, fmt.Errorf("%d of %d probes failed", failed, len(deposits)))
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset failed deposits and run them again",
	Long: `Retry moves failed deposits back to their initial state and runs the
deposit immediately. With --uri (repeatable) only the named deposits are
retried; without it every failed deposit is.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.close()

		ctx := cmd.Context()

		if uris, _ := cmd.Flags().GetStringArray("uri"); len(uris) > 0 {
			var failed int
			for _, uri := range uris {
				if err := retryOne(ctx, eng, uri); err != nil {
					log.WithDeposit(uri).Warn().Err(err).Msg("retry failed")
					failed++
				}
			}
			if failed > 0 {
				return exitWith(exitTransient, fmt.Errorf("%d of %d retries failed", failed, len(uris)))
			}
			return nil
		}

		deposits, err := eng.store.ListDepositsByStatus(ctx, model.DepositFailed)
		if err != nil {
			return exitWith(exitTransient, err)
		}
		var failed int
		for _, dep := range deposits {
			if err := retryOne(ctx, eng, dep.ID); err != nil {
				log.WithDeposit(dep.ID).Warn().Err(err).Msg("retry failed")
				failed++
			}
		}
		log.WithComponent("retry").Info().
			Int("retried", len(deposits)).
			Int("failed", failed).
			Msg("retry pass complete")
		if failed > 0 {
			return exitWith(exitTransient, fmt.Errorf("%d of %d retries failed", failed, len(deposits)))
		}
		return nil
	},
}

func retryOne(ctx context.Context, eng *engine, depositID string) error {
	_, err := eng.critical.PerformDeposit(ctx, depositID,
		func(d *model.Deposit) bool { return d.Status == model.DepositFailed },
		func(d *model.Deposit) {
			d.Status = model.DepositNone
			d.ErrorKind = ""
			d.ErrorMessage = ""
		},
		func(d *model.Deposit) bool { return d.Status == model.DepositNone },
	)
	if err != nil {
		return exitWith(exitTransient, fmt.Errorf("failed to reset deposit %s: %w", depositID, err))
	}
	if err := eng.runner.Run(ctx, depositID); err != nil {
		return exitWith(exitTransient, err)
	}
	return nil
}

func init() {
	refreshCmd.Flags().StringArray("uri", nil, "refresh only the named deposits (repeatable)")
	retryCmd.Flags().StringArray("uri", nil, "retry only the named deposits (repeatable)")
}
