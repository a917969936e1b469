package main

import (
	"fmt"
	"time"

	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func sweepCmd() *cobra.Command {
	var (
		maxAge      time.Duration
		batchLimit  int
		workers     int
		failOnError bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-reconcile recent pending sales once",
		Long: `Re-reconcile recent pending sales once and print the job report.

Defaults come from the [reconciliation] section of config.toml.

Examples:
  reconcile sweep
  reconcile sweep --max-age 24h --workers 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if maxAge <= 0 {
				maxAge = a.cfg.Reconciliation.SweepMaxAge
			}
			if batchLimit <= 0 {
				batchLimit = a.cfg.Reconciliation.SweepBatchLimit
			}
			if workers <= 0 {
				workers = a.cfg.Reconciliation.SweepWorkers
			}

			sweeps := reconciliation.NewSweepService(reconciliation.SweepServiceConfig{
				Engine:      a.engine,
				Sales:       a.saleRepo,
				Jobs:        reconciliation.NewInMemorySweepJobStore(1),
				Logger:      a.log,
				MaxAge:      maxAge,
				BatchLimit:  batchLimit,
				Workers:     workers,
				ItemTimeout: a.cfg.Reconciliation.SweepItemTimeout,
			})

			ctx, cancel := signalContext(0)
			defer cancel()

			job, err := sweeps.Sweep(ctx, "cli")
			if job != nil {
				if printErr := printJSON(cmd.OutOrStdout(), job); printErr != nil {
					return printErr
				}
			}
			if err != nil {
				return err
			}
			if failOnError && job.Status != reconciliation.SweepJobStatusSuccess {
				a.log.Warn("Sweep finished with errors", zap.String("status", string(job.Status)))
				return fmt.Errorf("sweep finished %s", job.Status)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "only sweep sales created within this window (e.g. 2h)")
	cmd.Flags().IntVar(&batchLimit, "limit", 0, "maximum sales per sweep")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent gateway lookups")
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit non-zero unless every sale reconciled cleanly")
	return cmd
}
