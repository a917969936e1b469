package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/spf13/cobra"
)

func saleCmd() *cobra.Command {
	var (
		paymentID    string
		preferenceID string
		force        bool
	)
	cmd := &cobra.Command{
		Use:   "sale <sale-id>",
		Short: "Reconcile one sale against the gateway",
		Long: `Reconcile one sale against the gateway and print the outcome.

--force rewrites a final status when the gateway disagrees with it. The
shell user is trusted with the override.

Examples:
  reconcile sale 6f1c2a9e-0d6b-4c1e-9a57-2f0c3c4b8e11
  reconcile sale 6f1c2a9e-0d6b-4c1e-9a57-2f0c3c4b8e11 --payment-id 1234567890`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			saleID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid sale id %q", args[0])
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			refresh := reconciliation.NewRefreshService(a.engine, a.saleRepo, a.cfg.Reconciliation.RefreshTimeout, a.log)

			ctx, cancel := signalContext(0)
			defer cancel()

			result, err := refresh.Refresh(ctx, reconciliation.RefreshInput{
				SaleID:       saleID,
				PaymentID:    paymentID,
				PreferenceID: preferenceID,
				Force:        force,
				CanOverride:  force,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&paymentID, "payment-id", "", "Mercado Pago payment id to check first")
	cmd.Flags().StringVar(&preferenceID, "preference-id", "", "checkout preference id to check")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite a final status")
	return cmd
}
