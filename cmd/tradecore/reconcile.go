package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tradecore/pkg/domain"
)

func newReconcileCmd() *cobra.Command {
	var brokerID, scope string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass against a broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if brokerID == "" {
				return fmt.Errorf("--broker is required")
			}

			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.recon.Run(cmd.Context(), brokerID, domain.ReconciliationScope(scope))
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return json.NewEncoder(os.Stdout).Encode(run)
		},
	}

	cmd.Flags().StringVar(&brokerID, "broker", "", "broker id to reconcile against")
	cmd.Flags().StringVar(&scope, "scope", string(domain.ScopeAll), "orders, positions, holdings, or all")
	return cmd
}
