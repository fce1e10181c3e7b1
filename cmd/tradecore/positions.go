package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tradecore/pkg/domain"
)

func newPositionsCmd() *cobra.Command {
	var brokerID, instrument string

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			brokerIDs := []string{brokerID}
			if brokerID == "" {
				brokerIDs = brokerIDs[:0]
				for id := range a.cfg.Brokers {
					brokerIDs = append(brokerIDs, id)
				}
			}

			var out []domain.Position
			for _, id := range brokerIDs {
				positions, err := a.store.LoadPositions(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("load positions for %s: %w", id, err)
				}
				for _, p := range positions {
					if instrument != "" && p.Instrument.Symbol != instrument {
						continue
					}
					out = append(out, p)
				}
			}

			return json.NewEncoder(os.Stdout).Encode(out)
		},
	}

	cmd.Flags().StringVar(&brokerID, "broker", "", "restrict to one broker; empty lists all configured brokers")
	cmd.Flags().StringVar(&instrument, "instrument", "", "restrict to one instrument symbol")
	return cmd
}
