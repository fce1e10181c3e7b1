package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRefreshInstrumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-instruments",
		Short: "Force an instrument master-data refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.instr.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("refresh instruments: %w", err)
			}
			fmt.Println("instrument master refreshed")
			return nil
		},
	}
}
