package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order_id>",
		Short: "Cancel a live order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.coord.Cancel(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("cancel: %w", err)
			}
			fmt.Printf("cancel requested for order %s\n", args[0])
			return nil
		},
	}
}
