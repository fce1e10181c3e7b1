// Command tradecore is the operator entry point into the trading
// execution core: submit and cancel orders, inspect positions, force
// an instrument refresh, run a reconciliation pass, or start the
// long-running broker event consumer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "tradecore",
		Short: "Multi-broker trading execution core",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yaml", "path to config file")

	root.AddCommand(
		newSubmitCmd(),
		newCancelCmd(),
		newPositionsCmd(),
		newRefreshInstrumentsCmd(),
		newReconcileCmd(),
		newConsumeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
