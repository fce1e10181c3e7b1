package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newConsumeCmd() *cobra.Command {
	var dispatchWorkers int

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Start the broker event consumer and reconciliation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a.coord.Start(ctx, dispatchWorkers)
			a.recon.Start()
			go a.instr.Run(ctx)

			a.logger.Info("tradecore consumer started", "brokers", len(a.cfg.Brokers))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			a.logger.Info("received shutdown signal", "signal", sig.String())

			cancel()
			a.recon.Stop()

			done := make(chan struct{})
			go func() {
				a.coord.Stop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(shutdownGrace):
				a.logger.Warn("coordinator did not drain within grace period, exiting anyway")
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&dispatchWorkers, "dispatch-workers", 8, "broker dispatch worker pool size")
	return cmd
}
