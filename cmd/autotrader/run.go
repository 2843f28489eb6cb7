package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full trading service",
		Long: `Starts the position monitor, the scan scheduler, and the HTTP API,
then blocks until SIGINT/SIGTERM. In-flight monitor ticks finish before
shutdown completes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.monitor.Start(context.Background())
			if !noScheduler {
				if err := a.scheduler.Start(context.Background()); err != nil {
					return err
				}
			}

			errCh := make(chan error, 1)
			go func() { errCh <- a.server.Start() }()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			a.scheduler.Stop()
			a.monitor.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("http shutdown incomplete")
			}
			log.Info().Msg("service stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Run without starting scheduled scans")
	return cmd
}
