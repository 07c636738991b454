package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gokernel/core/internal/kernel"
	"github.com/gokernel/core/internal/logger"
	"github.com/gokernel/core/internal/metrics"
)

var metricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the kernel and run its scheduler until interrupted",
	Long: `run boots a kernel instance, serves its metrics.Registry over HTTP
at --metrics-addr (grounded on the teacher's monitor package exposing a
Prometheus-scrapeable endpoint), then starts the per-CPU idle loops and
blocks until SIGINT (SIGTERM is not caught), mirroring the teacher's
registerSIGINTHandler (cmd/legacy_main.go) for a graceful unmount.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		k, err := kernel.New(ctx, c)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		defer k.Close()

		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())

		fmt.Fprintf(cmd.OutOrStdout(), "running: metrics on %s, press ctrl-c to stop\n", metricsAddr)
		if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run: %w", err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address the Prometheus metrics endpoint listens on")
}
