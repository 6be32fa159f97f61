package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/shutdown"
	"github.com/flyoverhead/core/internal/telemetry"
	"github.com/flyoverhead/core/internal/webhook/dispatcher"
)

// dispatchWorkerCmd runs the webhook dispatcher (C7): the authenticated,
// governed consumer of the webhook queue.
func dispatchWorkerCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "dispatch-worker",
		Short: "Consume the webhook queue and deliver signed HTTP callbacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatchWorker(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9092", "address to serve /healthz and /metrics on")
	return cmd
}

func runDispatchWorker(ctx context.Context, metricsAddr string) error {
	cfg := config.FromEnv()
	d, err := buildDeps(ctx, "flyoverhead-dispatch-worker", cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	reg := prometheus.NewRegistry()
	telemetry.MustRegister(reg)
	httpSrv := newSidecarServer(metricsAddr, reg)

	disp := dispatcher.New(d.webhookQueue, d.repo, d.gov, cfg, d.log)

	coord, runCtx := shutdown.New(ctx, d.log, cfg.ShutdownGrace)

	coord.Go(func() {
		d.log.WithField("addr", metricsAddr).Info("dispatch-worker: sidecar http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.WithError(err).Error("dispatch-worker: sidecar http server failed")
		}
	})

	for i := 0; i < cfg.DispatchWorkers; i++ {
		coord.Go(func() {
			if err := disp.Run(runCtx, cfg.QueueReserveTimeout); err != nil {
				d.log.WithError(err).Error("dispatch-worker: run loop exited")
			}
		})
	}

	coord.Go(func() { runPromoteLoop(runCtx, d.log, d.webhookQueue, cfg.QueuePollInterval) })

	coord.WaitForSignal()
	shutdownHTTP(httpSrv, cfg)
	coord.Drain()
	return nil
}
