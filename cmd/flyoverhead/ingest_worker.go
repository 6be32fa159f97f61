package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/ingest"
	"github.com/flyoverhead/core/internal/shutdown"
	"github.com/flyoverhead/core/internal/telemetry"
	"github.com/flyoverhead/core/internal/webhook/publisher"
)

// ingestWorkerCmd runs the ingestion worker (C4): the authoritative
// consumer of the ingest queue, grounded on harbor_hook's worker process
// shape (its own healthz/metrics HTTP server alongside the consume loop).
func ingestWorkerCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "ingest-worker",
		Short: "Consume the ingest queue and apply acceptance rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestWorker(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address to serve /healthz and /metrics on")
	return cmd
}

func runIngestWorker(ctx context.Context, metricsAddr string) error {
	cfg := config.FromEnv()
	d, err := buildDeps(ctx, "flyoverhead-ingest-worker", cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	reg := prometheus.NewRegistry()
	telemetry.MustRegister(reg)
	httpSrv := newSidecarServer(metricsAddr, reg)

	pub := publisher.New(d.repo, d.webhookQueue, d.log)
	worker := ingest.New(d.ingestQueue, d.repo, d.cache, pub, d.log,
		cfg.StaleThreshold, cfg.PositionEpsilonDeg, cfg.AltitudeDeltaMeters, cfg.HeartbeatInterval, cfg.QueueRetryBase, cfg.QueueRetryJitter)

	coord, runCtx := shutdown.New(ctx, d.log, cfg.ShutdownGrace)

	coord.Go(func() {
		d.log.WithField("addr", metricsAddr).Info("ingest-worker: sidecar http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.WithError(err).Error("ingest-worker: sidecar http server failed")
		}
	})

	for i := 0; i < cfg.IngestWorkers; i++ {
		coord.Go(func() {
			if err := worker.Run(runCtx, cfg.QueueReserveTimeout, cfg.QueueBatchSize); err != nil {
				d.log.WithError(err).Error("ingest-worker: run loop exited")
			}
		})
	}

	coord.Go(func() { runPromoteLoop(runCtx, d.log, d.ingestQueue, cfg.QueuePollInterval) })

	coord.WaitForSignal()
	shutdownHTTP(httpSrv, cfg)
	coord.Drain()
	return nil
}
