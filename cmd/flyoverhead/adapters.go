package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/flyoverhead/core/internal/adapters/globalpublic"
	"github.com/flyoverhead/core/internal/adapters/regional"
	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/shutdown"
	"github.com/flyoverhead/core/internal/telemetry"
)

// adaptersCmd runs the two polling source adapters (C3): the global
// public feed and the regional commercial feed. The feeder HTTP endpoint
// and self-push websocket receiver are server-shaped, not pollers, and
// are served by "serve" instead.
func adaptersCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "Run the global-public and regional-commercial polling adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdapters(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9093", "address to serve /healthz and /metrics on")
	return cmd
}

func runAdapters(ctx context.Context, metricsAddr string) error {
	cfg := config.FromEnv()
	d, err := buildDeps(ctx, "flyoverhead-adapters", cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	reg := prometheus.NewRegistry()
	telemetry.MustRegister(reg)
	httpSrv := newSidecarServer(metricsAddr, reg)

	global := globalpublic.New(cfg, d.ingestQueue, d.log)
	regionalAdapter := regional.New(cfg, d.ingestQueue, d.log, nil)

	coord, runCtx := shutdown.New(ctx, d.log, cfg.ShutdownGrace)

	coord.Go(func() {
		d.log.WithField("addr", metricsAddr).Info("adapters: sidecar http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.WithError(err).Error("adapters: sidecar http server failed")
		}
	})

	coord.Go(func() {
		if err := global.Run(runCtx); err != nil {
			d.log.WithError(err).Error("adapters: global-public run loop exited")
		}
	})
	coord.Go(func() {
		if err := regionalAdapter.Run(runCtx); err != nil {
			d.log.WithError(err).Error("adapters: regional run loop exited")
		}
	})

	coord.WaitForSignal()
	shutdownHTTP(httpSrv, cfg)
	coord.Drain()
	return nil
}
