package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/flyoverhead/core/internal/adapters/feeder"
	"github.com/flyoverhead/core/internal/adapters/selfpush"
	"github.com/flyoverhead/core/internal/api"
	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/shutdown"
	"github.com/flyoverhead/core/internal/telemetry"
)

// serveCmd runs the read API (C9), the feeder ingest endpoint, and the
// self-push websocket receiver (both part of C3) in one process, per
// spec.md §6 ("cmd/flyoverhead serve (read API + feeder ingest)").
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API, feeder ingest endpoint, and self-push receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.FromEnv()
	d, err := buildDeps(ctx, "flyoverhead-serve", cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	reg := prometheus.NewRegistry()
	telemetry.MustRegister(reg)

	apiServer := api.New(d.cache, d.repo, d.log, cfg.CacheMinResultsBeforeDB, cfg.VisibilityWindow, cfg.StaleThreshold)
	feederHandler := feeder.New(feeder.StaticRegistry(cfg.FeederTokens), d.gov, d.ingestQueue, d.log, cfg.GovernorDefaultRate, cfg.QueueMaxAttempts)
	selfPushHandler := selfpush.New(d.ingestQueue, d.log, cfg.QueueMaxAttempts)

	mux := http.NewServeMux()
	mux.Handle("/ingest/feeder", feederHandler)
	mux.Handle("/ws/push", selfPushHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", apiServer.Handler())

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	coord, _ := shutdown.New(ctx, d.log, cfg.ShutdownGrace)

	coord.Go(func() {
		d.log.WithField("addr", cfg.HTTPAddr).Info("serve: http server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.WithError(err).Error("serve: http server failed")
		}
	})

	coord.WaitForSignal()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	coord.Drain()
	return nil
}
