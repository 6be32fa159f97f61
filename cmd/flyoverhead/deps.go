// Package main wires flyoverhead's components into a single Cobra-based
// CLI binary (C11), mirroring the teacher's single main() that started
// goroutines for polling and serving, decomposed per spec.md §9's "small
// interface-typed modules" design note into one subcommand per deployable
// role.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/governor"
	"github.com/flyoverhead/core/internal/hotcache"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
	"github.com/flyoverhead/core/internal/repository"
)

// deps bundles the shared infrastructure handles every subcommand builds
// from config.Config: the Redis client backing both queues and the
// governor, the Postgres pool backing the repository, and the two named
// queues from spec.md §6.
type deps struct {
	cfg config.Config
	log *logging.Logger

	redis *redis.Client
	pool  *pgxpool.Pool

	ingestQueue  *queue.Queue
	webhookQueue *queue.Queue

	cache *hotcache.Cache
	repo  *repository.Repository
	gov   *governor.Governor
}

// buildDeps constructs every shared collaborator. Callers are responsible
// for closing the returned deps.
func buildDeps(ctx context.Context, component string, cfg config.Config) (*deps, error) {
	log := logging.New(component)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &deps{
		cfg:   cfg,
		log:   log,
		redis: redisClient,
		pool:  pool,

		ingestQueue:  queue.New(redisClient, "ingest", "flyoverhead:aircraft_ingest"),
		webhookQueue: queue.New(redisClient, "webhook", "flyoverhead:webhooks"),

		cache: hotcache.New(cfg.CacheTTL, cfg.CacheMaxEntries),
		repo:  repository.New(pool),
		gov:   governor.New(redisClient, cfg.BreakerThreshold, int64(cfg.BreakerResetSeconds)),
	}, nil
}

func (d *deps) Close() {
	d.pool.Close()
	_ = d.redis.Close()
}

// newSidecarServer builds the small healthz/metrics HTTP server every
// non-serve process carries, in harbor_hook worker's mux.HandleFunc
// ("/healthz")+promhttp.HandlerFor("/metrics") shape.
func newSidecarServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}

// shutdownHTTP gives an HTTP server up to cfg.ShutdownGrace to finish
// in-flight requests before returning.
func shutdownHTTP(srv *http.Server, cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// runPromoteLoop periodically moves due delayed messages back onto a
// queue's main list, per spec.md §4.1. Driven independently of the
// reserve/decide loop so a crashed worker doesn't stall promotion.
func runPromoteLoop(ctx context.Context, log *logging.Logger, q *queue.Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Promote(ctx, time.Now(), 500); err != nil {
				log.WithError(err).Warn("promote delayed messages failed")
			}
		}
	}
}
