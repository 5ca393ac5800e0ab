package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"logbook/internal/logbook/admin"
	"logbook/internal/logbook/indexsync"
	"logbook/internal/logbook/lifecycle"
	lbmetrics "logbook/internal/logbook/metrics"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/operation"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/repository"
	"logbook/internal/logbook/store/document"
	"logbook/internal/logbook/store/index"
	"logbook/internal/platform/config"
	"logbook/internal/platform/httpserver"
	"logbook/internal/platform/logger"
	"logbook/internal/platform/metrics"
	"logbook/internal/platform/postgres"
	"logbook/internal/platform/redis"
	"logbook/migrations"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/circuit"
	request "logbook/pkg/platform/middleware/request"
)

// main loads configuration and runs the logbook process until SIGINT or
// SIGTERM. Business logic lives in internal/logbook.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("logbook stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := metrics.New()
	m := lbmetrics.New(reg)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, pool, migrations.FS, log); err != nil {
			return err
		}
	}
	store := document.NewPostgres(pool)

	checks := []admin.Option{
		admin.WithHealthCheck("postgres", pool.Ping),
	}

	var searchIndex ports.SearchIndex
	rdb, err := redis.New(ctx, cfg.Redis, redis.WithLogger(log))
	switch {
	case errors.Is(err, redis.ErrNotConfigured):
		log.Warn("redis not configured, search index is held in memory")
		searchIndex = index.NewInMemory()
	case err != nil:
		return err
	default:
		defer rdb.Close()
		searchIndex = index.NewRedis(rdb.Client, index.WithKeyPrefix(cfg.Redis.KeyPrefix))
		checks = append(checks, admin.WithHealthCheck("redis", rdb.Health))
	}

	breaker := circuit.New("search-index",
		circuit.WithFailureThreshold(cfg.Logbook.BreakerFailures),
		circuit.WithSuccessThreshold(cfg.Logbook.BreakerSuccesses),
	)
	resyncHandler := indexsync.NewHandler(store, searchIndex, breaker,
		indexsync.WithHandlerLogger(log),
		indexsync.WithHandlerMetrics(m),
	)

	g, gctx := errgroup.WithContext(ctx)

	resync, err := startResync(gctx, g, cfg, resyncHandler, log)
	if err != nil {
		return err
	}
	defer resync.close()
	if resync.health != nil {
		checks = append(checks, admin.WithHealthCheck("kafka", resync.health))
	}

	mirror := indexsync.NewMirror(searchIndex, resync.publisher,
		indexsync.WithLogger(log),
		indexsync.WithMetrics(m),
		indexsync.WithBreaker(breaker),
	)
	lifecycleOpts := []lifecycle.Option{
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(m),
		lifecycle.WithMaxResults(cfg.Logbook.MaxResults),
		lifecycle.WithTxTimeout(cfg.Logbook.TxTimeout),
	}
	repo := repository.New(
		operation.New(store, mirror,
			operation.WithLogger(log),
			operation.WithMetrics(m),
			operation.WithMaxResults(cfg.Logbook.MaxResults),
		),
		lifecycle.New(models.LifecycleUnit, store, store, mirror, lifecycleOpts...),
		lifecycle.New(models.LifecycleObjectGroup, store, store, mirror, lifecycleOpts...),
		searchIndex,
		repository.WithLogger(log),
		repository.WithMetrics(m),
	)

	tenants := make([]id.TenantID, 0, len(cfg.Logbook.Tenants))
	for _, t := range cfg.Logbook.Tenants {
		tenants = append(tenants, id.TenantID(t))
	}
	if ensured, err := admin.EnsureAll(ctx, searchIndex, tenants, 4); err != nil {
		log.Warn("search indexes not ensured at startup", "error", err)
	} else {
		log.Info("search indexes ensured", "count", len(ensured))
	}

	router := chi.NewRouter()
	router.Use(chimw.Recoverer, request.RequestID, request.Time)
	admin.New(searchIndex, tenants, cfg.Server.AdminToken,
		append(checks,
			admin.WithLogger(log),
			admin.WithMetricsHandler(reg.Handler()),
			admin.WithSearcher(repo),
		)...,
	).Register(router)

	srv := httpserver.New(cfg.Server, router)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})

	return g.Wait()
}
