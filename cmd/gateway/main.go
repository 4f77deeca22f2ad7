package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/relay-gateway/internal/cache"
	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/filter"
	"github.com/af-corp/relay-gateway/internal/filter/policy"
	"github.com/af-corp/relay-gateway/internal/gateway"
	"github.com/af-corp/relay-gateway/internal/healthcheck"
	"github.com/af-corp/relay-gateway/internal/history"
	"github.com/af-corp/relay-gateway/internal/progress"
	"github.com/af-corp/relay-gateway/internal/router"
	"github.com/af-corp/relay-gateway/internal/router/adapters"
	"github.com/af-corp/relay-gateway/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	envFile := flag.String("env", ".env", "dotenv file loaded before configuration")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := config.LoadDotEnv(*envFile); err != nil {
		bootLogger.Warn("failed to load env file", "error", err)
	}

	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := telemetry.NewLogger(os.Stdout, cfg.Telemetry)
	slog.SetDefault(logger)

	if err := run(loader, logger); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(loader *config.Loader, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loader.Config()
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Audit history
	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	var recorder history.Recorder = history.Discard{}
	var lister gateway.HistoryLister
	if store != nil {
		defer store.Close()
		async := history.NewAsyncRecorder(store, cfg.History.BufferSize)
		defer async.Close()
		recorder = async
		lister = store

		pruner := history.NewPruner(store, cfg.History.RetentionDays, cfg.History.RetentionSchedule)
		if err := pruner.Start(ctx); err != nil {
			return err
		}
		defer pruner.Stop()
	}

	// Progress notifications
	sinks := []progress.Sink{progress.LogSink{}}
	if rdb := openRedis(ctx, cfg.Redis); rdb != nil {
		defer rdb.Close()
		sinks = append(sinks, progress.NewRedisSink(rdb, cfg.Progress.RedisChannel))
	}
	dispatcher := progress.NewDispatcher(cfg.Progress.QueueSize, sinks...)
	defer dispatcher.Close()

	// Routing
	health := healthcheck.New()
	buildSnapshot := func() *router.Snapshot {
		c := loader.Config()
		return router.NewSnapshot(loader.Routing(), loader.Providers(), adapters.Options{
			AttemptTimeout: c.Routing.AttemptTimeout(),
		})
	}
	snap := buildSnapshot()
	health.Update(snap.Registry.Len())
	orchestrator := router.NewOrchestrator(snap, router.NewCooldownTracker(), dispatcher, metrics)

	// Admission policy
	evaluator := policy.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy })
	if cfg.Policy.Enabled {
		if err := evaluator.Load(); err != nil {
			return fmt.Errorf("load policies: %w", err)
		}
	}

	responseCache, err := cache.New(cache.DefaultCapacity)
	if err != nil {
		return err
	}

	loader.OnReload(func() {
		next := buildSnapshot()
		orchestrator.Swap(next)
		health.Update(next.Registry.Len())
		if loader.Config().Policy.Enabled {
			if err := evaluator.Load(); err != nil {
				logger.Error("failed to reload policies, keeping previous", "error", err)
			}
		}
		responseCache.Purge()
		logger.Info("routing snapshot reloaded", "providers", next.Registry.Len())
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	handler := gateway.NewHandler(gateway.Deps{
		Orchestrator: orchestrator,
		Cache:        responseCache,
		Recorder:     recorder,
		History:      lister,
		Filters:      filter.NewChain(evaluator),
		Metrics:      metrics,
		Config:       loader.Config,
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(gateway.RequestID)

	r.Get("/health", gateway.Health(version))
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/messages", handler.Messages)
	r.Get("/v1/models", handler.Models)
	r.Get("/v1/status", handler.Status)
	r.Get("/v1/history", handler.History)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", grpcAddr, err)
	}
	go func() {
		logger.Info("grpc health starting", "addr", grpcAddr)
		errCh <- health.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	health.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

// openHistory returns the configured audit store, or nil when history is off.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := history.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("history store opened", "driver", "sqlite", "path", cfg.SQLitePath)
		return store, nil
	case "postgres":
		store, err := history.OpenPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		slog.Info("history store opened", "driver", "postgres", "host", cfg.Postgres.Host)
		return store, nil
	case "none", "":
		slog.Info("request history disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// openRedis connects the progress publisher. Redis is optional: a missing
// address or a failed ping disables the sink.
func openRedis(ctx context.Context, cfg config.RedisConfig) redis.UniversalClient {
	if len(cfg.Addresses) == 0 || cfg.Addresses[0] == "" {
		return nil
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addresses,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis not reachable (progress publishing disabled)", "error", err)
		rdb.Close()
		return nil
	}
	slog.Info("redis connected")
	return rdb
}
