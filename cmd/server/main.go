/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize the store (SQLite, Postgres or memory)
  3. Choose the locker (Redis when REDIS_ADDR is set, in-process otherwise)
  4. Install the tracer provider, then create the engine, metrics and
     API handler
  5. Start the reconciliation scheduler when enabled
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      Database DSN or SQLite path (overrides DATABASE_URL)
           Use ":memory:" for an in-memory SQLite database

ENVIRONMENT:
  PORT, DB_DRIVER (sqlite3|pgx|memory), DATABASE_URL, REDIS_ADDR,
  REDIS_PASSWORD, REDIS_DB, LOCK_TTL_SECONDS, LOG_LEVEL,
  RECONCILE_INTERVAL_MINUTES, ALLOWED_ORIGINS, TRACE_SAMPLE_RATE

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush spans, then close database and Redis connections

SEE ALSO:
  - api/server.go: Router configuration
  - internal/config/config.go: Environment variables
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/internal/config"
	"github.com/warp/stock-ledger/internal/logging"
	"github.com/warp/stock-ledger/internal/tracing"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/store/memory"
	"github.com/warp/stock-ledger/store/sqlstore"
)

func main() {
	cfg := config.Load()

	port := flag.String("port", cfg.Port, "HTTP server port")
	dsn := flag.String("db", cfg.DatabaseURL, "Database DSN or SQLite path")
	flag.Parse()
	cfg.Port = *port
	cfg.DatabaseURL = *dsn

	logger := logging.New(cfg.LogLevel)

	repo, closeStore, err := openStore(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize store")
	}
	defer closeStore()

	provider := tracing.Setup("stock-ledger", cfg.TraceSampleRate, logger.WithField("module", "tracing"))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("failed to shut down tracer provider")
		}
	}()

	m := metrics.New("stock")

	engine := stock.NewEngine(repo)
	engine.Logger = logger.WithField("module", "stock")
	engine.Observer = m

	if cfg.UseRedisLocks() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			cancel()
			logger.WithError(err).Fatal("failed to connect to redis")
		}
		cancel()

		engine.Locker = lock.NewRedisLocker(client, cfg.LockTTL, 100*time.Millisecond, 50, logger.WithField("module", "lock"))
		logger.WithField("addr", cfg.RedisAddr).Info("using redis locks")
	}

	handler := api.NewHandler(repo, engine, logger.WithField("module", "api"))
	handler.Metrics = m

	if cfg.ReconcileInterval > 0 {
		scheduler := api.NewReconciliationScheduler(handler.Reconciler, m, logger.WithField("module", "reconcile"))
		scheduler.CheckInterval = cfg.ReconcileInterval
		scheduler.Start()
		defer scheduler.Stop()
		handler.Scheduler = scheduler
	}

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   cfg.Address(),
			"driver": cfg.DBDriver,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
		return
	}

	logger.Info("server stopped")
}

// openStore returns the repository for cfg.DBDriver and its close func.
func openStore(cfg config.Config) (stock.TxRepository, func(), error) {
	if cfg.DBDriver == "memory" {
		return memory.NewTx(), func() {}, nil
	}
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
