/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rent ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logger
  3. Open the store (SQLite, SQLite via GORM, or PostgreSQL via GORM)
  4. Connect the Redis lock when REDIS_URL is set
  5. Create the ledger and API handler
  6. Start the overdue sweep scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  PORT, APP_ENV, LOG_LEVEL, DB_DRIVER, DB_PATH, DATABASE_URL, REDIS_URL,
  LOCK_TIMEOUT, SWEEP_INTERVAL, PAYMENT_LINK_BASE, CORS_ORIGINS,
  RECEIPT_ISSUER. See config/config.go for defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against PostgreSQL with a shared lock
  DB_DRIVER=postgres DATABASE_URL=postgres://... REDIS_URL=redis://localhost:6379/0 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - billing/ledger.go: The ledger service
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/rent-ledger/api"
	"github.com/warp/rent-ledger/billing"
	"github.com/warp/rent-ledger/config"
	"github.com/warp/rent-ledger/store/gormstore"
	"github.com/warp/rent-ledger/store/redislock"
	"github.com/warp/rent-ledger/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize store
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeStore()
	logger.Info("store ready", zap.String("driver", cfg.DBDriver))

	opts := []billing.Option{
		billing.WithLogger(logger),
		billing.WithNotifier(billing.LogNotifier{Logger: logger.Named("events")}),
		billing.WithReceiptRenderer(billing.TextReceiptRenderer{Issuer: cfg.ReceiptIssuer}),
		billing.WithPaymentLinker(billing.URLPaymentLinker{BaseURL: cfg.PaymentLinkBase}),
	}

	// A shared lock serializes writers across instances
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		locker, client, err := redislock.Connect(ctx, cfg.RedisURL, redislock.WithTimeout(cfg.LockTimeout))
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		opts = append(opts, billing.WithLocker(locker))
		logger.Info("redis lock enabled")
	}

	ledger := billing.NewLedger(store, opts...)
	handler := api.NewHandler(ledger, logger)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	scheduler := api.NewSweepScheduler(ledger, logger)
	scheduler.CheckInterval = cfg.SweepInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Port)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return err
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore selects the persistence backend from cfg.DBDriver.
func openStore(cfg config.Config) (billing.Store, func() error, error) {
	switch cfg.DBDriver {
	case "sqlite":
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite-gorm":
		s, err := gormstore.Open("sqlite", cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := gormstore.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}
