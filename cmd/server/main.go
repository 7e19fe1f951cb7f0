/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave workflow service. Handles configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags; env overrides defaults
  2. Build the zap logger
  3. Open the SQLite store and seed the leave type catalog
  4. Wire ledger, validator, workflow engine, dispatcher
  5. Start the HTTP server and the expiry scheduler

CONFIGURATION:
  -port / PORT                  HTTP server port (default: 8080)
  -db / DB_PATH                 SQLite database path (default: leave.db)
                                Use ":memory:" for an in-memory database
  KAFKA_BROKERS                 Comma-separated brokers; when set, workflow
                                events are published to Kafka instead of the log
  EXPIRY_DAYS                   Cancel Submitted requests older than this many
                                days (0 disables; default: 0)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections (30s drain)
  2. Stop the expiry scheduler
  3. Drain the async event dispatcher
  4. Close the store

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "leave.db"), "SQLite database path")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Seed the leave type catalog on first run.
	ctx := context.Background()
	if types, err := store.ListLeaveTypes(ctx); err != nil {
		logger.Fatal("failed to list leave types", zap.Error(err))
	} else if len(types) == 0 {
		for _, lt := range leave.DefaultLeaveTypes() {
			if err := store.SaveLeaveType(ctx, lt); err != nil {
				logger.Fatal("failed to seed leave type",
					zap.String("leave_type_id", string(lt.ID)), zap.Error(err))
			}
		}
		logger.Info("seeded default leave types")
	}

	// Notification dispatch: Kafka when brokers are configured, log otherwise.
	var dispatcher leave.Dispatcher
	var async *notify.AsyncDispatcher
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		sink := notify.NewKafkaSink(strings.Split(brokers, ","))
		defer sink.Close()
		async = notify.NewAsyncDispatcher(sink, logger)
		dispatcher = async
		logger.Info("publishing events to kafka", zap.String("brokers", brokers))
	} else {
		dispatcher = notify.NewLogDispatcher(logger)
	}

	// Core wiring
	ledger := leave.NewBalanceLedger(store, logger)
	validator := leave.NewRequestValidator(store, store)
	engine := leave.NewWorkflowEngine(ledger, validator, store, dispatcher, logger)

	handler := api.NewHandler(engine, ledger, store, logger)
	router := api.NewRouter(handler, logger)

	// Optional stale-request expiry
	expiryDays := envInt("EXPIRY_DAYS", 0)
	scheduler := api.NewExpiryScheduler(engine, time.Duration(expiryDays)*24*time.Hour, logger)
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}

	scheduler.Stop()
	if async != nil {
		async.Close()
	}

	logger.Info("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
