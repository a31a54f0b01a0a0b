/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the grant engine server. Handles configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (YAML + environment)
  2. Build the zap logger (production encoding unless ENVIRONMENT=local)
  3. Open the SQLite store and run migrations
  4. Wire the engine services and HTTP router
  5. Start the server with graceful shutdown

CONFIGURATION:
  See config/config.go. SESSION_SECRET is mandatory; DATABASE_PATH
  defaults to grants.db (":memory:" for ephemeral runs).

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the database connection
  4. Exit

SEE ALSO:
  - api/server.go: router configuration
  - store/sqlite/sqlite.go: database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reliefops/grant-engine/api"
	"github.com/reliefops/grant-engine/auth"
	"github.com/reliefops/grant-engine/config"
	"github.com/reliefops/grant-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger isn't up yet.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg.Env)
	defer logger.Sync()

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	verifier := auth.NewVerifier(cfg.SessionSecret)
	session := auth.NewMiddleware(verifier, logger)
	handler := api.NewHandler(store, api.SubmissionValidator(), logger)
	router := api.NewRouter(handler, session, cfg.AllowedOrigins, logger)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr()),
			zap.String("database", cfg.DatabasePath),
			zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(env string) *zap.Logger {
	if env == "local" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
