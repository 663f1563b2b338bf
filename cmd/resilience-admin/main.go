package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/agentscan-resilience/internal/api"
	"github.com/NikhilSetiya/agentscan-resilience/internal/observability"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/config"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

const serviceVersion = "1.0.0"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		if err := serve(cfg); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case "token":
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
	default:
		fmt.Println("Usage: resilience-admin <command>")
		fmt.Println("Commands:")
		fmt.Println("  serve                  - Run the admin API (default)")
		fmt.Println("  token <subject> [ttl]  - Print an admin bearer token")
		os.Exit(1)
	}
}

func issueToken(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("subject is required")
	}
	if cfg.Admin.JWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is not set")
	}

	ttl := 24 * time.Hour
	if len(args) > 1 {
		parsed, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		ttl = parsed
	}

	token, err := api.IssueAdminToken(cfg.Admin.JWTSecret, args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func serve(cfg *config.Config) error {
	obs, err := observability.NewService(cfg, serviceVersion)
	if err != nil {
		return err
	}
	logger := obs.Logger()
	logging.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := obs.SetupAlertSinks(ctx); err != nil {
		return err
	}

	errorHandler := resilience.NewErrorHandler(
		resilience.ConfigFromSettings(cfg.Resilience),
		resilience.WithLogger(logger),
		resilience.WithMetrics(obs.Metrics()),
		resilience.WithTracer(obs.Tracing()),
		resilience.WithAlertSinks(obs.Sinks()...),
	)
	obs.SetupHealthChecks(errorHandler)
	errorHandler.Start(ctx)

	deps := api.Dependencies{
		Resilience:   errorHandler,
		Health:       obs.Health(),
		Metrics:      obs.Metrics(),
		Tracer:       obs.Tracing(),
		Logger:       logger,
		AlertHistory: obs.History(),
	}
	if client := obs.Redis(); client != nil {
		deps.Redis = client
	}

	server := &http.Server{
		Addr:         cfg.AdminAddr(),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
		IdleTimeout:  cfg.Admin.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting admin server", "addr", server.Addr, "sinks", fmt.Sprint(errorHandler.Stats().AlertSinks))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down admin server")
	case err := <-serverErr:
		logger.Error("Admin server failed", "error", err.Error())
	}

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
	}

	errorHandler.Stop()
	if delivered := errorHandler.FlushAlerts(shutdownCtx); delivered > 0 {
		logger.Info("Flushed pending alerts", "count", delivered)
	}

	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("Observability shutdown failed", "error", err.Error())
	}

	logger.Info("Server exited")
	return nil
}
