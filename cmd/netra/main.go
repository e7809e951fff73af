// Netra backend server - serves the HTTP API and WebSocket chat surface,
// and hosts the per-request execution and database-session isolation core.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/netra-ai/netra/pkg/agent"
	"github.com/netra-ai/netra/pkg/api"
	"github.com/netra-ai/netra/pkg/app"
	"github.com/netra-ai/netra/pkg/auth"
	"github.com/netra-ai/netra/pkg/cleanup"
	"github.com/netra-ai/netra/pkg/config"
	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/llm"
	"github.com/netra-ai/netra/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting Netra",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Service credential validator (for "service:<name>" identities)
	var validator auth.CredentialValidator
	creds := cfg.ServiceCredentials()
	if creds.Configured() {
		validator = auth.NewServiceCredentialValidator(creds)
		slog.Info("Service credential validator initialized")
	} else {
		slog.Warn("Service credentials not configured; service identities will be refused")
	}

	// 4. LLM manager
	llmManager, err := llm.NewOpenAIManager(llm.Options{
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKeyEnv:   cfg.LLM.APIKeyEnv,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		slog.Error("Failed to initialize LLM manager", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM manager initialized", "model", cfg.LLM.Model)

	// 5. Tool registry for agent turns
	tools := agent.NewDispatcher()
	if err := tools.Register(agent.CurrentTimeTool{}); err != nil {
		slog.Error("Failed to register builtin tools", "error", err)
		os.Exit(1)
	}
	slog.Info("Tool dispatcher initialized", "tools", tools.Names())

	// 6. Application host
	application := app.New(cfg)
	if err := application.Startup(ctx, app.Components{
		DB:        dbClient,
		LLM:       llmManager,
		Validator: validator,
		Tools:     tools,
	}); err != nil {
		slog.Error("Application startup failed", "error", err)
		os.Exit(1)
	}

	// 7. Retention cleanup loop (system identity, privileged pool)
	var retentionSvc *cleanup.Service
	sessionFactory, sfErr := application.SessionFactory()
	threadService, tsErr := application.ThreadService()
	if sfErr == nil && tsErr == nil {
		retentionSvc = cleanup.NewService(cfg.Retention, sessionFactory, threadService)
		retentionSvc.Start(ctx)
	}

	// 8. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, application)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Netra started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown
	shutdownTimeout := cfg.System.GracefulShutdownTimeout.Std()
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if retentionSvc != nil {
		retentionSvc.Stop()
	}
	if err := application.Shutdown(); err != nil {
		slog.Error("Application shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
