package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ragcompare/backend/go/internal/config"
	"ragcompare/backend/go/internal/rag_service/api"
	"ragcompare/backend/go/internal/rag_service/service"
	phttp "ragcompare/backend/go/pkg/http"
	"ragcompare/backend/go/pkg/logger"
)

// purgeInterval 是清理空闲会话的周期。
const purgeInterval = time.Minute

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize Logger
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	appLogger := logger.New("RAGService", "", "")
	appLogger.WithPayload(map[string]interface{}{
		"version":      cfg.App.Version,
		"environment":  cfg.App.Environment,
		"vector_store": cfg.Index.VectorStore,
		"comparison":   cfg.Comparison.Mode,
	}).Info("Starting RAG Service...")

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error(fmt.Sprintf("RAG Service stopped: %v", err))
		os.Exit(1)
	}
	appLogger.Info("Servers gracefully stopped")
}

func run(cfg *config.AppConfig, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Dependencies
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	components, err := service.NewComponents(connectCtx, cfg, appLogger)
	cancel()
	if err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}

	// 4. Create the RAG Service
	ragService, err := service.New(cfg, components, appLogger)
	if err != nil {
		_ = components.Close()
		return fmt.Errorf("create service: %w", err)
	}
	defer func() {
		if err := ragService.Close(); err != nil {
			appLogger.Warn(fmt.Sprintf("Failed to release components: %v", err))
		}
	}()
	go ragService.Run(ctx, purgeInterval)

	// 5. Mount the Gin router behind the middleware chain
	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRouter(api.NewHandler(ragService, cfg.Server.MaxUploadBytes, appLogger), cfg.Auth, appLogger)
	srv, err := phttp.NewServer(cfg, phttp.WithAddress(cfg.Server.Address), phttp.WithLogger(appLogger))
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}
	srv.Handle("/", router)

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info(fmt.Sprintf("HTTP server listening at %s", srv.Addr()))
		errCh <- srv.ListenAndServe()
	}()

	// 6. Graceful Shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	appLogger.Info("Shutting down servers...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
