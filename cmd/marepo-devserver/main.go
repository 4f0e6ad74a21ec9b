// Package main runs the local document processing backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jacobsvennevik/marepo/internal/config"
	"github.com/jacobsvennevik/marepo/internal/devserver"
)

func main() {
	// Parse flags
	polls := flag.Int("polls", devserver.DefaultPollsUntilComplete, "status checks that report processing before completion")
	failPattern := flag.String("fail", "", "fail processing for files whose name contains this text")
	omitProcessed := flag.Bool("omit-processed", false, "complete without processed data to exercise fallbacks")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Get server port from environment or default
	port := os.Getenv("MAREPO_DEVSERVER_PORT")
	if port == "" {
		port = "8000"
	}

	// Initialize logging
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)
	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := devserver.New(devserver.Options{
		Token:              cfg.APIToken,
		PollsUntilComplete: *polls,
		FailPattern:        *failPattern,
		OmitProcessed:      *omitProcessed,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		Logger:             logger,
	})

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting marepo-devserver", "url", fmt.Sprintf("http://localhost:%s/api", port), "polls", *polls)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
