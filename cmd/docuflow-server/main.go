package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tendant/docuflow/pkg/docuflow/config"
	"github.com/tendant/docuflow/pkg/docuflow/events"
)

func main() {
	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(serverConfig)
	slog.SetDefault(logger)

	if err := run(serverConfig, logger); err != nil {
		logger.Error("Server stopped with error", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.ServerConfig) *slog.Logger {
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func run(cfg *config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := cfg.Build(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer components.Close()

	// Workers outlive the signal so accepted events finish during shutdown
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	webhook := events.NewWebhook(components.Dispatcher,
		events.WithWorkers(cfg.Workers),
		events.WithWebhookLogger(logger),
	)
	webhook.Start(workCtx)

	if queueCfg, ok := cfg.QueueConfig(); ok {
		client, err := events.NewQueueClient(queueCfg)
		if err != nil {
			return fmt.Errorf("failed to create queue client: %w", err)
		}
		source := events.NewQueueSource(client, components.Dispatcher, queueCfg, logger)
		go func() {
			if err := source.Run(ctx); err != nil {
				logger.Error("Queue source stopped", "err", err)
			}
		}()
	}

	server := NewHTTPServer(components, webhook, cfg, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Docuflow server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"storage", cfg.StorageType,
			"input_container", cfg.InputContainer,
			"output_container", cfg.OutputContainer,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}

	webhook.Close()
	logger.Info("Server exiting")
	return nil
}
