package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsstand/internal/config"
	"newsstand/internal/domain/cache"
	"newsstand/internal/infra/mirror"
	"newsstand/internal/infra/queue"

	"github.com/hibiken/asynq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("worker configuration loaded")

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Redis secondary cache
	redisMirror := mirror.NewRedisMirror(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		time.Duration(cfg.Pruner.TTLSec)*time.Second,
	)
	defer redisMirror.Close()
	slog.Info("redis mirror initialized", "redis", cfg.Redis.Address)

	// ==========================================
	// Asynq Server (task processing)
	// ==========================================

	asynqServer := queue.NewServer(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Queue.Concurrency,
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(cache.TaskTypeMirrorItem, func(ctx context.Context, task *asynq.Task) error {
		payload, err := cache.ParseMirrorItemPayload(task.Payload())
		if err != nil {
			return err
		}
		return redisMirror.Store(ctx, payload.Article)
	})

	// Start the asynq worker in a goroutine
	go func() {
		slog.Info("worker starting",
			"concurrency", cfg.Queue.Concurrency,
			"redis", cfg.Redis.Address,
		)
		if err := asynqServer.Run(mux); err != nil {
			slog.Error("worker failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// ==========================================
	// Mirror Pruner
	// ==========================================

	prunerCtx, prunerCancel := context.WithCancel(context.Background())
	defer prunerCancel()

	pruner := cache.NewPruner(redisMirror, cache.PrunerConfig{
		Interval: time.Duration(cfg.Pruner.IntervalSec) * time.Second,
		MaxItems: cfg.Pruner.MaxItems,
	}, logger)

	go pruner.Run(prunerCtx)

	// ==========================================
	// Graceful Shutdown
	// ==========================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	prunerCancel() // Stop the pruner first
	asynqServer.Shutdown()
	slog.Info("worker exited gracefully")
}
