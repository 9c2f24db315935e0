package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsstand/internal/api"
	"newsstand/internal/config"
	"newsstand/internal/domain/alert"
	"newsstand/internal/domain/audio"
	"newsstand/internal/domain/cache"
	"newsstand/internal/domain/content"
	"newsstand/internal/domain/session"
	"newsstand/internal/domain/stream"
	"newsstand/internal/infra/feed"
	"newsstand/internal/infra/localstore"
	"newsstand/internal/infra/notify"
	"newsstand/internal/infra/queue"
	"newsstand/internal/infra/realtime"
	"newsstand/internal/infra/speaker"
	"newsstand/internal/router"

	"github.com/hibiken/asynq"
)

// mirrorEnqueuer adapts the asynq client to the cache.Enqueuer interface.
type mirrorEnqueuer struct {
	client   *asynq.Client
	maxRetry int
}

func (q *mirrorEnqueuer) EnqueueMirrorItem(a content.Article) error {
	return queue.EnqueueMirrorItem(q.client, a, q.maxRetry)
}

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

	slog.Info("configuration loaded", "port", cfg.Server.Port, "mode", cfg.Server.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Local key-value store (cache envelope, mute flag, session settings)
	kv, err := localstore.Open(cfg.Cache.Path)
	if err != nil {
		slog.Error("failed to open local store", "error", err, "path", cfg.Cache.Path)
		os.Exit(1)
	}
	defer kv.Close()
	slog.Info("local store opened", "path", cfg.Cache.Path)

	// Asynq client (for the best-effort mirror fan-out)
	asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	defer asynqClient.Close()

	enqueuer := &mirrorEnqueuer{
		client:   asynqClient,
		maxRetry: cfg.Queue.MaxRetry,
	}

	// Offline cache
	store := cache.NewStore(kv, enqueuer, logger)

	// Audio: the device may be unavailable (headless session); cues are
	// simply skipped then.
	var sink audio.Sink
	if s, err := speaker.NewSink(audio.SampleRate, logger); err != nil {
		slog.Warn("audio device unavailable, cues disabled", "error", err)
	} else {
		sink = s
	}
	audioEngine := audio.NewEngine(ctx, kv, sink, cfg.Audio.Volume, logger)

	// Session settings
	sessions := session.NewManager(kv, logger)
	slog.Info("session started", "session_id", sessions.ID(ctx))

	// Content fetch path
	feedClient, err := feed.NewClient(cfg.Supabase.URL, cfg.Supabase.AnonKey)
	if err != nil {
		slog.Error("failed to initialize content fetcher", "error", err)
		os.Exit(1)
	}
	contents := content.NewService(feedClient, store, cfg.Cache.MaxItems, logger)

	// Notification pipeline
	toasts := alert.NewFeed()
	defer toasts.Close()

	engine := alert.NewEngine(toasts, []string{cfg.Sync.BreakingTable}, logger,
		alert.WithNative(notify.NewDesktopNotifier("Newsstand", "", logger)),
		alert.WithCues(audioEngine),
		alert.WithPrompter(notify.DesktopPrompter{}),
		alert.WithRefresh(func(ev stream.ChangeEvent) {
			go func() {
				if _, err := contents.Refresh(ctx); err != nil {
					slog.Warn("refresh after update failed", "id", ev.ID, "error", err)
				}
			}()
		}),
	)

	// Change-event routing
	rtr := stream.NewRouter(logger)
	defer rtr.Close()

	rtr.Register(cfg.Sync.ContentTable, stream.OpInsert, engine.OnEvent)
	rtr.Register(cfg.Sync.ContentTable, stream.OpUpdate, engine.OnEvent)
	rtr.Register(cfg.Sync.BreakingTable, stream.OpInsert, engine.OnEvent)
	rtr.Register(cfg.Sync.BreakingTable, stream.OpUpdate, engine.OnEvent)

	// Cache invalidation: any change to content re-fetches the latest page.
	rtr.Register(cfg.Sync.ContentTable, stream.OpAny, func(ev stream.ChangeEvent) {
		if _, err := contents.Refresh(ctx); err != nil {
			slog.Warn("cache invalidation refresh failed", "id", ev.ID, "error", err)
		}
	})

	// Realtime subscriptions
	rtClient, err := realtime.NewClient(cfg.Supabase.URL, cfg.Supabase.AnonKey, logger)
	if err != nil {
		slog.Error("failed to initialize realtime client", "error", err)
		os.Exit(1)
	}

	manager := stream.NewManager(rtClient, rtr, stream.ManagerConfig{
		MaxRetries:     cfg.Sync.MaxRetries,
		InitialBackoff: time.Duration(cfg.Sync.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Sync.MaxBackoffMs) * time.Millisecond,
	}, logger)
	defer manager.CloseAll()

	manager.Open(ctx, cfg.Sync.Schema+":"+cfg.Sync.ContentTable, []stream.TableFilter{
		{Schema: cfg.Sync.Schema, Table: cfg.Sync.ContentTable, Event: stream.OpAny},
	})
	manager.Open(ctx, cfg.Sync.Schema+":"+cfg.Sync.BreakingTable, []stream.TableFilter{
		{Schema: cfg.Sync.Schema, Table: cfg.Sync.BreakingTable, Event: stream.OpInsert},
		{Schema: cfg.Sync.Schema, Table: cfg.Sync.BreakingTable, Event: stream.OpUpdate},
	})

	// Periodic content refresh feeding the offline cache
	go contents.Run(ctx, time.Duration(cfg.Sync.RefreshIntervalSec)*time.Second)

	// ==========================================
	// Control API with Graceful Shutdown
	// ==========================================

	handler := api.NewHandler(manager, rtr, engine, toasts, store, audioEngine, contents, sessions)
	r := router.New(cfg, handler)

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("control api starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control api failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down client...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("control api forced to shutdown", "error", err)
	}

	slog.Info("client exited gracefully")
}
