// Package main provides the local sync daemon. UI clients communicate via
// REST and WebSocket on localhost.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sayantanroy47/tasky-sync/cmd/syncd/handlers"
	"github.com/sayantanroy47/tasky-sync/internal/db"
	"github.com/sayantanroy47/tasky-sync/internal/logging"
	syncpkg "github.com/sayantanroy47/tasky-sync/internal/sync"
	"github.com/sayantanroy47/tasky-sync/internal/sync/queue"
	"github.com/sayantanroy47/tasky-sync/internal/sync/remote"
	"github.com/sayantanroy47/tasky-sync/internal/sync/scheduler"
)

func main() {
	// .env is optional, env vars win
	_ = godotenv.Load()

	logging.Init(os.Stdout, envOr("SYNCD_LOG_LEVEL", "info"))

	dataDir := envOr("SYNCD_DATA_DIR", "./data")
	remoteURL := envOr("SYNCD_REMOTE_URL", "")
	token := envOr("SYNCD_TOKEN", "")
	addr := envOr("SYNCD_ADDR", "127.0.0.1:8321")

	if remoteURL == "" {
		logging.Error("SYNCD_REMOTE_URL is required", nil, nil)
		os.Exit(1)
	}

	database, err := db.Open(dataDir)
	if err != nil {
		logging.Error("failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	cfg := syncpkg.DefaultConfig()
	cfg.AutoSyncInterval = envDuration("SYNCD_AUTO_SYNC_INTERVAL", cfg.AutoSyncInterval)
	cfg.MaxBatchSize = envInt("SYNCD_MAX_BATCH_SIZE", cfg.MaxBatchSize)
	cfg.MaxRetries = envInt("SYNCD_MAX_RETRIES", cfg.MaxRetries)
	cfg.BackoffBase = envDuration("SYNCD_BACKOFF_BASE", cfg.BackoffBase)
	cfg.BackoffCap = envDuration("SYNCD_BACKOFF_CAP", cfg.BackoffCap)
	cfg.ConflictSkewTolerance = envDuration("SYNCD_CONFLICT_SKEW_TOLERANCE", cfg.ConflictSkewTolerance)
	cfg.RequestTimeout = envDuration("SYNCD_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.TombstoneRetention = envDuration("SYNCD_TOMBSTONE_RETENTION", cfg.TombstoneRetention)

	store := db.NewStore(database)
	q, err := queue.New(store, queue.Config{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	})
	if err != nil {
		logging.Error("failed to initialize sync queue", err, nil)
		os.Exit(1)
	}

	creds := remote.StaticCredentials(token)
	adapter := remote.NewHTTPAdapter(remote.HTTPConfig{
		BaseURL:        remoteURL,
		RequestTimeout: cfg.RequestTimeout,
		Credentials:    creds,
	})

	engine := syncpkg.NewEngine(store, q, adapter, creds, cfg)
	sched := scheduler.New(engine, &scheduler.Config{
		AutoSyncInterval:   cfg.AutoSyncInterval,
		FailureBackoffBase: cfg.BackoffBase,
		FailureBackoffCap:  cfg.BackoffCap,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := NewWSHub()
	go pumpEvents(ctx, engine, hub)

	sched.Start(ctx)
	defer sched.Stop()

	mux := http.NewServeMux()
	handlers.NewSyncHandler(engine, sched, q).Register(mux)
	mux.HandleFunc("/ws", hub.HandleUpgrade)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logging.Info("sync daemon listening", map[string]interface{}{"addr": addr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("server failed", err, nil)
		os.Exit(1)
	}
}

// pumpEvents bridges the engine's event stream onto the websocket hub.
func pumpEvents(ctx context.Context, engine *syncpkg.Engine, hub *WSHub) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-engine.Events():
			hub.BroadcastEvent(ev)
		}
	}
}

func envOr(key, fallback string) string {
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
