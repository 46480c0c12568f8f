// The api binary serves the upload/read HTTP surface and the websocket
// gateway that streams job events to browsers.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"stt-pipeline/internal/api"
	"stt-pipeline/internal/config"
	"stt-pipeline/internal/events"
	"stt-pipeline/internal/gateway"
	"stt-pipeline/internal/jobs"
	"stt-pipeline/internal/logging"
	"stt-pipeline/internal/platform"
	"stt-pipeline/internal/queue"
	"stt-pipeline/internal/ratelimit"
	"stt-pipeline/internal/storage"
	"stt-pipeline/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("Connect postgres failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("Migrations failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("Connect redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	fs, err := buildStorage(ctx, cfg)
	if err != nil {
		logger.Error("Storage init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	q := queue.NewRedisQueueWithClient(redisClient, cfg)
	svc := jobs.NewService(st, q, fs, platform.UUIDGenerator{}, platform.SystemClock{}, cfg.Retention, logger)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	hub := gateway.NewHub(st, logger)
	sub := events.NewRedisSubscriber(redisClient, cfg.EventChannel, logger)
	go func() {
		if err := hub.Run(ctx, sub); err != nil && ctx.Err() == nil {
			logger.Error("Event subscriber stopped", slog.String("error", err.Error()))
		}
	}()

	srv := api.NewServer(cfg, svc, q, hub, limiter, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func buildStorage(ctx context.Context, cfg config.Config) (storage.FileStorage, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Storage(ctx, cfg)
	}
	return storage.NewLocalStorage(cfg.UploadDir), nil
}
