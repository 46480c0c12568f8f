// The worker binary consumes the job queue, runs transcription and
// summarization, and sweeps expired jobs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"stt-pipeline/internal/cleanup"
	"stt-pipeline/internal/config"
	"stt-pipeline/internal/events"
	"stt-pipeline/internal/logging"
	"stt-pipeline/internal/platform"
	"stt-pipeline/internal/queue"
	"stt-pipeline/internal/storage"
	"stt-pipeline/internal/store"
	"stt-pipeline/internal/summarize"
	"stt-pipeline/internal/telemetry"
	"stt-pipeline/internal/transcribe"
	"stt-pipeline/internal/worker"
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

	summarizer, err := summarize.NewGeminiSummarizer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Gemini init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	clock := platform.SystemClock{}
	q := queue.NewRedisQueueWithClient(redisClient, cfg)
	publisher := events.NewRedisPublisher(redisClient, cfg.EventChannel)
	process := worker.NewProcessJob(st, publisher, transcribe.NewClient(cfg), summarizer, clock, logger)
	processor := worker.NewProcessor(cfg, q, process, logger)

	sweeper := cleanup.NewSweeper(st, fs, clock, logger)
	go cleanup.NewScheduler(sweeper, cfg.CleanupInterval, logger).Run(ctx)

	go serveMetrics(ctx, cfg.MetricsAddr, logger)

	logger.Info("Worker starting",
		slog.String("redis", cfg.RedisAddr),
		slog.Int("max_attempts", cfg.MaxAttempts),
	)
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker exited", slog.String("error", err.Error()))
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

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("Metrics server stopped", slog.String("error", err.Error()))
	}
}
