package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"dialectic.app/engine/common/id"
	"dialectic.app/engine/common/llm"
	"dialectic.app/engine/common/logger"
	"dialectic.app/engine/common/otel"
	"dialectic.app/engine/core/config"
	"dialectic.app/engine/core/db"
	"dialectic.app/engine/internal/executor"
	"dialectic.app/engine/internal/queue"
	"dialectic.app/engine/internal/sources"
	"dialectic.app/engine/internal/store"
	"dialectic.app/engine/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "engine worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1, // Process one job at a time
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Jobs.MaxRetries,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	taskProducer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)
	defer taskProducer.Close()

	turnClient, err := llm.New(llm.Config{
		APIKey:          cfg.TurnLLM.APIKey,
		BaseURL:         cfg.TurnLLM.BaseURL,
		Model:           cfg.TurnLLM.Model,
		ReasoningEffort: cfg.TurnLLM.ReasoningEffort,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create turn llm client", "error", err)
		os.Exit(1)
	}

	// Planner steps get their own client when configured, otherwise they
	// share the turn client.
	plannerCfg := executor.ClientConfig{}
	if cfg.PlannerLLM.Enabled() {
		plannerClient, err := llm.New(llm.Config{
			APIKey:          cfg.PlannerLLM.APIKey,
			BaseURL:         cfg.PlannerLLM.BaseURL,
			Model:           cfg.PlannerLLM.Model,
			ReasoningEffort: cfg.PlannerLLM.ReasoningEffort,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create planner llm client", "error", err)
			os.Exit(1)
		}
		plannerCfg = executor.ClientConfig{Client: plannerClient, MaxTokens: cfg.PlannerLLM.MaxTokens}
	}

	generator := executor.New(
		executor.ClientConfig{Client: turnClient, MaxTokens: cfg.TurnLLM.MaxTokens},
		plannerCfg,
	)

	stores := store.NewStores(database.Querier())
	txRunner := &workerTxRunnerAdapter{db: database}

	processor := worker.NewProcessor(
		stores,
		txRunner,
		sources.NewResolver(stores.Contributions()),
		generator,
		taskProducer,
		id.New,
		cfg.Jobs.MaxRetries,
	)

	w := worker.New(consumer, txRunner, stores, processor, worker.Config{
		MaxAttempts: cfg.Jobs.MaxRetries,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick), then the worker which may be mid-job.
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

// workerTxRunnerAdapter bridges db.DB to worker.TxRunner.
type workerTxRunnerAdapter struct {
	db *db.DB
}

func (a *workerTxRunnerAdapter) WithTx(ctx context.Context, fn func(stores worker.StoreProvider) error) error {
	return a.db.WithTx(ctx, func(q db.Querier) error {
		return fn(store.NewStores(q))
	})
}
