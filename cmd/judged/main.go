package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/blob"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/config"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/hooks"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/infrastructure/postgres"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/infrastructure/rabbitmq"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/judge"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/retry"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/transport/rest"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info", "json")
		logger.Log.Fatal().Err(err).Msg("config load failed")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.Component("judged")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres.
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid database dsn")
	}
	poolCfg.MaxConns = cfg.DB.MaxConns
	poolCfg.MinConns = cfg.DB.MinConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database pool init failed")
	}
	defer pool.Close()
	{
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("database ping failed")
		}
	}

	// Blob store.
	blobs, err := blob.New(cfg.Blob.BaseDir, cfg.Blob.MaxSizeBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("blob store init failed")
	}

	subs := postgres.NewSubmissionStore(pool)
	dlqStore := postgres.NewDLQStore(pool)
	refs := postgres.NewBlobRefStore(pool, blobs)

	registry := hooks.NewRegistry()
	registry.Register(hooks.NewAuditHook(logger.Log))

	tracker := retry.NewTracker(cfg.MQ.DLQ.MaxRetries)
	cleaner := retry.NewCleaner(tracker, cfg.MQ.DLQ.RetryCleanupInterval(), cfg.MQ.DLQ.RetryMaxAge(), logger.Log)

	// Broker. With mq disabled the admin API still runs: intake accepts
	// submissions, nothing is consumed, the detector reaps the rows.
	var (
		pub       judge.Publisher = judge.NoopPublisher{}
		rabbitPub *rabbitmq.Publisher
		consumer  *rabbitmq.Consumer
	)
	if cfg.MQ.Enabled {
		rabbitPub, err = rabbitmq.NewPublisher(cfg.MQ)
		if err != nil {
			log.Fatal().Err(err).Msg("publisher init failed")
		}
		pub = rabbitPub
		consumer, err = rabbitmq.NewConsumer(cfg.MQ)
		if err != nil {
			log.Fatal().Err(err).Msg("consumer init failed")
		}
	} else {
		log.Warn().Msg("mq disabled: judge jobs will not be delivered")
	}

	dispatcher := judge.NewDispatcher(subs, refs, pub, registry,
		cfg.MQ.QueueName, cfg.Submission.MaxSize, cfg.Blob.InlineThresholdBytes)
	resultHandler := judge.NewResultHandler(subs, dlqStore, tracker, registry,
		cfg.MQ.DLQ.BaseDelay(), cfg.MQ.DLQ.MaxDelay())
	dlqHandler := judge.NewDLQHandler(subs, dlqStore, registry)
	detector := judge.NewStuckDetector(pool, subs, dlqStore, registry,
		cfg.MQ.DLQ.StuckJobTimeout(), cfg.MQ.DLQ.StuckJobScanInterval())
	adminSvc := judge.NewAdminService(pool, subs, dlqStore, dispatcher, pub,
		cfg.MQ.QueueName, cfg.MQ.ResultQueueName, cfg.Submission.RateLimitPerMinute)

	var mqReady rest.ReadyChecker
	if rabbitPub != nil {
		mqReady = rabbitPub
	}
	router := rest.NewRouter(rest.RouterDeps{
		Admin:      rest.NewHandler(adminSvc),
		Health:     rest.NewHealthHandler(pool, mqReady),
		RateLimit:  cfg.HTTP.RateLimit,
		RateWindow: cfg.HTTP.RateWindow(),
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout(),
		WriteTimeout: cfg.HTTP.WriteTimeout(),
		IdleTimeout:  cfg.HTTP.IdleTimeout(),
	}

	// Long-running components. The first failure lands in errCh and takes
	// the process down; the buffer covers every possible sender.
	errCh := make(chan error, 4)
	var wg sync.WaitGroup

	if consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Process(ctx, cfg.MQ.ResultQueueName, 1, cfg.MQ.Prefetch, resultHandler.Handle); err != nil {
				errCh <- err
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Process(ctx, cfg.MQ.DLQQueueName, 1, cfg.MQ.Prefetch, dlqHandler.Handle); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		detector.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		cleaner.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info().
		Bool("mq_enabled", cfg.MQ.Enabled).
		Str("job_queue", cfg.MQ.QueueName).
		Str("result_queue", cfg.MQ.ResultQueueName).
		Str("dlq_queue", cfg.MQ.DLQQueueName).
		Msg("judged started")

	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("component failed, shutting down")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}

	// Cancels ctx when a component error, not a signal, got us here.
	stop()
	wg.Wait()

	if consumer != nil {
		_ = consumer.Close()
	}
	if rabbitPub != nil {
		_ = rabbitPub.Close()
	}

	log.Info().Msg("judged stopped")
}
