package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/payment-recon/internal/repository"
	"github.com/sakashimaa/payment-recon/internal/service"
	"github.com/sakashimaa/payment-recon/internal/signature"
	httptransport "github.com/sakashimaa/payment-recon/internal/transport/http"
	"github.com/sakashimaa/payment-recon/pkg/config"
	"github.com/sakashimaa/payment-recon/pkg/db"
	"github.com/sakashimaa/payment-recon/pkg/kafka"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	outboxrepo "github.com/sakashimaa/payment-recon/pkg/outbox/repository"
	"github.com/sakashimaa/payment-recon/pkg/outbox/worker"
	"github.com/sakashimaa/payment-recon/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: utils.ParseWithFallback("LOG_LEVEL", "info"),
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "payment-recon")
	if err != nil {
		logger.Fatal("Failed to init tracer", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown tracer", zap.Error(err))
		}
	}()

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		logger.Fatal("Failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	orderRepo := repository.NewOrderRepository(pool, logger)
	paymentRepo := repository.NewPaymentRepository(pool, logger)
	ledgerRepo := repository.NewLedgerRepository(pool, logger)
	outboxRepo := outboxrepo.NewOutboxRepository(pool, logger)

	verifier := signature.NewVerifier(cfg.Gateway.Secret)

	recon := service.NewReconService(
		pool,
		orderRepo,
		paymentRepo,
		ledgerRepo,
		outboxRepo,
		verifier,
		cfg.Kafka.Topic,
		logger,
	)
	recon = service.NewCachedReconService(recon, rdb, cfg.Redis.CacheTTL, logger)

	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepo,
		producer,
		logger,
		cfg.Outbox.BatchSize,
		cfg.Outbox.Interval,
	)
	go outboxProcessor.Start(ctx)

	handler := httptransport.NewHandler(recon, cfg.Gateway.SignatureHeader, logger)
	app := httptransport.NewRouter(handler)

	go func() {
		mylogger.Info(ctx, logger, "Starting HTTP server", zap.String("port", cfg.HTTP.Port))

		if err := app.Listen(cfg.HTTP.Port); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	mylogger.Info(ctx, logger, "Shutting down")

	if err := app.ShutdownWithTimeout(cfg.HTTP.Timeout); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}
