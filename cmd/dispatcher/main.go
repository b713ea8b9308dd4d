package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/payment-recon/internal/notification"
	kafkatransport "github.com/sakashimaa/payment-recon/internal/transport/kafka"
	"github.com/sakashimaa/payment-recon/pkg/config"
	"github.com/sakashimaa/payment-recon/pkg/db"
	"github.com/sakashimaa/payment-recon/pkg/kafka"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
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

	tp, err := utils.InitTracer(ctx, "notification-dispatcher")
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

	channels := []notification.Channel{
		notification.NewEmailChannel(notification.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger),
		notification.NewPushChannel(notification.PushConfig{
			URL:     cfg.Push.URL,
			Timeout: cfg.Push.Timeout,
		}, logger),
	}

	failures := notification.NewFailureRepository(pool, logger)

	notifications := notification.NewService(
		channels,
		failures,
		notification.RetryPolicy{
			MaxAttempts:     uint64(cfg.Dispatcher.MaxAttempts),
			InitialInterval: cfg.Dispatcher.InitialInterval,
			MaxInterval:     cfg.Dispatcher.MaxInterval,
		},
		logger,
	)

	handler := kafkatransport.NewEventHandler(notifications, logger)

	group := kafka.NewConsumerGroup(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		[]string{cfg.Kafka.Topic},
		handler.Handle,
		logger,
	)

	mylogger.Info(ctx, logger, "Starting notification dispatcher",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)

	group.Run(ctx)

	mylogger.Info(ctx, logger, "Dispatcher stopped")
}
