package notification

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RetryPolicy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Service fans one domain event out to every configured channel. A channel
// failure never blocks the other channels and never blocks the consumer:
// transient errors are retried with backoff, exhausted and permanent
// failures are recorded and dispatch carries on.
type Service struct {
	channels []Channel
	failures FailureRepository
	policy   RetryPolicy
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewService(channels []Channel, failures FailureRepository, policy RetryPolicy, logger *zap.Logger) *Service {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}

	return &Service{
		channels: channels,
		failures: failures,
		policy:   policy,
		logger:   logger,
		tracer:   otel.Tracer("notification_service"),
	}
}

// Dispatch returns an error only when a failure could not even be
// recorded. In that case the message is left unacked so Kafka redelivers.
func (s *Service) Dispatch(ctx context.Context, event *domain.DomainEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.Dispatch")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", event.EventID),
		attribute.String("kind", string(event.Kind)),
		attribute.Int64("order_id", event.OrderID),
	)

	for _, channel := range s.channels {
		if err := s.deliver(ctx, channel, event); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) deliver(ctx context.Context, channel Channel, event *domain.DomainEvent) error {
	var attempts int64

	operation := func() error {
		attempts++

		err := channel.Send(ctx, event)
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrNoRecipient) || errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}

		mylogger.Warn(
			ctx,
			s.logger,
			"Delivery attempt failed, will retry",
			zap.String("event_id", event.EventID),
			zap.String("channel", channel.Name()),
			zap.Int64("attempt", attempts),
			zap.Error(err),
		)

		return err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.policy.InitialInterval
	expBackoff.MaxInterval = s.policy.MaxInterval

	policy := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, s.policy.MaxAttempts-1),
		ctx,
	)

	err := backoff.Retry(operation, policy)
	if err == nil {
		mylogger.Info(
			ctx,
			s.logger,
			"Notification delivered",
			zap.String("event_id", event.EventID),
			zap.String("channel", channel.Name()),
			zap.Int64("attempts", attempts),
		)

		return nil
	}

	if errors.Is(err, ErrNoRecipient) {
		mylogger.Debug(
			ctx,
			s.logger,
			"Channel skipped, no recipient",
			zap.String("event_id", event.EventID),
			zap.String("channel", channel.Name()),
		)

		return nil
	}

	mylogger.Error(
		ctx,
		s.logger,
		"Notification delivery failed",
		zap.String("event_id", event.EventID),
		zap.String("channel", channel.Name()),
		zap.Int64("attempts", attempts),
		zap.Error(err),
	)

	return s.failures.Record(ctx, &Failure{
		EventID:  event.EventID,
		Kind:     string(event.Kind),
		Channel:  channel.Name(),
		Reason:   err.Error(),
		Attempts: attempts,
	})
}
