package notification

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Failure is one exhausted or permanently rejected delivery attempt.
// Recorded instead of blocking the consumer, ops replays them by hand.
type Failure struct {
	EventID  string
	Kind     string
	Channel  string
	Reason   string
	Attempts int64
}

type FailureRepository interface {
	Record(ctx context.Context, failure *Failure) error
}

type failureRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewFailureRepository(pool *pgxpool.Pool, logger *zap.Logger) FailureRepository {
	return &failureRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("notification_failure_repository"),
	}
}

func (r *failureRepo) Record(ctx context.Context, failure *Failure) error {
	ctx, span := r.tracer.Start(ctx, "FailureRepository.Record")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", failure.EventID),
		attribute.String("channel", failure.Channel),
	)

	query := `
		INSERT INTO notification_failures (event_id, kind, channel, reason, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	if _, err := r.pool.Exec(ctx, query,
		failure.EventID,
		failure.Kind,
		failure.Channel,
		failure.Reason,
		failure.Attempts,
	); err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to record notification failure: %w", err)
	}

	return nil
}
