package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LedgerRepository is the idempotency ledger. The insert is the
// serialization point for concurrent deliveries of the same event: the
// unique constraint on event_id guarantees that exactly one transaction
// wins, and every loser observes ErrDuplicateEvent.
type LedgerRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, eventID string) error
	RecordOutcome(ctx context.Context, tx pgx.Tx, eventID string, outcome domain.Outcome) error
	GetOutcome(ctx context.Context, eventID string) (*domain.Outcome, error)
	Prune(ctx context.Context, retentionDays int) (int64, error)
}

type ledgerRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewLedgerRepository(pool *pgxpool.Pool, logger *zap.Logger) LedgerRepository {
	return &ledgerRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("ledger_repository"),
	}
}

func (r *ledgerRepo) Insert(ctx context.Context, tx pgx.Tx, eventID string) error {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.Insert")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	query := `
		INSERT INTO processed_events (event_id, first_seen_at)
		VALUES ($1, NOW())
	`

	_, err := tx.Exec(ctx, query, eventID)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == "23505" {
			mylogger.Info(
				ctx,
				r.logger,
				"Event already processed, skipping",
				zap.String("event_id", eventID),
			)

			return ErrDuplicateEvent
		}

		span.RecordError(err)

		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return nil
}

// RecordOutcome stores what the event did, in the same transaction as the
// state change, so duplicates can replay the exact result.
func (r *ledgerRepo) RecordOutcome(ctx context.Context, tx pgx.Tx, eventID string, outcome domain.Outcome) error {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.RecordOutcome")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.String("result", outcome.Result),
	)

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	query := `
		UPDATE processed_events
		SET outcome = $1
		WHERE event_id = $2;
	`

	commandTag, err := tx.Exec(ctx, query, payload, eventID)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to record outcome: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry missing for event %s", eventID)
	}

	return nil
}

func (r *ledgerRepo) GetOutcome(ctx context.Context, eventID string) (*domain.Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.GetOutcome")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	query := `
		SELECT outcome
		FROM processed_events
		WHERE event_id = $1
	`

	var payload []byte
	if err := r.pool.QueryRow(ctx, query, eventID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ledger entry missing for event %s", eventID)
		}

		span.RecordError(err)

		return nil, fmt.Errorf("failed to query outcome: %w", err)
	}

	var outcome domain.Outcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}

	return &outcome, nil
}

// Prune removes ledger entries older than the retention window. Not needed
// for correctness, only storage hygiene.
func (r *ledgerRepo) Prune(ctx context.Context, retentionDays int) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.Prune")
	defer span.End()

	query := `
		DELETE FROM processed_events
		WHERE first_seen_at < NOW() - ($1 * INTERVAL '1 day')
	`

	commandTag, err := r.pool.Exec(ctx, query, retentionDays)
	if err != nil {
		span.RecordError(err)

		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}

	return commandTag.RowsAffected(), nil
}
