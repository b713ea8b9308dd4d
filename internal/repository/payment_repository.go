package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type PaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, payment *domain.Payment) error
	GetByID(ctx context.Context, paymentID int64) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error)
	GetByExternalTransactionIDForUpdate(ctx context.Context, tx pgx.Tx, externalTransactionID string) (*domain.Payment, error)
	ChangeStatus(ctx context.Context, tx pgx.Tx, paymentID int64, status domain.PaymentStatus, paidAt *time.Time, metadata json.RawMessage) error
}

type paymentRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewPaymentRepository(pool *pgxpool.Pool, logger *zap.Logger) PaymentRepository {
	return &paymentRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("payment_repository"),
	}
}

func (r *paymentRepo) Create(ctx context.Context, tx pgx.Tx, payment *domain.Payment) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", payment.OrderID),
		attribute.Int64("amount", payment.Amount),
	)

	query := `
		INSERT INTO payments (order_id, amount, status, external_transaction_id,
		                      gateway_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	if err := tx.QueryRow(ctx, query,
		payment.OrderID,
		payment.Amount,
		string(payment.Status),
		payment.ExternalTransactionID,
		payment.GatewayMetadata,
	).Scan(
		&payment.ID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		mylogger.Warn(ctx, r.logger, "Create payment failed", zap.Error(err))

		return err
	}

	return nil
}

func (r *paymentRepo) GetByID(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.Int64("payment_id", paymentID))

	query := `
		SELECT id, order_id, amount, status, external_transaction_id,
		       gateway_metadata, paid_at, created_at, updated_at
		FROM payments
		WHERE id = $1
	`

	return r.scanPayment(ctx, r.pool.QueryRow(ctx, query, paymentID), span)
}

func (r *paymentRepo) GetByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetByOrderID")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	query := `
		SELECT id, order_id, amount, status, external_transaction_id,
		       gateway_metadata, paid_at, created_at, updated_at
		FROM payments
		WHERE order_id = $1
	`

	return r.scanPayment(ctx, r.pool.QueryRow(ctx, query, orderID), span)
}

// GetByExternalTransactionIDForUpdate resolves a gateway transaction id to
// its payment and locks the row. The unique index on
// external_transaction_id makes at most one row possible.
func (r *paymentRepo) GetByExternalTransactionIDForUpdate(ctx context.Context, tx pgx.Tx, externalTransactionID string) (*domain.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetByExternalTransactionIDForUpdate")
	defer span.End()

	span.SetAttributes(attribute.String("external_transaction_id", externalTransactionID))

	query := `
		SELECT id, order_id, amount, status, external_transaction_id,
		       gateway_metadata, paid_at, created_at, updated_at
		FROM payments
		WHERE external_transaction_id = $1
		FOR UPDATE
	`

	return r.scanPayment(ctx, tx.QueryRow(ctx, query, externalTransactionID), span)
}

func (r *paymentRepo) scanPayment(ctx context.Context, row pgx.Row, span trace.Span) (*domain.Payment, error) {
	var payment domain.Payment
	var status string
	if err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Amount,
		&status,
		&payment.ExternalTransactionID,
		&payment.GatewayMetadata,
		&payment.PaidAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}

		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to query payment", zap.Error(err))

		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	payment.Status = domain.PaymentStatus(status)

	return &payment, nil
}

func (r *paymentRepo) ChangeStatus(ctx context.Context, tx pgx.Tx, paymentID int64, status domain.PaymentStatus, paidAt *time.Time, metadata json.RawMessage) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.ChangeStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("payment_id", paymentID),
		attribute.String("status", string(status)),
	)

	query := `
		UPDATE payments
		SET status = $1,
			paid_at = COALESCE($2, paid_at),
			gateway_metadata = COALESCE($3, gateway_metadata),
			updated_at = NOW()
		WHERE id = $4;
	`

	commandTag, err := tx.Exec(ctx, query, string(status), paidAt, metadata, paymentID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to update payment status", zap.Error(err))

		return fmt.Errorf("failed to update payment status: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Warn(ctx, r.logger, "Payment not found", zap.Int64("payment_id", paymentID))

		return ErrPaymentNotFound
	}

	return nil
}
