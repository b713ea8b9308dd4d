package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, orderID int64) (*domain.Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID int64) (*domain.Order, error)
	ChangeStatus(ctx context.Context, tx pgx.Tx, orderID int64, status domain.OrderStatus) error
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

func (r *orderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("business_id", order.BusinessID),
		attribute.Int("items_count", len(order.Items)),
	)

	order.CalculateTotal()

	queryOrder := `
		INSERT INTO orders (business_id, customer_id, status, total, notes,
		                    business_name, recipient_email, push_token,
		                    created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryOrder,
		order.BusinessID,
		order.CustomerID,
		string(order.Status),
		order.Total,
		order.Notes,
		order.BusinessName,
		order.RecipientEmail,
		order.PushToken,
	).Scan(
		&order.ID,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to insert order", zap.Error(err))

		return err
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		if err := tx.QueryRow(
			ctx,
			queryItem,
			item.OrderID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice,
		).Scan(&item.ID); err != nil {
			span.RecordError(err)

			mylogger.Error(ctx, r.logger, "Failed to insert order item", zap.Error(err))

			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	order, err := r.scanOrder(ctx, r.pool, orderID, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return order, nil
}

// GetForUpdate locks the order row for the duration of the transaction so
// no concurrent webhook delivery can write a conflicting status.
func (r *orderRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, orderID int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetForUpdate")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	order, err := r.scanOrder(ctx, tx, orderID, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return order, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *orderRepo) scanOrder(ctx context.Context, q querier, orderID int64, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, business_id, customer_id, status, total, notes,
		       business_name, recipient_email, push_token, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var order domain.Order
	var status string
	if err := q.QueryRow(ctx, query, orderID).Scan(
		&order.ID,
		&order.BusinessID,
		&order.CustomerID,
		&status,
		&order.Total,
		&order.Notes,
		&order.BusinessName,
		&order.RecipientEmail,
		&order.PushToken,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		mylogger.Error(ctx, r.logger, "Failed to query order", zap.Error(err))

		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	order.Status = domain.OrderStatus(status)

	itemsQuery := `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := q.Query(ctx, itemsQuery, orderID)
	if err != nil {
		mylogger.Error(ctx, r.logger, "Failed to query order items", zap.Error(err))

		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepo) ChangeStatus(ctx context.Context, tx pgx.Tx, orderID int64, status domain.OrderStatus) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ChangeStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("status", string(status)),
	)

	query := `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2;
	`

	commandTag, err := tx.Exec(ctx, query, string(status), orderID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to update order status", zap.Error(err))

		return fmt.Errorf("failed to update order status: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Warn(
			ctx,
			r.logger,
			"Order not found",
			zap.Int64("order_id", orderID),
		)

		return ErrOrderNotFound
	}

	return nil
}
