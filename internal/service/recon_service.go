package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/internal/repository"
	"github.com/sakashimaa/payment-recon/internal/signature"
	"github.com/sakashimaa/payment-recon/pkg/mylogger"
	outboxdomain "github.com/sakashimaa/payment-recon/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *outboxdomain.OutboxEvent) error
}

type ReconService interface {
	IngestEvent(ctx context.Context, body []byte, sig string) (*domain.Outcome, bool, error)
	AdvanceOrder(ctx context.Context, orderID int64, target domain.OrderStatus) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	GetPayment(ctx context.Context, paymentID int64) (*domain.Payment, error)
	GetPaymentForOrder(ctx context.Context, orderID int64) (*domain.Payment, error)
}

type reconService struct {
	pool        *pgxpool.Pool
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
	ledgerRepo  repository.LedgerRepository
	outboxRepo  OutboxRepository
	verifier    *signature.Verifier
	validate    *validator.Validate
	topic       string
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewReconService(
	pool *pgxpool.Pool,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	ledgerRepo repository.LedgerRepository,
	outboxRepo OutboxRepository,
	verifier *signature.Verifier,
	topic string,
	logger *zap.Logger,
) ReconService {
	return &reconService{
		pool:        pool,
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		ledgerRepo:  ledgerRepo,
		outboxRepo:  outboxRepo,
		verifier:    verifier,
		validate:    validator.New(),
		topic:       topic,
		logger:      logger,
		tracer:      otel.Tracer("recon_service"),
	}
}

// IngestEvent processes one webhook delivery end to end: signature check,
// parse, then a single transaction covering the ledger insert and both
// state machines. The returned bool is true when the event had already
// been processed and the stored outcome is being replayed.
func (s *reconService) IngestEvent(ctx context.Context, body []byte, sig string) (*domain.Outcome, bool, error) {
	ctx, span := s.tracer.Start(ctx, "ReconService.IngestEvent")
	defer span.End()

	if err := s.verifier.Verify(body, sig); err != nil {
		mylogger.Warn(ctx, s.logger, "Webhook signature rejected")

		return nil, false, err
	}

	var event domain.GatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	if err := s.validate.Struct(event); err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	span.SetAttributes(
		attribute.String("event_id", event.EventID),
		attribute.String("external_transaction_id", event.ExternalTransactionID),
		attribute.String("status", event.Status),
	)

	outcome, err := s.applyEvent(ctx, &event)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			// The winning transaction already committed its outcome.
			stored, getErr := s.ledgerRepo.GetOutcome(ctx, event.EventID)
			if getErr != nil {
				return nil, false, getErr
			}

			mylogger.Info(
				ctx,
				s.logger,
				"Duplicate delivery, replaying stored outcome",
				zap.String("event_id", event.EventID),
				zap.String("result", stored.Result),
			)

			return stored, true, nil
		}

		return nil, false, err
	}

	return outcome, false, nil
}

func (s *reconService) applyEvent(ctx context.Context, event *domain.GatewayEvent) (*domain.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "ReconService.applyEvent")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(ctx, s.logger, "Failed to rollback transaction", zap.Error(err))
		}
	}()

	// The ledger insert goes first so concurrent deliveries of the same
	// event serialize on the unique constraint.
	if err := s.ledgerRepo.Insert(ctx, tx, event.EventID); err != nil {
		return nil, err
	}

	payment, err := s.paymentRepo.GetByExternalTransactionIDForUpdate(ctx, tx, event.ExternalTransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			// Rolling back drops the ledger entry too: if the payment record
			// shows up later, a redelivery of this event must still apply.
			mylogger.Warn(
				ctx,
				s.logger,
				"Event references unknown transaction",
				zap.String("event_id", event.EventID),
				zap.String("external_transaction_id", event.ExternalTransactionID),
			)

			return nil, domain.ErrUnknownTransaction
		}

		return nil, err
	}

	order, err := s.orderRepo.GetForUpdate(ctx, tx, payment.OrderID)
	if err != nil {
		return nil, err
	}

	target := domain.PaymentStatus(event.Status)

	res, err := domain.Reconcile(order.Status, payment.Status, target)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return s.recordInvalidTransition(ctx, tx, event, order, payment, target)
		}

		return nil, err
	}

	amountMismatch := event.Amount != payment.Amount
	if amountMismatch {
		mylogger.Warn(
			ctx,
			s.logger,
			"Gateway amount differs from recorded payment",
			zap.String("event_id", event.EventID),
			zap.Int64("payment_id", payment.ID),
			zap.Int64("recorded_amount", payment.Amount),
			zap.Int64("event_amount", event.Amount),
		)
	}

	var paidAt *time.Time
	if res.PaymentStatus == domain.PaymentStatusApproved {
		now := time.Now().UTC()
		paidAt = &now
	}

	if err := s.paymentRepo.ChangeStatus(ctx, tx, payment.ID, res.PaymentStatus, paidAt, event.Metadata); err != nil {
		return nil, err
	}

	if res.OrderStatus != order.Status {
		if err := s.orderRepo.ChangeStatus(ctx, tx, order.ID, res.OrderStatus); err != nil {
			return nil, err
		}
	}

	domainEvent := domain.DomainEvent{
		EventID:        event.EventID,
		Kind:           res.EventKind,
		OrderID:        order.ID,
		PaymentID:      payment.ID,
		Amount:         payment.Amount,
		OrderStatus:    res.OrderStatus,
		BusinessName:   order.BusinessName,
		RecipientEmail: order.RecipientEmail,
		PushToken:      order.PushToken,
		ManualReview:   res.ManualReview,
		OccurredAt:     time.Now().UTC(),
	}

	if err := s.saveEvent(ctx, tx, &domainEvent); err != nil {
		return nil, err
	}

	outcome := domain.Outcome{
		Result:         domain.OutcomeApplied,
		EventKind:      res.EventKind,
		OrderID:        order.ID,
		PaymentID:      payment.ID,
		OrderStatus:    res.OrderStatus,
		PaymentStatus:  res.PaymentStatus,
		AmountMismatch: amountMismatch,
		ManualReview:   res.ManualReview,
	}

	if err := s.ledgerRepo.RecordOutcome(ctx, tx, event.EventID, outcome); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Payment event applied",
		zap.String("event_id", event.EventID),
		zap.Int64("order_id", order.ID),
		zap.String("payment_status", string(res.PaymentStatus)),
		zap.String("order_status", string(res.OrderStatus)),
		zap.Bool("manual_review", res.ManualReview),
	)

	return &outcome, nil
}

// recordInvalidTransition commits the ledger entry with an
// invalid_transition outcome and leaves both state machines untouched. The
// gateway gets a success response so it stops redelivering an event that
// can never apply.
func (s *reconService) recordInvalidTransition(
	ctx context.Context,
	tx pgx.Tx,
	event *domain.GatewayEvent,
	order *domain.Order,
	payment *domain.Payment,
	target domain.PaymentStatus,
) (*domain.Outcome, error) {
	mylogger.Warn(
		ctx,
		s.logger,
		"Event requests unreachable payment transition",
		zap.String("event_id", event.EventID),
		zap.Int64("payment_id", payment.ID),
		zap.String("current_status", string(payment.Status)),
		zap.String("target_status", string(target)),
	)

	outcome := domain.Outcome{
		Result:        domain.OutcomeInvalidTransition,
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		OrderStatus:   order.Status,
		PaymentStatus: payment.Status,
	}

	if err := s.ledgerRepo.RecordOutcome(ctx, tx, event.EventID, outcome); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &outcome, nil
}

// AdvanceOrder moves an order along its lifecycle outside of payment
// events, e.g. confirmed -> preparing by the kitchen. Emits
// order-status-changed through the same outbox as payment outcomes.
func (s *reconService) AdvanceOrder(ctx context.Context, orderID int64, target domain.OrderStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ReconService.AdvanceOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("target_status", string(target)),
	)

	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, target)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(ctx, s.logger, "Failed to rollback transaction", zap.Error(err))
		}
	}()

	order, err := s.orderRepo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, target)
	}

	if err := s.orderRepo.ChangeStatus(ctx, tx, order.ID, target); err != nil {
		return nil, err
	}

	domainEvent := domain.DomainEvent{
		EventID:        uuid.NewString(),
		Kind:           domain.EventOrderStatusChanged,
		OrderID:        order.ID,
		Amount:         order.Total,
		OrderStatus:    target,
		BusinessName:   order.BusinessName,
		RecipientEmail: order.RecipientEmail,
		PushToken:      order.PushToken,
		OccurredAt:     time.Now().UTC(),
	}

	if err := s.saveEvent(ctx, tx, &domainEvent); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order status advanced",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(target)),
	)

	order.Status = target

	return order, nil
}

func (s *reconService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ReconService.GetOrder")
	defer span.End()

	return s.orderRepo.GetByID(ctx, orderID)
}

func (s *reconService) GetPayment(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "ReconService.GetPayment")
	defer span.End()

	return s.paymentRepo.GetByID(ctx, paymentID)
}

func (s *reconService) GetPaymentForOrder(ctx context.Context, orderID int64) (*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "ReconService.GetPaymentForOrder")
	defer span.End()

	return s.paymentRepo.GetByOrderID(ctx, orderID)
}

// saveEvent stages a domain event on the outbox inside the caller's
// transaction. The aggregate id keys the Kafka partition so per-order
// ordering survives the fan-out.
func (s *reconService) saveEvent(ctx context.Context, tx pgx.Tx, event *domain.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	wrapper, err := json.Marshal(domain.EventWrapper{
		Event:   string(event.Kind),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event wrapper: %w", err)
	}

	return s.outboxRepo.SaveOutboxEvent(ctx, tx, &outboxdomain.OutboxEvent{
		AggregateType: "order",
		AggregateID:   strconv.FormatInt(event.OrderID, 10),
		EventType:     string(event.Kind),
		Payload:       wrapper,
		Topic:         s.topic,
	})
}
