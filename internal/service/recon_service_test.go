package service_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/payment-recon/internal/domain"
	"github.com/sakashimaa/payment-recon/internal/repository"
	"github.com/sakashimaa/payment-recon/internal/service"
	"github.com/sakashimaa/payment-recon/internal/signature"
	outboxrepo "github.com/sakashimaa/payment-recon/pkg/outbox/repository"
	"github.com/sakashimaa/payment-recon/pkg/testsuite"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const (
	testSecret = "test-webhook-secret"
	testTopic  = "notification_events"
)

type ReconServiceSuite struct {
	testsuite.BaseSuite

	verifier    *signature.Verifier
	recon       service.ReconService
	rdb         *redis.Client
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
}

func TestReconServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}

	suite.Run(t, new(ReconServiceSuite))
}

func (s *ReconServiceSuite) SetupSuite() {
	s.SetupInfrastructure("../../migrations")

	logger := zap.NewNop()

	s.orderRepo = repository.NewOrderRepository(s.DbPool, logger)
	s.paymentRepo = repository.NewPaymentRepository(s.DbPool, logger)
	orderRepo := s.orderRepo
	paymentRepo := s.paymentRepo
	ledgerRepo := repository.NewLedgerRepository(s.DbPool, logger)
	outboxRepo := outboxrepo.NewOutboxRepository(s.DbPool, logger)

	s.verifier = signature.NewVerifier(testSecret)
	s.rdb = redis.NewClient(&redis.Options{Addr: s.RedisAddr})

	recon := service.NewReconService(
		s.DbPool,
		orderRepo,
		paymentRepo,
		ledgerRepo,
		outboxRepo,
		s.verifier,
		testTopic,
		logger,
	)
	s.recon = service.NewCachedReconService(recon, s.rdb, time.Minute, logger)
}

func (s *ReconServiceSuite) TearDownSuite() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	s.TearDownInfrastructure()
}

func (s *ReconServiceSuite) SetupTest() {
	s.TruncateTable("orders")
	s.TruncateTable("payments")
	s.TruncateTable("processed_events")
	s.TruncateTable("outbox")
	s.Require().NoError(s.rdb.FlushAll(s.Ctx).Err())
}

func (s *ReconServiceSuite) seedOrder(status domain.OrderStatus) int64 {
	order := &domain.Order{
		BusinessID: 1,
		CustomerID: 2,
		Status:     status,
		Items: []domain.OrderItem{
			{ProductID: 10, Quantity: 2, UnitPrice: 1000},
			{ProductID: 11, Quantity: 1, UnitPrice: 500},
		},
		BusinessName:   "Cafe Rio",
		RecipientEmail: "buyer@example.com",
		PushToken:      "tok_abc",
	}

	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	s.Require().NoError(s.orderRepo.Create(s.Ctx, tx, order))
	s.Require().NoError(tx.Commit(s.Ctx))

	s.Require().Equal(int64(2500), order.Total)

	return order.ID
}

func (s *ReconServiceSuite) seedPayment(orderID int64, status domain.PaymentStatus, extID string, amount int64) int64 {
	payment := &domain.Payment{
		OrderID:               orderID,
		Amount:                amount,
		Status:                status,
		ExternalTransactionID: extID,
	}

	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	s.Require().NoError(s.paymentRepo.Create(s.Ctx, tx, payment))
	s.Require().NoError(tx.Commit(s.Ctx))

	return payment.ID
}

func (s *ReconServiceSuite) signedEvent(eventID, extID, status string, amount int64) ([]byte, string) {
	body, err := json.Marshal(map[string]any{
		"event_id":                eventID,
		"external_transaction_id": extID,
		"status":                  status,
		"amount":                  amount,
	})
	s.Require().NoError(err)

	return body, s.verifier.Sign(body)
}

func (s *ReconServiceSuite) orderStatus(orderID int64) string {
	var status string
	err := s.DbPool.QueryRow(s.Ctx, "SELECT status FROM orders WHERE id = $1", orderID).Scan(&status)
	s.Require().NoError(err)

	return status
}

func (s *ReconServiceSuite) paymentStatus(paymentID int64) string {
	var status string
	err := s.DbPool.QueryRow(s.Ctx, "SELECT status FROM payments WHERE id = $1", paymentID).Scan(&status)
	s.Require().NoError(err)

	return status
}

func (s *ReconServiceSuite) outboxCount() int {
	var count int
	err := s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM outbox").Scan(&count)
	s.Require().NoError(err)

	return count
}

func (s *ReconServiceSuite) TestApprovedEventConfirmsOrder() {
	orderID := s.seedOrder(domain.OrderStatusPending)
	paymentID := s.seedPayment(orderID, domain.PaymentStatusPending, "txn_1", 2500)

	body, sig := s.signedEvent("evt_1", "txn_1", "approved", 2500)

	outcome, duplicate, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)
	s.False(duplicate)

	s.Equal(domain.OutcomeApplied, outcome.Result)
	s.Equal(domain.EventOrderConfirmed, outcome.EventKind)
	s.Equal(domain.OrderStatusConfirmed, outcome.OrderStatus)
	s.Equal(domain.PaymentStatusApproved, outcome.PaymentStatus)
	s.False(outcome.AmountMismatch)
	s.False(outcome.ManualReview)

	s.Equal("confirmed", s.orderStatus(orderID))
	s.Equal("approved", s.paymentStatus(paymentID))

	var paidAt *time.Time
	err = s.DbPool.QueryRow(s.Ctx, "SELECT paid_at FROM payments WHERE id = $1", paymentID).Scan(&paidAt)
	s.Require().NoError(err)
	s.NotNil(paidAt)

	s.Equal(1, s.outboxCount())

	var eventType, aggregateID string
	err = s.DbPool.QueryRow(s.Ctx, "SELECT event_type, aggregate_id FROM outbox").Scan(&eventType, &aggregateID)
	s.Require().NoError(err)
	s.Equal("order-confirmed", eventType)
	s.Equal(fmt.Sprintf("%d", orderID), aggregateID)
}

func (s *ReconServiceSuite) TestDuplicateDeliveryReplaysOutcome() {
	orderID := s.seedOrder(domain.OrderStatusPending)
	s.seedPayment(orderID, domain.PaymentStatusPending, "txn_1", 2500)

	body, sig := s.signedEvent("evt_1", "txn_1", "approved", 2500)

	first, duplicate, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)
	s.False(duplicate)

	second, duplicate, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)
	s.True(duplicate)
	s.Equal(first, second)

	// No second state change and no second event.
	s.Equal("confirmed", s.orderStatus(orderID))
	s.Equal(1, s.outboxCount())
}

func (s *ReconServiceSuite) TestConcurrentDuplicateDeliveries() {
	orderID := s.seedOrder(domain.OrderStatusPending)
	s.seedPayment(orderID, domain.PaymentStatusPending, "txn_1", 2500)

	body, sig := s.signedEvent("evt_1", "txn_1", "approved", 2500)

	const deliveries = 2

	var wg sync.WaitGroup
	outcomes := make([]*domain.Outcome, deliveries)
	duplicates := make([]bool, deliveries)
	errs := make([]error, deliveries)

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], duplicates[i], errs[i] = s.recon.IngestEvent(s.Ctx, body, sig)
		}(i)
	}
	wg.Wait()

	for i := 0; i < deliveries; i++ {
		s.Require().NoError(errs[i])
		s.Require().NotNil(outcomes[i])
		s.Equal(domain.OutcomeApplied, outcomes[i].Result)
	}

	// The ledger insert serializes the race: exactly one delivery wins,
	// the other observes the recorded outcome.
	s.NotEqual(duplicates[0], duplicates[1])
	s.Equal(outcomes[0], outcomes[1])

	var ledgerEntries int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM processed_events").Scan(&ledgerEntries))
	s.Equal(1, ledgerEntries)

	s.Equal(1, s.outboxCount())
	s.Equal("confirmed", s.orderStatus(orderID))
}

func (s *ReconServiceSuite) TestRejectedEventCancelsOrder() {
	orderID := s.seedOrder(domain.OrderStatusPending)
	paymentID := s.seedPayment(orderID, domain.PaymentStatusPending, "txn_1", 2500)

	body, sig := s.signedEvent("evt_1", "txn_1", "rejected", 2500)

	outcome, _, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)

	s.Equal(domain.EventOrderRejected, outcome.EventKind)
	s.Equal("cancelled", s.orderStatus(orderID))
	s.Equal("rejected", s.paymentStatus(paymentID))
}

func (s *ReconServiceSuite) TestRefundAfterFulfillmentFlagsManualReview() {
	orderID := s.seedOrder(domain.OrderStatusPreparing)
	paymentID := s.seedPayment(orderID, domain.PaymentStatusApproved, "txn_1", 2500)

	body, sig := s.signedEvent("evt_1", "txn_1", "refunded", 2500)

	outcome, _, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)

	s.Equal(domain.OutcomeApplied, outcome.Result)
	s.True(outcome.ManualReview)
	s.Equal("refunded", s.paymentStatus(paymentID))
	s.Equal("preparing", s.orderStatus(orderID))
}

func (s *ReconServiceSuite) TestInvalidTransitionIsRecordedAndIdempotent() {
	orderID := s.seedOrder(domain.OrderStatusCancelled)
	paymentID := s.seedPayment(orderID, domain.PaymentStatusRejected, "txn_1", 2500)

	body, sig := s.signedEvent("evt_1", "txn_1", "approved", 2500)

	outcome, duplicate, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)
	s.False(duplicate)
	s.Equal(domain.OutcomeInvalidTransition, outcome.Result)

	// State untouched, no event emitted.
	s.Equal("rejected", s.paymentStatus(paymentID))
	s.Equal(0, s.outboxCount())

	// The redelivery replays the recorded outcome.
	replay, duplicate, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)
	s.True(duplicate)
	s.Equal(outcome, replay)
}

func (s *ReconServiceSuite) TestUnknownTransactionLeavesNoLedgerEntry() {
	body, sig := s.signedEvent("evt_1", "txn_missing", "approved", 2500)

	_, _, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().ErrorIs(err, domain.ErrUnknownTransaction)

	var count int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM processed_events").Scan(&count))
	s.Equal(0, count)
}

func (s *ReconServiceSuite) TestUnknownTransactionThenPaymentAppears() {
	body, sig := s.signedEvent("evt_1", "txn_late", "approved", 2500)

	_, _, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().ErrorIs(err, domain.ErrUnknownTransaction)

	orderID := s.seedOrder(domain.OrderStatusPending)
	s.seedPayment(orderID, domain.PaymentStatusPending, "txn_late", 2500)

	// The same event id must still apply once the payment exists.
	outcome, duplicate, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)
	s.False(duplicate)
	s.Equal(domain.OutcomeApplied, outcome.Result)
	s.Equal("confirmed", s.orderStatus(orderID))
}

func (s *ReconServiceSuite) TestInvalidSignatureRejected() {
	orderID := s.seedOrder(domain.OrderStatusPending)
	s.seedPayment(orderID, domain.PaymentStatusPending, "txn_1", 2500)

	body, _ := s.signedEvent("evt_1", "txn_1", "approved", 2500)

	_, _, err := s.recon.IngestEvent(s.Ctx, body, "0000deadbeef")
	s.Require().ErrorIs(err, domain.ErrInvalidSignature)

	s.Equal("pending", s.orderStatus(orderID))
}

func (s *ReconServiceSuite) TestMalformedEventRejected() {
	body := []byte(`{"event_id":"evt_1","status":"exploded"}`)
	sig := s.verifier.Sign(body)

	_, _, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().ErrorIs(err, domain.ErrMalformedEvent)
}

func (s *ReconServiceSuite) TestAmountMismatchIsAppliedAndFlagged() {
	orderID := s.seedOrder(domain.OrderStatusPending)
	s.seedPayment(orderID, domain.PaymentStatusPending, "txn_1", 2500)

	body, sig := s.signedEvent("evt_1", "txn_1", "approved", 9999)

	outcome, _, err := s.recon.IngestEvent(s.Ctx, body, sig)
	s.Require().NoError(err)

	s.Equal(domain.OutcomeApplied, outcome.Result)
	s.True(outcome.AmountMismatch)
	s.Equal("confirmed", s.orderStatus(orderID))
}

func (s *ReconServiceSuite) TestAdvanceOrderEmitsStatusChanged() {
	orderID := s.seedOrder(domain.OrderStatusConfirmed)

	order, err := s.recon.AdvanceOrder(s.Ctx, orderID, domain.OrderStatusPreparing)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPreparing, order.Status)

	s.Equal("preparing", s.orderStatus(orderID))

	var eventType string
	err = s.DbPool.QueryRow(s.Ctx, "SELECT event_type FROM outbox").Scan(&eventType)
	s.Require().NoError(err)
	s.Equal("order-status-changed", eventType)
}

func (s *ReconServiceSuite) TestAdvanceOrderRejectsIllegalJump() {
	orderID := s.seedOrder(domain.OrderStatusPending)

	_, err := s.recon.AdvanceOrder(s.Ctx, orderID, domain.OrderStatusDelivered)
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)

	s.Equal("pending", s.orderStatus(orderID))
	s.Equal(0, s.outboxCount())
}

func (s *ReconServiceSuite) TestGetOrderCachesAndInvalidates() {
	orderID := s.seedOrder(domain.OrderStatusConfirmed)

	order, err := s.recon.GetOrder(s.Ctx, orderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusConfirmed, order.Status)

	// Cached read survives a direct database change.
	_, err = s.DbPool.Exec(s.Ctx, "UPDATE orders SET status = 'preparing' WHERE id = $1", orderID)
	s.Require().NoError(err)

	cached, err := s.recon.GetOrder(s.Ctx, orderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusConfirmed, cached.Status)

	// A write through the service invalidates the key.
	_, err = s.recon.AdvanceOrder(s.Ctx, orderID, domain.OrderStatusReady)
	s.Require().NoError(err)

	fresh, err := s.recon.GetOrder(s.Ctx, orderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusReady, fresh.Status)
}

func (s *ReconServiceSuite) TestGetOrderNotFound() {
	_, err := s.recon.GetOrder(s.Ctx, 999999)
	s.Require().ErrorIs(err, repository.ErrOrderNotFound)
}

func (s *ReconServiceSuite) TestOrderAllowsOnlyOnePayment() {
	orderID := s.seedOrder(domain.OrderStatusPending)
	s.seedPayment(orderID, domain.PaymentStatusPending, "txn_1", 2500)

	second := &domain.Payment{
		OrderID:               orderID,
		Amount:                2500,
		Status:                domain.PaymentStatusPending,
		ExternalTransactionID: "txn_2",
	}

	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer tx.Rollback(s.Ctx)

	err = s.paymentRepo.Create(s.Ctx, tx, second)
	s.Require().Error(err)

	var pgErr *pgconn.PgError
	s.Require().ErrorAs(err, &pgErr)
	s.Equal("23505", pgErr.Code)
}

func (s *ReconServiceSuite) TestGetPaymentReads() {
	orderID := s.seedOrder(domain.OrderStatusPending)
	paymentID := s.seedPayment(orderID, domain.PaymentStatusPending, "txn_1", 2500)

	byID, err := s.recon.GetPayment(s.Ctx, paymentID)
	s.Require().NoError(err)
	s.Equal("txn_1", byID.ExternalTransactionID)

	byOrder, err := s.recon.GetPaymentForOrder(s.Ctx, orderID)
	s.Require().NoError(err)
	s.Equal(paymentID, byOrder.ID)

	_, err = s.recon.GetPayment(s.Ctx, 999999)
	s.Require().ErrorIs(err, repository.ErrPaymentNotFound)
}
