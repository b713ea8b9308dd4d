package domain

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentStatusPending:  {PaymentStatusApproved: true, PaymentStatusRejected: true},
	PaymentStatusApproved: {PaymentStatusRefunded: true},
	PaymentStatusRejected: {},
	PaymentStatusRefunded: {},
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	return paymentTransitions[s][to]
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

type Payment struct {
	ID      int64         `db:"id" json:"id"`
	OrderID int64         `db:"order_id" json:"order_id"`
	Amount  int64         `db:"amount" json:"amount"`
	Status  PaymentStatus `db:"status" json:"status"`

	// ExternalTransactionID is the gateway's key for this payment attempt.
	// Globally unique: a second event carrying the same id is a duplicate
	// delivery, never a new payment.
	ExternalTransactionID string          `db:"external_transaction_id" json:"external_transaction_id"`
	GatewayMetadata       json.RawMessage `db:"gateway_metadata" json:"gateway_metadata,omitempty"`
	PaidAt                *time.Time      `db:"paid_at" json:"paid_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ReconcileResult is the outcome of coupling one payment transition onto
// the owning order.
type ReconcileResult struct {
	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
	EventKind     EventKind
	// ManualReview is set when the payment moved but the order had already
	// progressed past the cancellable window, so an operator has to decide
	// what happens to it.
	ManualReview bool
}

// Reconcile applies a requested payment transition against the current
// payment and order statuses. It is pure: persistence and event emission
// are the reconciliation service's job.
func Reconcile(orderStatus OrderStatus, paymentStatus PaymentStatus, target PaymentStatus) (ReconcileResult, error) {
	if !paymentStatus.CanTransitionTo(target) {
		return ReconcileResult{}, ErrInvalidTransition
	}

	res := ReconcileResult{
		PaymentStatus: target,
		OrderStatus:   orderStatus,
	}

	switch target {
	case PaymentStatusApproved:
		res.EventKind = EventOrderConfirmed
		if orderStatus.CanTransitionTo(OrderStatusConfirmed) {
			res.OrderStatus = OrderStatusConfirmed
		} else {
			res.ManualReview = true
		}
	case PaymentStatusRejected:
		res.EventKind = EventOrderRejected
		if orderStatus.Cancellable() {
			res.OrderStatus = OrderStatusCancelled
		} else {
			res.ManualReview = true
		}
	case PaymentStatusRefunded:
		res.EventKind = EventOrderRefunded
		if orderStatus.Cancellable() {
			res.OrderStatus = OrderStatusCancelled
		} else {
			res.ManualReview = true
		}
	}

	return res, nil
}
