package domain

import (
	"encoding/json"
	"time"
)

type EventKind string

const (
	EventOrderConfirmed     EventKind = "order-confirmed"
	EventOrderRejected      EventKind = "order-rejected"
	EventOrderRefunded      EventKind = "order-refunded"
	EventOrderStatusChanged EventKind = "order-status-changed"
)

// DomainEvent is the payload handed to the notification dispatcher. It is
// a self-contained snapshot: the dispatcher never reads Order or Payment
// rows.
type DomainEvent struct {
	EventID     string      `json:"event_id"`
	Kind        EventKind   `json:"kind"`
	OrderID     int64       `json:"order_id"`
	PaymentID   int64       `json:"payment_id,omitempty"`
	Amount      int64       `json:"amount"`
	OrderStatus OrderStatus `json:"order_status"`

	BusinessName   string `json:"business_name"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	PushToken      string `json:"push_token,omitempty"`

	// ManualReview marks exception cases (e.g. refund after fulfillment
	// started) that need operator follow-up.
	ManualReview bool `json:"manual_review,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// GatewayEvent is the parsed form of a webhook delivery. Signature
// verification always runs against the raw bytes before this struct exists.
type GatewayEvent struct {
	EventID               string          `json:"event_id" validate:"required"`
	ExternalTransactionID string          `json:"external_transaction_id" validate:"required"`
	Status                string          `json:"status" validate:"required,oneof=approved rejected refunded"`
	Amount                int64           `json:"amount" validate:"gte=0"`
	Metadata              json.RawMessage `json:"metadata,omitempty"`
}

// Outcome is what one accepted gateway event did. It is stored on the
// ledger row so replays observe the exact same result.
type Outcome struct {
	Result         string        `json:"result"` // applied | invalid_transition
	EventKind      EventKind     `json:"event_kind,omitempty"`
	OrderID        int64         `json:"order_id"`
	PaymentID      int64         `json:"payment_id"`
	OrderStatus    OrderStatus   `json:"order_status"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	AmountMismatch bool          `json:"amount_mismatch,omitempty"`
	ManualReview   bool          `json:"manual_review,omitempty"`
}

const (
	OutcomeApplied           = "applied"
	OutcomeInvalidTransition = "invalid_transition"
)

// EventWrapper is the envelope written to Kafka. Consumers switch on Event
// and unmarshal Payload into the matching struct.
type EventWrapper struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
