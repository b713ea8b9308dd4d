package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions is the full legal transition graph. delivered and
// cancelled are terminal.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:   {OrderStatusConfirmed: true, OrderStatusCancelled: true},
	OrderStatusConfirmed: {OrderStatusPreparing: true, OrderStatusCancelled: true},
	OrderStatusPreparing: {OrderStatusReady: true},
	OrderStatusReady:     {OrderStatusDelivered: true},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return orderTransitions[s][to]
}

// Cancellable reports whether a payment rejection or refund may still
// auto-cancel the order. Once fulfillment started the order is left alone
// and the refund is flagged for manual review.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

type Order struct {
	ID         int64       `db:"id" json:"id"`
	BusinessID int64       `db:"business_id" json:"business_id"`
	CustomerID int64       `db:"customer_id" json:"customer_id"`
	Status     OrderStatus `db:"status" json:"status"`
	Items      []OrderItem `db:"items" json:"items"`
	Total      int64       `db:"total" json:"total"`
	Notes      string      `db:"notes" json:"notes,omitempty"`

	// Recipient snapshot captured at order creation so notifications never
	// need a join against out-of-scope user tables.
	BusinessName   string `db:"business_name" json:"business_name"`
	RecipientEmail string `db:"recipient_email" json:"-"`
	PushToken      string `db:"push_token" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int32 `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

// CalculateTotal recomputes Total from the line items. Callers never supply
// a total directly.
func (o *Order) CalculateTotal() {
	var total int64
	for _, item := range o.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	o.Total = total
}

// ItemsMutable reports whether line items may still change. They freeze as
// soon as the order leaves pending.
func (o *Order) ItemsMutable() bool {
	return o.Status == OrderStatusPending
}
