package models

import "time"

// Event types
const (
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeReviewChanged  = "REVIEW_CHANGED"
)

// Review change kinds carried by ReviewChangedEvent
const (
	ReviewChangeCreated = "created"
	ReviewChangeUpdated = "updated"
	ReviewChangeDeleted = "deleted"
)

// BaseEvent contains common fields for all events. EventID is unique per
// emission and is what consumers de-duplicate on; the transport may deliver
// the same EventID more than once.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPaidEvent published when a buyer pays a pending order. The sales
// counter consumer folds it into the product aggregate.
type OrderPaidEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderCancelledEvent published when an order is cancelled. Carries the
// quantity so downstream compensation does not need to re-fetch the order.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

// ReviewChangedEvent published whenever a review for a product is created,
// updated or deleted. The rating consumer recomputes the average from the
// full review set, so the change kind is informational.
type ReviewChangedEvent struct {
	BaseEvent
	ReviewID   int64  `json:"review_id"`
	ProductID  int64  `json:"product_id"`
	ChangeType string `json:"change_type"`
}
