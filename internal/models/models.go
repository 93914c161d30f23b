package models

import "time"

// Product is the aggregate that owns stock, sales and rating. Sales and
// Rating are only mutated by the event consumers in internal/service.
type Product struct {
	ID         int64     `db:"id" json:"id"`
	MerchantID int64     `db:"merchant_id" json:"merchant_id"`
	Title      string    `db:"title" json:"title"`
	Price      int64     `db:"price" json:"price"`
	Status     int       `db:"status" json:"status"` // 1 = on sale
	Sales      int       `db:"sales" json:"sales"`
	Rating     float64   `db:"rating" json:"rating"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Product statuses
const (
	ProductStatusOffSale = 0
	ProductStatusOnSale  = 1
)

// StockRecord mirrors the authoritative stock counts in durable storage.
// Available >= 0 always; mutations go through stock.Ledger only.
type StockRecord struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Available int       `db:"available" json:"available"`
	Reserved  int       `db:"reserved" json:"reserved"`
	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a booking for a tour product. Quantity is fixed at
// creation. Status follows the transition table below.
type Order struct {
	ID             int64      `db:"id" json:"id"`
	OrderNo        string     `db:"order_no" json:"order_no"`
	BuyerID        int64      `db:"buyer_id" json:"buyer_id"`
	MerchantID     int64      `db:"merchant_id" json:"merchant_id"`
	ProductID      int64      `db:"product_id" json:"product_id"`
	Quantity       int        `db:"quantity" json:"quantity"`
	UnitPrice      int64      `db:"unit_price" json:"unit_price"`
	TotalAmount    int64      `db:"total_amount" json:"total_amount"`
	Status         string     `db:"status" json:"status"`
	ContactName    string     `db:"contact_name" json:"contact_name,omitempty"`
	ContactPhone   string     `db:"contact_phone" json:"contact_phone,omitempty"`
	Remark         string     `db:"remark" json:"remark,omitempty"`
	StockReleased  bool       `db:"stock_released" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	PayTime        *time.Time `db:"pay_time" json:"pay_time,omitempty"`
	CompleteTime   *time.Time `db:"complete_time" json:"complete_time,omitempty"`
	CancelTime     *time.Time `db:"cancel_time" json:"cancel_time,omitempty"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key,omitempty"`
}

// Order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
)

// orderTransitions is the allowed-transition table. Anything not listed is
// an invalid transition and must leave the order untouched.
var orderTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusCompleted: {OrderStatusRefunded},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Review is read by the rating consumer to recompute a product's average
// rating from scratch.
type Review struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Rating    int       `db:"rating" json:"rating"` // 1..5
	Content   string    `db:"content" json:"content,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Actor identifies who is attempting an order transition. Authorization is
// checked before any state is touched.
type Actor struct {
	ID   int64
	Role string
}

// Actor roles
const (
	RoleBuyer    = "buyer"
	RoleMerchant = "merchant"
)

// ProcessedEvent records a consumed event id for de-duplication under
// at-least-once delivery.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
