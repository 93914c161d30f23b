package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tourism-core/internal/models"
)

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_no, buyer_id, merchant_id, product_id, quantity,
			unit_price, total_amount, status, contact_name, contact_phone, remark, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, order, query,
		order.OrderNo, order.BuyerID, order.MerchantID, order.ProductID, order.Quantity,
		order.UnitPrice, order.TotalAmount, order.Status,
		order.ContactName, order.ContactPhone, order.Remark, order.IdempotencyKey)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status together with the matching
// lifecycle timestamp.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string, at time.Time) error {
	var query string
	switch status {
	case models.OrderStatusPaid:
		query = "UPDATE orders SET status = $1, pay_time = $3, updated_at = NOW() WHERE id = $2"
	case models.OrderStatusCompleted:
		query = "UPDATE orders SET status = $1, complete_time = $3, updated_at = NOW() WHERE id = $2"
	case models.OrderStatusCancelled:
		query = "UPDATE orders SET status = $1, cancel_time = $3, updated_at = NOW() WHERE id = $2"
	default:
		_, err := s.db.ExecContext(ctx,
			"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
			status, orderID)
		return err
	}

	_, err := s.db.ExecContext(ctx, query, status, orderID, at)
	return err
}

// MarkOrderStockReleased flags an order's reservation as returned. Used to
// guarantee at-most-one release per order.
func (s *Store) MarkOrderStockReleased(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET stock_released = TRUE, updated_at = NOW() WHERE id = $1",
		orderID)
	return err
}

// AppendOrderRemark appends a line to the order's remark field.
func (s *Store) AppendOrderRemark(ctx context.Context, orderID int64, line string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET remark = CASE WHEN remark = '' THEN $1 ELSE remark || E'\n' || $1 END,
		 updated_at = NOW() WHERE id = $2`,
		line, orderID)
	return err
}

// GetOrdersByBuyerID retrieves orders for a buyer
func (s *Store) GetOrdersByBuyerID(ctx context.Context, buyerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	return orders, err
}

// GetOrdersByMerchantID retrieves orders for a merchant
func (s *Store) GetOrdersByMerchantID(ctx context.Context, merchantID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE merchant_id = $1 ORDER BY created_at DESC", merchantID)
	return orders, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
