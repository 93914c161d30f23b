package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tourism-core/internal/lock"
	"tourism-core/internal/models"
	"tourism-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Expected business outcomes. These are communicated to the caller as
// normal negative results, not system faults.
var (
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	ErrUnauthorized           = errors.New("actor not authorized for this order")
	ErrProductOffSale         = errors.New("product is not on sale")
)

// OrderStore is the persistence surface the lifecycle needs.
type OrderStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string, at time.Time) error
	MarkOrderStockReleased(ctx context.Context, orderID int64) error
	AppendOrderRemark(ctx context.Context, orderID int64, line string) error
}

// StockLedger reserves and releases available stock.
type StockLedger interface {
	Reserve(ctx context.Context, productID int64, quantity int) (bool, error)
	Release(ctx context.Context, productID int64, quantity int) error
}

// EventPublisher emits order lifecycle events.
type EventPublisher interface {
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// OrderLifecycle drives the order state machine. Stock is reserved at
// creation and released at most once per order; every transition is
// attributed to an actor whose authorization is checked before any state is
// touched.
type OrderLifecycle struct {
	store     OrderStore
	ledger    StockLedger
	publisher EventPublisher
	locker    *lock.Lock
	lockWait  time.Duration
	logger    *zap.Logger
}

// NewOrderLifecycle creates a new order lifecycle service
func NewOrderLifecycle(store OrderStore, ledger StockLedger, publisher EventPublisher, locker *lock.Lock, lockWait time.Duration) *OrderLifecycle {
	return &OrderLifecycle{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		locker:    locker,
		lockWait:  lockWait,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	BuyerID        int64  `json:"buyer_id" binding:"required"`
	ProductID      int64  `json:"product_id" binding:"required"`
	Quantity       int    `json:"quantity" binding:"required,min=1"`
	ContactName    string `json:"contact_name"`
	ContactPhone   string `json:"contact_phone"`
	Remark         string `json:"remark"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func createLockKey(buyerID, productID int64) string {
	return fmt.Sprintf("order:create:%d:%d", buyerID, productID)
}

func orderLockKey(orderID int64) string {
	return fmt.Sprintf("order:%d", orderID)
}

// CreateOrder reserves stock and creates the order in Pending state. The
// reservation is the no-oversell gate: when it reports insufficient stock
// the order is not created at all.
func (s *OrderLifecycle) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.CreateOrder")
	defer span.End()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	var order *models.Order
	err := s.locker.WithLock(ctx, createLockKey(req.BuyerID, req.ProductID), s.lockWait, func(ctx context.Context) error {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			order = existing
			return nil
		}

		product, err := s.store.GetProductByID(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if product.Status != models.ProductStatusOnSale {
			return ErrProductOffSale
		}

		reserved, err := s.ledger.Reserve(ctx, req.ProductID, req.Quantity)
		if err != nil {
			return fmt.Errorf("stock reservation failed: %w", err)
		}
		if !reserved {
			util.OrderTransitionsRejected.WithLabelValues("insufficient_stock").Inc()
			return ErrInsufficientStock
		}

		order = &models.Order{
			OrderNo:        generateOrderNo(),
			BuyerID:        req.BuyerID,
			MerchantID:     product.MerchantID,
			ProductID:      product.ID,
			Quantity:       req.Quantity,
			UnitPrice:      product.Price,
			TotalAmount:    product.Price * int64(req.Quantity),
			Status:         models.OrderStatusPending,
			ContactName:    req.ContactName,
			ContactPhone:   req.ContactPhone,
			Remark:         req.Remark,
			IdempotencyKey: req.IdempotencyKey,
		}

		if err := s.store.CreateOrder(ctx, order); err != nil {
			// The order row never existed, so give the reservation back.
			if relErr := s.ledger.Release(ctx, req.ProductID, req.Quantity); relErr != nil {
				s.logger.Error("Failed to compensate reservation after create failure",
					zap.Int64("product_id", req.ProductID),
					zap.Error(relErr))
			}
			return fmt.Errorf("failed to create order: %w", err)
		}

		util.OrderTransitionsTotal.WithLabelValues("create").Inc()
		s.logger.Info("Order created",
			zap.Int64("order_id", order.ID),
			zap.String("order_no", order.OrderNo),
			zap.Int64("product_id", order.ProductID),
			zap.Int("quantity", order.Quantity))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Pay transitions a pending order to Paid and emits an OrderPaid event.
// Stock is untouched; the reservation already accounts for the sale.
func (s *OrderLifecycle) Pay(ctx context.Context, orderID int64, actor models.Actor) error {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Pay")
	defer span.End()

	var order *models.Order
	err := s.locker.WithLock(ctx, orderLockKey(orderID), s.lockWait, func(ctx context.Context) error {
		var err error
		order, err = s.loadAuthorized(ctx, orderID, actor, models.RoleBuyer)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, order, models.OrderStatusPaid); err != nil {
			return err
		}
		util.OrderTransitionsTotal.WithLabelValues("pay").Inc()
		return nil
	})
	if err != nil {
		return err
	}

	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Quantity:  order.Quantity,
	}

	if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
		// The transition itself stands; the caller learns that aggregate
		// propagation is delayed rather than getting a silent skip.
		s.logger.Error("Failed to publish OrderPaid event",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return fmt.Errorf("order paid, but event publish failed: %w", err)
	}

	s.logger.Info("Order paid", zap.Int64("order_id", order.ID))
	return nil
}

// Cancel transitions a pending or paid order to Cancelled, releases the
// reservation exactly once and emits an OrderCancelled event. Both the buyer
// and the merchant of the order may cancel.
func (s *OrderLifecycle) Cancel(ctx context.Context, orderID int64, actor models.Actor, reason string) error {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Cancel")
	defer span.End()

	var order *models.Order
	err := s.locker.WithLock(ctx, orderLockKey(orderID), s.lockWait, func(ctx context.Context) error {
		var err error
		order, err = s.loadAuthorized(ctx, orderID, actor, models.RoleBuyer, models.RoleMerchant)
		if err != nil {
			return err
		}

		// Validate before releasing so an illegal cancel has no side effects.
		if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
			util.OrderTransitionsRejected.WithLabelValues("invalid_transition").Inc()
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, order.Status, models.OrderStatusCancelled)
		}

		if !order.StockReleased {
			if err := s.ledger.Release(ctx, order.ProductID, order.Quantity); err != nil {
				return fmt.Errorf("failed to release reservation: %w", err)
			}
			if err := s.store.MarkOrderStockReleased(ctx, order.ID); err != nil {
				return fmt.Errorf("failed to mark stock released: %w", err)
			}
			order.StockReleased = true
		}

		if err := s.transition(ctx, order, models.OrderStatusCancelled); err != nil {
			return err
		}
		if reason != "" {
			if err := s.store.AppendOrderRemark(ctx, order.ID, "cancelled: "+reason); err != nil {
				s.logger.Warn("Failed to record cancel reason",
					zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}
		util.OrderTransitionsTotal.WithLabelValues("cancel").Inc()
		return nil
	})
	if err != nil {
		return err
	}

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Quantity:  order.Quantity,
		Reason:    reason,
	}

	if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return fmt.Errorf("order cancelled, but event publish failed: %w", err)
	}

	s.logger.Info("Order cancelled", zap.Int64("order_id", order.ID))
	return nil
}

// Complete transitions a paid order to Completed. Merchant only, terminal,
// no stock effect.
func (s *OrderLifecycle) Complete(ctx context.Context, orderID int64, actor models.Actor) error {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Complete")
	defer span.End()

	return s.locker.WithLock(ctx, orderLockKey(orderID), s.lockWait, func(ctx context.Context) error {
		order, err := s.loadAuthorized(ctx, orderID, actor, models.RoleMerchant)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, order, models.OrderStatusCompleted); err != nil {
			return err
		}
		util.OrderTransitionsTotal.WithLabelValues("complete").Inc()
		s.logger.Info("Order completed", zap.Int64("order_id", order.ID))
		return nil
	})
}

// Refund transitions a paid or completed order to Refunded. Merchant only.
// Stock is NOT re-incremented: the tour has been consumed by refund time.
func (s *OrderLifecycle) Refund(ctx context.Context, orderID int64, actor models.Actor) error {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.Refund")
	defer span.End()

	return s.locker.WithLock(ctx, orderLockKey(orderID), s.lockWait, func(ctx context.Context) error {
		order, err := s.loadAuthorized(ctx, orderID, actor, models.RoleMerchant)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, order, models.OrderStatusRefunded); err != nil {
			return err
		}
		util.OrderTransitionsTotal.WithLabelValues("refund").Inc()
		s.logger.Info("Order refunded", zap.Int64("order_id", order.ID))
		return nil
	})
}

// GetOrder retrieves an order, visible only to its buyer or merchant.
func (s *OrderLifecycle) GetOrder(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error) {
	return s.loadAuthorized(ctx, orderID, actor, models.RoleBuyer, models.RoleMerchant)
}

// loadAuthorized fetches the order and verifies the actor owns it in one of
// the allowed roles. Unauthorized attempts fail before any mutation.
func (s *OrderLifecycle) loadAuthorized(ctx context.Context, orderID int64, actor models.Actor, roles ...string) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	for _, role := range roles {
		if actor.Role != role {
			continue
		}
		switch role {
		case models.RoleBuyer:
			if actor.ID == order.BuyerID {
				return order, nil
			}
		case models.RoleMerchant:
			if actor.ID == order.MerchantID {
				return order, nil
			}
		}
	}

	util.OrderTransitionsRejected.WithLabelValues("unauthorized").Inc()
	return nil, ErrUnauthorized
}

// transition validates the state change against the transition table and
// persists it. Illegal transitions have no side effects.
func (s *OrderLifecycle) transition(ctx context.Context, order *models.Order, to string) error {
	if !models.CanTransition(order.Status, to) {
		util.OrderTransitionsRejected.WithLabelValues("invalid_transition").Inc()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, order.Status, to)
	}

	now := time.Now()
	if err := s.store.UpdateOrderStatus(ctx, order.ID, to, now); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = to
	return nil
}

func generateOrderNo() string {
	return fmt.Sprintf("T%d%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}
