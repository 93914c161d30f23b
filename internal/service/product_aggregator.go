package service

import (
	"context"
	"fmt"
	"math"

	"tourism-core/internal/models"
	"tourism-core/internal/util"

	"go.uber.org/zap"
)

// defaultRating is assigned to products with no reviews.
const defaultRating = 5.0

// AggregateStore is the persistence surface the consumers fold events into.
type AggregateStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	MarkOrderStockReleased(ctx context.Context, orderID int64) error
	IncrementProductSales(ctx context.Context, productID int64, quantity int) error
	UpdateProductRating(ctx context.Context, productID int64, rating float64) error
	GetReviewsByProductID(ctx context.Context, productID int64) ([]models.Review, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ProductAggregator applies order and review events to the product
// aggregate (sales counter, average rating). Delivery is at-least-once, so
// every handler is idempotent: the sales increment de-duplicates on event
// id, and the rating is recomputed from the full review set, which makes it
// redelivery- and ordering-independent by construction.
type ProductAggregator struct {
	store  AggregateStore
	ledger StockLedger
	logger *zap.Logger
}

// NewProductAggregator creates a new product aggregator
func NewProductAggregator(store AggregateStore, ledger StockLedger) *ProductAggregator {
	return &ProductAggregator{
		store:  store,
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// HandleOrderPaid folds a paid order into the product's sales counter.
func (a *ProductAggregator) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	ctx, span := util.StartSpan(ctx, "ProductAggregator.HandleOrderPaid")
	defer span.End()

	processed, err := a.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		a.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if err := a.store.IncrementProductSales(ctx, event.ProductID, event.Quantity); err != nil {
		return fmt.Errorf("failed to update sales counter: %w", err)
	}

	if err := a.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	a.logger.Info("Sales counter updated",
		zap.Int64("product_id", event.ProductID),
		zap.Int64("order_id", event.OrderID),
		zap.Int("quantity", event.Quantity))
	return nil
}

// HandleOrderCancelled makes sure the cancelled order's reservation has been
// returned. The lifecycle normally releases synchronously before publishing;
// this handler is the recovery path when that instance died in between, and
// the per-order released flag keeps the release at-most-once either way.
func (a *ProductAggregator) HandleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	ctx, span := util.StartSpan(ctx, "ProductAggregator.HandleOrderCancelled")
	defer span.End()

	processed, err := a.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		return nil
	}

	order, err := a.store.GetOrderByID(ctx, event.OrderID)
	if err != nil {
		return err
	}

	if !order.StockReleased {
		if err := a.ledger.Release(ctx, event.ProductID, event.Quantity); err != nil {
			return fmt.Errorf("failed to release reservation: %w", err)
		}
		if err := a.store.MarkOrderStockReleased(ctx, event.OrderID); err != nil {
			return fmt.Errorf("failed to mark stock released: %w", err)
		}
		a.logger.Warn("Released reservation from cancellation event",
			zap.Int64("order_id", event.OrderID),
			zap.Int64("product_id", event.ProductID))
	}

	if err := a.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// HandleReviewChanged recomputes the product's average rating from the
// current review set. No event-id bookkeeping is needed: recomputation from
// source-of-truth data converges regardless of delivery order or count.
func (a *ProductAggregator) HandleReviewChanged(ctx context.Context, event *models.ReviewChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "ProductAggregator.HandleReviewChanged")
	defer span.End()

	reviews, err := a.store.GetReviewsByProductID(ctx, event.ProductID)
	if err != nil {
		return fmt.Errorf("failed to load reviews: %w", err)
	}

	rating := defaultRating
	if len(reviews) > 0 {
		var sum int
		for _, r := range reviews {
			sum += r.Rating
		}
		rating = math.Round(float64(sum)/float64(len(reviews))*10) / 10
	}

	if err := a.store.UpdateProductRating(ctx, event.ProductID, rating); err != nil {
		return fmt.Errorf("failed to update product rating: %w", err)
	}

	a.logger.Info("Product rating recomputed",
		zap.Int64("product_id", event.ProductID),
		zap.Int("review_count", len(reviews)),
		zap.Float64("rating", rating))
	return nil
}
