package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tourism-core/internal/lock"
	"tourism-core/internal/models"
	"tourism-core/internal/redisclient"
	"tourism-core/internal/util"

	"go.uber.org/zap"
)

// Cache is the shared fast-path store for available stock. DecrementStock
// must be atomic with respect to concurrent calls for the same product.
type Cache interface {
	DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error)
	IncrementStock(ctx context.Context, productID int64, quantity int) error
	SetStock(ctx context.Context, productID int64, available int) error
	GetStock(ctx context.Context, productID int64) (int, error)
}

// Store is the durable mirror of the stock counts. Every ledger mutation is
// written through before it is considered committed, so losing the cache
// never silently resets stock.
type Store interface {
	GetStock(ctx context.Context, productID int64) (*models.StockRecord, error)
	ReserveStock(ctx context.Context, productID int64, quantity int) error
	ReleaseStock(ctx context.Context, productID int64, quantity int) error
}

// Ledger is the authoritative tracker of available stock per product. All
// writers go through Reserve/Release; nothing else mutates the counts.
type Ledger struct {
	cache  Cache
	store  Store
	locker *lock.Lock

	lockWait time.Duration
	logger   *zap.Logger
}

// NewLedger creates a stock ledger. The lock serializes cache seeding across
// instances; reservations themselves ride on the cache's atomic decrement.
func NewLedger(cache Cache, store Store, locker *lock.Lock, lockWait time.Duration) *Ledger {
	return &Ledger{
		cache:    cache,
		store:    store,
		locker:   locker,
		lockWait: lockWait,
		logger:   util.GetLogger(),
	}
}

func initLockKey(productID int64) string {
	return "stock:init:" + strconv.FormatInt(productID, 10)
}

// Initialize seeds the cache entry for a product from durable storage. It is
// safe to call concurrently from multiple instances; the first caller seeds
// under the lock, the rest observe the seeded value.
func (l *Ledger) Initialize(ctx context.Context, productID int64) error {
	if _, err := l.cache.GetStock(ctx, productID); err == nil {
		return nil
	} else if !errors.Is(err, redisclient.ErrStockNotSeeded) {
		return err
	}

	return l.locker.WithLock(ctx, initLockKey(productID), l.lockWait, func(ctx context.Context) error {
		// Double-check under the lock; another instance may have seeded.
		if _, err := l.cache.GetStock(ctx, productID); err == nil {
			return nil
		} else if !errors.Is(err, redisclient.ErrStockNotSeeded) {
			return err
		}

		record, err := l.store.GetStock(ctx, productID)
		if err != nil {
			return fmt.Errorf("failed to load stock for product %d: %w", productID, err)
		}

		if err := l.cache.SetStock(ctx, productID, record.Available); err != nil {
			return fmt.Errorf("failed to seed stock cache: %w", err)
		}

		l.logger.Info("Stock cache seeded",
			zap.Int64("product_id", productID),
			zap.Int("available", record.Available))
		return nil
	})
}

// Reserve atomically takes quantity out of the available stock. It returns
// (false, nil) when stock is insufficient, which is an expected business
// outcome, not a fault. On success the durable mirror has already been
// updated; a mirror failure rolls the cache back and reports an error.
func (l *Ledger) Reserve(ctx context.Context, productID int64, quantity int) (bool, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	ok, err := l.cache.DecrementStock(ctx, productID, quantity)
	if errors.Is(err, redisclient.ErrStockNotSeeded) {
		if err := l.Initialize(ctx, productID); err != nil {
			util.StockReserveTotal.WithLabelValues("error").Inc()
			return false, err
		}
		ok, err = l.cache.DecrementStock(ctx, productID, quantity)
	}
	if err != nil {
		util.StockReserveTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("stock decrement failed: %w", err)
	}
	if !ok {
		util.StockReserveTotal.WithLabelValues("insufficient").Inc()
		return false, nil
	}

	if err := l.store.ReserveStock(ctx, productID, quantity); err != nil {
		// Mirror write failed: undo the cache decrement so the reservation
		// is not observable anywhere.
		if rbErr := l.cache.IncrementStock(ctx, productID, quantity); rbErr != nil {
			l.logger.Error("Failed to roll back cache after mirror failure",
				zap.Int64("product_id", productID),
				zap.Error(rbErr))
		}
		util.StockReserveTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to persist reservation: %w", err)
	}

	util.StockReserveTotal.WithLabelValues("reserved").Inc()
	return true, nil
}

// Release returns quantity to the available stock. Callers guarantee
// at-most-one release per order; the ledger itself only applies the delta.
func (l *Ledger) Release(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "Ledger.Release")
	defer span.End()

	if err := l.store.ReleaseStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("failed to persist release: %w", err)
	}
	util.StockReleaseTotal.Inc()

	if err := l.cache.IncrementStock(ctx, productID, quantity); err != nil {
		if errors.Is(err, redisclient.ErrStockNotSeeded) {
			// Evicted entry reseeds from the already-updated mirror on the
			// next access.
			return nil
		}
		l.logger.Error("Failed to release stock in cache",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return err
	}

	return nil
}

// Read returns the currently available stock for a product, seeding the
// cache from durable storage on first access.
func (l *Ledger) Read(ctx context.Context, productID int64) (int, error) {
	available, err := l.cache.GetStock(ctx, productID)
	if errors.Is(err, redisclient.ErrStockNotSeeded) {
		if err := l.Initialize(ctx, productID); err != nil {
			return 0, err
		}
		return l.cache.GetStock(ctx, productID)
	}
	return available, err
}
