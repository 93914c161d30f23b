package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tourism-core/internal/lock"
	"tourism-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memOrderStore is an in-memory OrderStore / AggregateStore.
type memOrderStore struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*models.Order
	products  map[int64]*models.Product
	reviews   map[int64][]models.Review
	processed map[string]bool
	sales     map[int64]int
	ratings   map[int64]float64
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{
		nextID:    1,
		orders:    make(map[int64]*models.Order),
		products:  make(map[int64]*models.Product),
		reviews:   make(map[int64][]models.Review),
		processed: make(map[string]bool),
		sales:     make(map[int64]int),
		ratings:   make(map[int64]float64),
	}
}

func (s *memOrderStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	copied := *p
	return &copied, nil
}

func (s *memOrderStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = s.nextID
	s.nextID++
	order.CreatedAt = time.Now()
	copied := *order
	s.orders[order.ID] = &copied
	return nil
}

func (s *memOrderStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	copied := *o
	return &copied, nil
}

func (s *memOrderStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.IdempotencyKey == key {
			copied := *o
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memOrderStore) UpdateOrderStatus(ctx context.Context, orderID int64, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %d", orderID)
	}
	o.Status = status
	return nil
}

func (s *memOrderStore) MarkOrderStockReleased(ctx context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %d", orderID)
	}
	o.StockReleased = true
	return nil
}

func (s *memOrderStore) AppendOrderRemark(ctx context.Context, orderID int64, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		if o.Remark == "" {
			o.Remark = line
		} else {
			o.Remark += "\n" + line
		}
	}
	return nil
}

func (s *memOrderStore) IncrementProductSales(ctx context.Context, productID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales[productID] += quantity
	return nil
}

func (s *memOrderStore) UpdateProductRating(ctx context.Context, productID int64, rating float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[productID] = rating
	return nil
}

func (s *memOrderStore) GetReviewsByProductID(ctx context.Context, productID int64) ([]models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Review(nil), s.reviews[productID]...), nil
}

func (s *memOrderStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[eventID], nil
}

func (s *memOrderStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = true
	return nil
}

// fakeLedger tracks available stock with atomic reserve semantics.
type fakeLedger struct {
	mu        sync.Mutex
	available map[int64]int
	releases  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{available: make(map[int64]int)}
}

func (f *fakeLedger) Reserve(ctx context.Context, productID int64, quantity int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available[productID] < quantity {
		return false, nil
	}
	f.available[productID] -= quantity
	return true, nil
}

func (f *fakeLedger) Release(ctx context.Context, productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available[productID] += quantity
	f.releases++
	return nil
}

func (f *fakeLedger) get(productID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available[productID]
}

// fakePublisher records published events.
type fakePublisher struct {
	mu        sync.Mutex
	paid      []*models.OrderPaidEvent
	cancelled []*models.OrderCancelledEvent
	fail      bool
}

func (f *fakePublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unreachable")
	}
	f.paid = append(f.paid, event)
	return nil
}

func (f *fakePublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unreachable")
	}
	f.cancelled = append(f.cancelled, event)
	return nil
}

type lifecycleFixture struct {
	store     *memOrderStore
	ledger    *fakeLedger
	publisher *fakePublisher
	lifecycle *OrderLifecycle
}

func newLifecycleFixture() *lifecycleFixture {
	store := newMemOrderStore()
	store.products[1] = &models.Product{
		ID: 1, MerchantID: 9, Title: "Porcelain workshop tour",
		Price: 2000, Status: models.ProductStatusOnSale,
	}
	ledger := newFakeLedger()
	ledger.available[1] = 10
	publisher := &fakePublisher{}
	locker := lock.New(newTestLockKV(), time.Second, time.Millisecond)

	return &lifecycleFixture{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		lifecycle: NewOrderLifecycle(store, ledger, publisher, locker, time.Second),
	}
}

// testLockKV is a minimal in-memory lock.Store.
type testLockKV struct {
	mu      sync.Mutex
	entries map[string]string
	expiry  map[string]time.Time
}

func newTestLockKV() *testLockKV {
	return &testLockKV{entries: make(map[string]string), expiry: make(map[string]time.Time)}
}

func (s *testLockKV) SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok && time.Now().Before(s.expiry[key]) {
		return false, nil
	}
	s.entries[key] = token
	s.expiry[key] = time.Now().Add(ttl)
	return true, nil
}

func (s *testLockKV) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[key] != token {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

var buyer = models.Actor{ID: 42, Role: models.RoleBuyer}
var merchant = models.Actor{ID: 9, Role: models.RoleMerchant}

func createOrder(t *testing.T, f *lifecycleFixture, quantity int) *models.Order {
	t.Helper()
	order, err := f.lifecycle.CreateOrder(context.Background(), &CreateOrderRequest{
		BuyerID:   buyer.ID,
		ProductID: 1,
		Quantity:  quantity,
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrderReservesStock(t *testing.T) {
	f := newLifecycleFixture()

	order := createOrder(t, f, 3)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(9), order.MerchantID)
	assert.Equal(t, int64(6000), order.TotalAmount)
	assert.Equal(t, 7, f.ledger.get(1))
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newLifecycleFixture()

	_, err := f.lifecycle.CreateOrder(context.Background(), &CreateOrderRequest{
		BuyerID:   buyer.ID,
		ProductID: 1,
		Quantity:  11,
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// No order created, stock untouched.
	assert.Empty(t, f.store.orders)
	assert.Equal(t, 10, f.ledger.get(1))
}

func TestCreateOrderOffSaleProduct(t *testing.T) {
	f := newLifecycleFixture()
	f.store.products[1].Status = models.ProductStatusOffSale

	_, err := f.lifecycle.CreateOrder(context.Background(), &CreateOrderRequest{
		BuyerID:   buyer.ID,
		ProductID: 1,
		Quantity:  1,
	})
	assert.ErrorIs(t, err, ErrProductOffSale)
	assert.Equal(t, 10, f.ledger.get(1))
}

func TestCreateOrderIdempotency(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	req := &CreateOrderRequest{BuyerID: buyer.ID, ProductID: 1, Quantity: 2, IdempotencyKey: "req-1"}
	first, err := f.lifecycle.CreateOrder(ctx, req)
	require.NoError(t, err)

	second, err := f.lifecycle.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only one reservation happened.
	assert.Equal(t, 8, f.ledger.get(1))
}

func TestPayEmitsOrderPaidEvent(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 2)

	require.NoError(t, f.lifecycle.Pay(context.Background(), order.ID, buyer))

	updated, _ := f.store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusPaid, updated.Status)

	require.Len(t, f.publisher.paid, 1)
	event := f.publisher.paid[0]
	assert.Equal(t, order.ID, event.OrderID)
	assert.Equal(t, int64(1), event.ProductID)
	assert.Equal(t, 2, event.Quantity)
	assert.NotEmpty(t, event.EventID)

	// Stock is untouched by payment; the reservation accounts for it.
	assert.Equal(t, 8, f.ledger.get(1))
}

func TestPayByWrongActorFailsWithoutSideEffects(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 1)

	otherBuyer := models.Actor{ID: 777, Role: models.RoleBuyer}
	err := f.lifecycle.Pay(context.Background(), order.ID, otherBuyer)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Merchants cannot pay either.
	err = f.lifecycle.Pay(context.Background(), order.ID, merchant)
	assert.ErrorIs(t, err, ErrUnauthorized)

	updated, _ := f.store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusPending, updated.Status)
	assert.Empty(t, f.publisher.paid)
}

func TestCancelPendingReleasesReservation(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 2)
	require.Equal(t, 8, f.ledger.get(1))

	require.NoError(t, f.lifecycle.Cancel(context.Background(), order.ID, buyer, "changed plans"))

	updated, _ := f.store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.True(t, updated.StockReleased)
	assert.Contains(t, updated.Remark, "changed plans")
	assert.Equal(t, 10, f.ledger.get(1))

	require.Len(t, f.publisher.cancelled, 1)
	assert.Equal(t, order.ID, f.publisher.cancelled[0].OrderID)
}

func TestDoubleCancelReleasesOnlyOnce(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 2)

	require.NoError(t, f.lifecycle.Cancel(context.Background(), order.ID, buyer, ""))
	err := f.lifecycle.Cancel(context.Background(), order.ID, buyer, "")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	assert.Equal(t, 1, f.ledger.releases)
	assert.Equal(t, 10, f.ledger.get(1))
}

func TestCancelledOrderCannotBePaid(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 2)

	require.NoError(t, f.lifecycle.Cancel(context.Background(), order.ID, buyer, ""))
	assert.Equal(t, 10, f.ledger.get(1))

	err := f.lifecycle.Pay(context.Background(), order.ID, buyer)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Empty(t, f.publisher.paid)
}

func TestMerchantCanCancelPaidOrder(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 2)
	require.NoError(t, f.lifecycle.Pay(context.Background(), order.ID, buyer))

	require.NoError(t, f.lifecycle.Cancel(context.Background(), order.ID, merchant, "venue closed"))

	updated, _ := f.store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.Equal(t, 10, f.ledger.get(1))
}

func TestCompleteAndRefundFlow(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 2)
	ctx := context.Background()

	// Only the merchant may complete.
	assert.ErrorIs(t, f.lifecycle.Complete(ctx, order.ID, buyer), ErrUnauthorized)

	require.NoError(t, f.lifecycle.Pay(ctx, order.ID, buyer))
	require.NoError(t, f.lifecycle.Complete(ctx, order.ID, merchant))

	updated, _ := f.store.GetOrderByID(ctx, order.ID)
	assert.Equal(t, models.OrderStatusCompleted, updated.Status)

	// Refund after completion is allowed and does not touch stock.
	require.NoError(t, f.lifecycle.Refund(ctx, order.ID, merchant))
	updated, _ = f.store.GetOrderByID(ctx, order.ID)
	assert.Equal(t, models.OrderStatusRefunded, updated.Status)
	assert.Equal(t, 8, f.ledger.get(1))
	assert.Equal(t, 0, f.ledger.releases)

	// Refunded is terminal.
	assert.ErrorIs(t, f.lifecycle.Complete(ctx, order.ID, merchant), ErrInvalidStateTransition)
	assert.ErrorIs(t, f.lifecycle.Cancel(ctx, order.ID, merchant, ""), ErrInvalidStateTransition)
}

func TestCompletedOrderCancelHasNoSideEffects(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 2)
	ctx := context.Background()

	require.NoError(t, f.lifecycle.Pay(ctx, order.ID, buyer))
	require.NoError(t, f.lifecycle.Complete(ctx, order.ID, merchant))

	err := f.lifecycle.Cancel(ctx, order.ID, buyer, "")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// No release happened for the illegal cancel.
	assert.Equal(t, 0, f.ledger.releases)
	assert.Equal(t, 8, f.ledger.get(1))
	assert.Empty(t, f.publisher.cancelled)
}

func TestPublishFailureIsReportedNotSwallowed(t *testing.T) {
	f := newLifecycleFixture()
	order := createOrder(t, f, 1)
	f.publisher.fail = true

	err := f.lifecycle.Pay(context.Background(), order.ID, buyer)
	assert.Error(t, err)

	// The transition itself stands.
	updated, _ := f.store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusPaid, updated.Status)
}

func TestConcurrentCreateForLastStock(t *testing.T) {
	f := newLifecycleFixture()
	f.ledger.available[1] = 3
	ctx := context.Background()

	// Two buyers race for quantity 2 out of 3; exactly one wins.
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(buyerID int64) {
			defer wg.Done()
			_, err := f.lifecycle.CreateOrder(ctx, &CreateOrderRequest{
				BuyerID:   buyerID,
				ProductID: 1,
				Quantity:  2,
			})
			results <- err
		}(int64(100 + i))
	}
	wg.Wait()
	close(results)

	var succeeded, insufficient int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 1, f.ledger.get(1))
}
