package broker

import (
	"context"
	"fmt"

	"tourism-core/internal/models"
)

// Topics for domain events, one per routing key.
type Topics struct {
	OrderPaid      string
	OrderCancelled string
	ReviewChanged  string
}

// EventPublisher handles publishing domain events. Events are keyed by
// subject id so related emissions land on the same partition.
type EventPublisher struct {
	producer *Producer
	topics   Topics
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer, topics Topics) *EventPublisher {
	return &EventPublisher{producer: producer, topics: topics}
}

// PublishOrderPaid publishes an OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, ep.topics.OrderPaid, key, event)
}

// PublishOrderCancelled publishes an OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, ep.topics.OrderCancelled, key, event)
}

// PublishReviewChanged publishes a ReviewChanged event
func (ep *EventPublisher) PublishReviewChanged(ctx context.Context, event *models.ReviewChangedEvent) error {
	key := fmt.Sprintf("review-%d", event.ReviewID)
	return ep.producer.PublishEvent(ctx, ep.topics.ReviewChanged, key, event)
}
