package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"tourism-core/internal/broker"
	"tourism-core/internal/models"
	"tourism-core/internal/service"
	"tourism-core/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AggregateWorker binds one topic's consumer to the matching product
// aggregator handler. Payloads that cannot be decoded or that miss required
// fields fail as malformed and go straight to the dead-letter topic.
type AggregateWorker struct {
	consumer   *broker.Consumer
	aggregator *service.ProductAggregator
	topic      string
	logger     *zap.Logger
}

// NewAggregateWorker creates a worker for the given topic.
func NewAggregateWorker(consumer *broker.Consumer, aggregator *service.ProductAggregator, topic string) *AggregateWorker {
	return &AggregateWorker{
		consumer:   consumer,
		aggregator: aggregator,
		topic:      topic,
		logger:     util.GetLogger(),
	}
}

// Start starts consuming until the context is cancelled.
func (w *AggregateWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting aggregate worker", zap.String("topic", w.topic))
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker.
func (w *AggregateWorker) Stop() error {
	w.logger.Info("Stopping aggregate worker", zap.String("topic", w.topic))
	return w.consumer.Close()
}

func (w *AggregateWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("%w: %v", broker.ErrMalformedEvent, err)
	}

	switch base.EventType {
	case models.EventTypeOrderPaid:
		var event models.OrderPaidEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("%w: %v", broker.ErrMalformedEvent, err)
		}
		if event.EventID == "" || event.ProductID == 0 || event.Quantity <= 0 {
			return fmt.Errorf("%w: order paid event missing fields", broker.ErrMalformedEvent)
		}
		return w.aggregator.HandleOrderPaid(ctx, &event)

	case models.EventTypeOrderCancelled:
		var event models.OrderCancelledEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("%w: %v", broker.ErrMalformedEvent, err)
		}
		if event.EventID == "" || event.ProductID == 0 || event.Quantity <= 0 {
			return fmt.Errorf("%w: order cancelled event missing fields", broker.ErrMalformedEvent)
		}
		return w.aggregator.HandleOrderCancelled(ctx, &event)

	case models.EventTypeReviewChanged:
		var event models.ReviewChangedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("%w: %v", broker.ErrMalformedEvent, err)
		}
		if event.ProductID == 0 {
			return fmt.Errorf("%w: review changed event missing product id", broker.ErrMalformedEvent)
		}
		return w.aggregator.HandleReviewChanged(ctx, &event)

	default:
		return fmt.Errorf("%w: unknown event type %q", broker.ErrMalformedEvent, base.EventType)
	}
}
