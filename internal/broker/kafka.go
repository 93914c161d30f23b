package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tourism-core/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a payload that can never be processed. Handlers
// return it (wrapped or not) to send the message straight to the dead-letter
// topic instead of burning retries on it.
var ErrMalformedEvent = errors.New("malformed event payload")

// Producer publishes events to Kafka. The topic is chosen per message, so a
// single producer serves all routing keys.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Producer{writer: writer}
}

// PublishEvent publishes an event to the given topic. It returns once the
// transport has durably accepted the message; consumer processing happens
// independently.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(topic).Inc()
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	util.EventsPublishedTotal.WithLabelValues(topic).Inc()
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// deadLetterSink accepts messages whose processing is exhausted. A Producer
// writing to the dead-letter topic is the production implementation.
type deadLetterSink interface {
	PublishEvent(ctx context.Context, topic, key string, event interface{}) error
}

// Consumer reads one topic on behalf of a consumer group. The group offset
// is only committed after the handler succeeds or the message is
// dead-lettered, which gives at-least-once delivery across restarts.
type Consumer struct {
	reader *kafka.Reader
	dlq    deadLetterSink

	dlqTopic       string
	maxAttempts    int
	handlerTimeout time.Duration
	logger         *zap.Logger
}

// ConsumerConfig bounds retry and processing time per message.
type ConsumerConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	DeadLetter     string
	MaxAttempts    int
	HandlerTimeout time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, dlq deadLetterSink) *Consumer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{
		reader:         reader,
		dlq:            dlq,
		dlqTopic:       cfg.DeadLetter,
		maxAttempts:    cfg.MaxAttempts,
		handlerTimeout: cfg.HandlerTimeout,
		logger:         util.GetLogger(),
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// deadLetter is the payload written to the dead-letter topic, preserving the
// failure reason alongside the original message for inspection.
type deadLetter struct {
	Topic     string    `json:"topic"`
	Key       string    `json:"key"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
}

// StartConsuming fetches messages and dispatches them to handler. A handler
// failure is retried with backoff up to MaxAttempts per message (malformed
// payloads are not retried at all); exhausted messages go to the dead-letter
// topic. The offset is committed only after one of those outcomes.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	topic := c.reader.Config().Topic
	c.logger.Info("Starting Kafka consumer", zap.String("topic", topic))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", topic))
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.String("topic", topic), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		if err := c.process(ctx, msg, handler); err != nil {
			// A cancelled context or an unreachable dead-letter sink
			// reaches here; leave the offset uncommitted so the message is
			// redelivered after restart instead of vanishing.
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// process runs the handler with a per-message timeout and bounded retries,
// dead-lettering on exhaustion. It returns an error when the consumer
// context is cancelled mid-message or the dead-letter sink is unreachable,
// so the caller keeps the offset uncommitted.
func (c *Consumer) process(ctx context.Context, msg kafka.Message, handler MessageHandler) error {
	topic := c.reader.Config().Topic

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
		lastErr = handler(attemptCtx, msg)
		cancel()

		if lastErr == nil {
			util.EventsConsumedTotal.WithLabelValues(topic, "processed").Inc()
			return nil
		}
		if errors.Is(lastErr, ErrMalformedEvent) {
			// Deterministic failure, retrying cannot help.
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == c.maxAttempts {
			break
		}

		util.EventsConsumedTotal.WithLabelValues(topic, "retried").Inc()
		c.logger.Warn("Handler failed, will retry",
			zap.String("topic", topic),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}

	return c.sendToDeadLetter(ctx, msg, lastErr)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 500 * time.Millisecond
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// sendToDeadLetter writes the exhausted message to the dead-letter topic.
// A sink failure is returned so the message's offset stays uncommitted; the
// event must never vanish without a dead-letter record.
func (c *Consumer) sendToDeadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	topic := c.reader.Config().Topic

	c.logger.Error("Routing message to dead-letter topic",
		zap.String("topic", topic),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))

	dl := deadLetter{
		Topic:     topic,
		Key:       string(msg.Key),
		Payload:   string(msg.Value),
		Error:     cause.Error(),
		Attempts:  c.maxAttempts,
		FailedAt:  time.Now(),
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}

	if err := c.dlq.PublishEvent(ctx, c.dlqTopic, string(msg.Key), dl); err != nil {
		c.logger.Error("Failed to publish to dead-letter topic",
			zap.String("topic", topic),
			zap.Error(err))
		return fmt.Errorf("dead-letter publish failed: %w", err)
	}

	util.EventsDeadLetteredTotal.WithLabelValues(topic).Inc()
	return nil
}
