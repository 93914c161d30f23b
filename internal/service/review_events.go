package service

import (
	"context"
	"time"

	"tourism-core/internal/models"
	"tourism-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReviewEventPublisher is the slice of the publisher that review
// notifications need.
type ReviewEventPublisher interface {
	PublishReviewChanged(ctx context.Context, event *models.ReviewChangedEvent) error
}

// ReviewNotifier publishes review.changed events on behalf of the review
// service; the rating consumer folds them into the product aggregate.
type ReviewNotifier struct {
	publisher ReviewEventPublisher
	logger    *zap.Logger
}

// NewReviewNotifier creates a new review notifier
func NewReviewNotifier(publisher ReviewEventPublisher) *ReviewNotifier {
	return &ReviewNotifier{
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// NotifyReviewChanged publishes a ReviewChanged event for a review that was
// created, updated or deleted.
func (n *ReviewNotifier) NotifyReviewChanged(ctx context.Context, reviewID, productID int64, changeType string) error {
	event := &models.ReviewChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReviewChanged,
			Timestamp: time.Now(),
		},
		ReviewID:   reviewID,
		ProductID:  productID,
		ChangeType: changeType,
	}

	if err := n.publisher.PublishReviewChanged(ctx, event); err != nil {
		n.logger.Error("Failed to publish ReviewChanged event",
			zap.Int64("review_id", reviewID),
			zap.Error(err))
		return err
	}
	return nil
}
