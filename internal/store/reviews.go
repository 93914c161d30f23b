package store

import (
	"context"

	"tourism-core/internal/models"
)

// GetReviewsByProductID retrieves all reviews for a product. The rating
// consumer recomputes the average from this set rather than applying deltas.
func (s *Store) GetReviewsByProductID(ctx context.Context, productID int64) ([]models.Review, error) {
	var reviews []models.Review
	err := s.db.SelectContext(ctx, &reviews,
		"SELECT * FROM reviews WHERE product_id = $1 ORDER BY created_at DESC", productID)
	return reviews, err
}
