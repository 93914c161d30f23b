package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tourism-core/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves all products
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// IncrementProductSales adds quantity to a product's sales counter.
func (s *Store) IncrementProductSales(ctx context.Context, productID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET sales = sales + $1 WHERE id = $2",
		quantity, productID)
	return err
}

// UpdateProductRating overwrites a product's average rating.
func (s *Store) UpdateProductRating(ctx context.Context, productID int64, rating float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET rating = $1 WHERE id = $2",
		rating, productID)
	return err
}

// GetStock retrieves the durable stock record for a product.
func (s *Store) GetStock(ctx context.Context, productID int64) (*models.StockRecord, error) {
	var record models.StockRecord
	err := s.db.GetContext(ctx, &record, "SELECT * FROM stock WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stock not found for product: %d", productID)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ReserveStock mirrors a cache-side reservation into durable storage. The
// cache already serialized the decrement; the row lock and available check
// here keep the mirror from going negative if the two ever disagree.
func (s *Store) ReserveStock(ctx context.Context, productID int64, quantity int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var available int
	err = tx.GetContext(ctx, &available,
		"SELECT available FROM stock WHERE product_id = $1 FOR UPDATE", productID)
	if err != nil {
		return fmt.Errorf("failed to lock stock row: %w", err)
	}

	if available < quantity {
		return fmt.Errorf("durable stock below reservation: available=%d, requested=%d", available, quantity)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE stock SET available = available - $1, reserved = reserved + $1,
		 version = version + 1, updated_at = NOW() WHERE product_id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	return tx.Commit()
}

// ReleaseStock returns quantity to the durable stock record.
func (s *Store) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE stock SET available = available + $1, reserved = GREATEST(reserved - $1, 0),
		 version = version + 1, updated_at = NOW() WHERE product_id = $2`,
		quantity, productID)
	return err
}

// InitStock seeds the durable stock record for a product.
func (s *Store) InitStock(ctx context.Context, productID int64, available int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stock (product_id, available, reserved, version)
		 VALUES ($1, $2, 0, 0)
		 ON CONFLICT (product_id) DO UPDATE SET available = $2, updated_at = NOW()`,
		productID, available)
	return err
}
