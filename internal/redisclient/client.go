package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	stockKeyPrefix = "stock:product:"
	lockKeyPrefix  = "lock:"

	// stockCacheTTL bounds how long a seeded stock key lives without being
	// re-initialized from durable storage.
	stockCacheTTL = 7 * 24 * time.Hour
)

// reserveScript decrements the stock key only when enough stock remains.
// Returns 1 on success, 0 on insufficient stock, -1 when the key is unseeded.
var reserveScript = redis.NewScript(`
local stock = redis.call('GET', KEYS[1])
if not stock then
	return -1
end
local quantity = tonumber(ARGV[1])
if tonumber(stock) >= quantity then
	redis.call('DECRBY', KEYS[1], quantity)
	return 1
end
return 0
`)

// releaseScript increments the stock key. A missing key is left alone so a
// release never resurrects an evicted entry with a partial value.
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('INCRBY', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// unlockScript deletes the lock key only when it still holds the caller's
// token, so an expired-and-reacquired lock is never released by the old owner.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// ErrStockNotSeeded is returned when a stock operation hits a key that has
// not been initialized from durable storage.
var ErrStockNotSeeded = errors.New("stock key not seeded")

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client.
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return stockKeyPrefix + strconv.FormatInt(productID, 10)
}

// DecrementStock atomically decrements available stock if sufficient.
// Returns false when stock is insufficient; ErrStockNotSeeded when the key
// is missing and must be initialized first.
func (c *Client) DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	result, err := reserveScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Int()
	if err != nil {
		return false, fmt.Errorf("reserve stock script failed: %w", err)
	}
	if result == -1 {
		return false, ErrStockNotSeeded
	}
	return result == 1, nil
}

// IncrementStock atomically adds quantity back to available stock.
func (c *Client) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	result, err := releaseScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Int()
	if err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}
	if result == 0 {
		return ErrStockNotSeeded
	}
	return nil
}

// SetStock seeds the stock key from durable storage.
func (c *Client) SetStock(ctx context.Context, productID int64, available int) error {
	return c.rdb.Set(ctx, stockKey(productID), available, stockCacheTTL).Err()
}

// GetStock returns the cached available stock, or ErrStockNotSeeded.
func (c *Client) GetStock(ctx context.Context, productID int64) (int, error) {
	val, err := c.rdb.Get(ctx, stockKey(productID)).Int()
	if err == redis.Nil {
		return 0, ErrStockNotSeeded
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// SetNX implements the lock store's set-if-absent-with-expiry primitive.
func (c *Client) SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
}

// CompareAndDelete removes the lock key only if it still holds token.
func (c *Client) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	result, err := unlockScript.Run(ctx, c.rdb, []string{lockKeyPrefix + key}, token).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
