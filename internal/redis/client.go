package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalworks/signal-engine/internal/config"
)

// Client wraps the Redis client with price-feed caching operations
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis client
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CachedPrice is the last known price for a symbol, kept as a fallback for
// upstream feed outages.
type CachedPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SetPrice caches the latest price for a symbol with TTL
func (c *Client) SetPrice(ctx context.Context, p *CachedPrice, ttl time.Duration) error {
	key := fmt.Sprintf("price:%s:latest", p.Symbol)
	jsonData, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal cached price: %w", err)
	}
	return c.rdb.Set(ctx, key, jsonData, ttl).Err()
}

// GetPrice retrieves the cached price for a symbol
func (c *Client) GetPrice(ctx context.Context, symbol string) (*CachedPrice, error) {
	key := fmt.Sprintf("price:%s:latest", symbol)
	jsonData, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var p CachedPrice
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached price: %w", err)
	}
	return &p, nil
}

// Indicator caching: regime detection recomputes ATR percentiles every
// selection cycle, so computed values are cached between cycles.

// SetIndicator caches a computed indicator value
func (c *Client) SetIndicator(ctx context.Context, symbol, name string, value float64, ttl time.Duration) error {
	key := fmt.Sprintf("indicator:%s:%s", symbol, name)
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// GetIndicator retrieves a cached indicator value
func (c *Client) GetIndicator(ctx context.Context, symbol, name string) (float64, error) {
	key := fmt.Sprintf("indicator:%s:%s", symbol, name)
	return c.rdb.Get(ctx, key).Float64()
}

// Generic operations

// Set stores a value with optional TTL
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Get retrieves a string value
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Delete removes a key
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, key).Result()
	return result > 0, err
}
