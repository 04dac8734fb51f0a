// Package marketdata fetches live prices from the upstream feed, with
// bounded retries and a cache fallback for short feed outages.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/signalworks/signal-engine/internal/config"
	"github.com/signalworks/signal-engine/internal/redis"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

const maxRetries = 2 // 3 attempts total

// PriceCache is the subset of the Redis client used for price fallback
type PriceCache interface {
	SetPrice(ctx context.Context, p *redis.CachedPrice, ttl time.Duration) error
	GetPrice(ctx context.Context, symbol string) (*redis.CachedPrice, error)
}

// Client fetches prices over HTTP. A nil cache disables the fallback.
type Client struct {
	cfg     config.MarketDataConfig
	http    *http.Client
	cache   PriceCache
	metrics *telemetry.Metrics
}

// New creates a market data client
func New(cfg config.MarketDataConfig, cache PriceCache, metrics *telemetry.Metrics) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		metrics: metrics,
	}
}

type priceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// CurrentPrice returns the latest price for a symbol. Transient upstream
// failures are retried with exponential backoff; if all attempts fail, a
// cached price no older than CacheMaxAge is used instead.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64

	fetch := func() error {
		p, err := c.fetch(ctx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(fetch, policy); err != nil {
		return c.fallback(ctx, symbol, err)
	}
	c.metrics.PriceFetches.WithLabelValues("feed").Inc()

	if c.cache != nil {
		cached := &redis.CachedPrice{Symbol: symbol, Price: price, FetchedAt: time.Now().UTC()}
		if err := c.cache.SetPrice(ctx, cached, c.cfg.CacheMaxAge); err != nil {
			log.Printf("Warning: failed to cache price for %s: %v", symbol, err)
		}
	}
	return price, nil
}

func (c *Client) fetch(ctx context.Context, symbol string) (float64, error) {
	url := fmt.Sprintf("%s?symbol=%s", c.cfg.PriceURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to build price request: %w", err))
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("price feed returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read price response: %w", err)
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to decode price response: %w", err))
	}
	if pr.Price <= 0 {
		return 0, backoff.Permanent(fmt.Errorf("price feed returned non-positive price %f", pr.Price))
	}
	return pr.Price, nil
}

func (c *Client) fallback(ctx context.Context, symbol string, fetchErr error) (float64, error) {
	if c.cache == nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", symbol, fetchErr)
	}

	cached, err := c.cache.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s and no cached fallback: %w", symbol, fetchErr)
	}

	age := time.Since(cached.FetchedAt)
	if age > c.cfg.CacheMaxAge {
		return 0, fmt.Errorf("failed to fetch price for %s, cached price is stale (%s old): %w",
			symbol, age.Round(time.Second), fetchErr)
	}

	log.Printf("Price feed unavailable for %s, using cached price %.2f (%s old)",
		symbol, cached.Price, age.Round(time.Second))
	c.metrics.PriceFetches.WithLabelValues("cache").Inc()
	return cached.Price, nil
}
