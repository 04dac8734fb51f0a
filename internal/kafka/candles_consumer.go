package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

// CandleRepository defines the candle storage operations the consumer needs
type CandleRepository interface {
	SaveCandle(candle *models.Candle) error
}

// CandleEvent is a closed OHLC bar delivered by the market data feed
type CandleEvent struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Timestamp string  `json:"timestamp"` // RFC3339
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

// CandlesConsumer ingests closed candles from Kafka into the candle store
type CandlesConsumer struct {
	reader  *kafka.Reader
	repo    CandleRepository
	metrics *telemetry.Metrics
}

// NewCandlesConsumer creates a new Kafka consumer for candle events
func NewCandlesConsumer(brokers []string, topic, groupID string, repo CandleRepository, metrics *telemetry.Metrics) *CandlesConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID + "-candles",
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &CandlesConsumer{
		reader:  reader,
		repo:    repo,
		metrics: metrics,
	}
}

// Start begins consuming messages from Kafka
func (c *CandlesConsumer) Start(ctx context.Context) error {
	log.Printf("Starting candles consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("Candles consumer shutting down...")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				log.Printf("Error reading candle message: %v", err)
				continue
			}

			if err := c.processMessage(msg); err != nil {
				log.Printf("Error processing candle message: %v", err)
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *CandlesConsumer) processMessage(msg kafka.Message) error {
	var event CandleEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal candle event: %w", err)
	}

	candle, err := event.Candle()
	if err != nil {
		return err
	}
	if err := c.repo.SaveCandle(candle); err != nil {
		return fmt.Errorf("failed to store candle: %w", err)
	}
	if c.metrics != nil {
		c.metrics.CandlesIngested.Inc()
	}
	return nil
}

// Candle converts the wire event into the storage model
func (e *CandleEvent) Candle() (*models.Candle, error) {
	if e.Symbol == "" || e.Timeframe == "" {
		return nil, fmt.Errorf("candle event missing symbol or timeframe")
	}

	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse candle timestamp %q: %w", e.Timestamp, err)
	}

	return &models.Candle{
		Symbol:    e.Symbol,
		Timeframe: e.Timeframe,
		Timestamp: ts,
		Open:      decimal.NewFromFloat(e.Open),
		High:      decimal.NewFromFloat(e.High),
		Low:       decimal.NewFromFloat(e.Low),
		Close:     decimal.NewFromFloat(e.Close),
	}, nil
}

// Close closes the Kafka reader
func (c *CandlesConsumer) Close() error {
	return c.reader.Close()
}
