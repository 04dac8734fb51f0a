package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/signalworks/signal-engine/internal/models"
)

// Producer publishes engine events: new signals, resolved outcomes and
// strategy health transitions.
type Producer struct {
	signalsWriter  *kafka.Writer
	outcomesWriter *kafka.Writer
	healthWriter   *kafka.Writer
}

// Event is the envelope shared by all published messages
type Event struct {
	EventType string      `json:"event_type"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewProducer creates writers for the engine's output topics
func NewProducer(brokers []string, signalsTopic, outcomesTopic, healthTopic string) *Producer {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		}
	}
	return &Producer{
		signalsWriter:  newWriter(signalsTopic),
		outcomesWriter: newWriter(outcomesTopic),
		healthWriter:   newWriter(healthTopic),
	}
}

// PublishSignalCreated announces a newly generated signal
func (p *Producer) PublishSignalCreated(ctx context.Context, signal *models.Signal) error {
	return p.publish(ctx, p.signalsWriter, "SIGNAL_CREATED",
		strconv.FormatInt(signal.ID, 10), signal)
}

// PublishOutcomeRecorded announces a resolved signal
func (p *Producer) PublishOutcomeRecorded(ctx context.Context, outcome *models.Outcome) error {
	return p.publish(ctx, p.outcomesWriter, "OUTCOME_RECORDED",
		strconv.FormatInt(outcome.SignalID, 10), outcome)
}

// DegradationEvent carries a strategy degradation state change
type DegradationEvent struct {
	Strategy   string `json:"strategy"`
	IsDegraded bool   `json:"is_degraded"`
	Reason     string `json:"reason,omitempty"`
}

// PublishDegradationChanged announces a strategy entering or leaving
// degraded mode
func (p *Producer) PublishDegradationChanged(ctx context.Context, strategy string, degraded bool, reason string) error {
	return p.publish(ctx, p.healthWriter, "DEGRADATION_CHANGED", strategy,
		DegradationEvent{Strategy: strategy, IsDegraded: degraded, Reason: reason})
}

// CircuitBreakerEvent carries a circuit breaker state change
type CircuitBreakerEvent struct {
	Tripped bool   `json:"tripped"`
	Reason  string `json:"reason,omitempty"`
}

// PublishCircuitBreakerChanged announces the engine-wide circuit breaker
// tripping or resetting
func (p *Producer) PublishCircuitBreakerChanged(ctx context.Context, tripped bool, reason string) error {
	return p.publish(ctx, p.healthWriter, "CIRCUIT_BREAKER_CHANGED", "circuit_breaker",
		CircuitBreakerEvent{Tripped: tripped, Reason: reason})
}

func (p *Producer) publish(ctx context.Context, writer *kafka.Writer, eventType, key string, data interface{}) error {
	event := Event{
		EventType: eventType,
		Source:    "signal-engine",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

// Close closes all writers
func (p *Producer) Close() {
	for _, w := range []*kafka.Writer{p.signalsWriter, p.outcomesWriter, p.healthWriter} {
		if err := w.Close(); err != nil {
			log.Printf("Error closing Kafka writer for %s: %v", w.Topic, err)
		}
	}
}
