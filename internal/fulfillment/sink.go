// Package fulfillment hands booked shipments to the order system.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Event is published once per booked and tracked shipment.
type Event struct {
	OrderID        string    `json:"order_id"`
	ShipmentID     string    `json:"shipment_id"`
	QuotationID    string    `json:"quotation_id"`
	RateID         string    `json:"rate_id"`
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"tracking_number"`
	TrackingURL    string    `json:"tracking_url"`
	LabelURL       string    `json:"label_url,omitempty"`
	FulfilledAt    time.Time `json:"fulfilled_at"`
}

// NewEvent builds the event for a tracked shipment.
func NewEvent(orderID string, s *shipper.Shipment) Event {
	return Event{
		OrderID:        orderID,
		ShipmentID:     s.ID,
		QuotationID:    s.QuotationID,
		RateID:         s.RateID,
		Carrier:        s.Carrier,
		TrackingNumber: s.TrackingNumber,
		TrackingURL:    s.TrackingURL,
		LabelURL:       s.LabelURL,
		FulfilledAt:    time.Now().UTC(),
	}
}

// Sink receives fulfillment events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Writer is the subset of *kafka.Writer used by KafkaSink.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON keyed by order id, so every event of an
// order lands on the same partition.
type KafkaSink struct {
	writer Writer
	logger *otelzap.Logger
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger *otelzap.Logger) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, logger)
}

// NewKafkaSinkWithWriter creates a sink over an existing writer.
func NewKafkaSinkWithWriter(w Writer, logger *otelzap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: logger}
}

// Publish writes e to Kafka.
func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal fulfillment event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("shipment.fulfilled")},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish fulfillment for order %s: %w", e.OrderID, err)
	}

	s.logger.Ctx(ctx).Info("Fulfillment published",
		zap.String("order_id", e.OrderID),
		zap.String("tracking_number", e.TrackingNumber),
	)
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink logs events. Used when no broker is configured.
type LogSink struct {
	logger *otelzap.Logger
}

// NewLogSink creates a log-only sink.
func NewLogSink(logger *otelzap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs e.
func (s *LogSink) Publish(ctx context.Context, e Event) error {
	s.logger.Ctx(ctx).Info("Fulfillment ready",
		zap.String("order_id", e.OrderID),
		zap.String("shipment_id", e.ShipmentID),
		zap.String("carrier", e.Carrier),
		zap.String("tracking_number", e.TrackingNumber),
		zap.String("tracking_url", e.TrackingURL),
	)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

var (
	_ Sink = (*KafkaSink)(nil)
	_ Sink = (*LogSink)(nil)
)
