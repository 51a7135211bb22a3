package fulfillment_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/skydrop-bridge/internal/fulfillment"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func trackedShipment() *shipper.Shipment {
	return &shipper.Shipment{
		ID:             "s-1",
		QuotationID:    "q-1",
		RateID:         "r-1",
		Carrier:        "fedex",
		TrackingNumber: "TRK-1",
		TrackingURL:    "https://track/TRK-1",
	}
}

func TestKafkaSink_Publish(t *testing.T) {
	fw := &fakeWriter{}
	sink := fulfillment.NewKafkaSinkWithWriter(fw, otelzap.New(zap.NewNop()))

	err := sink.Publish(context.Background(), fulfillment.NewEvent("order-1", trackedShipment()))

	require.NoError(t, err)
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, "order-1", string(fw.msgs[0].Key))

	var got fulfillment.Event
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &got))
	assert.Equal(t, "TRK-1", got.TrackingNumber)
	assert.Equal(t, "https://track/TRK-1", got.TrackingURL)
	assert.Equal(t, "fedex", got.Carrier)
	assert.False(t, got.FulfilledAt.IsZero())
}

func TestKafkaSink_WriteError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	sink := fulfillment.NewKafkaSinkWithWriter(fw, otelzap.New(zap.NewNop()))

	err := sink.Publish(context.Background(), fulfillment.NewEvent("order-1", trackedShipment()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "order-1")
}

func TestKafkaSink_Close(t *testing.T) {
	fw := &fakeWriter{}
	sink := fulfillment.NewKafkaSinkWithWriter(fw, otelzap.New(zap.NewNop()))

	require.NoError(t, sink.Close())
	assert.True(t, fw.closed)
}

func TestLogSink(t *testing.T) {
	sink := fulfillment.NewLogSink(otelzap.New(zap.NewNop()))

	assert.NoError(t, sink.Publish(context.Background(), fulfillment.NewEvent("order-1", trackedShipment())))
	assert.NoError(t, sink.Close())
}
