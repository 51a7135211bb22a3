package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/tournevent/skydrop-bridge/pkg/shipper"
)

// instrumented records duration and outcome of every carrier call.
type instrumented struct {
	shipper.Carrier
	rec Recorder
}

func instrument(c shipper.Carrier, rec Recorder) shipper.Carrier {
	if _, ok := rec.(nopRecorder); ok {
		return c
	}
	if _, ok := c.(*instrumented); ok {
		return c
	}
	return &instrumented{Carrier: c, rec: rec}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		i.rec.RecordError(i.Name(), errorType(err))
	}
	i.rec.RecordRequest(op, i.Name(), status, time.Since(start).Seconds())
}

func (i *instrumented) CreateQuotation(ctx context.Context, req *shipper.QuotationRequest) (*shipper.Quotation, error) {
	start := time.Now()
	q, err := i.Carrier.CreateQuotation(ctx, req)
	i.observe("create_quotation", start, err)
	return q, err
}

func (i *instrumented) GetQuotation(ctx context.Context, id string) (*shipper.Quotation, error) {
	start := time.Now()
	q, err := i.Carrier.GetQuotation(ctx, id)
	i.observe("get_quotation", start, err)
	return q, err
}

func (i *instrumented) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.Shipment, error) {
	start := time.Now()
	s, err := i.Carrier.CreateShipment(ctx, req)
	i.observe("create_shipment", start, err)
	return s, err
}

func (i *instrumented) GetShipment(ctx context.Context, id string) (*shipper.Shipment, error) {
	start := time.Now()
	s, err := i.Carrier.GetShipment(ctx, id)
	i.observe("get_shipment", start, err)
	return s, err
}

func (i *instrumented) Track(ctx context.Context, trackingNumber, carrierName string) (*shipper.TrackingInfo, error) {
	start := time.Now()
	info, err := i.Carrier.Track(ctx, trackingNumber, carrierName)
	i.observe("track", start, err)
	return info, err
}

func errorType(err error) string {
	var carrierErr *shipper.CarrierError
	var transportErr *shipper.TransportError
	switch {
	case errors.As(err, &carrierErr):
		return carrierErr.Code
	case errors.As(err, &transportErr):
		return "TRANSPORT"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, shipper.ErrCancelled):
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}
