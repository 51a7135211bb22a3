// Package shipper provides the domain model and carrier abstraction for
// quoting and booking shipments through a carrier aggregator.
package shipper

import (
	"context"
)

// Carrier defines the transport contract to a carrier aggregator.
// Implementations never retry internally; retry policy belongs to callers.
type Carrier interface {
	// Name returns the aggregator identifier (e.g., "skydropx", "mock").
	Name() string

	// CreateQuotation asks the aggregator to start pricing a shipment.
	// The returned quotation is usually not complete yet.
	CreateQuotation(ctx context.Context, req *QuotationRequest) (*Quotation, error)

	// GetQuotation reads the current state of a quotation.
	GetQuotation(ctx context.Context, id string) (*Quotation, error)

	// CreateShipment books a shipment against a quotation rate.
	// A stale quotation is reported as a CarrierError wrapping ErrQuoteExpired.
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*Shipment, error)

	// GetShipment reads the current state of a shipment.
	GetShipment(ctx context.Context, id string) (*Shipment, error)

	// Track looks up tracking events by tracking number and carrier name.
	Track(ctx context.Context, trackingNumber, carrierName string) (*TrackingInfo, error)
}
