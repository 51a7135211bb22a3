package shipper

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentStatus represents the normalized status of a shipment.
type ShipmentStatus string

const (
	StatusPending   ShipmentStatus = "pending"
	StatusTrackable ShipmentStatus = "trackable"
	StatusInTransit ShipmentStatus = "in_transit"
	StatusDelivered ShipmentStatus = "delivered"
	StatusCancelled ShipmentStatus = "cancelled"
	StatusException ShipmentStatus = "exception"
)

// Address represents a shipping address as the aggregator expects it.
// Optional fields are sent as empty strings, never omitted.
type Address struct {
	CountryCode string `json:"country_code" validate:"required"`
	PostalCode  string `json:"postal_code" validate:"required"`
	AreaLevel1  string `json:"area_level1"` // state
	AreaLevel2  string `json:"area_level2"` // city
	AreaLevel3  string `json:"area_level3"` // neighborhood
	Street1     string `json:"street1"`
	Reference   string `json:"reference"`
	Name        string `json:"name"`
	Company     string `json:"company"`
	Phone       string `json:"phone"`
	Email       string `json:"email" validate:"omitempty,email"`
}

// Fingerprint identifies the parts of an address that change a quotation.
func (a Address) Fingerprint() string {
	parts := []string{a.PostalCode, a.AreaLevel1, a.AreaLevel2, a.AreaLevel3}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "|")
}

// Parcel represents the package dimensions (cm) and weight (kg).
type Parcel struct {
	Length float64 `json:"length" validate:"gt=0"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
	Weight float64 `json:"weight" validate:"gt=0"`
}

// Packaging carries the booking-only metadata the aggregator requires.
type Packaging struct {
	ConsignmentNote string `json:"consignment_note" validate:"required"`
	PackageType     string `json:"package_type" validate:"required"`
}

// Rate is one carrier's priced option within a quotation.
type Rate struct {
	ID          string
	QuotationID string
	Provider    string
	ServiceName string
	Success     bool
	Total       decimal.Decimal
	Currency    string
	Days        int
}

// DisplayName returns "<service>.<provider>", the name shown to buyers.
func (r Rate) DisplayName() string {
	return r.ServiceName + "." + r.Provider
}

// Quotation is a priced set of carrier options for an origin, destination and parcel.
type Quotation struct {
	ID        string
	Completed bool
	Rates     []Rate
}

// SuccessfulRates returns the rates the carrier priced without error, in order.
func (q *Quotation) SuccessfulRates() []Rate {
	return successful(q.Rates)
}

// Shipment is a booked shipment. It is trackable once a tracking number is published.
type Shipment struct {
	ID             string
	QuotationID    string
	RateID         string
	Status         ShipmentStatus
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	LabelURL       string
}

// Trackable reports whether the carrier has assigned a tracking number.
func (s *Shipment) Trackable() bool {
	return s != nil && s.TrackingNumber != ""
}

// TrackingEvent represents a tracking event.
type TrackingEvent struct {
	Timestamp   time.Time
	Description string
	Location    string
	Status      string
}

// TrackingInfo is the result of a tracking lookup.
type TrackingInfo struct {
	TrackingNumber string
	Carrier        string
	Status         string
	Events         []TrackingEvent
}

// SelectionContext is retained by the checkout/order record between stages so
// that a later booking can validate cache freshness and recover from staleness.
type SelectionContext struct {
	QuotationID string          `json:"quotation_id"`
	Fingerprint string          `json:"fingerprint"`
	CarrierName string          `json:"carrier_name,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// Matches reports whether the stored quotation was produced for this address.
func (s *SelectionContext) Matches(addr Address) bool {
	return s != nil && s.QuotationID != "" && s.Fingerprint == addr.Fingerprint()
}

// ============================================================================
// Request Types
// ============================================================================

// QuotationRequest is the request for creating a quotation.
type QuotationRequest struct {
	From     Address
	To       Address
	Parcel   Parcel
	Carriers []string
}

// ShipmentRequest is the request for booking a shipment.
type ShipmentRequest struct {
	QuotationID string
	RateID      string
	From        Address
	To          Address
	Packaging   Packaging
}
