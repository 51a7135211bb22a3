package skydropx

import (
	"context"

	"github.com/shopspring/decimal"
)

// APIClient defines the interface for Skydropx API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// CreateQuotation starts an asynchronous quotation.
	CreateQuotation(ctx context.Context, req *QuotationBody) (*QuotationResponse, error)

	// GetQuotation reads a quotation and its rates.
	GetQuotation(ctx context.Context, id string) (*QuotationResponse, error)

	// CreateShipment books a shipment against a quotation rate.
	CreateShipment(ctx context.Context, req *ShipmentBody) (*ShipmentResponse, error)

	// GetShipment reads a shipment and its packages.
	GetShipment(ctx context.Context, id string) (*ShipmentResponse, error)

	// GetTracking looks up tracking events by tracking number and carrier.
	GetTracking(ctx context.Context, trackingNumber, carrierName string) (*TrackingResponse, error)
}

// ============================================================================
// API Request/Response Types (match Skydropx REST API v1 structure)
// ============================================================================

// Address is the address shape shared by quotations and shipments.
// Every field is always serialized; the API treats missing keys inconsistently.
type Address struct {
	CountryCode string `json:"country_code"`
	PostalCode  string `json:"postal_code"`
	AreaLevel1  string `json:"area_level1"`
	AreaLevel2  string `json:"area_level2"`
	AreaLevel3  string `json:"area_level3"`
	Street1     string `json:"street1"`
	Reference   string `json:"reference"`
	Name        string `json:"name"`
	Company     string `json:"company"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

// Parcel dimensions in cm, weight in kg.
type Parcel struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

// QuotationBody is the request body for POST /api/v1/quotations.
type QuotationBody struct {
	Quotation QuotationDetails `json:"quotation"`
}

// QuotationDetails describes what to quote.
type QuotationDetails struct {
	AddressFrom       Address  `json:"address_from"`
	AddressTo         Address  `json:"address_to"`
	Parcel            Parcel   `json:"parcel"`
	RequestedCarriers []string `json:"requested_carriers"`
}

// QuotationResponse is returned by both quotation endpoints.
type QuotationResponse struct {
	ID          string `json:"id"`
	IsCompleted bool   `json:"is_completed"`
	Rates       []Rate `json:"rates"`
}

// Rate represents a single priced carrier option.
type Rate struct {
	ID                  string           `json:"id"`
	Success             bool             `json:"success"`
	ProviderName        string           `json:"provider_name"`
	ProviderServiceName string           `json:"provider_service_name"`
	ProviderServiceCode string           `json:"provider_service_code,omitempty"`
	Total               *decimal.Decimal `json:"total"`
	Currency            string           `json:"currency_code,omitempty"`
	Days                *int             `json:"days"`
	ErrorMessage        string           `json:"error_message,omitempty"`
}

// ShipmentBody is the request body for POST /api/v1/shipments.
type ShipmentBody struct {
	Shipment ShipmentDetails `json:"shipment"`
}

// ShipmentDetails describes what to book.
type ShipmentDetails struct {
	QuotationID     string  `json:"quotation_id"`
	RateID          string  `json:"rate_id"`
	AddressFrom     Address `json:"address_from"`
	AddressTo       Address `json:"address_to"`
	ConsignmentNote string  `json:"consignment_note"`
	PackageType     string  `json:"package_type"`
}

// ShipmentResponse is the JSON:API document returned by the shipment endpoints.
type ShipmentResponse struct {
	Data     ShipmentData      `json:"data"`
	Included []IncludedPackage `json:"included,omitempty"`
}

// ShipmentData is the primary shipment resource.
type ShipmentData struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Attributes ShipmentAttributes `json:"attributes"`
}

// ShipmentAttributes holds shipment fields.
type ShipmentAttributes struct {
	ID             string `json:"id,omitempty"`
	QuotationID    string `json:"quotation_id,omitempty"`
	RateID         string `json:"rate_id,omitempty"`
	Status         string `json:"status"`
	WorkflowStatus string `json:"workflow_status,omitempty"`
	CarrierName    string `json:"carrier_name,omitempty"`
}

// IncludedPackage is a related package resource carrying tracking data.
type IncludedPackage struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes PackageAttributes `json:"attributes"`
}

// PackageAttributes holds the tracking fields published once the carrier assigns them.
type PackageAttributes struct {
	TrackingNumber      string `json:"tracking_number"`
	TrackingStatus      string `json:"tracking_status,omitempty"`
	TrackingURLProvider string `json:"tracking_url_provider"`
	LabelURL            string `json:"label_url,omitempty"`
}

// TrackingResponse represents tracking information.
// GET /api/v1/shipments/tracking
type TrackingResponse struct {
	Data TrackingData `json:"data"`
}

// TrackingData carries the tracking status and events.
type TrackingData struct {
	TrackingNumber string          `json:"tracking_number"`
	CarrierName    string          `json:"carrier_name"`
	Status         string          `json:"status"`
	Events         []TrackingEvent `json:"tracking_events"`
}

// TrackingEvent represents a single tracking event.
type TrackingEvent struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Status      string `json:"status"`
}

// TokenRequest is the client-credential grant body for POST /api/v1/oauth/token.
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
}

// TokenResponse is the token issuance response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// APIError represents an error from the Skydropx API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}
