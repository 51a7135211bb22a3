package skydropx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateQuotation func(ctx context.Context, req *QuotationBody) (*QuotationResponse, error)
	OnGetQuotation    func(ctx context.Context, id string) (*QuotationResponse, error)
	OnCreateShipment  func(ctx context.Context, req *ShipmentBody) (*ShipmentResponse, error)
	OnGetShipment     func(ctx context.Context, id string) (*ShipmentResponse, error)
	OnGetTracking     func(ctx context.Context, trackingNumber, carrierName string) (*TrackingResponse, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: 500, Code: "MOCK_ERROR", Message: "Simulated API error"}
	}
	return nil
}

// CreateQuotation returns a pending quotation.
func (m *MockAPIClient) CreateQuotation(ctx context.Context, req *QuotationBody) (*QuotationResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateQuotation != nil {
		return m.OnCreateQuotation(ctx, req)
	}
	return &QuotationResponse{ID: uuid.New().String()}, nil
}

// GetQuotation returns a completed quotation with one rate per default carrier.
func (m *MockAPIClient) GetQuotation(ctx context.Context, id string) (*QuotationResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetQuotation != nil {
		return m.OnGetQuotation(ctx, id)
	}
	return &QuotationResponse{
		ID:          id,
		IsCompleted: true,
		Rates: []Rate{
			mockRate("fedex", "Express Saver", "189.50", 2),
			mockRate("estafeta", "Dia Siguiente", "162.00", 1),
			mockRate("dhl", "Economy", "145.75", 4),
		},
	}, nil
}

// CreateShipment returns a newly created shipment without tracking data.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentBody) (*ShipmentResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}
	id := uuid.New().String()
	return &ShipmentResponse{
		Data: ShipmentData{
			ID:   id,
			Type: "shipment",
			Attributes: ShipmentAttributes{
				ID:          id,
				QuotationID: req.Shipment.QuotationID,
				RateID:      req.Shipment.RateID,
				Status:      "in_progress",
			},
		},
	}, nil
}

// GetShipment returns a shipment whose package already carries a tracking number.
func (m *MockAPIClient) GetShipment(ctx context.Context, id string) (*ShipmentResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetShipment != nil {
		return m.OnGetShipment(ctx, id)
	}
	trackingNumber := fmt.Sprintf("%d", 100000000000+time.Now().UnixNano()%900000000000)
	return &ShipmentResponse{
		Data: ShipmentData{
			ID:         id,
			Type:       "shipment",
			Attributes: ShipmentAttributes{ID: id, Status: "success", CarrierName: "fedex"},
		},
		Included: []IncludedPackage{
			{
				ID:   "pkg-" + uuid.New().String()[:8],
				Type: "package",
				Attributes: PackageAttributes{
					TrackingNumber:      trackingNumber,
					TrackingStatus:      "created",
					TrackingURLProvider: "https://www.fedex.com/fedextrack/?trknbr=" + trackingNumber,
					LabelURL:            fmt.Sprintf("https://labels.skydropx.com/%s.pdf", id),
				},
			},
		},
	}, nil
}

// GetTracking returns mock tracking events.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingNumber, carrierName string) (*TrackingResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingNumber, carrierName)
	}
	now := time.Now()
	return &TrackingResponse{
		Data: TrackingData{
			TrackingNumber: trackingNumber,
			CarrierName:    carrierName,
			Status:         "in_transit",
			Events: []TrackingEvent{
				{Date: now.Add(-24 * time.Hour).Format(time.RFC3339), Description: "Paquete recolectado", Location: "Monterrey, NL", Status: "picked_up"},
				{Date: now.Format(time.RFC3339), Description: "En transito", Location: "Ciudad de Mexico, CDMX", Status: "in_transit"},
			},
		},
	}, nil
}

func mockRate(provider, service, total string, days int) Rate {
	amount := decimal.RequireFromString(total)
	return Rate{
		ID:                  uuid.New().String(),
		Success:             true,
		ProviderName:        provider,
		ProviderServiceName: service,
		Total:               &amount,
		Currency:            "MXN",
		Days:                &days,
	}
}

// Ensure MockAPIClient implements APIClient.
var _ APIClient = (*MockAPIClient)(nil)
