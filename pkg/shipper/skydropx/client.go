// Package skydropx provides integration with the Skydropx carrier aggregator API.
package skydropx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// CarrierName identifies Skydropx in errors, logs and metrics.
const CarrierName = "skydropx"

// Config holds Skydropx configuration.
type Config struct {
	BaseURL              string
	ClientID             string
	ClientSecret         string
	Timeout              time.Duration
	UseMock              bool // When true, uses mock API client
	AllowUnauthenticated bool
}

// Client is the Skydropx carrier client.
// It implements shipper.Carrier and delegates API calls to the underlying
// APIClient (mock or HTTP). It never polls or retries.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Skydropx client.
// If cfg.UseMock is true, it uses a mock API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:              cfg.BaseURL,
			ClientID:             cfg.ClientID,
			ClientSecret:         cfg.ClientSecret,
			Timeout:              cfg.Timeout,
			AllowUnauthenticated: cfg.AllowUnauthenticated,
		}, logger)
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Skydropx client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return CarrierName
}

// CreateQuotation starts a quotation. The result is usually incomplete.
func (c *Client) CreateQuotation(ctx context.Context, req *shipper.QuotationRequest) (*shipper.Quotation, error) {
	ctx, span := c.tracer.Start(ctx, "skydropx.CreateQuotation")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.logger.Ctx(ctx).Info("Creating Skydropx quotation",
		zap.String("origin_postal_code", req.From.PostalCode),
		zap.String("destination_postal_code", req.To.PostalCode),
		zap.Strings("carriers", req.Carriers),
	)

	carriers := req.Carriers
	if carriers == nil {
		carriers = []string{}
	}
	apiReq := &QuotationBody{
		Quotation: QuotationDetails{
			AddressFrom:       addressToAPI(req.From),
			AddressTo:         addressToAPI(req.To),
			Parcel:            parcelToAPI(req.Parcel),
			RequestedCarriers: carriers,
		},
	}

	apiResp, err := c.apiClient.CreateQuotation(ctx, apiReq)
	if err != nil {
		return nil, c.fail(ctx, span, "create quotation", err)
	}

	q, err := quotationToShipper(apiResp)
	if err != nil {
		return nil, c.fail(ctx, span, "create quotation", err)
	}
	span.SetAttributes(attribute.String("quotation.id", q.ID))
	return q, nil
}

// GetQuotation reads a quotation and its rates.
func (c *Client) GetQuotation(ctx context.Context, id string) (*shipper.Quotation, error) {
	ctx, span := c.tracer.Start(ctx, "skydropx.GetQuotation",
		trace.WithAttributes(attribute.String("quotation.id", id)))
	defer span.End()

	apiResp, err := c.apiClient.GetQuotation(ctx, id)
	if err != nil {
		return nil, c.fail(ctx, span, "get quotation", err)
	}

	q, err := quotationToShipper(apiResp)
	if err != nil {
		return nil, c.fail(ctx, span, "get quotation", err)
	}
	span.SetAttributes(
		attribute.Bool("quotation.completed", q.Completed),
		attribute.Int("quotation.rates", len(q.Rates)),
	)
	return q, nil
}

// CreateShipment books a shipment against a rate of a quotation.
// A 422 response is reported as a stale quotation.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.Shipment, error) {
	ctx, span := c.tracer.Start(ctx, "skydropx.CreateShipment",
		trace.WithAttributes(
			attribute.String("quotation.id", req.QuotationID),
			attribute.String("rate.id", req.RateID),
		))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.logger.Ctx(ctx).Info("Creating Skydropx shipment",
		zap.String("quotation_id", req.QuotationID),
		zap.String("rate_id", req.RateID),
	)

	apiReq := &ShipmentBody{
		Shipment: ShipmentDetails{
			QuotationID:     req.QuotationID,
			RateID:          req.RateID,
			AddressFrom:     addressToAPI(req.From),
			AddressTo:       addressToAPI(req.To),
			ConsignmentNote: req.Packaging.ConsignmentNote,
			PackageType:     req.Packaging.PackageType,
		},
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, apiReq)
	if err != nil {
		return nil, c.fail(ctx, span, "create shipment", err)
	}

	s, err := shipmentToShipper(apiResp)
	if err != nil {
		return nil, c.fail(ctx, span, "create shipment", err)
	}
	if s.QuotationID == "" {
		s.QuotationID = req.QuotationID
	}
	if s.RateID == "" {
		s.RateID = req.RateID
	}
	span.SetAttributes(attribute.String("shipment.id", s.ID))
	return s, nil
}

// GetShipment reads a shipment and its tracking data.
func (c *Client) GetShipment(ctx context.Context, id string) (*shipper.Shipment, error) {
	ctx, span := c.tracer.Start(ctx, "skydropx.GetShipment",
		trace.WithAttributes(attribute.String("shipment.id", id)))
	defer span.End()

	apiResp, err := c.apiClient.GetShipment(ctx, id)
	if err != nil {
		return nil, c.fail(ctx, span, "get shipment", err)
	}

	s, err := shipmentToShipper(apiResp)
	if err != nil {
		return nil, c.fail(ctx, span, "get shipment", err)
	}
	span.SetAttributes(attribute.Bool("shipment.trackable", s.Trackable()))
	return s, nil
}

// Track looks up tracking events.
func (c *Client) Track(ctx context.Context, trackingNumber, carrier string) (*shipper.TrackingInfo, error) {
	ctx, span := c.tracer.Start(ctx, "skydropx.Track",
		trace.WithAttributes(
			attribute.String("tracking.number", trackingNumber),
			attribute.String("tracking.carrier", carrier),
		))
	defer span.End()

	c.logger.Ctx(ctx).Info("Getting Skydropx tracking",
		zap.String("tracking_number", trackingNumber),
		zap.String("carrier_name", carrier),
	)

	apiResp, err := c.apiClient.GetTracking(ctx, trackingNumber, carrier)
	if err != nil {
		return nil, c.fail(ctx, span, "get tracking", err)
	}
	return trackingToShipper(apiResp, trackingNumber, carrier), nil
}

// fail translates an API error, records it on the span and logs it.
func (c *Client) fail(ctx context.Context, span trace.Span, op string, err error) error {
	err = translateError(op, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	c.logger.Ctx(ctx).Error("Skydropx API error", zap.String("operation", op), zap.Error(err))
	return err
}

// translateError maps wire-level errors into the shipper error taxonomy.
// Transport, authentication and cancellation errors pass through unchanged.
func translateError(op string, err error) error {
	if errors.Is(err, shipper.ErrAuthenticationFailed) || errors.Is(err, shipper.ErrCancelled) {
		return err
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	carrierErr := shipper.NewCarrierError(CarrierName, apiErr.Code, apiErr.Message).
		WithStatusCode(apiErr.StatusCode).
		WithBody(apiErr.Body)

	switch {
	case apiErr.Code == shipper.CodeMalformedResponse:
		carrierErr.WithCause(shipper.ErrMalformedResponse)
	case op == "create shipment" && apiErr.StatusCode == http.StatusUnprocessableEntity:
		carrierErr.Code = shipper.CodeQuotationExpired
		carrierErr.WithCause(shipper.ErrQuoteExpired)
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		carrierErr.Code = shipper.CodeAuthentication
		carrierErr.WithCause(shipper.ErrAuthenticationFailed)
	case apiErr.StatusCode == http.StatusServiceUnavailable:
		carrierErr.WithCause(shipper.ErrServiceUnavailable)
	}
	return carrierErr
}

func malformed(message string) error {
	return shipper.NewCarrierError(CarrierName, shipper.CodeMalformedResponse, message).
		WithCause(shipper.ErrMalformedResponse)
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func addressToAPI(addr shipper.Address) Address {
	return Address{
		CountryCode: addr.CountryCode,
		PostalCode:  addr.PostalCode,
		AreaLevel1:  addr.AreaLevel1,
		AreaLevel2:  addr.AreaLevel2,
		AreaLevel3:  addr.AreaLevel3,
		Street1:     addr.Street1,
		Reference:   addr.Reference,
		Name:        addr.Name,
		Company:     addr.Company,
		Phone:       addr.Phone,
		Email:       addr.Email,
	}
}

func parcelToAPI(p shipper.Parcel) Parcel {
	return Parcel{
		Length: p.Length,
		Width:  p.Width,
		Height: p.Height,
		Weight: p.Weight,
	}
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

func quotationToShipper(resp *QuotationResponse) (*shipper.Quotation, error) {
	if resp == nil || resp.ID == "" {
		return nil, malformed("quotation without id")
	}

	rates := make([]shipper.Rate, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		rate := shipper.Rate{
			ID:          r.ID,
			QuotationID: resp.ID,
			Provider:    r.ProviderName,
			ServiceName: r.ProviderServiceName,
			Success:     r.Success,
			Currency:    r.Currency,
		}
		if r.Success {
			if r.ID == "" || r.ProviderName == "" || r.Total == nil {
				return nil, malformed("successful rate missing id, provider_name or total")
			}
		}
		if r.Total != nil {
			rate.Total = *r.Total
		}
		if r.Days != nil {
			rate.Days = *r.Days
		}
		rates = append(rates, rate)
	}

	return &shipper.Quotation{
		ID:        resp.ID,
		Completed: resp.IsCompleted,
		Rates:     rates,
	}, nil
}

func shipmentToShipper(resp *ShipmentResponse) (*shipper.Shipment, error) {
	if resp == nil {
		return nil, malformed("empty shipment response")
	}
	id := resp.Data.ID
	if id == "" {
		id = resp.Data.Attributes.ID
	}
	if id == "" {
		return nil, malformed("shipment without id")
	}

	s := &shipper.Shipment{
		ID:          id,
		QuotationID: resp.Data.Attributes.QuotationID,
		RateID:      resp.Data.Attributes.RateID,
		Carrier:     resp.Data.Attributes.CarrierName,
		Status:      mapStatus(resp.Data.Attributes.Status),
	}
	for _, pkg := range resp.Included {
		if pkg.Attributes.TrackingNumber == "" {
			continue
		}
		s.TrackingNumber = pkg.Attributes.TrackingNumber
		s.TrackingURL = pkg.Attributes.TrackingURLProvider
		s.LabelURL = pkg.Attributes.LabelURL
		break
	}
	if s.Trackable() && s.Status == shipper.StatusPending {
		s.Status = shipper.StatusTrackable
	}
	return s, nil
}

func trackingToShipper(resp *TrackingResponse, trackingNumber, carrier string) *shipper.TrackingInfo {
	info := &shipper.TrackingInfo{
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
		Status:         resp.Data.Status,
		Events:         make([]shipper.TrackingEvent, 0, len(resp.Data.Events)),
	}
	if resp.Data.TrackingNumber != "" {
		info.TrackingNumber = resp.Data.TrackingNumber
	}
	if resp.Data.CarrierName != "" {
		info.Carrier = resp.Data.CarrierName
	}
	for _, e := range resp.Data.Events {
		ts, _ := time.Parse(time.RFC3339, e.Date)
		info.Events = append(info.Events, shipper.TrackingEvent{
			Timestamp:   ts,
			Description: e.Description,
			Location:    e.Location,
			Status:      e.Status,
		})
	}
	return info
}

// ============================================================================
// Mapping helpers
// ============================================================================

func mapStatus(status string) shipper.ShipmentStatus {
	switch status {
	case "in_transit", "picked_up", "last_mile":
		return shipper.StatusInTransit
	case "delivered":
		return shipper.StatusDelivered
	case "cancelled", "canceled":
		return shipper.StatusCancelled
	case "exception", "error", "failed":
		return shipper.StatusException
	default:
		return shipper.StatusPending
	}
}

// Ensure Client implements shipper.Carrier.
var _ shipper.Carrier = (*Client)(nil)
