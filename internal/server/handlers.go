package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
	"github.com/tournevent/skydrop-bridge/internal/checkout"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"go.uber.org/zap"
)

type shippingMethodsRequest struct {
	CheckoutID  string          `json:"checkout_id"`
	Currency    string          `json:"currency"`
	Destination shipper.Address `json:"destination"`
}

type shippingMethodsResponse struct {
	ShippingMethods []checkout.ShippingMethod `json:"shipping_methods"`
}

type orderConfirmedRequest struct {
	OrderID            string          `json:"order_id"`
	CheckoutID         string          `json:"checkout_id"`
	Destination        shipper.Address `json:"destination"`
	DeliveryMethodID   string          `json:"delivery_method_id"`
	DeliveryMethodName string          `json:"delivery_method_name"`
	ShippingPrice      decimal.Decimal `json:"shipping_price"`
	HasFulfillments    bool            `json:"has_fulfillments"`
}

type orderConfirmedResponse struct {
	Status         string `json:"status"`
	ShipmentID     string `json:"shipment_id,omitempty"`
	QuotationID    string `json:"quotation_id,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	Error          string `json:"error,omitempty"`
}

type trackingEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status,omitempty"`
}

type trackingResponse struct {
	TrackingNumber string          `json:"tracking_number"`
	Carrier        string          `json:"carrier"`
	Status         string          `json:"status"`
	Events         []trackingEvent `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, "ok")
}

func (s *Server) handleShippingMethods(w http.ResponseWriter, r *http.Request) {
	var body shippingMethodsRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		s.badRequest(w, r, "shipping_methods", err)
		return
	}

	ctx, cancel := s.webhookContext(r)
	defer cancel()

	methods, err := s.checkout.ListShippingMethods(ctx, &checkout.ShippingMethodsRequest{
		CheckoutID:  body.CheckoutID,
		Destination: body.Destination,
		Currency:    body.Currency,
	})
	if err != nil {
		s.fail(w, r, "shipping_methods", err)
		return
	}

	s.metrics.RecordWebhook("shipping_methods", "ok")
	render.JSON(w, r, shippingMethodsResponse{ShippingMethods: methods})
}

func (s *Server) handleOrderConfirmed(w http.ResponseWriter, r *http.Request) {
	var body orderConfirmedRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		s.badRequest(w, r, "order_confirmed", err)
		return
	}
	if body.OrderID == "" {
		s.badRequest(w, r, "order_confirmed", errors.New("order_id is required"))
		return
	}

	ctx, cancel := s.webhookContext(r)
	defer cancel()

	shipment, err := s.checkout.ConfirmOrder(ctx, &checkout.OrderConfirmation{
		OrderID:            body.OrderID,
		CheckoutID:         body.CheckoutID,
		Destination:        body.Destination,
		DeliveryMethodID:   body.DeliveryMethodID,
		DeliveryMethodName: body.DeliveryMethodName,
		ShippingPrice:      body.ShippingPrice,
		HasFulfillments:    body.HasFulfillments,
	})
	switch {
	case errors.Is(err, checkout.ErrAlreadyFulfilled):
		s.metrics.RecordWebhook("order_confirmed", "skipped")
		render.JSON(w, r, orderConfirmedResponse{Status: "skipped"})
		return
	case err != nil && shipment != nil:
		// Booked but not published; the shipment must not be booked again.
		s.logger.Ctx(ctx).Error("Fulfillment not published",
			zap.String("order_id", body.OrderID),
			zap.String("shipment_id", shipment.ID),
			zap.Error(err),
		)
		s.metrics.RecordWebhook("order_confirmed", "unpublished")
		render.Status(r, http.StatusAccepted)
		resp := shipmentResponse("booked", shipment)
		resp.Error = err.Error()
		render.JSON(w, r, resp)
		return
	case err != nil:
		s.fail(w, r, "order_confirmed", err)
		return
	}

	s.metrics.RecordWebhook("order_confirmed", "ok")
	render.JSON(w, r, shipmentResponse("fulfilled", shipment))
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	carrierName := chi.URLParam(r, "carrier")
	number := chi.URLParam(r, "number")

	info, err := s.checkout.Track(r.Context(), number, carrierName)
	if err != nil {
		s.fail(w, r, "tracking", err)
		return
	}

	resp := trackingResponse{
		TrackingNumber: info.TrackingNumber,
		Carrier:        info.Carrier,
		Status:         info.Status,
		Events:         make([]trackingEvent, 0, len(info.Events)),
	}
	for _, e := range info.Events {
		resp.Events = append(resp.Events, trackingEvent{
			Timestamp:   e.Timestamp,
			Description: e.Description,
			Location:    e.Location,
			Status:      e.Status,
		})
	}
	s.metrics.RecordWebhook("tracking", "ok")
	render.JSON(w, r, resp)
}

func (s *Server) webhookContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.WebhookTimeout)
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, event string, err error) {
	s.metrics.RecordWebhook(event, "bad_request")
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	code, status := statusFor(err)
	s.logger.Ctx(r.Context()).Error("Request failed",
		zap.String("event", event),
		zap.Int("status", status),
		zap.Error(err),
	)
	s.metrics.RecordWebhook(event, "error")
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error(), Code: code})
}

func statusFor(err error) (string, int) {
	var carrierErr *shipper.CarrierError
	var timeoutErr *shipper.PollingTimeoutError
	switch {
	case errors.Is(err, shipper.ErrInvalidAddress), errors.Is(err, shipper.ErrInvalidPackage), errors.Is(err, shipper.ErrInvalidShipment):
		return "INVALID_REQUEST", http.StatusBadRequest
	case errors.Is(err, shipper.ErrRateNotFound):
		return "RATE_NOT_FOUND", http.StatusUnprocessableEntity
	case errors.As(err, &timeoutErr), errors.Is(err, shipper.ErrCancelled):
		return "TIMEOUT", http.StatusGatewayTimeout
	case errors.Is(err, shipper.ErrAuthenticationFailed):
		return "AUTHENTICATION_FAILED", http.StatusBadGateway
	case errors.As(err, &carrierErr):
		if carrierErr.StatusCode == http.StatusNotFound {
			return carrierErr.Code, http.StatusNotFound
		}
		return carrierErr.Code, http.StatusBadGateway
	case shipper.IsRetryable(err):
		return "UNAVAILABLE", http.StatusBadGateway
	}
	return "INTERNAL", http.StatusInternalServerError
}

func shipmentResponse(status string, s *shipper.Shipment) orderConfirmedResponse {
	return orderConfirmedResponse{
		Status:         status,
		ShipmentID:     s.ID,
		QuotationID:    s.QuotationID,
		Carrier:        s.Carrier,
		TrackingNumber: s.TrackingNumber,
		TrackingURL:    s.TrackingURL,
	}
}
