package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/skydrop-bridge/internal/checkout"
	"github.com/tournevent/skydrop-bridge/internal/fulfillment"
	"github.com/tournevent/skydrop-bridge/internal/server"
	"github.com/tournevent/skydrop-bridge/internal/telemetry"
	"github.com/tournevent/skydrop-bridge/pkg/orchestrator"
	"github.com/tournevent/skydrop-bridge/pkg/poll"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/tournevent/skydrop-bridge/pkg/shipper/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type testEnv struct {
	carrier *mock.Client
	handler http.Handler
	reg     *prometheus.Registry
}

func newTestEnv(t *testing.T, timeout time.Duration) *testEnv {
	t.Helper()

	logger := otelzap.New(zap.NewNop())
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	carrier := mock.New("mock")
	pollOpts := poll.Options{Interval: time.Millisecond, MaxAttempts: 20}
	quotes := orchestrator.NewQuotationOrchestrator(carrier, pollOpts, logger)
	shipments := orchestrator.NewShipmentOrchestrator(carrier, quotes, pollOpts, logger)

	svc := checkout.NewService(checkout.Config{
		Origin:    shipper.Address{CountryCode: "mx", PostalCode: "64000", AreaLevel1: "Nuevo Leon"},
		Parcel:    shipper.Parcel{Length: 10, Width: 10, Height: 10, Weight: 1},
		Carriers:  []string{"fedex", "estafeta", "dhl"},
		Packaging: shipper.Packaging{ConsignmentNote: "53102400", PackageType: "1KG"},
		Currency:  "MXN",
	}, carrier, quotes, shipments, checkout.NewMemoryStore(time.Hour), fulfillment.NewLogSink(logger), logger)

	srv := server.New(server.Config{Port: 0, WebhookTimeout: timeout}, svc, reg, metrics, logger)
	return &testEnv{carrier: carrier, handler: srv.Handler(), reg: reg}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

const destination = `{"country_code":"mx","postal_code":"06600","area_level1":"Ciudad de Mexico","area_level2":"Cuauhtemoc","area_level3":"Juarez","street1":"Londres 10","name":"Ana"}`

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, time.Second)

	rec := env.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_ShippingMethods(t *testing.T) {
	env := newTestEnv(t, time.Second)

	rec := env.do(http.MethodPost, "/webhooks/shipping-methods",
		`{"checkout_id":"c-1","currency":"MXN","destination":`+destination+`}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		ShippingMethods []checkout.ShippingMethod `json:"shipping_methods"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.ShippingMethods, 4)
}

func TestServer_ShippingMethods_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, time.Second)

	rec := env.do(http.MethodPost, "/webhooks/shipping-methods", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ShippingMethods_InvalidAddress(t *testing.T) {
	env := newTestEnv(t, time.Second)

	rec := env.do(http.MethodPost, "/webhooks/shipping-methods", `{"checkout_id":"c-1","destination":{"country_code":"mx"}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, env.carrier.CreateQuotationCalls())
}

func TestServer_ShippingMethods_Timeout(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)
	env.carrier.CompleteAfter = -1

	rec := env.do(http.MethodPost, "/webhooks/shipping-methods", `{"checkout_id":"c-1","destination":`+destination+`}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestServer_OrderConfirmed(t *testing.T) {
	env := newTestEnv(t, time.Second)
	body := `{"order_id":"o-1","destination":` + destination + `,"delivery_method_name":"Economy.dhl","shipping_price":"145.75"}`

	rec := env.do(http.MethodPost, "/webhooks/order-confirmed", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "fulfilled", resp["status"])
	assert.Equal(t, "dhl", resp["carrier"])
	assert.NotEmpty(t, resp["tracking_number"])

	rec = env.do(http.MethodPost, "/webhooks/order-confirmed", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"skipped"`)
	assert.Equal(t, 1, env.carrier.CreateShipmentCalls())
}

func TestServer_OrderConfirmed_MissingOrderID(t *testing.T) {
	env := newTestEnv(t, time.Second)

	rec := env.do(http.MethodPost, "/webhooks/order-confirmed", `{"destination":`+destination+`}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_OrderConfirmed_UnknownCarrier(t *testing.T) {
	env := newTestEnv(t, time.Second)

	rec := env.do(http.MethodPost, "/webhooks/order-confirmed", `{"order_id":"o-1","destination":`+destination+`}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_OrderConfirmed_CarrierDown(t *testing.T) {
	env := newTestEnv(t, time.Second)
	env.carrier.SimulateErrors = true

	rec := env.do(http.MethodPost, "/webhooks/order-confirmed",
		`{"order_id":"o-1","destination":`+destination+`,"delivery_method_name":"Economy.dhl","shipping_price":145.75}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type stubCheckout struct {
	err error
}

func (s stubCheckout) ListShippingMethods(context.Context, *checkout.ShippingMethodsRequest) ([]checkout.ShippingMethod, error) {
	return nil, s.err
}

func (s stubCheckout) ConfirmOrder(context.Context, *checkout.OrderConfirmation) (*shipper.Shipment, error) {
	return nil, s.err
}

func (s stubCheckout) Track(context.Context, string, string) (*shipper.TrackingInfo, error) {
	return nil, s.err
}

func TestServer_OrderConfirmed_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"incomplete shipment request", fmt.Errorf("%w: quotation id and rate id are required", shipper.ErrInvalidShipment), http.StatusBadRequest},
		{"no matching rate", shipper.ErrRateNotFound, http.StatusUnprocessableEntity},
		{"booked but not tracked", &shipper.ShipmentPendingError{ShipmentID: "s-1", Err: &shipper.PollingTimeoutError{Operation: "tracking"}}, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := server.New(server.Config{}, stubCheckout{err: tt.err}, prometheus.NewRegistry(), nil, otelzap.New(zap.NewNop()))
			req := httptest.NewRequest(http.MethodPost, "/webhooks/order-confirmed", strings.NewReader(`{"order_id":"o-1"}`))
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestServer_Tracking(t *testing.T) {
	env := newTestEnv(t, time.Second)
	rec := env.do(http.MethodPost, "/webhooks/order-confirmed",
		`{"order_id":"o-1","destination":`+destination+`,"delivery_method_name":"Economy.dhl","shipping_price":"145.75"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var booked map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&booked))

	rec = env.do(http.MethodGet, "/tracking/dhl/"+booked["tracking_number"], "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		TrackingNumber string `json:"tracking_number"`
		Events         []struct {
			Description string `json:"description"`
		} `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, booked["tracking_number"], resp.TrackingNumber)
	assert.NotEmpty(t, resp.Events)
}

func TestServer_Tracking_NotFound(t *testing.T) {
	env := newTestEnv(t, time.Second)

	rec := env.do(http.MethodGet, "/tracking/dhl/UNKNOWN", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, time.Second)
	env.do(http.MethodPost, "/webhooks/shipping-methods", `{not json`)

	rec := env.do(http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "skydrop_bridge_webhooks_total")
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	logger := otelzap.New(zap.NewNop())
	srv := server.New(server.Config{Port: 0}, nil, prometheus.NewRegistry(), nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.False(t, errors.Is(err, http.ErrServerClosed))
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
