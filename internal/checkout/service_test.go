package checkout_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/skydrop-bridge/internal/checkout"
	"github.com/tournevent/skydrop-bridge/internal/fulfillment"
	"github.com/tournevent/skydrop-bridge/pkg/orchestrator"
	"github.com/tournevent/skydrop-bridge/pkg/poll"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/tournevent/skydrop-bridge/pkg/shipper/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type recordingSink struct {
	events []fulfillment.Event
	err    error
}

func (s *recordingSink) Publish(ctx context.Context, e fulfillment.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error { return nil }

var destination = shipper.Address{
	CountryCode: "mx",
	PostalCode:  "06600",
	AreaLevel1:  "Ciudad de Mexico",
	AreaLevel2:  "Cuauhtemoc",
	AreaLevel3:  "Juarez",
	Street1:     "Calle Londres 10",
	Name:        "Ana Buyer",
}

type fixture struct {
	carrier *mock.Client
	store   checkout.Store
	sink    *recordingSink
	service *checkout.Service
}

func newFixture() *fixture {
	return newFixtureWith(checkout.NewMemoryStore(time.Hour), poll.Options{Interval: time.Millisecond, MaxAttempts: 10})
}

func newFixtureWith(store checkout.Store, pollOpts poll.Options) *fixture {
	logger := otelzap.New(zap.NewNop())
	carrier := mock.New("mock")
	quotes := orchestrator.NewQuotationOrchestrator(carrier, pollOpts, logger)
	shipments := orchestrator.NewShipmentOrchestrator(carrier, quotes, pollOpts, logger)
	sink := &recordingSink{}

	service := checkout.NewService(checkout.Config{
		Origin:    shipper.Address{CountryCode: "mx", PostalCode: "64000", AreaLevel1: "Nuevo Leon", AreaLevel2: "Monterrey"},
		Parcel:    shipper.Parcel{Length: 10, Width: 10, Height: 10, Weight: 1},
		Carriers:  []string{"fedex", "estafeta", "dhl"},
		Packaging: shipper.Packaging{ConsignmentNote: "53102400", PackageType: "1KG"},
		Currency:  "MXN",
	}, carrier, quotes, shipments, store, sink, logger)

	return &fixture{carrier: carrier, store: store, sink: sink, service: service}
}

func deliveryMethodID(rateID string) string {
	return base64.StdEncoding.EncodeToString([]byte("app:skydrop-bridge:" + rateID))
}

func methodByProvider(t *testing.T, methods []checkout.ShippingMethod, provider string) checkout.ShippingMethod {
	t.Helper()
	for _, m := range methods {
		if m.Provider == provider {
			return m
		}
	}
	t.Fatalf("no %s method", provider)
	return checkout.ShippingMethod{}
}

func TestListShippingMethods(t *testing.T) {
	f := newFixture()

	methods, err := f.service.ListShippingMethods(context.Background(), &checkout.ShippingMethodsRequest{
		CheckoutID:  "checkout-1",
		Destination: destination,
	})

	require.NoError(t, err)
	require.Len(t, methods, 4)
	m := methodByProvider(t, methods, "dhl")
	assert.Equal(t, "Economy.dhl", m.Name)
	assert.Equal(t, 145.75, m.Amount)
	assert.Equal(t, "MXN", m.Currency)
	assert.Equal(t, 4, m.MaximumDeliveryDays)

	sel, err := f.store.LoadSelection(context.Background(), "checkout-1")
	require.NoError(t, err)
	assert.Equal(t, destination.Fingerprint(), sel.Fingerprint)
}

func TestListShippingMethods_ReusesQuotationForSameAddress(t *testing.T) {
	f := newFixture()
	req := &checkout.ShippingMethodsRequest{CheckoutID: "checkout-1", Destination: destination}

	first, err := f.service.ListShippingMethods(context.Background(), req)
	require.NoError(t, err)

	req.Destination.Street1 = "Otra calle 5"
	second, err := f.service.ListShippingMethods(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.carrier.CreateQuotationCalls())
}

func TestListShippingMethods_RequotesWhenAddressChanges(t *testing.T) {
	f := newFixture()
	req := &checkout.ShippingMethodsRequest{CheckoutID: "checkout-1", Destination: destination}

	_, err := f.service.ListShippingMethods(context.Background(), req)
	require.NoError(t, err)

	req.Destination.PostalCode = "44100"
	_, err = f.service.ListShippingMethods(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, f.carrier.CreateQuotationCalls())
	sel, err := f.store.LoadSelection(context.Background(), "checkout-1")
	require.NoError(t, err)
	assert.Equal(t, req.Destination.Fingerprint(), sel.Fingerprint)
}

func TestConfirmOrder_BooksChosenRate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	methods, err := f.service.ListShippingMethods(ctx, &checkout.ShippingMethodsRequest{CheckoutID: "checkout-1", Destination: destination})
	require.NoError(t, err)
	chosen := methodByProvider(t, methods, "estafeta")

	s, err := f.service.ConfirmOrder(ctx, &checkout.OrderConfirmation{
		OrderID:            "order-1",
		CheckoutID:         "checkout-1",
		Destination:        destination,
		DeliveryMethodID:   deliveryMethodID(chosen.ID),
		DeliveryMethodName: chosen.Name,
		ShippingPrice:      decimal.NewFromFloat(chosen.Amount),
	})

	require.NoError(t, err)
	assert.Equal(t, chosen.ID, s.RateID)
	assert.NotEmpty(t, s.TrackingNumber)
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, "order-1", f.sink.events[0].OrderID)
	assert.Equal(t, s.TrackingNumber, f.sink.events[0].TrackingNumber)
	assert.Equal(t, 1, f.carrier.CreateShipmentCalls())
}

func TestConfirmOrder_RecoversFromStaleQuotation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	methods, err := f.service.ListShippingMethods(ctx, &checkout.ShippingMethodsRequest{CheckoutID: "checkout-1", Destination: destination})
	require.NoError(t, err)
	chosen := methodByProvider(t, methods, "dhl")

	sel, err := f.store.LoadSelection(ctx, "checkout-1")
	require.NoError(t, err)
	f.carrier.Expire(sel.QuotationID)

	s, err := f.service.ConfirmOrder(ctx, &checkout.OrderConfirmation{
		OrderID:            "order-1",
		CheckoutID:         "checkout-1",
		Destination:        destination,
		DeliveryMethodID:   deliveryMethodID(chosen.ID),
		DeliveryMethodName: chosen.Name,
		ShippingPrice:      decimal.NewFromFloat(chosen.Amount),
	})

	require.NoError(t, err)
	assert.Equal(t, "dhl", s.Carrier)
	assert.NotEqual(t, sel.QuotationID, s.QuotationID)
	assert.Equal(t, 2, f.carrier.CreateShipmentCalls())
}

func TestConfirmOrder_WithoutStoredSelection(t *testing.T) {
	f := newFixture()

	s, err := f.service.ConfirmOrder(context.Background(), &checkout.OrderConfirmation{
		OrderID:            "order-1",
		CheckoutID:         "unknown-checkout",
		Destination:        destination,
		DeliveryMethodID:   deliveryMethodID("gone"),
		DeliveryMethodName: "Express Saver.fedex",
		ShippingPrice:      decimal.RequireFromString("190"),
	})

	require.NoError(t, err)
	assert.Equal(t, "fedex", s.Carrier)
	assert.Equal(t, 1, f.carrier.CreateShipmentCalls())
}

func TestConfirmOrder_Idempotent(t *testing.T) {
	f := newFixture()
	req := &checkout.OrderConfirmation{
		OrderID:            "order-1",
		Destination:        destination,
		DeliveryMethodID:   deliveryMethodID("x"),
		DeliveryMethodName: "Economy.dhl",
		ShippingPrice:      decimal.RequireFromString("145.75"),
	}

	_, err := f.service.ConfirmOrder(context.Background(), req)
	require.NoError(t, err)
	_, err = f.service.ConfirmOrder(context.Background(), req)

	assert.True(t, errors.Is(err, checkout.ErrAlreadyFulfilled))
	assert.Equal(t, 1, f.carrier.CreateShipmentCalls())
}

func TestConfirmOrder_SkipsFulfilledOrders(t *testing.T) {
	f := newFixture()

	_, err := f.service.ConfirmOrder(context.Background(), &checkout.OrderConfirmation{
		OrderID:         "order-1",
		HasFulfillments: true,
	})

	assert.True(t, errors.Is(err, checkout.ErrAlreadyFulfilled))
	assert.Equal(t, 0, f.carrier.CreateShipmentCalls())
}

func TestConfirmOrder_FailureReleasesOrder(t *testing.T) {
	f := newFixture()
	f.carrier.SimulateErrors = true
	req := &checkout.OrderConfirmation{
		OrderID:            "order-1",
		Destination:        destination,
		DeliveryMethodName: "Economy.dhl",
		ShippingPrice:      decimal.RequireFromString("145.75"),
	}

	_, err := f.service.ConfirmOrder(context.Background(), req)
	require.Error(t, err)

	ok, err := f.store.AcquireOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func dhlOrder() *checkout.OrderConfirmation {
	return &checkout.OrderConfirmation{
		OrderID:            "order-1",
		Destination:        destination,
		DeliveryMethodName: "Economy.dhl",
		ShippingPrice:      decimal.RequireFromString("145.75"),
	}
}

func TestConfirmOrder_DeadlineBeforeBookingReleasesOrder(t *testing.T) {
	store, _ := newRedisStore(t)
	f := newFixtureWith(store, poll.Options{Interval: 5 * time.Millisecond, MaxAttempts: 1000})
	f.carrier.CompleteAfter = -1

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.service.ConfirmOrder(ctx, dhlOrder())

	require.True(t, errors.Is(err, shipper.ErrCancelled))
	assert.Equal(t, 0, f.carrier.CreateShipmentCalls())
	ok, err := store.AcquireOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfirmOrder_DeadlineAfterBookingResumesOnRedelivery(t *testing.T) {
	store, _ := newRedisStore(t)
	f := newFixtureWith(store, poll.Options{Interval: 5 * time.Millisecond, MaxAttempts: 1000})
	f.carrier.TrackingAfter = -1

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := f.service.ConfirmOrder(ctx, dhlOrder())

	var pending *shipper.ShipmentPendingError
	require.True(t, errors.As(err, &pending))
	id, err := store.LoadPendingShipment(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, pending.ShipmentID, id)

	f.carrier.TrackingAfter = 1
	s, err := f.service.ConfirmOrder(context.Background(), dhlOrder())

	require.NoError(t, err)
	assert.Equal(t, pending.ShipmentID, s.ID)
	assert.Equal(t, 1, f.carrier.CreateShipmentCalls())
	require.Len(t, f.sink.events, 1)
	_, err = store.LoadPendingShipment(context.Background(), "order-1")
	assert.True(t, errors.Is(err, checkout.ErrNoPendingShipment))

	_, err = f.service.ConfirmOrder(context.Background(), dhlOrder())
	assert.True(t, errors.Is(err, checkout.ErrAlreadyFulfilled))
}

func TestConfirmOrder_TrackingTimeoutNeverBooksTwice(t *testing.T) {
	f := newFixture()
	f.carrier.TrackingAfter = -1

	_, err1 := f.service.ConfirmOrder(context.Background(), dhlOrder())
	_, err2 := f.service.ConfirmOrder(context.Background(), dhlOrder())

	assert.True(t, errors.Is(err1, shipper.ErrPollingTimeout))
	assert.True(t, errors.Is(err2, shipper.ErrPollingTimeout))
	assert.Equal(t, 1, f.carrier.CreateShipmentCalls())
	assert.Empty(t, f.sink.events)

	f.carrier.TrackingAfter = 1
	s, err := f.service.ConfirmOrder(context.Background(), dhlOrder())

	require.NoError(t, err)
	assert.NotEmpty(t, s.TrackingNumber)
	assert.Equal(t, 1, f.carrier.CreateShipmentCalls())
	require.Len(t, f.sink.events, 1)
}

func TestConfirmOrder_RepublishesAfterPublishFailure(t *testing.T) {
	f := newFixture()
	f.sink.err = errors.New("broker down")

	first, err := f.service.ConfirmOrder(context.Background(), dhlOrder())
	require.Error(t, err)

	f.sink.err = nil
	again, err := f.service.ConfirmOrder(context.Background(), dhlOrder())

	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.carrier.CreateShipmentCalls())
	require.Len(t, f.sink.events, 1)
}

func TestConfirmOrder_UnknownCarrier(t *testing.T) {
	f := newFixture()

	_, err := f.service.ConfirmOrder(context.Background(), &checkout.OrderConfirmation{
		OrderID:          "order-1",
		Destination:      destination,
		DeliveryMethodID: deliveryMethodID("x"),
	})

	assert.True(t, errors.Is(err, shipper.ErrRateNotFound))
}

func TestConfirmOrder_PublishFailureKeepsShipment(t *testing.T) {
	f := newFixture()
	f.sink.err = errors.New("broker down")

	s, err := f.service.ConfirmOrder(context.Background(), &checkout.OrderConfirmation{
		OrderID:            "order-1",
		Destination:        destination,
		DeliveryMethodName: "Economy.dhl",
		ShippingPrice:      decimal.RequireFromString("145.75"),
	})

	require.Error(t, err)
	require.NotNil(t, s)
	assert.NotEmpty(t, s.TrackingNumber)

	ok, err := f.store.AcquireOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrack(t *testing.T) {
	f := newFixture()
	s, err := f.service.ConfirmOrder(context.Background(), &checkout.OrderConfirmation{
		OrderID:            "order-1",
		Destination:        destination,
		DeliveryMethodName: "Economy.dhl",
		ShippingPrice:      decimal.RequireFromString("145.75"),
	})
	require.NoError(t, err)

	info, err := f.service.Track(context.Background(), s.TrackingNumber, "dhl")

	require.NoError(t, err)
	assert.Equal(t, s.TrackingNumber, info.TrackingNumber)
	assert.NotEmpty(t, info.Events)
}
