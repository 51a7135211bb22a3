// Package checkout turns storefront checkout and order events into quotation
// and shipment workflows.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tournevent/skydrop-bridge/internal/fulfillment"
	"github.com/tournevent/skydrop-bridge/pkg/orchestrator"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ErrAlreadyFulfilled is returned for orders that are fulfilled or being fulfilled.
var ErrAlreadyFulfilled = errors.New("order already fulfilled")

// storeCleanupTimeout bounds store writes made after the request context ended.
const storeCleanupTimeout = 5 * time.Second

// Config holds the shipment defaults applied to every checkout.
type Config struct {
	Origin    shipper.Address
	Parcel    shipper.Parcel
	Carriers  []string
	Packaging shipper.Packaging
	Currency  string
}

// ShippingMethod is one priced option offered to the buyer.
type ShippingMethod struct {
	ID                  string  `json:"id"`
	Provider            string  `json:"provider"`
	Name                string  `json:"name"`
	Amount              float64 `json:"amount"`
	Currency            string  `json:"currency"`
	MaximumDeliveryDays int     `json:"maximum_delivery_days"`
}

// ShippingMethodsRequest asks for the methods available to a checkout.
type ShippingMethodsRequest struct {
	CheckoutID  string
	Destination shipper.Address
	Currency    string
}

// OrderConfirmation is a confirmed order waiting for a shipment.
type OrderConfirmation struct {
	OrderID     string
	CheckoutID  string
	Destination shipper.Address

	// DeliveryMethodID is the storefront id of the chosen method; it encodes the rate id.
	DeliveryMethodID   string
	DeliveryMethodName string
	ShippingPrice      decimal.Decimal

	HasFulfillments bool
}

// Service implements the checkout and order-confirmation flows.
type Service struct {
	cfg       Config
	carrier   shipper.Carrier
	quotes    *orchestrator.QuotationOrchestrator
	shipments *orchestrator.ShipmentOrchestrator
	store     Store
	sink      fulfillment.Sink
	logger    *otelzap.Logger
}

// NewService creates a checkout service.
func NewService(
	cfg Config,
	carrier shipper.Carrier,
	quotes *orchestrator.QuotationOrchestrator,
	shipments *orchestrator.ShipmentOrchestrator,
	store Store,
	sink fulfillment.Sink,
	logger *otelzap.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		carrier:   carrier,
		quotes:    quotes,
		shipments: shipments,
		store:     store,
		sink:      sink,
		logger:    logger,
	}
}

// ListShippingMethods returns the successful rates for a checkout. A stored
// quotation is reused while the destination is unchanged and it can still be read.
func (s *Service) ListShippingMethods(ctx context.Context, req *ShippingMethodsRequest) ([]ShippingMethod, error) {
	log := s.logger.Ctx(ctx)
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	q, err := s.cachedQuotation(ctx, req.CheckoutID, req.Destination)
	if err != nil {
		log.Info("Quoting checkout",
			zap.String("checkout_id", req.CheckoutID),
			zap.String("reason", err.Error()),
		)
		q, err = s.quotes.CreateAndAwait(ctx, s.quotationRequest(req.Destination))
		if err != nil {
			return nil, err
		}
		sel := shipper.SelectionContext{QuotationID: q.ID, Fingerprint: req.Destination.Fingerprint()}
		if err := s.store.SaveSelection(ctx, req.CheckoutID, sel); err != nil {
			log.Warn("Failed to store selection", zap.String("checkout_id", req.CheckoutID), zap.Error(err))
		}
	}

	rates := q.SuccessfulRates()
	methods := make([]ShippingMethod, 0, len(rates))
	for _, r := range rates {
		methods = append(methods, ShippingMethod{
			ID:                  r.ID,
			Provider:            r.Provider,
			Name:                r.DisplayName(),
			Amount:              r.Total.InexactFloat64(),
			Currency:            currency,
			MaximumDeliveryDays: r.Days,
		})
	}
	return methods, nil
}

// ConfirmOrder books the shipment for a confirmed order and publishes its
// tracking data. Each order is booked at most once. A failure before the
// carrier accepted the booking releases the order so a redelivered event can
// retry; a shipment that was booked but not yet tracked or published is kept
// as pending, and a redelivery resumes it instead of booking again.
func (s *Service) ConfirmOrder(ctx context.Context, req *OrderConfirmation) (*shipper.Shipment, error) {
	log := s.logger.Ctx(ctx)

	if req.HasFulfillments {
		return nil, ErrAlreadyFulfilled
	}
	acquired, err := s.store.AcquireOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	var shipment *shipper.Shipment
	if acquired {
		shipment, err = s.book(ctx, req)
	} else {
		shipmentID, loadErr := s.store.LoadPendingShipment(ctx, req.OrderID)
		if errors.Is(loadErr, ErrNoPendingShipment) {
			return nil, ErrAlreadyFulfilled
		}
		if loadErr != nil {
			return nil, loadErr
		}
		log.Info("Resuming booked shipment",
			zap.String("order_id", req.OrderID),
			zap.String("shipment_id", shipmentID),
		)
		shipment, err = s.shipments.Resume(ctx, shipmentID)
	}

	if err != nil {
		var pending *shipper.ShipmentPendingError
		switch {
		case errors.As(err, &pending):
			s.keepPending(ctx, req.OrderID, pending.ShipmentID)
		case acquired:
			s.release(ctx, req.OrderID)
		}
		return nil, err
	}

	if err := s.sink.Publish(ctx, fulfillment.NewEvent(req.OrderID, shipment)); err != nil {
		s.keepPending(ctx, req.OrderID, shipment.ID)
		return shipment, fmt.Errorf("shipment %s booked: %w", shipment.ID, err)
	}
	if !acquired {
		cleanupCtx, cancel := detached(ctx)
		defer cancel()
		if err := s.store.ClearPendingShipment(cleanupCtx, req.OrderID); err != nil {
			log.Warn("Failed to clear pending shipment", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	}

	log.Info("Order fulfilled",
		zap.String("order_id", req.OrderID),
		zap.String("shipment_id", shipment.ID),
		zap.String("tracking_number", shipment.TrackingNumber),
	)
	return shipment, nil
}

// release clears the order mark so a redelivery can book. It runs even when
// ctx has already ended.
func (s *Service) release(ctx context.Context, orderID string) {
	cleanupCtx, cancel := detached(ctx)
	defer cancel()
	if err := s.store.ReleaseOrder(cleanupCtx, orderID); err != nil {
		s.logger.Ctx(ctx).Error("Failed to release order", zap.String("order_id", orderID), zap.Error(err))
	}
}

// keepPending records a booked shipment so a redelivery resumes it. The order
// stays acquired.
func (s *Service) keepPending(ctx context.Context, orderID, shipmentID string) {
	cleanupCtx, cancel := detached(ctx)
	defer cancel()
	if err := s.store.SavePendingShipment(cleanupCtx, orderID, shipmentID); err != nil {
		s.logger.Ctx(ctx).Error("Failed to record pending shipment",
			zap.String("order_id", orderID),
			zap.String("shipment_id", shipmentID),
			zap.Error(err),
		)
	}
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeCleanupTimeout)
}

// Track looks up tracking events for a shipment.
func (s *Service) Track(ctx context.Context, trackingNumber, carrierName string) (*shipper.TrackingInfo, error) {
	return s.carrier.Track(ctx, trackingNumber, carrierName)
}

func (s *Service) book(ctx context.Context, req *OrderConfirmation) (*shipper.Shipment, error) {
	booking := &orchestrator.BookingRequest{
		RateID:      shipper.DecodeDeliveryMethodID(req.DeliveryMethodID),
		From:        s.cfg.Origin,
		To:          req.Destination,
		Parcel:      s.cfg.Parcel,
		Carriers:    s.cfg.Carriers,
		Packaging:   s.cfg.Packaging,
		CarrierName: shipper.CarrierFromDisplayName(req.DeliveryMethodName),
		Price:       req.ShippingPrice,
	}

	q, err := s.cachedQuotation(ctx, req.CheckoutID, req.Destination)
	if err == nil {
		rate, matchErr := shipper.MatchByServiceCode(q.Rates, req.DeliveryMethodID)
		if matchErr == nil {
			booking.QuotationID = q.ID
			booking.RateID = rate.ID
			if booking.CarrierName == "" {
				booking.CarrierName = rate.Provider
			}
			if booking.Price.IsZero() {
				booking.Price = rate.Total
			}
			return s.shipments.Book(ctx, booking)
		}
		err = matchErr
	}

	// Without a usable quotation, quote again and pick the buyer's carrier at the closest price.
	s.logger.Ctx(ctx).Info("Stored quotation unusable, quoting again",
		zap.String("order_id", req.OrderID),
		zap.String("reason", err.Error()),
	)
	if booking.CarrierName == "" {
		return nil, fmt.Errorf("%w: cannot identify carrier of delivery method %q", shipper.ErrRateNotFound, req.DeliveryMethodName)
	}
	fresh, err := s.quotes.CreateAndAwait(ctx, s.quotationRequest(req.Destination))
	if err != nil {
		return nil, err
	}
	rate, err := shipper.MatchNearest(fresh.Rates, booking.CarrierName, booking.Price)
	if err != nil {
		return nil, err
	}
	booking.QuotationID = fresh.ID
	booking.RateID = rate.ID
	return s.shipments.Book(ctx, booking)
}

// cachedQuotation returns the stored quotation for checkoutID if it was made
// for dest and still completes.
func (s *Service) cachedQuotation(ctx context.Context, checkoutID string, dest shipper.Address) (*shipper.Quotation, error) {
	if checkoutID == "" {
		return nil, ErrSelectionNotFound
	}
	sel, err := s.store.LoadSelection(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if !sel.Matches(dest) {
		return nil, errors.New("destination changed since quotation")
	}
	return s.quotes.Await(ctx, sel.QuotationID)
}

func (s *Service) quotationRequest(dest shipper.Address) *shipper.QuotationRequest {
	return &shipper.QuotationRequest{
		From:     s.cfg.Origin,
		To:       dest,
		Parcel:   s.cfg.Parcel,
		Carriers: s.cfg.Carriers,
	}
}
