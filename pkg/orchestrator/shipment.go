package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tournevent/skydrop-bridge/pkg/poll"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BookingRequest is everything needed to book a shipment and, if the
// quotation went stale, to quote it again and pick an equivalent rate.
type BookingRequest struct {
	QuotationID string
	RateID      string
	From        shipper.Address
	To          shipper.Address
	Parcel      shipper.Parcel
	Carriers    []string
	Packaging   shipper.Packaging

	// CarrierName and Price identify the buyer's choice across quotations.
	CarrierName string
	Price       decimal.Decimal
}

func (r *BookingRequest) shipment(quotationID, rateID string) *shipper.ShipmentRequest {
	return &shipper.ShipmentRequest{
		QuotationID: quotationID,
		RateID:      rateID,
		From:        r.From,
		To:          r.To,
		Packaging:   r.Packaging,
	}
}

func (r *BookingRequest) quotation() *shipper.QuotationRequest {
	return &shipper.QuotationRequest{
		From:     r.From,
		To:       r.To,
		Parcel:   r.Parcel,
		Carriers: r.Carriers,
	}
}

// ShipmentOrchestrator books shipments and waits until they are trackable.
type ShipmentOrchestrator struct {
	carrier  shipper.Carrier
	quotes   *QuotationOrchestrator
	tracking poll.Options
	logger   *otelzap.Logger
	tracer   trace.Tracer
	rec      Recorder
}

// NewShipmentOrchestrator creates a shipment orchestrator. trackingOpts bounds
// the wait for a tracking number; quotes is used to recover from stale quotations.
func NewShipmentOrchestrator(carrier shipper.Carrier, quotes *QuotationOrchestrator, trackingOpts poll.Options, logger *otelzap.Logger, opts ...Option) *ShipmentOrchestrator {
	o := buildOptions(opts)
	if trackingOpts.Operation == "" {
		trackingOpts.Operation = "tracking"
	}
	return &ShipmentOrchestrator{
		carrier:  instrument(carrier, o.recorder),
		quotes:   quotes,
		tracking: trackingOpts,
		logger:   logger,
		tracer:   o.tracer,
		rec:      o.recorder,
	}
}

// Book creates a shipment for the chosen rate and returns it once a tracking
// number is published.
//
// If the carrier reports the quotation as stale, Book quotes again, picks the
// rate from the same carrier closest to the buyer's price and retries exactly
// once. Any other failure, including a second failed booking, is returned
// unchanged. No partial shipment is ever returned: once the carrier accepted
// the booking, a failed wait for tracking is reported as
// *shipper.ShipmentPendingError so the caller can Resume instead of booking again.
func (o *ShipmentOrchestrator) Book(ctx context.Context, req *BookingRequest) (*shipper.Shipment, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.BookShipment",
		trace.WithAttributes(
			attribute.String("quotation.id", req.QuotationID),
			attribute.String("rate.id", req.RateID),
			attribute.String("carrier.name", req.CarrierName),
		))
	defer span.End()

	s, err := o.book(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "booking failed")
		o.rec.RecordBooking(req.CarrierName, bookingOutcome(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("shipment.id", s.ID),
		attribute.String("shipment.tracking_number", s.TrackingNumber),
	)
	o.rec.RecordBooking(s.Carrier, "booked")
	return s, nil
}

func (o *ShipmentOrchestrator) book(ctx context.Context, req *BookingRequest) (*shipper.Shipment, error) {
	log := o.logger.Ctx(ctx)
	quotationID, rateID := req.QuotationID, req.RateID

	logState(log, StateBooking, zap.String("quotation_id", quotationID), zap.String("rate_id", rateID))
	created, err := o.carrier.CreateShipment(ctx, req.shipment(quotationID, rateID))
	if err != nil {
		if !shipper.IsStaleQuotation(err) {
			logState(log, StateFailed, zap.String("quotation_id", quotationID), zap.Error(err))
			return nil, err
		}

		quotationID, rateID, err = o.requote(ctx, req)
		if err != nil {
			return nil, err
		}

		logState(log, StateRebooking, zap.String("quotation_id", quotationID), zap.String("rate_id", rateID))
		created, err = o.carrier.CreateShipment(ctx, req.shipment(quotationID, rateID))
		if err != nil {
			o.rec.RecordRequote("rebook_failed")
			logState(log, StateFailed, zap.String("quotation_id", quotationID), zap.Error(err))
			return nil, err
		}
		o.rec.RecordRequote("recovered")
	}

	tracked, err := o.awaitTracking(ctx, created.ID)
	if err != nil {
		return nil, &shipper.ShipmentPendingError{ShipmentID: created.ID, Err: err}
	}
	if tracked.QuotationID == "" {
		tracked.QuotationID = quotationID
	}
	if tracked.RateID == "" {
		tracked.RateID = rateID
	}
	if tracked.Carrier == "" {
		tracked.Carrier = created.Carrier
	}
	return tracked, nil
}

// Resume waits for a tracking number on a shipment booked earlier. Failures
// are reported as *shipper.ShipmentPendingError.
func (o *ShipmentOrchestrator) Resume(ctx context.Context, shipmentID string) (*shipper.Shipment, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ResumeShipment",
		trace.WithAttributes(attribute.String("shipment.id", shipmentID)))
	defer span.End()

	s, err := o.awaitTracking(ctx, shipmentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tracking failed")
		return nil, &shipper.ShipmentPendingError{ShipmentID: shipmentID, Err: err}
	}
	span.SetAttributes(attribute.String("shipment.tracking_number", s.TrackingNumber))
	o.rec.RecordBooking(s.Carrier, "resumed")
	return s, nil
}

func bookingOutcome(err error) string {
	var pending *shipper.ShipmentPendingError
	if errors.As(err, &pending) {
		return "pending"
	}
	return "failed"
}

// requote obtains a fresh quotation and the substitute rate for the buyer's choice.
func (o *ShipmentOrchestrator) requote(ctx context.Context, req *BookingRequest) (string, string, error) {
	log := o.logger.Ctx(ctx)
	logState(log, StateRequoting,
		zap.String("stale_quotation_id", req.QuotationID),
		zap.String("carrier_name", req.CarrierName),
		zap.String("price", req.Price.String()),
	)

	fresh, err := o.quotes.Refresh(ctx, req.quotation())
	if err != nil {
		o.rec.RecordRequote("requote_failed")
		logState(log, StateFailed, zap.Error(err))
		return "", "", fmt.Errorf("requoting stale quotation %s: %w", req.QuotationID, err)
	}

	rate, err := shipper.MatchNearest(fresh.Rates, req.CarrierName, req.Price)
	if err != nil {
		o.rec.RecordRequote("no_match")
		logState(log, StateFailed, zap.String("quotation_id", fresh.ID), zap.Error(err))
		return "", "", err
	}

	log.Info("Substitute rate selected",
		zap.String("quotation_id", fresh.ID),
		zap.String("rate_id", rate.ID),
		zap.String("provider", rate.Provider),
		zap.String("total", rate.Total.String()),
	)
	return fresh.ID, rate.ID, nil
}

func (o *ShipmentOrchestrator) awaitTracking(ctx context.Context, shipmentID string) (*shipper.Shipment, error) {
	log := o.logger.Ctx(ctx)
	logState(log, StateAwaitingTracking, zap.String("shipment_id", shipmentID))

	s, err := poll.Until(ctx, o.tracking,
		func(ctx context.Context) (*shipper.Shipment, error) {
			return o.carrier.GetShipment(ctx, shipmentID)
		},
		(*shipper.Shipment).Trackable,
		o.rec.RecordPoll,
	)
	if err != nil {
		state := StateFailed
		if errors.Is(err, shipper.ErrPollingTimeout) {
			state = StateTrackingTimeout
		}
		logState(log, state, zap.String("shipment_id", shipmentID), zap.Error(err))
		return nil, err
	}

	logState(log, StateTracked,
		zap.String("shipment_id", s.ID),
		zap.String("tracking_number", s.TrackingNumber),
	)
	return s, nil
}
