package orchestrator

import (
	"context"
	"fmt"

	"github.com/tournevent/skydrop-bridge/pkg/poll"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// QuotationOrchestrator creates quotations and waits for them to complete.
type QuotationOrchestrator struct {
	carrier shipper.Carrier
	poll    poll.Options
	logger  *otelzap.Logger
	tracer  trace.Tracer
	rec     Recorder
}

// NewQuotationOrchestrator creates a quotation orchestrator. pollOpts bounds
// the wait for completion.
func NewQuotationOrchestrator(carrier shipper.Carrier, pollOpts poll.Options, logger *otelzap.Logger, opts ...Option) *QuotationOrchestrator {
	o := buildOptions(opts)
	if pollOpts.Operation == "" {
		pollOpts.Operation = "quotation"
	}
	return &QuotationOrchestrator{
		carrier: instrument(carrier, o.recorder),
		poll:    pollOpts,
		logger:  logger,
		tracer:  o.tracer,
		rec:     o.recorder,
	}
}

// CreateAndAwait creates a quotation and polls until it completes.
// It never returns an incomplete quotation or one without rates.
func (o *QuotationOrchestrator) CreateAndAwait(ctx context.Context, req *shipper.QuotationRequest) (*shipper.Quotation, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.CreateAndAwaitQuotation")
	defer span.End()

	q, err := o.createAndAwait(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quotation failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("quotation.id", q.ID), attribute.Int("quotation.rates", len(q.Rates)))
	return q, nil
}

// Refresh produces a brand-new quotation for the same shipment. It is used
// when a previous quotation went stale; its rates carry new ids and must be
// matched again.
func (o *QuotationOrchestrator) Refresh(ctx context.Context, req *shipper.QuotationRequest) (*shipper.Quotation, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.RefreshQuotation")
	defer span.End()

	q, err := o.createAndAwait(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "requote failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("quotation.id", q.ID))
	return q, nil
}

// Await polls an existing quotation until it completes.
func (o *QuotationOrchestrator) Await(ctx context.Context, id string) (*shipper.Quotation, error) {
	log := o.logger.Ctx(ctx)
	logState(log, StateAwaitingCompletion, zap.String("quotation_id", id))

	q, err := poll.Until(ctx, o.poll,
		func(ctx context.Context) (*shipper.Quotation, error) {
			return o.carrier.GetQuotation(ctx, id)
		},
		func(q *shipper.Quotation) bool { return q.Completed },
		o.rec.RecordPoll,
	)
	if err != nil {
		logState(log, StateFailed, zap.String("quotation_id", id), zap.Error(err))
		return nil, err
	}

	if len(q.Rates) == 0 {
		err := shipper.NewCarrierError(o.carrier.Name(), shipper.CodeNoRates, "quotation "+id+" completed without rates").
			WithCause(shipper.ErrNoRates)
		logState(log, StateFailed, zap.String("quotation_id", id), zap.Error(err))
		return nil, err
	}

	logState(log, StateComplete,
		zap.String("quotation_id", id),
		zap.Int("rates", len(q.Rates)),
		zap.Int("successful_rates", len(q.SuccessfulRates())),
	)
	return q, nil
}

func (o *QuotationOrchestrator) createAndAwait(ctx context.Context, req *shipper.QuotationRequest) (*shipper.Quotation, error) {
	log := o.logger.Ctx(ctx)
	logState(log, StateRequesting,
		zap.String("origin_postal_code", req.From.PostalCode),
		zap.String("destination_postal_code", req.To.PostalCode),
		zap.Strings("carriers", req.Carriers),
	)

	created, err := o.carrier.CreateQuotation(ctx, req)
	if err != nil {
		logState(log, StateFailed, zap.Error(err))
		return nil, fmt.Errorf("creating quotation: %w", err)
	}

	return o.Await(ctx, created.ID)
}
