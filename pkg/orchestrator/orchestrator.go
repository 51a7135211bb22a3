// Package orchestrator drives quotation and shipment workflows against a
// shipper.Carrier: create, wait for completion, book, recover once from a
// stale quotation, and wait for a tracking number.
//
// Every wait is bounded by poll.Options and by the caller's context.
package orchestrator

import (
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// State names a step of a quotation or shipment workflow. States are logged
// as workflows advance.
type State string

const (
	StateRequesting         State = "requesting"
	StateAwaitingCompletion State = "awaiting_completion"
	StateComplete           State = "complete"
	StateFailed             State = "failed"
	StateBooking            State = "booking"
	StateRequoting          State = "requoting"
	StateRebooking          State = "rebooking"
	StateAwaitingTracking   State = "awaiting_tracking"
	StateTracked            State = "tracked"
	StateTrackingTimeout    State = "tracking_timeout"
)

// Recorder receives workflow metrics. *telemetry.Metrics implements it.
type Recorder interface {
	RecordRequest(operation, carrier, status string, duration float64)
	RecordError(carrier, errorType string)
	RecordPoll(operation string, attempt int, done bool)
	RecordRequote(outcome string)
	RecordBooking(carrier, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, string, float64) {}
func (nopRecorder) RecordError(string, string)                    {}
func (nopRecorder) RecordPoll(string, int, bool)                  {}
func (nopRecorder) RecordRequote(string)                          {}
func (nopRecorder) RecordBooking(string, string)                  {}

// Option configures an orchestrator.
type Option func(*options)

type options struct {
	tracer   trace.Tracer
	recorder Recorder
}

// WithTracer sets the tracer used for workflow spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(o *options) {
		if rec != nil {
			o.recorder = rec
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		tracer:   noop.NewTracerProvider().Tracer(""),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func logState(logger otelzap.LoggerWithCtx, state State, fields ...zap.Field) {
	logger.Info("Workflow state", append([]zap.Field{zap.String("state", string(state))}, fields...)...)
}
