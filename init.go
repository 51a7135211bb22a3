package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/tournevent/skydrop-bridge/internal/checkout"
	"github.com/tournevent/skydrop-bridge/internal/config"
	"github.com/tournevent/skydrop-bridge/internal/fulfillment"
	"github.com/tournevent/skydrop-bridge/internal/telemetry"
	"github.com/tournevent/skydrop-bridge/pkg/orchestrator"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/tournevent/skydrop-bridge/pkg/shipper/mock"
	"github.com/tournevent/skydrop-bridge/pkg/shipper/skydropx"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *otelzap.Logger
	registry  *prometheus.Registry
	metrics   *telemetry.Metrics
	carrier   shipper.Carrier
	quotes    *orchestrator.QuotationOrchestrator
	shipments *orchestrator.ShipmentOrchestrator
	checkout  *checkout.Service
	closers   []func(context.Context) error
}

func newApp(ctx context.Context, withTracing bool) (*app, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, zap.String("service", cfg.ServiceName))
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	var tracer trace.Tracer
	if withTracing && cfg.OTELEnabled {
		t, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
		if err != nil {
			logger.Warn("Failed to initialize tracer", zap.Error(err))
		} else {
			tracer = t
			a.closers = append(a.closers, shutdown)
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = telemetry.NewMetrics(a.registry)

	a.carrier = initCarrier(cfg, logger, tracer)
	opts := []orchestrator.Option{orchestrator.WithTracer(tracer), orchestrator.WithRecorder(a.metrics)}
	a.quotes = orchestrator.NewQuotationOrchestrator(a.carrier, cfg.QuotationPoll(), logger, opts...)
	a.shipments = orchestrator.NewShipmentOrchestrator(a.carrier, a.quotes, cfg.TrackingPoll(), logger, opts...)

	store, err := a.initStore(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	sink := a.initSink()

	a.checkout = checkout.NewService(checkout.Config{
		Origin:    cfg.Origin(),
		Parcel:    cfg.Parcel(),
		Carriers:  cfg.RequestedCarriers,
		Packaging: cfg.Packaging(),
		Currency:  cfg.Currency,
	}, a.carrier, a.quotes, a.shipments, store, sink, logger)

	return a, nil
}

func initCarrier(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) shipper.Carrier {
	if cfg.SkydropxUseMock {
		logger.Warn("Using in-memory carrier aggregator")
		return mock.New(skydropx.CarrierName)
	}
	if cfg.SkydropxAllowUnauthenticated {
		logger.Warn("Unauthenticated Skydropx requests are allowed when token exchange fails")
	}
	return skydropx.New(skydropx.Config{
		BaseURL:              cfg.SkydropxBaseURL,
		ClientID:             cfg.SkydropxClientID,
		ClientSecret:         cfg.SkydropxClientSecret,
		Timeout:              cfg.SkydropxTimeout,
		AllowUnauthenticated: cfg.SkydropxAllowUnauthenticated,
	}, logger, tracer)
}

func (a *app) initStore(ctx context.Context) (checkout.Store, error) {
	if !a.cfg.RedisEnabled {
		return checkout.NewMemoryStore(a.cfg.SelectionTTL), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", a.cfg.RedisAddr, err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return checkout.NewRedisStore(client, "", a.cfg.SelectionTTL), nil
}

func (a *app) initSink() fulfillment.Sink {
	var sink fulfillment.Sink = fulfillment.NewLogSink(a.logger)
	if a.cfg.KafkaEnabled {
		sink = fulfillment.NewKafkaSink(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger)
	}
	a.closers = append(a.closers, func(context.Context) error { return sink.Close() })
	return sink
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
}
