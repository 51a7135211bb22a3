package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/skydrop-bridge/internal/checkout"
	"github.com/tournevent/skydrop-bridge/internal/telemetry"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Checkout is the workflow surface the webhooks drive.
type Checkout interface {
	ListShippingMethods(ctx context.Context, req *checkout.ShippingMethodsRequest) ([]checkout.ShippingMethod, error)
	ConfirmOrder(ctx context.Context, req *checkout.OrderConfirmation) (*shipper.Shipment, error)
	Track(ctx context.Context, trackingNumber, carrierName string) (*shipper.TrackingInfo, error)
}

// Config holds server configuration.
type Config struct {
	Port int
	// WebhookTimeout bounds each webhook, including every poll it performs.
	WebhookTimeout time.Duration
}

// Server is the HTTP shell in front of the checkout workflows.
type Server struct {
	cfg      Config
	checkout Checkout
	gatherer prometheus.Gatherer
	metrics  *telemetry.Metrics
	logger   *otelzap.Logger
}

// New creates a new server instance. gatherer backs /metrics; nil uses the default registry.
func New(cfg Config, svc Checkout, gatherer prometheus.Gatherer, metrics *telemetry.Metrics, logger *otelzap.Logger) *Server {
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 60 * time.Second
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		checkout: svc,
		gatherer: gatherer,
		metrics:  metrics,
		logger:   logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/shipping-methods", s.handleShippingMethods)
		r.Post("/order-confirmed", s.handleOrderConfirmed)
	})
	r.Get("/tracking/{carrier}/{number}", s.handleTracking)

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Webhooks may legitimately wait for the full polling bound.
		WriteTimeout: s.cfg.WebhookTimeout + 10*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
