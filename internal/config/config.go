package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/tournevent/skydrop-bridge/pkg/poll"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port           int           `envconfig:"PORT" default:"8080"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	WebhookTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"60s"`

	// Skydropx
	SkydropxBaseURL              string        `envconfig:"SKYDROPX_BASE_URL" default:"https://pro.skydropx.com"`
	SkydropxClientID             string        `envconfig:"SKYDROPX_CLIENT_ID"`
	SkydropxClientSecret         string        `envconfig:"SKYDROPX_CLIENT_SECRET"`
	SkydropxTimeout              time.Duration `envconfig:"SKYDROPX_TIMEOUT" default:"30s"`
	SkydropxUseMock              bool          `envconfig:"SKYDROPX_USE_MOCK" default:"false"`
	SkydropxAllowUnauthenticated bool          `envconfig:"SKYDROPX_ALLOW_UNAUTHENTICATED" default:"false"`

	// Polling bounds. Zero values fall back to the poll package defaults.
	QuotationPollInterval    time.Duration `envconfig:"QUOTATION_POLL_INTERVAL" default:"1s"`
	QuotationPollMaxAttempts int           `envconfig:"QUOTATION_POLL_MAX_ATTEMPTS" default:"30"`
	QuotationPollTimeout     time.Duration `envconfig:"QUOTATION_POLL_TIMEOUT" default:"45s"`
	TrackingPollInterval     time.Duration `envconfig:"TRACKING_POLL_INTERVAL" default:"1s"`
	TrackingPollMaxAttempts  int           `envconfig:"TRACKING_POLL_MAX_ATTEMPTS" default:"30"`
	TrackingPollTimeout      time.Duration `envconfig:"TRACKING_POLL_TIMEOUT" default:"45s"`

	// Shipment defaults
	RequestedCarriers []string `envconfig:"REQUESTED_CARRIERS" default:"fedex,estafeta,dhl"`
	Currency          string   `envconfig:"CURRENCY" default:"MXN"`
	ConsignmentNote   string   `envconfig:"CONSIGNMENT_NOTE" default:"53102400"`
	PackageType       string   `envconfig:"PACKAGE_TYPE" default:"1KG"`

	OriginCountryCode string `envconfig:"ORIGIN_COUNTRY_CODE" default:"mx"`
	OriginPostalCode  string `envconfig:"ORIGIN_POSTAL_CODE"`
	OriginAreaLevel1  string `envconfig:"ORIGIN_AREA_LEVEL1"`
	OriginAreaLevel2  string `envconfig:"ORIGIN_AREA_LEVEL2"`
	OriginAreaLevel3  string `envconfig:"ORIGIN_AREA_LEVEL3"`
	OriginStreet1     string `envconfig:"ORIGIN_STREET1"`
	OriginReference   string `envconfig:"ORIGIN_REFERENCE"`
	OriginName        string `envconfig:"ORIGIN_NAME"`
	OriginCompany     string `envconfig:"ORIGIN_COMPANY"`
	OriginPhone       string `envconfig:"ORIGIN_PHONE"`
	OriginEmail       string `envconfig:"ORIGIN_EMAIL"`

	ParcelLength float64 `envconfig:"PARCEL_LENGTH" default:"10"`
	ParcelWidth  float64 `envconfig:"PARCEL_WIDTH" default:"10"`
	ParcelHeight float64 `envconfig:"PARCEL_HEIGHT" default:"10"`
	ParcelWeight float64 `envconfig:"PARCEL_WEIGHT" default:"1"`

	// Selection store
	RedisEnabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	SelectionTTL  time.Duration `envconfig:"SELECTION_TTL" default:"24h"`

	// Fulfillment sink
	KafkaEnabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"shipment.fulfilled"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"skydrop-bridge"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables after applying the
// given .env files (".env" when none are given). Missing .env files are ignored.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if !cfg.SkydropxUseMock && (cfg.SkydropxClientID == "" || cfg.SkydropxClientSecret == "") && !cfg.SkydropxAllowUnauthenticated {
		return nil, fmt.Errorf("loading config: SKYDROPX_CLIENT_ID and SKYDROPX_CLIENT_SECRET are required")
	}
	return &cfg, nil
}

// Origin returns the warehouse address shipments leave from.
func (c *Config) Origin() shipper.Address {
	return shipper.Address{
		CountryCode: c.OriginCountryCode,
		PostalCode:  c.OriginPostalCode,
		AreaLevel1:  c.OriginAreaLevel1,
		AreaLevel2:  c.OriginAreaLevel2,
		AreaLevel3:  c.OriginAreaLevel3,
		Street1:     c.OriginStreet1,
		Reference:   c.OriginReference,
		Name:        c.OriginName,
		Company:     c.OriginCompany,
		Phone:       c.OriginPhone,
		Email:       c.OriginEmail,
	}
}

// Parcel returns the default parcel.
func (c *Config) Parcel() shipper.Parcel {
	return shipper.Parcel{
		Length: c.ParcelLength,
		Width:  c.ParcelWidth,
		Height: c.ParcelHeight,
		Weight: c.ParcelWeight,
	}
}

// Packaging returns the booking metadata sent with every shipment.
func (c *Config) Packaging() shipper.Packaging {
	return shipper.Packaging{
		ConsignmentNote: c.ConsignmentNote,
		PackageType:     c.PackageType,
	}
}

// QuotationPoll bounds the wait for quotation completion.
func (c *Config) QuotationPoll() poll.Options {
	return poll.Options{
		Operation:   "quotation",
		Interval:    c.QuotationPollInterval,
		MaxAttempts: c.QuotationPollMaxAttempts,
		Timeout:     c.QuotationPollTimeout,
	}
}

// TrackingPoll bounds the wait for a tracking number.
func (c *Config) TrackingPoll() poll.Options {
	return poll.Options{
		Operation:   "tracking",
		Interval:    c.TrackingPollInterval,
		MaxAttempts: c.TrackingPollMaxAttempts,
		Timeout:     c.TrackingPollTimeout,
	}
}

// Attributes returns OpenTelemetry resource attributes describing the deployment.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("skydropx.base_url", c.SkydropxBaseURL),
		attribute.Bool("skydropx.mock", c.SkydropxUseMock),
		attribute.Bool("redis.enabled", c.RedisEnabled),
		attribute.Bool("kafka.enabled", c.KafkaEnabled),
	}
}
