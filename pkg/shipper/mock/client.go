// Package mock provides an in-memory carrier aggregator for tests and local runs.
//
// Quotations complete after a configurable number of reads and shipments
// become trackable the same way, so callers exercise their polling paths.
// Quotations can be expired to reproduce the aggregator's 422 on booking.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
)

// Offer is a service the fake aggregator prices for a carrier.
type Offer struct {
	Provider string
	Service  string
	Total    decimal.Decimal
	Days     int
}

// DefaultOffers are priced for every quotation unless Offers is replaced.
func DefaultOffers() []Offer {
	return []Offer{
		{Provider: "fedex", Service: "Express Saver", Total: decimal.RequireFromString("189.50"), Days: 2},
		{Provider: "fedex", Service: "Standard Overnight", Total: decimal.RequireFromString("245.00"), Days: 1},
		{Provider: "estafeta", Service: "Dia Siguiente", Total: decimal.RequireFromString("162.00"), Days: 1},
		{Provider: "dhl", Service: "Economy", Total: decimal.RequireFromString("145.75"), Days: 4},
	}
}

type quotationState struct {
	quotation shipper.Quotation
	reads     int
	expired   bool
}

type shipmentState struct {
	shipment shipper.Shipment
	reads    int
}

// Client is a stateful fake aggregator implementing shipper.Carrier.
// Configure the exported fields before first use.
type Client struct {
	name string

	// CompleteAfter is the number of GetQuotation reads before a quotation
	// completes. Zero completes on creation; negative never completes.
	CompleteAfter int

	// TrackingAfter is the number of GetShipment reads before a tracking
	// number is published. Zero publishes on creation; negative never does.
	TrackingAfter int

	// Offers priced for each requested carrier. Requested carriers without an
	// offer get a failed rate.
	Offers []Offer

	// PriceDrift is added to every offer once per quotation created, so
	// re-quotes price slightly differently.
	PriceDrift decimal.Decimal

	// AlwaysStale makes every booking fail as a stale quotation.
	AlwaysStale bool

	// SimulateErrors makes every call fail with a retryable carrier error.
	SimulateErrors bool

	mu                   sync.Mutex
	quotations           map[string]*quotationState
	shipments            map[string]*shipmentState
	createQuotationCalls int
	createShipmentCalls  int
}

// New creates a new fake aggregator.
func New(name string) *Client {
	return &Client{
		name:          name,
		CompleteAfter: 2,
		TrackingAfter: 1,
		Offers:        DefaultOffers(),
		quotations:    make(map[string]*quotationState),
		shipments:     make(map[string]*shipmentState),
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.name
}

// CreateQuotation starts a quotation.
func (c *Client) CreateQuotation(ctx context.Context, req *shipper.QuotationRequest) (*shipper.Quotation, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	drift := c.PriceDrift.Mul(decimal.NewFromInt(int64(c.createQuotationCalls)))
	c.createQuotationCalls++

	id := uuid.New().String()
	var rates []shipper.Rate
	for _, carrier := range c.requested(req.Carriers) {
		priced := false
		for _, o := range c.Offers {
			if o.Provider != carrier {
				continue
			}
			priced = true
			rates = append(rates, shipper.Rate{
				ID:          uuid.New().String(),
				QuotationID: id,
				Provider:    o.Provider,
				ServiceName: o.Service,
				Success:     true,
				Total:       o.Total.Add(drift),
				Currency:    "MXN",
				Days:        o.Days,
			})
		}
		if !priced {
			rates = append(rates, shipper.Rate{
				ID:          uuid.New().String(),
				QuotationID: id,
				Provider:    carrier,
				Success:     false,
			})
		}
	}

	state := &quotationState{quotation: shipper.Quotation{ID: id, Rates: rates}}
	c.quotations[id] = state
	return c.snapshotQuotation(state), nil
}

// GetQuotation reads a quotation. Rates are only visible once it completes.
func (c *Client) GetQuotation(ctx context.Context, id string) (*shipper.Quotation, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.quotations[id]
	if !ok {
		return nil, c.notFound("quotation", id)
	}
	state.reads++
	return c.snapshotQuotation(state), nil
}

// CreateShipment books a shipment. Expired quotations fail with a 422.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.Shipment, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.createShipmentCalls++

	if err := req.Validate(); err != nil {
		return nil, err
	}

	state, ok := c.quotations[req.QuotationID]
	if !ok {
		return nil, c.notFound("quotation", req.QuotationID)
	}
	if state.expired || c.AlwaysStale {
		return nil, shipper.NewCarrierError(c.name, shipper.CodeQuotationExpired, "quotation is no longer valid").
			WithStatusCode(http.StatusUnprocessableEntity).
			WithCause(shipper.ErrQuoteExpired)
	}

	idx := slices.IndexFunc(state.quotation.Rates, func(r shipper.Rate) bool {
		return r.ID == req.RateID && r.Success
	})
	if idx < 0 {
		return nil, shipper.NewCarrierError(c.name, "RATE_NOT_FOUND", "rate "+req.RateID+" not in quotation").
			WithStatusCode(http.StatusNotFound).
			WithCause(shipper.ErrRateNotFound)
	}
	rate := state.quotation.Rates[idx]

	id := uuid.New().String()
	trackingNumber := fmt.Sprintf("%d", 100000000000+time.Now().UnixNano()%900000000000)
	ship := &shipmentState{
		shipment: shipper.Shipment{
			ID:             id,
			QuotationID:    req.QuotationID,
			RateID:         req.RateID,
			Status:         shipper.StatusPending,
			Carrier:        rate.Provider,
			TrackingNumber: trackingNumber,
			TrackingURL:    fmt.Sprintf("https://tracking.example.com/%s/%s", rate.Provider, trackingNumber),
			LabelURL:       fmt.Sprintf("https://labels.example.com/%s.pdf", id),
		},
	}
	c.shipments[id] = ship
	return c.snapshotShipment(ship), nil
}

// GetShipment reads a shipment.
func (c *Client) GetShipment(ctx context.Context, id string) (*shipper.Shipment, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ship, ok := c.shipments[id]
	if !ok {
		return nil, c.notFound("shipment", id)
	}
	ship.reads++
	return c.snapshotShipment(ship), nil
}

// Track returns tracking events for a published tracking number.
func (c *Client) Track(ctx context.Context, trackingNumber, carrierName string) (*shipper.TrackingInfo, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ship := range c.shipments {
		s := c.snapshotShipment(ship)
		if !s.Trackable() || s.TrackingNumber != trackingNumber {
			continue
		}
		if carrierName != "" && carrierName != s.Carrier {
			continue
		}
		now := time.Now().UTC()
		return &shipper.TrackingInfo{
			TrackingNumber: trackingNumber,
			Carrier:        s.Carrier,
			Status:         string(shipper.StatusInTransit),
			Events: []shipper.TrackingEvent{
				{Timestamp: now.Add(-2 * time.Hour), Description: "Label created", Status: "created"},
				{Timestamp: now, Description: "Picked up", Location: "Monterrey, NL", Status: "picked_up"},
			},
		}, nil
	}
	return nil, c.notFound("tracking", trackingNumber)
}

// Expire marks a quotation stale so that booking against it fails with a 422.
func (c *Client) Expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.quotations[id]; ok {
		state.expired = true
	}
}

// CreateQuotationCalls returns how many quotations have been created.
func (c *Client) CreateQuotationCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createQuotationCalls
}

// CreateShipmentCalls returns how many bookings were attempted.
func (c *Client) CreateShipmentCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createShipmentCalls
}

func (c *Client) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.SimulateErrors {
		return shipper.NewCarrierError(c.name, "MOCK_ERROR", "simulated aggregator error").
			WithStatusCode(http.StatusServiceUnavailable).
			WithCause(shipper.ErrServiceUnavailable)
	}
	return nil
}

func (c *Client) requested(carriers []string) []string {
	if len(carriers) > 0 {
		return carriers
	}
	var all []string
	for _, o := range c.Offers {
		if !slices.Contains(all, o.Provider) {
			all = append(all, o.Provider)
		}
	}
	return all
}

func (c *Client) snapshotQuotation(state *quotationState) *shipper.Quotation {
	q := &shipper.Quotation{ID: state.quotation.ID}
	if c.CompleteAfter >= 0 && state.reads >= c.CompleteAfter {
		q.Completed = true
		q.Rates = slices.Clone(state.quotation.Rates)
	}
	return q
}

func (c *Client) snapshotShipment(ship *shipmentState) *shipper.Shipment {
	s := ship.shipment
	if c.TrackingAfter < 0 || ship.reads < c.TrackingAfter {
		s.TrackingNumber = ""
		s.TrackingURL = ""
		s.LabelURL = ""
		return &s
	}
	s.Status = shipper.StatusTrackable
	return &s
}

func (c *Client) notFound(kind, id string) error {
	return shipper.NewCarrierError(c.name, "NOT_FOUND", kind+" "+id+" not found").
		WithStatusCode(http.StatusNotFound)
}

// Ensure Client implements shipper.Carrier.
var _ shipper.Carrier = (*Client)(nil)
