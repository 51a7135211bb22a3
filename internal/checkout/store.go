package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
)

var (
	// ErrSelectionNotFound is returned when no selection is stored for a checkout.
	ErrSelectionNotFound = errors.New("selection not found")

	// ErrNoPendingShipment is returned when an order has no booked, unpublished shipment.
	ErrNoPendingShipment = errors.New("no pending shipment")
)

// Store keeps selection contexts between checkout stages and guards order
// confirmation against duplicate webhook deliveries.
type Store interface {
	SaveSelection(ctx context.Context, checkoutID string, sel shipper.SelectionContext) error
	LoadSelection(ctx context.Context, checkoutID string) (*shipper.SelectionContext, error)

	// AcquireOrder returns true if orderID was not yet being processed.
	AcquireOrder(ctx context.Context, orderID string) (bool, error)
	ReleaseOrder(ctx context.Context, orderID string) error

	// Pending shipments were booked for an order but not yet published.
	SavePendingShipment(ctx context.Context, orderID, shipmentID string) error
	LoadPendingShipment(ctx context.Context, orderID string) (string, error)
	ClearPendingShipment(ctx context.Context, orderID string) error
}

// RedisStore implements Store on Redis so that replicas share state.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a store over an existing client. Entries expire after ttl.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "skydrop-bridge:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) selectionKey(checkoutID string) string {
	return s.keyPrefix + "selection:" + checkoutID
}

func (s *RedisStore) orderKey(orderID string) string {
	return s.keyPrefix + "order:" + orderID
}

func (s *RedisStore) pendingKey(orderID string) string {
	return s.keyPrefix + "pending:" + orderID
}

// SaveSelection stores sel for checkoutID.
func (s *RedisStore) SaveSelection(ctx context.Context, checkoutID string, sel shipper.SelectionContext) error {
	payload, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("failed to marshal selection: %w", err)
	}
	if err := s.client.Set(ctx, s.selectionKey(checkoutID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save selection: %w", err)
	}
	return nil
}

// LoadSelection returns the selection for checkoutID or ErrSelectionNotFound.
func (s *RedisStore) LoadSelection(ctx context.Context, checkoutID string) (*shipper.SelectionContext, error) {
	payload, err := s.client.Get(ctx, s.selectionKey(checkoutID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSelectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load selection: %w", err)
	}

	var sel shipper.SelectionContext
	if err := json.Unmarshal(payload, &sel); err != nil {
		return nil, fmt.Errorf("failed to decode selection: %w", err)
	}
	return &sel, nil
}

// AcquireOrder marks orderID as in progress using SETNX with the store TTL.
func (s *RedisStore) AcquireOrder(ctx context.Context, orderID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.orderKey(orderID), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire order: %w", err)
	}
	return ok, nil
}

// ReleaseOrder clears the in-progress mark so a redelivery can retry.
func (s *RedisStore) ReleaseOrder(ctx context.Context, orderID string) error {
	if err := s.client.Del(ctx, s.orderKey(orderID)).Err(); err != nil {
		return fmt.Errorf("failed to release order: %w", err)
	}
	return nil
}

// SavePendingShipment records shipmentID as booked for orderID.
func (s *RedisStore) SavePendingShipment(ctx context.Context, orderID, shipmentID string) error {
	if err := s.client.Set(ctx, s.pendingKey(orderID), shipmentID, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending shipment: %w", err)
	}
	return nil
}

// LoadPendingShipment returns the pending shipment id or ErrNoPendingShipment.
func (s *RedisStore) LoadPendingShipment(ctx context.Context, orderID string) (string, error) {
	id, err := s.client.Get(ctx, s.pendingKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoPendingShipment
	}
	if err != nil {
		return "", fmt.Errorf("failed to load pending shipment: %w", err)
	}
	return id, nil
}

// ClearPendingShipment forgets the pending shipment of orderID.
func (s *RedisStore) ClearPendingShipment(ctx context.Context, orderID string) error {
	if err := s.client.Del(ctx, s.pendingKey(orderID)).Err(); err != nil {
		return fmt.Errorf("failed to clear pending shipment: %w", err)
	}
	return nil
}

type memoryEntry struct {
	selection shipper.SelectionContext
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. Used for single-instance
// runs and tests.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	selections map[string]memoryEntry
	orders     map[string]time.Time
	pending    map[string]string
}

// NewMemoryStore creates an in-memory store. Entries expire after ttl; zero never expires.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:        ttl,
		now:        time.Now,
		selections: make(map[string]memoryEntry),
		orders:     make(map[string]time.Time),
		pending:    make(map[string]string),
	}
}

func (s *MemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *MemoryStore) live(expiresAt time.Time) bool {
	return expiresAt.IsZero() || s.now().Before(expiresAt)
}

// SaveSelection stores sel for checkoutID.
func (s *MemoryStore) SaveSelection(_ context.Context, checkoutID string, sel shipper.SelectionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections[checkoutID] = memoryEntry{selection: sel, expiresAt: s.expiry()}
	return nil
}

// LoadSelection returns the selection for checkoutID or ErrSelectionNotFound.
func (s *MemoryStore) LoadSelection(_ context.Context, checkoutID string) (*shipper.SelectionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.selections[checkoutID]
	if !ok || !s.live(e.expiresAt) {
		delete(s.selections, checkoutID)
		return nil, ErrSelectionNotFound
	}
	sel := e.selection
	return &sel, nil
}

// AcquireOrder marks orderID as in progress.
func (s *MemoryStore) AcquireOrder(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiresAt, ok := s.orders[orderID]; ok && s.live(expiresAt) {
		return false, nil
	}
	s.orders[orderID] = s.expiry()
	return true, nil
}

// ReleaseOrder clears the in-progress mark.
func (s *MemoryStore) ReleaseOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, orderID)
	return nil
}

// SavePendingShipment records shipmentID as booked for orderID.
func (s *MemoryStore) SavePendingShipment(_ context.Context, orderID, shipmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[orderID] = shipmentID
	return nil
}

// LoadPendingShipment returns the pending shipment id or ErrNoPendingShipment.
func (s *MemoryStore) LoadPendingShipment(_ context.Context, orderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pending[orderID]
	if !ok {
		return "", ErrNoPendingShipment
	}
	return id, nil
}

// ClearPendingShipment forgets the pending shipment of orderID.
func (s *MemoryStore) ClearPendingShipment(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, orderID)
	return nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
