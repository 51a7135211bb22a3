package skydropx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Credentials is the client-credential pair used for the token exchange.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func (c Credentials) key() string {
	return c.ClientID + "\x00" + c.ClientSecret
}

// TokenExchanger performs the client-credential grant.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, creds Credentials) (*TokenResponse, error)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenProvider caches bearer tokens per credential pair and refreshes them
// on expiry. Concurrent callers share a single in-flight exchange.
// Construct one per process and share it.
type TokenProvider struct {
	exchanger TokenExchanger
	logger    *otelzap.Logger
	now       func() time.Time
	skew      time.Duration

	mu     sync.Mutex
	tokens map[string]cachedToken
	group  singleflight.Group
}

// TokenProviderOption configures a TokenProvider.
type TokenProviderOption func(*TokenProvider)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenProviderOption {
	return func(p *TokenProvider) {
		p.now = now
	}
}

// WithExpirySkew refreshes tokens this long before the issuer's expiry.
func WithExpirySkew(skew time.Duration) TokenProviderOption {
	return func(p *TokenProvider) {
		p.skew = skew
	}
}

// NewTokenProvider creates a token provider backed by the given exchanger.
func NewTokenProvider(exchanger TokenExchanger, logger *otelzap.Logger, opts ...TokenProviderOption) *TokenProvider {
	p := &TokenProvider{
		exchanger: exchanger,
		logger:    logger,
		now:       time.Now,
		skew:      30 * time.Second,
		tokens:    make(map[string]cachedToken),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a valid bearer token for creds, exchanging credentials when
// the cached token is missing or expired.
func (p *TokenProvider) Token(ctx context.Context, creds Credentials) (string, error) {
	key := creds.key()
	if token, ok := p.cached(key); ok {
		return token, nil
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		if token, ok := p.cached(key); ok {
			return token, nil
		}

		// The exchange is shared with other callers, so it must outlive this one.
		resp, err := p.exchanger.ExchangeToken(context.WithoutCancel(ctx), creds)
		if err != nil {
			return nil, err
		}
		if resp.AccessToken == "" {
			return nil, fmt.Errorf("token response without access_token")
		}

		lifetime := time.Duration(resp.ExpiresIn) * time.Second
		// Short-lived tokens keep at least half their lifetime in the cache.
		skew := min(p.skew, lifetime/2)
		expiresAt := p.now().Add(lifetime - skew)
		p.mu.Lock()
		p.tokens[key] = cachedToken{value: resp.AccessToken, expiresAt: expiresAt}
		p.mu.Unlock()

		p.logger.Debug("Skydropx token refreshed",
			zap.String("client_id", creds.ClientID),
			zap.Int("expires_in", resp.ExpiresIn),
		)
		return resp.AccessToken, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("%w: %w", shipper.ErrAuthenticationFailed, res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for token: %w", shipper.ErrCancelled, ctx.Err())
	}
}

// Invalidate drops the cached token for creds, forcing the next call to exchange.
func (p *TokenProvider) Invalidate(creds Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, creds.key())
}

func (p *TokenProvider) cached(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tokens[key]
	if !ok || !p.now().Before(t.expiresAt) {
		return "", false
	}
	return t.value, true
}
