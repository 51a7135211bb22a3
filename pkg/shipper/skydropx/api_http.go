package skydropx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/tournevent/skydrop-bridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	pathToken      = "/api/v1/oauth/token"
	pathQuotations = "/api/v1/quotations"
	pathShipments  = "/api/v1/shipments"
	pathTracking   = "/api/v1/shipments/tracking"

	maxBodyBytes = 4 << 20
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL              string
	creds                Credentials
	tokens               *TokenProvider
	allowUnauthenticated bool
	httpClient           *http.Client
	logger               *otelzap.Logger
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration

	// Tokens is shared across clients using the same credentials.
	// When nil the client owns a provider backed by itself.
	Tokens *TokenProvider

	// AllowUnauthenticated sends requests without a bearer token when the
	// token exchange fails instead of failing the call.
	AllowUnauthenticated bool
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig, logger *otelzap.Logger) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &HTTPAPIClient{
		baseURL:              cfg.BaseURL,
		creds:                Credentials{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret},
		tokens:               cfg.Tokens,
		allowUnauthenticated: cfg.AllowUnauthenticated,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
	if c.tokens == nil {
		c.tokens = NewTokenProvider(c, logger)
	}
	return c
}

// CreateQuotation submits a quotation request.
// POST /api/v1/quotations
func (c *HTTPAPIClient) CreateQuotation(ctx context.Context, req *QuotationBody) (*QuotationResponse, error) {
	var result QuotationResponse
	if err := c.call(ctx, "create quotation", http.MethodPost, pathQuotations, req, &result,
		http.StatusOK, http.StatusCreated, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetQuotation reads a quotation.
// GET /api/v1/quotations/{id}
func (c *HTTPAPIClient) GetQuotation(ctx context.Context, id string) (*QuotationResponse, error) {
	var result QuotationResponse
	path := pathQuotations + "/" + url.PathEscape(id)
	if err := c.call(ctx, "get quotation", http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateShipment books a shipment.
// POST /api/v1/shipments - a 422 means the quotation is no longer valid.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *ShipmentBody) (*ShipmentResponse, error) {
	var result ShipmentResponse
	if err := c.call(ctx, "create shipment", http.MethodPost, pathShipments, req, &result,
		http.StatusOK, http.StatusCreated, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetShipment reads a shipment with its included packages.
// GET /api/v1/shipments/{id}
func (c *HTTPAPIClient) GetShipment(ctx context.Context, id string) (*ShipmentResponse, error) {
	var result ShipmentResponse
	path := pathShipments + "/" + url.PathEscape(id)
	if err := c.call(ctx, "get shipment", http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTracking retrieves tracking information.
// GET /api/v1/shipments/tracking?tracking_number=&carrier_name=
func (c *HTTPAPIClient) GetTracking(ctx context.Context, trackingNumber, carrierName string) (*TrackingResponse, error) {
	q := url.Values{}
	q.Set("tracking_number", trackingNumber)
	q.Set("carrier_name", carrierName)

	var result TrackingResponse
	if err := c.call(ctx, "get tracking", http.MethodGet, pathTracking+"?"+q.Encode(), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExchangeToken performs the client-credential grant. It is sent without a bearer token.
// POST /api/v1/oauth/token
func (c *HTTPAPIClient) ExchangeToken(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	body := &TokenRequest{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		GrantType:    "client_credentials",
	}

	resp, err := c.send(ctx, "exchange token", http.MethodPost, pathToken, body, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result TokenResponse
	if err := c.decode(resp, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// call performs an authenticated request and decodes the JSON response into out.
func (c *HTTPAPIClient) call(ctx context.Context, op, method, path string, body, out interface{}, okStatus ...int) error {
	token, err := c.tokens.Token(ctx, c.creds)
	if err != nil {
		if !c.allowUnauthenticated || errors.Is(err, shipper.ErrCancelled) {
			return err
		}
		c.logger.Ctx(ctx).Warn("Sending Skydropx request without bearer token",
			zap.String("operation", op),
			zap.Error(err),
		)
		token = ""
	}

	resp, err := c.send(ctx, op, method, path, body, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(c.creds)
	}
	return c.decode(resp, out, okStatus...)
}

// send performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) send(ctx context.Context, op, method, path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "skydrop-bridge/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &shipper.TransportError{Op: op, Err: err}
	}
	return resp, nil
}

// decode checks the status code and unmarshals the body into out.
func (c *HTTPAPIClient) decode(resp *http.Response, out interface{}, okStatus ...int) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &shipper.TransportError{Op: "read response", Err: err}
	}

	if !slices.Contains(okStatus, resp.StatusCode) {
		return parseError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       shipper.CodeMalformedResponse,
			Message:    err.Error(),
			Body:       string(body),
		}
	}
	return nil
}

// parseError extracts error information from an HTTP response body.
func parseError(status int, body []byte) error {
	apiErr := &APIError{
		StatusCode: status,
		Code:       fmt.Sprintf("HTTP_%d", status),
		Body:       string(body),
	}

	var structured struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
		Errors  []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Code != "" {
			apiErr.Code = structured.Code
		}
		switch {
		case structured.Message != "":
			apiErr.Message = structured.Message
		case structured.Error != "":
			apiErr.Message = structured.Error
		case len(structured.Errors) > 0:
			apiErr.Message = structured.Errors[0].Title
			if structured.Errors[0].Detail != "" {
				apiErr.Message += ": " + structured.Errors[0].Detail
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(body)
	}
	return apiErr
}

// Ensure HTTPAPIClient implements APIClient and TokenExchanger.
var (
	_ APIClient      = (*HTTPAPIClient)(nil)
	_ TokenExchanger = (*HTTPAPIClient)(nil)
)
