package shipper

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried by CarrierError.
const (
	CodeQuotationExpired  = "QUOTATION_EXPIRED"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeNoRates           = "NO_RATES"
	CodeAuthentication    = "AUTHENTICATION_FAILED"
)

// CarrierError represents an error response from the carrier aggregator.
type CarrierError struct {
	Carrier    string
	Code       string
	Message    string
	StatusCode int
	Body       string
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *CarrierError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CarrierError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for CarrierError.
func (e *CarrierError) Is(target error) bool {
	t, ok := target.(*CarrierError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewCarrierError creates a new CarrierError.
func NewCarrierError(carrier, code, message string) *CarrierError {
	return &CarrierError{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *CarrierError) WithCause(err error) *CarrierError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
// 5xx and 429 responses are marked retryable.
func (e *CarrierError) WithStatusCode(code int) *CarrierError {
	e.StatusCode = code
	if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
		e.Retryable = true
	}
	return e
}

// WithBody attaches the raw response body.
func (e *CarrierError) WithBody(body string) *CarrierError {
	e.Body = body
	return e
}

// WithRetryable marks the error as retryable.
func (e *CarrierError) WithRetryable(retryable bool) *CarrierError {
	e.Retryable = retryable
	return e
}

// TransportError represents a network or timeout failure talking to the carrier.
// Callers may retry with backoff; carrier clients never retry on their own.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ShipmentPendingError reports a shipment that was booked but did not become
// trackable. The shipment exists at the carrier and must not be booked again;
// waiting for it can be resumed by ShipmentID.
type ShipmentPendingError struct {
	ShipmentID string
	Err        error
}

// Error implements the error interface.
func (e *ShipmentPendingError) Error() string {
	return fmt.Sprintf("shipment %s booked but not trackable: %v", e.ShipmentID, e.Err)
}

// Unwrap returns the cause that ended the wait.
func (e *ShipmentPendingError) Unwrap() error {
	return e.Err
}

// PollingTimeoutError is returned when a wait exceeds its attempt or time bound.
// Last holds the last value observed before giving up.
type PollingTimeoutError struct {
	Operation string
	Attempts  int
	Last      any
}

// Error implements the error interface.
func (e *PollingTimeoutError) Error() string {
	return fmt.Sprintf("polling %s timed out after %d attempts", e.Operation, e.Attempts)
}

// Is matches ErrPollingTimeout.
func (e *PollingTimeoutError) Is(target error) bool {
	return target == ErrPollingTimeout
}

// Sentinel errors for common shipping scenarios.
var (
	// ErrInvalidAddress indicates the address is invalid or incomplete.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidPackage indicates package dimensions or weight are invalid.
	ErrInvalidPackage = errors.New("invalid package")

	// ErrInvalidShipment indicates a shipment request lacks its quotation or rate.
	ErrInvalidShipment = errors.New("invalid shipment request")

	// ErrQuoteExpired indicates the quotation validity window has elapsed.
	ErrQuoteExpired = errors.New("quotation has expired")

	// ErrRateNotFound indicates no qualifying rate was found in a quotation.
	ErrRateNotFound = errors.New("rate not found")

	// ErrNoRates indicates a completed quotation carried no rates.
	ErrNoRates = errors.New("quotation has no rates")

	// ErrPollingTimeout indicates a wait exceeded its bound.
	ErrPollingTimeout = errors.New("polling timeout")

	// ErrCancelled indicates the caller's context ended the operation.
	ErrCancelled = errors.New("cancelled")

	// ErrAuthenticationFailed indicates the bearer credential could not be obtained.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrMalformedResponse indicates a carrier payload did not match the expected shape.
	ErrMalformedResponse = errors.New("malformed carrier response")

	// ErrServiceUnavailable indicates the carrier service is temporarily unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var carrierErr *CarrierError
	if errors.As(err, &carrierErr) {
		return carrierErr.Retryable
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	return errors.Is(err, ErrServiceUnavailable)
}

// IsStaleQuotation reports whether err signals that a quotation can no longer be booked.
func IsStaleQuotation(err error) bool {
	return errors.Is(err, ErrQuoteExpired)
}
