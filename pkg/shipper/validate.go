package shipper

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateAddress checks the fields the aggregator needs to quote or book.
func ValidateAddress(addr Address) error {
	if err := validate.Struct(addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

// Validate checks a quotation request before it reaches the carrier.
func (r *QuotationRequest) Validate() error {
	if err := ValidateAddress(r.From); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if err := ValidateAddress(r.To); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if err := validate.Struct(r.Parcel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	return nil
}

// Validate checks a shipment request before it reaches the carrier.
func (r *ShipmentRequest) Validate() error {
	if r.QuotationID == "" || r.RateID == "" {
		return fmt.Errorf("%w: quotation id and rate id are required", ErrInvalidShipment)
	}
	if err := ValidateAddress(r.From); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if err := ValidateAddress(r.To); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if err := validate.Struct(r.Packaging); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	return nil
}
