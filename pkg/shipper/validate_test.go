package shipper_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/skydrop-bridge/pkg/shipper"
)

func validQuotationRequest() *shipper.QuotationRequest {
	return &shipper.QuotationRequest{
		From:     shipper.Address{CountryCode: "mx", PostalCode: "64000", AreaLevel1: "Nuevo Leon"},
		To:       shipper.Address{CountryCode: "mx", PostalCode: "06700", AreaLevel2: "CDMX"},
		Parcel:   shipper.Parcel{Length: 10, Width: 10, Height: 10, Weight: 1},
		Carriers: []string{"fedex", "dhl"},
	}
}

func TestQuotationRequest_Validate(t *testing.T) {
	assert.NoError(t, validQuotationRequest().Validate())

	req := validQuotationRequest()
	req.To.PostalCode = ""
	assert.True(t, errors.Is(req.Validate(), shipper.ErrInvalidAddress))

	req = validQuotationRequest()
	req.From.CountryCode = ""
	assert.True(t, errors.Is(req.Validate(), shipper.ErrInvalidAddress))

	req = validQuotationRequest()
	req.Parcel.Weight = 0
	assert.True(t, errors.Is(req.Validate(), shipper.ErrInvalidPackage))
}

func TestShipmentRequest_Validate(t *testing.T) {
	q := validQuotationRequest()
	req := &shipper.ShipmentRequest{
		QuotationID: "q1",
		RateID:      "r1",
		From:        q.From,
		To:          q.To,
		Packaging:   shipper.Packaging{ConsignmentNote: "53102400", PackageType: "1KG"},
	}
	assert.NoError(t, req.Validate())

	req.Packaging.PackageType = ""
	assert.True(t, errors.Is(req.Validate(), shipper.ErrInvalidPackage))

	req.Packaging.PackageType = "1KG"
	req.RateID = ""
	err := req.Validate()
	assert.True(t, errors.Is(err, shipper.ErrInvalidShipment))
	assert.False(t, errors.Is(err, shipper.ErrRateNotFound))

	req.RateID = "r1"
	req.QuotationID = ""
	assert.True(t, errors.Is(req.Validate(), shipper.ErrInvalidShipment))
}

func TestAddress_Fingerprint(t *testing.T) {
	a := shipper.Address{PostalCode: "06700", AreaLevel1: "CDMX", AreaLevel2: "Cuauhtemoc", AreaLevel3: "Roma Norte", Street1: "A"}
	b := shipper.Address{PostalCode: " 06700", AreaLevel1: "cdmx", AreaLevel2: "Cuauhtemoc", AreaLevel3: "Roma Norte", Street1: "B"}
	c := a
	c.AreaLevel3 = "Condesa"

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestSelectionContext_Matches(t *testing.T) {
	addr := shipper.Address{PostalCode: "06700"}
	sel := &shipper.SelectionContext{QuotationID: "q1", Fingerprint: addr.Fingerprint()}
	assert.True(t, sel.Matches(addr))

	assert.False(t, (&shipper.SelectionContext{Fingerprint: addr.Fingerprint()}).Matches(addr))
	assert.False(t, sel.Matches(shipper.Address{PostalCode: "06701"}))

	var nilSel *shipper.SelectionContext
	assert.False(t, nilSel.Matches(addr))
}
