package shipper

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DecodeDeliveryMethodID extracts the carrier rate id from a storefront
// delivery-method id. Storefront ids are base64("<kind>:<app>:<rateId>");
// anything that does not decode is returned unchanged.
func DecodeDeliveryMethodID(code string) string {
	code = strings.TrimSpace(code)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		raw, err := enc.DecodeString(code)
		if err != nil {
			continue
		}
		decoded := string(raw)
		if !strings.Contains(decoded, ":") {
			continue
		}
		return decoded[strings.LastIndex(decoded, ":")+1:]
	}
	return code
}

// MatchByServiceCode returns the successful rate whose id equals the rate id
// encoded in the delivery-method code.
func MatchByServiceCode(rates []Rate, deliveryMethodCode string) (*Rate, error) {
	rateID := DecodeDeliveryMethodID(deliveryMethodCode)
	for _, r := range successful(rates) {
		if r.ID == rateID {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: no successful rate with id %q", ErrRateNotFound, rateID)
}

// MatchNearest returns the successful rate from carrierName whose total is
// closest to targetPrice. Ties go to the rate listed first.
func MatchNearest(rates []Rate, carrierName string, targetPrice decimal.Decimal) (*Rate, error) {
	var (
		best     *Rate
		bestDiff decimal.Decimal
	)
	for _, r := range successful(rates) {
		if r.Provider != carrierName {
			continue
		}
		diff := r.Total.Sub(targetPrice).Abs()
		if best == nil || diff.LessThan(bestDiff) {
			r := r
			best, bestDiff = &r, diff
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no successful %q rate", ErrRateNotFound, carrierName)
	}
	return best, nil
}

// CarrierFromDisplayName recovers the provider from a "<service>.<provider>" name.
func CarrierFromDisplayName(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return name[i+1:]
}

func successful(rates []Rate) []Rate {
	out := make([]Rate, 0, len(rates))
	for _, r := range rates {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}
