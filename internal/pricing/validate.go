package pricing

import (
	"strings"

	"ratehub/internal/model"
)

// Validator is the minimal structural gate a RawRate must pass before it
// enters the aggregation pipeline: an identifiable price and carrier.
type Validator struct{}

func (Validator) Validate(raw model.RawRate) (bool, string) {
	if strings.TrimSpace(raw.Carrier) == "" {
		return false, "missing carrier"
	}
	if raw.Total() <= 0 {
		return false, "no identifiable price"
	}
	if raw.Freight < 0 || raw.Fuel < 0 || raw.ServiceChg < 0 || raw.Accessorial < 0 {
		return false, "negative charge component"
	}
	if raw.TransitDays < 0 {
		return false, "negative transit estimate"
	}
	return true, ""
}
