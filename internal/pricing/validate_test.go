package pricing

import (
	"testing"

	"ratehub/internal/model"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		raw  model.RawRate
		ok   bool
	}{
		{"valid", model.RawRate{Carrier: "roadlink", Freight: 12.50, TransitDays: 2}, true},
		{"missing carrier", model.RawRate{Freight: 12.50}, false},
		{"blank carrier", model.RawRate{Carrier: "  ", Freight: 12.50}, false},
		{"zero price", model.RawRate{Carrier: "roadlink"}, false},
		{"negative component", model.RawRate{Carrier: "roadlink", Freight: 20, Fuel: -1}, false},
		{"negative transit", model.RawRate{Carrier: "roadlink", Freight: 20, TransitDays: -1}, false},
		{"fuel-only price", model.RawRate{Carrier: "roadlink", Fuel: 3.10}, true},
	}
	v := Validator{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := v.Validate(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok = %v (%s), want %v", ok, reason, tc.ok)
			}
			if !ok && reason == "" {
				t.Fatalf("rejection must carry a reason")
			}
		})
	}
}
