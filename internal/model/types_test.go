package model

import "testing"

func baseDraft() ShipmentDraft {
	return ShipmentDraft{
		Type:        "parcel",
		Origin:      Address{City: "Memphis", State: "TN", PostalCode: "38118"},
		Destination: Address{City: "Louisville", State: "KY", PostalCode: "40213"},
		Packages:    []Package{{WeightLb: 12, LengthIn: 10, WidthIn: 8, HeightIn: 6}},
	}
}

func TestFingerprintIgnoresNonRateFields(t *testing.T) {
	a := baseDraft()
	b := baseDraft()
	b.Origin.Name = "Warehouse 7"
	b.Origin.Country = "US"
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("contact-name edit changed the fingerprint")
	}
}

func TestFingerprintTracksRateFields(t *testing.T) {
	a := baseDraft()
	cases := map[string]func(*ShipmentDraft){
		"weight":      func(d *ShipmentDraft) { d.Packages[0].WeightLb = 40 },
		"postal code": func(d *ShipmentDraft) { d.Destination.PostalCode = "40202" },
		"dimensions":  func(d *ShipmentDraft) { d.Packages[0].LengthIn = 48 },
		"type":        func(d *ShipmentDraft) { d.Type = "freight" },
		"extra pkg":   func(d *ShipmentDraft) { d.Packages = append(d.Packages, Package{WeightLb: 5}) },
	}
	for name, mutate := range cases {
		b := baseDraft()
		mutate(&b)
		if a.Fingerprint() == b.Fingerprint() {
			t.Errorf("%s edit did not change the fingerprint", name)
		}
	}
}

func TestIsFreight(t *testing.T) {
	d := baseDraft()
	if d.IsFreight() {
		t.Fatalf("plain parcel flagged as freight")
	}
	d.Packages[0].Packaging = "pallet"
	if !d.IsFreight() {
		t.Fatalf("palletized shipment not flagged")
	}
	d = baseDraft()
	d.Packages[0].FreightClass = "70"
	if !d.IsFreight() {
		t.Fatalf("class-rated shipment not flagged")
	}
}

func TestProviderRefPrecedence(t *testing.T) {
	r := RawRate{ProviderID: "p", QuoteID: "q", RateID: "r"}
	if r.ProviderRef() != "p" {
		t.Fatalf("ref = %q", r.ProviderRef())
	}
	r.ProviderID = ""
	if r.ProviderRef() != "q" {
		t.Fatalf("ref = %q", r.ProviderRef())
	}
	r.QuoteID = ""
	if r.ProviderRef() != "r" {
		t.Fatalf("ref = %q", r.ProviderRef())
	}
}

func TestRateKeyIdentity(t *testing.T) {
	a := PricedRate{ProviderRef: "q1", Carrier: "RoadLink", Charged: ChargeBreakdown{Total: 24.50}}
	b := PricedRate{ProviderRef: "q1", Carrier: "roadlink", Charged: ChargeBreakdown{Total: 24.50}}
	if a.Key() != b.Key() {
		t.Fatalf("carrier casing should not split the key: %+v vs %+v", a.Key(), b.Key())
	}
	c := b
	c.Charged.Total = 24.51
	if a.Key() == c.Key() {
		t.Fatalf("different totals collapsed into one key")
	}
	if a.Key().TotalCents != 2450 {
		t.Fatalf("cents = %d", a.Key().TotalCents)
	}
}

func TestDescriptorMatchesAlias(t *testing.T) {
	d := CarrierDescriptor{Key: "roadlink", Aliases: []string{"road-link", "rlx"}}
	for _, key := range []string{"roadlink", "ROADLINK", "rlx", "road-link"} {
		if !d.Matches(key) {
			t.Errorf("should match %q", key)
		}
	}
	if d.Matches("glacier") {
		t.Errorf("matched unrelated key")
	}
}
